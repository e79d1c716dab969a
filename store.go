/*
File: store.go
Version: 1.1.0
Description: Result store for the host shell: the last ClassificationResult per session/tab.
             The memory backend is a sharded LRU with an optional JSON state file that is loaded on
             start, saved periodically and saved again on shutdown. When max_persisted is below the
             store size, the newest results by timestamp are the ones written.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// ResultStore keeps the latest result per session key.
type ResultStore interface {
	Put(ctx context.Context, session string, res ClassificationResult) error
	Get(ctx context.Context, session string) (ClassificationResult, bool, error)
	Delete(ctx context.Context, session string) error
	Close() error
}

// NewResultStore builds the configured backend.
func NewResultStore(cfg StoreConfig) (ResultStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg), nil
	case "redis":
		return NewRedisStore(cfg), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// storeState represents the persisted state on disk
type storeState struct {
	Results map[string]ClassificationResult `json:"results"`
	SavedAt time.Time                       `json:"saved_at"`
}

type MemoryStore struct {
	results      *lruCache[ClassificationResult]
	stateFile    string
	saveInterval time.Duration
	maxPersisted int

	saveMu sync.Mutex
	once   sync.Once
}

func NewMemoryStore(cfg StoreConfig) *MemoryStore {
	size := cfg.Size
	if size <= 0 {
		size = 4096
	}
	s := &MemoryStore{
		results:      newLRUCache[ClassificationResult](size),
		stateFile:    cfg.StateFile,
		saveInterval: cfg.parsedSaveInterval,
		maxPersisted: cfg.MaxPersisted,
	}
	if s.maxPersisted <= 0 {
		s.maxPersisted = size
	}

	if s.stateFile != "" {
		if n, err := s.loadState(); err != nil {
			LogWarn("[STORE] Failed to load state from %s: %v", s.stateFile, err)
		} else if n > 0 {
			LogInfo("[STORE] Restored %d results from %s", n, s.stateFile)
		}
	}
	return s
}

func (s *MemoryStore) Put(_ context.Context, session string, res ClassificationResult) error {
	s.results.Add(session, res)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, session string) (ClassificationResult, bool, error) {
	res, ok := s.results.Get(session)
	return res, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, session string) error {
	s.results.Remove(session)
	return nil
}

// Close writes the state file one last time.
func (s *MemoryStore) Close() error {
	return s.persistState()
}

// StartPersister saves the state file on an interval until ctx is done.
func (s *MemoryStore) StartPersister(ctx context.Context) {
	if s.stateFile == "" || s.saveInterval <= 0 {
		return
	}

	s.once.Do(func() {
		LogInfo("[STORE] Persisting results to %s every %v", s.stateFile, s.saveInterval)
		ticker := time.NewTicker(s.saveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.persistState(); err != nil {
					LogWarn("[STORE] Failed to save state to %s: %v", s.stateFile, err)
				}
			case <-ctx.Done():
				return
			}
		}
	})
}

func (s *MemoryStore) loadState() (int, error) {
	data, err := os.ReadFile(s.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var state storeState
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, err
	}
	// Oldest first, so the newest results end up most recently used.
	for _, k := range sessionsByAge(state.Results) {
		s.results.Add(k, state.Results[k])
	}
	return len(state.Results), nil
}

func (s *MemoryStore) persistState() error {
	if s.stateFile == "" {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	state := storeState{
		Results: newestResults(s.results.Snapshot(0), s.maxPersisted),
		SavedAt: time.Now(),
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.stateFile); err != nil {
		return err
	}

	LogDebug("[STORE] State saved to %s (%d results)", s.stateFile, len(state.Results))
	return nil
}

// sessionsByAge returns the session keys ordered by result timestamp, oldest first.
func sessionsByAge(results map[string]ClassificationResult) []string {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := results[keys[i]].Timestamp, results[keys[j]].Timestamp
		if ti.Equal(tj) {
			return keys[i] < keys[j]
		}
		return ti.Before(tj)
	})
	return keys
}

// newestResults keeps the limit most recent results by timestamp.
func newestResults(results map[string]ClassificationResult, limit int) map[string]ClassificationResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	keys := sessionsByAge(results)
	kept := make(map[string]ClassificationResult, limit)
	for _, k := range keys[len(keys)-limit:] {
		kept[k] = results[k]
	}
	return kept
}
