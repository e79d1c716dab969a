package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func testResult(u string, score float64) ClassificationResult {
	return ClassificationResult{
		URL:       u,
		Score:     score,
		Timestamp: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(StoreConfig{Size: 4096})

	if _, found, err := s.Get(ctx, "tab-1"); found || err != nil {
		t.Fatalf("expected empty store, got found=%v err=%v", found, err)
	}

	want := testResult("https://example.org/", 0.12)
	if err := s.Put(ctx, "tab-1", want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, found, err := s.Get(ctx, "tab-1")
	if err != nil || !found {
		t.Fatalf("expected stored result, got found=%v err=%v", found, err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	// Latest write wins.
	newer := testResult("https://example.org/next", 0.7)
	_ = s.Put(ctx, "tab-1", newer)
	if got, _, _ := s.Get(ctx, "tab-1"); got.URL != newer.URL {
		t.Fatalf("expected latest result, got %+v", got)
	}

	if err := s.Delete(ctx, "tab-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := s.Get(ctx, "tab-1"); found {
		t.Fatal("expected result to be gone after Delete")
	}
}

func TestMemoryStore_StateRoundTrip(t *testing.T) {
	ctx := context.Background()
	stateFile := filepath.Join(t.TempDir(), "results.json")
	cfg := StoreConfig{Size: 4096, StateFile: stateFile}

	s := NewMemoryStore(cfg)
	results := map[string]ClassificationResult{
		"a": testResult("https://a.example/", 0.1),
		"b": testResult("https://b.example/", 0.99),
	}
	for k, v := range results {
		_ = s.Put(ctx, k, v)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(stateFile + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away, got %v", err)
	}

	restored := NewMemoryStore(cfg)
	for k, want := range results {
		got, found, _ := restored.Get(ctx, k)
		if !found {
			t.Fatalf("expected %s to be restored", k)
		}
		if got.URL != want.URL || got.Score != want.Score || !got.Timestamp.Equal(want.Timestamp) {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	}
}

func TestMemoryStore_CorruptStateFile(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "results.json")
	if err := os.WriteFile(stateFile, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewMemoryStore(StoreConfig{StateFile: stateFile})
	if s.results.Len() != 0 {
		t.Fatalf("expected empty store after corrupt state, got %d entries", s.results.Len())
	}
}

func TestNewResultStore_Backends(t *testing.T) {
	s, err := NewResultStore(StoreConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected memory store by default, got %T", s)
	}

	if _, err := NewResultStore(StoreConfig{Backend: "etcd"}); err == nil {
		t.Fatal("expected unknown backend to fail")
	}
}

func TestRedisStore_Key(t *testing.T) {
	var cfg StoreConfig
	cfg.Redis.Addr = "127.0.0.1:6379"
	cfg.Redis.Prefix = "urlguard:result:"
	s := NewRedisStore(cfg)
	defer s.Close()

	if got := s.key("tab-9"); got != "urlguard:result:tab-9" {
		t.Fatalf("expected prefixed key, got %q", got)
	}
}

func TestRedisStore_BreakerOpens(t *testing.T) {
	var cfg StoreConfig
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.Prefix = "test:"
	cfg.parsedTTL = time.Minute
	s := NewRedisStore(cfg)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Put(ctx, "tab", testResult("https://x.example/", 0.5)); err == nil {
			t.Fatal("expected put against a closed port to fail")
		}
	}

	_, _, err := s.Get(ctx, "tab")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected breaker to be open after consecutive failures, got %v", err)
	}
}

func TestMemoryStore_PersistsNewestResults(t *testing.T) {
	ctx := context.Background()
	stateFile := filepath.Join(t.TempDir(), "results.json")
	cfg := StoreConfig{Size: 4096, StateFile: stateFile, MaxPersisted: 2}

	s := NewMemoryStore(cfg)
	base := time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC)
	// Written out of timestamp order and spread over several shards.
	for i, age := range []int{3, 0, 4, 1, 2} {
		res := testResult("https://example.org/", 0.1)
		res.Timestamp = base.Add(time.Duration(age) * time.Minute)
		_ = s.Put(ctx, fmt.Sprintf("tab-%d", i), res)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restored := NewMemoryStore(StoreConfig{Size: 4096, StateFile: stateFile})
	for _, tt := range []struct {
		session string
		kept    bool
	}{
		{"tab-0", true}, {"tab-2", true},
		{"tab-1", false}, {"tab-3", false}, {"tab-4", false},
	} {
		if _, found, _ := restored.Get(ctx, tt.session); found != tt.kept {
			t.Errorf("%s: expected kept=%v, got %v", tt.session, tt.kept, found)
		}
	}
}
