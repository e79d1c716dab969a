/*
File: engine.go
Version: 1.1.0
Description: Classification orchestrator. Parses the URL, runs the override rules, and falls back to
             standardization plus tree ensemble scoring when a model is loaded. The model state is an
             immutable EngineState swapped atomically; a failed load leaves the engine in heuristics-only mode.
*/

package main

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Classification is a ClassificationResult plus the decision details the host shell displays.
type Classification struct {
	ClassificationResult
	Suspicious bool          `json:"suspicious"`
	Source     VerdictSource `json:"source"`
}

// Engine is safe for concurrent use. Classification never blocks on model loading.
type Engine struct {
	rules     *OverrideEngine
	threshold float64
	state     atomic.Pointer[EngineState]
	gen       atomic.Uint64
	loadMu    sync.Mutex // serializes loads so the last one to finish is the one published
	cache     *lruCache[verdict]
	flights   *ShardedGroup[verdict]
	now       func() time.Time
}

func NewEngine(cfg EngineConfig, rules *OverrideEngine) *Engine {
	if rules == nil {
		rules, _ = NewOverrideEngine(OverrideOptions{})
	}

	e := &Engine{
		rules:     rules,
		threshold: cfg.Threshold,
		flights:   NewShardedGroup[verdict](),
		now:       time.Now,
	}
	if e.threshold <= 0 || e.threshold >= 1 {
		e.threshold = defaultThreshold
	}
	if cfg.CacheSize > 0 {
		e.cache = newLRUCache[verdict](cfg.CacheSize)
	}
	e.state.Store(&EngineState{Phase: EngineUnloaded})
	return e
}

// State returns the current model state snapshot.
func (e *Engine) State() EngineState {
	return *e.state.Load()
}

// Ready reports whether ML scoring is available.
func (e *Engine) Ready() bool {
	return e.state.Load().Phase == EngineLoaded
}

func (e *Engine) Threshold() float64 {
	return e.threshold
}

// IsSuspicious applies the decision policy: strictly above the threshold.
func (e *Engine) IsSuspicious(score float64) bool {
	return score > e.threshold
}

// LoadModel parses artifact bytes and publishes them. On failure the engine
// switches to LoadFailed and keeps serving override verdicts.
func (e *Engine) LoadModel(data []byte) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	m, err := ParseModelArtifact(data, "inline")
	return e.publish(m, err)
}

// LoadModelFile is LoadModel for an artifact on disk.
func (e *Engine) LoadModelFile(path string) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	m, err := ReadModelFile(path)
	return e.publish(m, err)
}

// publish must be called with loadMu held.
func (e *Engine) publish(m *ModelArtifact, err error) error {
	gen := e.gen.Add(1)
	if err != nil {
		e.state.Store(&EngineState{Phase: EngineLoadFailed, Err: err, generation: gen})
		LogWarn("[MODEL] Load failed, ML scoring disabled (heuristics only): %v", err)
	} else {
		e.state.Store(&EngineState{Phase: EngineLoaded, Model: m, generation: gen})
		LogInfo("[MODEL] Loaded %d trees from %s (Schema: %s, SHA256: %.12s)",
			m.Ensemble.Len(), m.Source, m.Schema, m.Digest)
	}
	if e.cache != nil {
		n := e.cache.Len()
		e.cache.Flush()
		LogDebug("[ENGINE] Dropped %d cached verdicts (generation %d)", n, gen)
	}
	return err
}

// Classify scores rawURL. ok is false when the URL cannot be parsed; the caller
// must skip it and store nothing.
func (e *Engine) Classify(rawURL string) (c Classification, ok bool) {
	t, err := parseTarget(rawURL)
	if err != nil {
		if IsDebugEnabled() {
			LogDebug("[ENGINE] Skipping: %v", err)
		}
		return Classification{}, false
	}

	v := e.verdictFor(t, e.state.Load())

	return Classification{
		ClassificationResult: ClassificationResult{
			URL:       t.raw,
			Score:     v.score,
			Reason:    v.reason,
			Timestamp: e.now(),
		},
		Suspicious: e.IsSuspicious(v.score),
		Source:     v.source,
	}, true
}

func (e *Engine) verdictFor(t *urlTarget, st *EngineState) verdict {
	if e.cache == nil {
		return e.evaluate(t, st)
	}

	if v, ok := e.cache.Get(t.raw); ok && v.generation == st.generation {
		return v
	}

	flightKey := strconv.FormatUint(st.generation, 10) + "|" + t.raw
	v, _, shared := e.flights.Do(flightKey, func() (verdict, error) {
		v := e.evaluate(t, st)
		e.cache.Add(t.raw, v)
		return v, nil
	})

	if shared && IsDebugEnabled() {
		LogDebug("[ENGINE] Shared analysis flight for %s", t.raw)
	}
	return v
}

func (e *Engine) evaluate(t *urlTarget, st *EngineState) verdict {
	if v, ok := e.rules.Evaluate(t); ok {
		v.generation = st.generation
		return v
	}

	if st.Phase != EngineLoaded {
		return verdict{score: 0, source: SourceNone, generation: st.generation}
	}

	x := t.features()
	score := st.Model.Predict(x)

	if IsDebugEnabled() {
		LogDebug("[ENGINE] %s | Features: %v | Score: %.4f", t.host, x, score)
	}
	return verdict{score: score, source: SourceModel, generation: st.generation}
}
