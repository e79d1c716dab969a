/*
File: limiter.go
Version: 2.0.0
Description: Per-client token bucket rate limiting for the classification API.
             Small overruns are paced (delayed) instead of dropped; large ones are rejected.
             Client state lives in a sharded map and idle clients are swept periodically.
*/

package main

import (
	"context"
	"fmt"
	"hash/maphash"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Actions returned by the limiter
type LimitAction int

const (
	ActionAllow LimitAction = iota
	ActionDelay
	ActionDrop
)

func (a LimitAction) String() string {
	switch a {
	case ActionAllow:
		return "ALLOW"
	case ActionDelay:
		return "DELAY"
	case ActionDrop:
		return "DROP"
	default:
		return "UNKNOWN"
	}
}

const (
	limitShardCount = 64
	// maxPacingDelay is the longest we delay a request to smooth a burst before dropping it.
	maxPacingDelay = time.Second
)

type clientState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterShard struct {
	sync.Mutex
	clients map[string]*clientState
}

type LimiterManager struct {
	shards  [limitShardCount]*limiterShard
	config  RateLimitConfig
	enabled bool
	seed    maphash.Seed
}

func NewLimiter(cfg RateLimitConfig) *LimiterManager {
	lm := &LimiterManager{
		config:  cfg,
		enabled: cfg.Enabled,
		seed:    maphash.MakeSeed(),
	}
	for i := range lm.shards {
		lm.shards[i] = &limiterShard{clients: make(map[string]*clientState)}
	}
	return lm
}

// StartCleanupRoutine removes idle client limiters until ctx is done.
func (lm *LimiterManager) StartCleanupRoutine(ctx context.Context) {
	if !lm.enabled {
		return
	}

	interval := lm.config.parsedCleanupInterval
	if interval == 0 {
		interval = time.Minute
	}

	LogInfo("[LIMITER] Starting cleanup routine (Interval: %v)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			LogInfo("[LIMITER] Stopping cleanup routine")
			return
		case <-ticker.C:
			lm.cleanup(time.Now())
		}
	}
}

func (lm *LimiterManager) cleanup(now time.Time) int {
	expiration := lm.config.parsedClientExpiration
	if expiration == 0 {
		expiration = 5 * time.Minute
	}
	removed := 0

	for _, shard := range lm.shards {
		shard.Lock()
		for key, state := range shard.clients {
			if now.Sub(state.lastSeen) > expiration {
				delete(shard.clients, key)
				removed++
			}
		}
		shard.Unlock()
	}

	if removed > 0 {
		LogDebug("[LIMITER] Cleaned up %d idle client limiters", removed)
	}
	return removed
}

func (lm *LimiterManager) getShard(key string) *limiterShard {
	return lm.shards[maphash.String(lm.seed, key)&(limitShardCount-1)]
}

// Check evaluates one request from client. Returns action, delay and a reason for logging.
func (lm *LimiterManager) Check(client string) (LimitAction, time.Duration, string) {
	if !lm.enabled || client == "" {
		return ActionAllow, 0, ""
	}

	shard := lm.getShard(client)
	shard.Lock()
	state, exists := shard.clients[client]
	if !exists {
		state = &clientState{
			limiter: rate.NewLimiter(rate.Limit(lm.config.ClientQPS), lm.config.ClientBurst),
		}
		shard.clients[client] = state
	}
	state.lastSeen = time.Now()
	reservation := state.limiter.Reserve()
	shard.Unlock()

	if !reservation.OK() {
		return ActionDrop, 0, "Client Rate Limit Exceeded (burst is zero)"
	}

	delay := reservation.Delay()
	if delay == 0 {
		return ActionAllow, 0, ""
	}

	if delay <= maxPacingDelay {
		return ActionDelay, delay, fmt.Sprintf("Client QPS Pacing (Client: %s, Delay: %v)", client, delay)
	}

	reservation.Cancel()
	return ActionDrop, 0, fmt.Sprintf("Client QPS Exceeded (Client: %s, Required Delay: %v > Limit: %v)",
		client, delay, maxPacingDelay)
}
