/*
File: store_redis.go
Version: 1.0.0
Description: Redis-backed ResultStore for deployments where several host shells share results.
             Calls go through a circuit breaker so a dead Redis fails fast instead of stalling handlers.
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	cb     *gobreaker.CircuitBreaker
}

func NewRedisStore(cfg StoreConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	settings := gobreaker.Settings{
		Name:        "result-store",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			LogWarn("[STORE] Circuit %s: %s -> %s", name, from, to)
		},
	}

	LogInfo("[STORE] Using redis at %s (Prefix: %s, TTL: %v)", cfg.Redis.Addr, cfg.Redis.Prefix, cfg.parsedTTL)
	return &RedisStore{
		client: client,
		prefix: cfg.Redis.Prefix,
		ttl:    cfg.parsedTTL,
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *RedisStore) key(session string) string {
	return s.prefix + session
}

func (s *RedisStore) Put(ctx context.Context, session string, res ClassificationResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, s.key(session), data, s.ttl).Err()
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, session string) (ClassificationResult, bool, error) {
	var res ClassificationResult

	v, err := s.cb.Execute(func() (interface{}, error) {
		data, err := s.client.Get(ctx, s.key(session)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return res, false, err
	}

	data, _ := v.([]byte)
	if data == nil {
		return res, false, nil
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, false, err
	}
	return res, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, session string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, s.key(session)).Err()
	})
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
