/*
File: sharded_singleflight.go
Version: 2.0.0
Description: A sharded, typed wrapper around singleflight.Group so identical concurrent
             classifications run once without every URL contending on one mutex.
*/

package main

import (
	"hash/maphash"

	"golang.org/x/sync/singleflight"
)

const shardedFlightCount = 128

type ShardedGroup[V any] struct {
	shards [shardedFlightCount]singleflight.Group
	seed   maphash.Seed
}

func NewShardedGroup[V any]() *ShardedGroup[V] {
	return &ShardedGroup[V]{seed: maphash.MakeSeed()}
}

func (g *ShardedGroup[V]) getShard(key string) *singleflight.Group {
	return &g.shards[maphash.String(g.seed, key)&(shardedFlightCount-1)]
}

// Do runs fn once per key among concurrent callers. shared reports whether the
// value was handed to more than one caller.
func (g *ShardedGroup[V]) Do(key string, fn func() (V, error)) (v V, err error, shared bool) {
	res, err, shared := g.getShard(key).Do(key, func() (interface{}, error) {
		val, err := fn()
		return val, err
	})
	if res != nil {
		v = res.(V)
	}
	return v, err, shared
}
