/*
File: engine_cache.go
Version: 2.0.0
Description: Thread-safe sharded LRU cache. Holds per-URL verdicts for the engine and
             per-session results for the in-memory result store.
*/

package main

import (
	"container/list"
	"hash/maphash"
	"sync"
)

const lruShards = 64

type lruEntry[V any] struct {
	key   string
	value V
}

type lruShard[V any] struct {
	sync.RWMutex
	items    map[string]*list.Element
	lruList  *list.List
	capacity int
}

type lruCache[V any] struct {
	shards [lruShards]*lruShard[V]
	seed   maphash.Seed
}

func newLRUCache[V any](capacity int) *lruCache[V] {
	c := &lruCache[V]{
		seed: maphash.MakeSeed(),
	}
	shardCap := capacity / lruShards
	if shardCap < 1 {
		shardCap = 1
	}

	for i := 0; i < lruShards; i++ {
		c.shards[i] = &lruShard[V]{
			items:    make(map[string]*list.Element),
			lruList:  list.New(),
			capacity: shardCap,
		}
	}
	return c
}

func (c *lruCache[V]) getShard(key string) *lruShard[V] {
	return c.shards[maphash.String(c.seed, key)&(lruShards-1)]
}

func (c *lruCache[V]) Get(key string) (V, bool) {
	shard := c.getShard(key)
	shard.Lock()
	defer shard.Unlock()

	if el, ok := shard.items[key]; ok {
		shard.lruList.MoveToFront(el)
		return el.Value.(*lruEntry[V]).value, true
	}
	var zero V
	return zero, false
}

func (c *lruCache[V]) Add(key string, value V) {
	shard := c.getShard(key)
	shard.Lock()
	defer shard.Unlock()

	if elem, found := shard.items[key]; found {
		shard.lruList.MoveToFront(elem)
		elem.Value.(*lruEntry[V]).value = value
		return
	}

	if shard.lruList.Len() >= shard.capacity {
		if oldest := shard.lruList.Back(); oldest != nil {
			shard.lruList.Remove(oldest)
			delete(shard.items, oldest.Value.(*lruEntry[V]).key)
		}
	}

	elem := shard.lruList.PushFront(&lruEntry[V]{key: key, value: value})
	shard.items[key] = elem
}

func (c *lruCache[V]) Remove(key string) bool {
	shard := c.getShard(key)
	shard.Lock()
	defer shard.Unlock()

	elem, found := shard.items[key]
	if !found {
		return false
	}
	shard.lruList.Remove(elem)
	delete(shard.items, key)
	return true
}

func (c *lruCache[V]) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.RLock()
		n += shard.lruList.Len()
		shard.RUnlock()
	}
	return n
}

func (c *lruCache[V]) Flush() {
	for _, shard := range c.shards {
		shard.Lock()
		shard.items = make(map[string]*list.Element)
		shard.lruList.Init()
		shard.Unlock()
	}
}

// Snapshot extracts up to limit items, most recent first within each shard. A limit of 0 copies everything.
func (c *lruCache[V]) Snapshot(limit int) map[string]V {
	snapshot := make(map[string]V)
	count := 0

	for _, shard := range c.shards {
		shard.RLock()
		for e := shard.lruList.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*lruEntry[V])
			snapshot[entry.key] = entry.value
			count++
			if limit > 0 && count >= limit {
				shard.RUnlock()
				return snapshot
			}
		}
		shard.RUnlock()
	}
	return snapshot
}
