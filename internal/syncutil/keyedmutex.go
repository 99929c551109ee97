// Package syncutil provides small synchronization helpers.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// KeyedMutex provides per-key mutual exclusion over a fixed pool of shards.
// Memory stays bounded regardless of how many keys are seen, at the cost of
// occasional false sharing between keys that hash to the same shard.
type KeyedMutex struct {
	shards []sync.Mutex
}

// NewKeyedMutex creates a keyed mutex with the given shard count.
// Counts below 1 fall back to 128 shards.
func NewKeyedMutex(shards int) *KeyedMutex {
	if shards < 1 {
		shards = 128
	}
	return &KeyedMutex{shards: make([]sync.Mutex, shards)}
}

// Lock acquires the mutex for the given key and returns an unlock function.
//
//	unlock := km.Lock(tokenID)
//	defer unlock()
func (k *KeyedMutex) Lock(key string) func() {
	mu := k.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (k *KeyedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &k.shards[h.Sum32()%uint32(len(k.shards))]
}
