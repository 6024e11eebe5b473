package server

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// keyedMutex serializes work per key using a fixed set of shards. Distinct
// keys may share a shard.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &k.shards[h.Sum32()%lockShards]
	m.Lock()
	return m.Unlock
}
