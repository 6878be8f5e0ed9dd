package pkg

import (
	"crypto/sha1"
	"encoding/binary"
	"sort"
	"sync"
)

// Contains check source have target
func Contains(slice []string, val string) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// SortedUnique 去空白值、去重後排序
func SortedUnique(slice []string) []string {
	seen := make(map[string]struct{}, len(slice))
	out := make([]string, 0, len(slice))
	for _, v := range slice {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ShardCount 分段鎖數量
const ShardCount = 64

// KeyedMutex 依 key 的 sha1 分配到固定數量的鎖, 相同 key 必定拿到同一把
type KeyedMutex struct {
	shards [ShardCount]sync.Mutex
}

// Shard key -> shard index
func Shard(key string) int {
	sum := sha1.Sum([]byte(key))
	return int(binary.BigEndian.Uint32(sum[:4]) % ShardCount)
}

// Lock 鎖住 key, 回傳 unlock
func (k *KeyedMutex) Lock(key string) func() {
	m := &k.shards[Shard(key)]
	m.Lock()
	return m.Unlock
}
