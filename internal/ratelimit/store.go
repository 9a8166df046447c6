package ratelimit

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store holds the request timestamps of every tracked key.  Implementations
// are called with the limiter's lock held and need no locking of their own
// beyond what their backing structure requires.
type Store interface {
	Get(key string) ([]time.Time, bool)
	Set(key string, hits []time.Time)
	Delete(key string)
	Keys() []string
	Len() int
}

// MemoryStore is an unbounded map.  Suitable for tests and for small
// deployments; the sweep keeps it from growing without bound.
type MemoryStore struct {
	m map[string][]time.Time
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{m: make(map[string][]time.Time)} }

func (s *MemoryStore) Get(key string) ([]time.Time, bool) {
	v, ok := s.m[key]
	return v, ok
}

func (s *MemoryStore) Set(key string, hits []time.Time) { s.m[key] = hits }
func (s *MemoryStore) Delete(key string)                { delete(s.m, key) }
func (s *MemoryStore) Len() int                         { return len(s.m) }

func (s *MemoryStore) Keys() []string {
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

// LRUStore caps the number of tracked keys.  When full, the least recently
// seen key is dropped, which at worst forgives that client's history.
type LRUStore struct {
	c *lru.Cache[string, []time.Time]
}

// DefaultMaxKeys is the LRUStore capacity used when none is configured.
const DefaultMaxKeys = 100_000

// NewLRUStore returns a store tracking at most size keys.
func NewLRUStore(size int) (*LRUStore, error) {
	if size <= 0 {
		size = DefaultMaxKeys
	}
	c, err := lru.New[string, []time.Time](size)
	if err != nil {
		return nil, err
	}
	return &LRUStore{c: c}, nil
}

func (s *LRUStore) Get(key string) ([]time.Time, bool) { return s.c.Get(key) }
func (s *LRUStore) Set(key string, hits []time.Time)   { s.c.Add(key, hits) }
func (s *LRUStore) Delete(key string)                  { s.c.Remove(key) }
func (s *LRUStore) Keys() []string                     { return s.c.Keys() }
func (s *LRUStore) Len() int                           { return s.c.Len() }
