// Package cache provides the bounded caches used for vector cubes, their
// dimensions and per-token connections.
package cache

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// LRU is a fixed capacity key/value store that evicts the least recently
// used entry when full. It is not safe for concurrent use; wrap it with
// Synchronized when it is shared between goroutines.
type LRU[K comparable, V any] struct {
	lru      *simplelru.LRU[K, V]
	capacity int
}

// NewLRU creates a cache holding at most capacity entries.
func NewLRU[K comparable, V any](capacity int) (*LRU[K, V], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	l, err := simplelru.NewLRU[K, V](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &LRU[K, V]{lru: l, capacity: capacity}, nil
}

// MustLRU is like NewLRU but panics on an invalid capacity.
func MustLRU[K comparable, V any](capacity int) *LRU[K, V] {
	c, err := NewLRU[K, V](capacity)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Insert stores value under key. An existing key is overwritten and
// promoted; otherwise a full cache first drops its least recently used
// entry.
func (c *LRU[K, V]) Insert(key K, value V) {
	c.lru.Add(key, value)
}

// Clear removes all entries.
func (c *LRU[K, V]) Clear() {
	c.lru.Purge()
}

// Keys returns the keys from least to most recently used.
func (c *LRU[K, V]) Keys() []K {
	return c.lru.Keys()
}

// Values returns the values from least to most recently used.
func (c *LRU[K, V]) Values() []V {
	return c.lru.Values()
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	return c.lru.Len()
}

// Capacity returns the fixed capacity.
func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// Synchronized guards an LRU with a mutex.
type Synchronized[K comparable, V any] struct {
	mu  sync.Mutex
	lru *LRU[K, V]
}

// NewSynchronized creates a mutex guarded LRU.
func NewSynchronized[K comparable, V any](capacity int) (*Synchronized[K, V], error) {
	l, err := NewLRU[K, V](capacity)
	if err != nil {
		return nil, err
	}
	return &Synchronized[K, V]{lru: l}, nil
}

// Get returns the value for key and marks it most recently used.
func (s *Synchronized[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Get(key)
}

// Insert stores value under key.
func (s *Synchronized[K, V]) Insert(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Insert(key, value)
}

// Clear removes all entries.
func (s *Synchronized[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Clear()
}

// Keys returns the keys from least to most recently used.
func (s *Synchronized[K, V]) Keys() []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Keys()
}

// Values returns the values from least to most recently used.
func (s *Synchronized[K, V]) Values() []V {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Values()
}

// Len returns the number of entries.
func (s *Synchronized[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}
