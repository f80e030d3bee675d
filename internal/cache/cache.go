// Package cache holds short-lived lookups (quotes, search results, rates)
// behind one small interface with an in-process and a Redis implementation.
package cache

import (
	"context"
	"sync"
	"time"
)

type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V)
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// Memory is a TTL map. Expired entries are dropped lazily on read or by Purge.
type Memory[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[string]entry[V]
}

func NewMemory[V any](ttl time.Duration, now func() time.Time) *Memory[V] {
	if now == nil {
		now = time.Now
	}
	return &Memory[V]{ttl: ttl, now: now, items: map[string]entry[V]{}}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.items[key]; ok && cur.expires.Equal(e.expires) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

func (m *Memory[V]) Set(_ context.Context, key string, value V) {
	m.mu.Lock()
	m.items[key] = entry[V]{value: value, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Purge removes every expired entry and returns how many were dropped.
func (m *Memory[V]) Purge() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.items {
		if !now.Before(e.expires) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
