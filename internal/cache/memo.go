// Package cache provides the in-memory TTL memo used for chain tips,
// confirmed transactions, and fee snapshots. Lookups within the TTL share
// both the cached value and any in-flight fetch; entries are stored only on
// success, so a failed fetch never poisons the cache.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Memo is an LRU-bounded, TTL-expiring, single-flight memo cache.
type Memo[V any] struct {
	group singleflight.Group
	lru   *expirable.LRU[string, V]
}

// NewMemo creates a memo holding up to capacity entries for ttl each.
func NewMemo[V any](capacity int, ttl time.Duration) *Memo[V] {
	return &Memo[V]{
		lru: expirable.NewLRU[string, V](capacity, nil, ttl),
	}
}

// Do returns the cached value for key, or runs fetch, sharing one fetch
// among concurrent callers of the same key. The shared fetch runs detached
// from any single caller's cancellation: ctx only bounds this caller's
// wait, so one caller disconnecting cannot fail the flight for the others.
func (m *Memo[V]) Do(ctx context.Context, key string, fetch func(context.Context) (V, error)) (V, error) {
	var zero V

	if v, ok := m.lru.Get(key); ok {
		return v, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		// A sibling call may have populated the entry while this caller
		// was waiting on the flight group.
		if v, ok := m.lru.Get(key); ok {
			return v, nil
		}
		v, err := fetch(detached)
		if err != nil {
			return nil, err
		}
		m.lru.Add(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Len reports the number of live entries (tests).
func (m *Memo[V]) Len() int {
	return m.lru.Len()
}
