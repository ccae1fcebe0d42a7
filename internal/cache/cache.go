// Package cache provides in-memory namespaces of short-lived entries with
// per-namespace TTLs, hit accounting, and a shared periodic sweeper.
package cache

import (
	"sync"
	"time"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

type entry[V any] struct {
	value      V
	insertedAt time.Time
	hits       int64
}

// Namespace maps keys to values that expire TTL after insertion.
// Every method is a single critical section, so check-and-set operations
// such as SetIfAbsent are atomic with respect to concurrent callers.
type Namespace[V any] struct {
	name  string
	ttl   time.Duration
	clock Clock

	mu      sync.Mutex
	entries map[string]*entry[V]
	hits    int64
	misses  int64
}

// Option configures a Namespace.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock sets the time source for the namespace.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// NewNamespace creates an empty namespace.
func NewNamespace[V any](name string, ttl time.Duration, opts ...Option) *Namespace[V] {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Namespace[V]{
		name:    name,
		ttl:     ttl,
		clock:   o.clock,
		entries: make(map[string]*entry[V]),
	}
}

// Name returns the namespace name.
func (n *Namespace[V]) Name() string { return n.name }

// TTL returns the namespace TTL.
func (n *Namespace[V]) TTL() time.Duration { return n.ttl }

func (n *Namespace[V]) expired(e *entry[V], now time.Time) bool {
	return now.Sub(e.insertedAt) >= n.ttl
}

// Get returns the value for key and increments its hit counter. Missing
// and expired entries report false and are left for the sweeper.
func (n *Namespace[V]) Get(key string) (V, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.entries[key]
	if !ok || n.expired(e, n.clock()) {
		n.misses++
		var zero V
		return zero, false
	}
	e.hits++
	n.hits++
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (n *Namespace[V]) Set(key string, value V) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries[key] = &entry[V]{value: value, insertedAt: n.clock()}
}

// SetIfAbsent stores value only when key has no live entry. It reports
// whether the value was stored.
func (n *Namespace[V]) SetIfAbsent(key string, value V) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock()
	if e, ok := n.entries[key]; ok && !n.expired(e, now) {
		return false
	}
	n.entries[key] = &entry[V]{value: value, insertedAt: now}
	return true
}

// Delete removes key.
func (n *Namespace[V]) Delete(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.entries, key)
}

// Hits returns the hit count of a live entry.
func (n *Namespace[V]) Hits(key string) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.entries[key]; ok && !n.expired(e, n.clock()) {
		return e.hits
	}
	return 0
}

// Sweep evicts expired entries and returns how many were removed.
func (n *Namespace[V]) Sweep() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock()
	removed := 0
	for k, e := range n.entries {
		if n.expired(e, now) {
			delete(n.entries, k)
			removed++
		}
	}
	return removed
}

// Stats is a point-in-time summary of a namespace.
type Stats struct {
	Name    string `json:"name"`
	TTL     string `json:"ttl"`
	Entries int    `json:"entries"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
}

// Stats returns the namespace summary. Entries counts stored entries,
// including expired ones not yet swept.
func (n *Namespace[V]) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Stats{
		Name:    n.name,
		TTL:     n.ttl.String(),
		Entries: len(n.entries),
		Hits:    n.hits,
		Misses:  n.misses,
	}
}
