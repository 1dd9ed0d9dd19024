// Package flowtable maps 32-bit flow keys to per-key state.
//
// A Table is bounded by MaxEntries and forgets keys that have not been
// touched for IdleTimeout. Expiry is driven by the go-cache janitor, so
// lookups never scan the table.
package flowtable

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/festats/internal/core"
)

// Config bounds a table.
type Config struct {
	MaxEntries      int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	// OnEvict is called after a key leaves the table by expiry or Delete.
	OnEvict func(key uint32)
}

// Entry is the state held for one key. Callers hold the lock while reading
// or updating Value; at most one goroutine mutates a key at a time.
type Entry[T any] struct {
	sync.Mutex
	Value T

	refreshed atomic.Int64 // unix nanos of the last expiry refresh
}

// Stats is a snapshot of table counters.
type Stats struct {
	Entries  int    `json:"entries"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Evicted  uint64 `json:"evicted"`
	Rejected uint64 `json:"rejected"`
}

// Table is a concurrent, bounded, expiring map of flow keys to Entry.
type Table[T any] struct {
	c    *cache.Cache
	cfg  Config
	now  func() time.Time
	grow sync.Mutex // serialises inserts so MaxEntries holds

	hits     atomic.Uint64
	misses   atomic.Uint64
	evicted  atomic.Uint64
	rejected atomic.Uint64
}

// New creates a table. Zero IdleTimeout keeps keys until deleted.
func New[T any](cfg Config) *Table[T] {
	ttl := cfg.IdleTimeout
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 && cfg.IdleTimeout > 0 {
		cleanup = cfg.IdleTimeout / 2
	}

	t := &Table[T]{
		c:   cache.New(ttl, cleanup),
		cfg: cfg,
		now: time.Now,
	}
	t.c.OnEvicted(func(k string, _ any) {
		t.evicted.Add(1)
		if cfg.OnEvict != nil {
			if key, err := strconv.ParseUint(k, 10, 32); err == nil {
				cfg.OnEvict(uint32(key))
			}
		}
	})
	return t
}

func cacheKey(key uint32) string {
	return strconv.FormatUint(uint64(key), 10)
}

// Get returns the entry for key, if present.
func (t *Table[T]) Get(key uint32) (*Entry[T], bool) {
	v, ok := t.c.Get(cacheKey(key))
	if !ok {
		return nil, false
	}
	e := v.(*Entry[T])
	t.touch(cacheKey(key), e)
	return e, true
}

// GetOrCreate returns the entry for key, creating it with init when absent.
// It returns core.ErrTableFull when a new key would exceed MaxEntries.
func (t *Table[T]) GetOrCreate(key uint32, init func() T) (*Entry[T], error) {
	k := cacheKey(key)
	if v, ok := t.c.Get(k); ok {
		t.hits.Add(1)
		e := v.(*Entry[T])
		t.touch(k, e)
		return e, nil
	}

	t.grow.Lock()
	defer t.grow.Unlock()

	// another goroutine may have created it meanwhile
	if v, ok := t.c.Get(k); ok {
		t.hits.Add(1)
		return v.(*Entry[T]), nil
	}
	if t.full() {
		// the count includes idle keys the janitor has not swept yet
		t.c.DeleteExpired()
		if t.full() {
			t.rejected.Add(1)
			return nil, core.ErrTableFull
		}
	}

	e := &Entry[T]{}
	if init != nil {
		e.Value = init()
	}
	e.refreshed.Store(t.now().UnixNano())
	t.c.Set(k, e, cache.DefaultExpiration)
	t.misses.Add(1)
	return e, nil
}

func (t *Table[T]) full() bool {
	return t.cfg.MaxEntries > 0 && t.c.ItemCount() >= t.cfg.MaxEntries
}

// touch pushes the expiry of a live entry forward. Refreshes are rate
// limited to one per half IdleTimeout, so a key expires between
// IdleTimeout/2 and IdleTimeout after its last use.
func (t *Table[T]) touch(k string, e *Entry[T]) {
	if t.cfg.IdleTimeout <= 0 {
		return
	}
	now := t.now().UnixNano()
	last := e.refreshed.Load()
	if now-last < int64(t.cfg.IdleTimeout/2) {
		return
	}
	if !e.refreshed.CompareAndSwap(last, now) {
		return
	}
	t.grow.Lock()
	defer t.grow.Unlock()
	// never resurrect an entry that has already been replaced
	if v, ok := t.c.Get(k); ok && v.(*Entry[T]) == e {
		t.c.Set(k, e, cache.DefaultExpiration)
	}
}

// Delete removes key.
func (t *Table[T]) Delete(key uint32) {
	t.c.Delete(cacheKey(key))
}

// Len returns the number of keys, including expired ones not yet purged.
func (t *Table[T]) Len() int {
	return t.c.ItemCount()
}

// Flush drops every key without eviction callbacks.
func (t *Table[T]) Flush() {
	t.c.Flush()
}

// Purge expires idle keys now instead of waiting for the janitor.
func (t *Table[T]) Purge() {
	t.c.DeleteExpired()
}

// Stats returns a snapshot of the counters.
func (t *Table[T]) Stats() Stats {
	return Stats{
		Entries:  t.c.ItemCount(),
		Hits:     t.hits.Load(),
		Misses:   t.misses.Load(),
		Evicted:  t.evicted.Load(),
		Rejected: t.rejected.Load(),
	}
}
