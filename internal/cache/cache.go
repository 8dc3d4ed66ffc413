// Package cache implements the session-scoped document cache.
//
// A Cache maps keys to fetch outcomes, positive or negative. Concurrent
// lookups of the same key share one in-flight fetch. Transient failures are
// never cached. An optional persistent Store extends successes and
// permanent failures of client and remote documents across sessions.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/HendryAvila/docket/internal/doc"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Origin tells where an entry's outcome came from.
type Origin string

const (
	OriginFetch  Origin = "fetch"
	OriginStore  Origin = "store"
	OriginPolicy Origin = "policy"
)

// Entry is one cached outcome.
type Entry struct {
	Key       Key         `json:"key"`
	Ref       doc.Ref     `json:"ref"`
	Outcome   doc.Outcome `json:"outcome"`
	Origin    Origin      `json:"origin"`
	CreatedAt time.Time   `json:"created_at"`
}

// FetchFunc produces the outcome for a missed key. It runs detached from
// the caller's cancellation.
type FetchFunc func(ctx context.Context) doc.Outcome

// Stats are point-in-time cache counters.
type Stats struct {
	Entries     int    `json:"entries"`
	Positive    int    `json:"positive"`
	Negative    int    `json:"negative"`
	Hits        int64  `json:"hits"`
	Misses      int64  `json:"misses"`
	Fetches     int64  `json:"fetches"`
	Shared      int64  `json:"shared"`
	StoreHits   int64  `json:"store_hits"`
	StoreWrites int64  `json:"store_writes"`
	Generation  uint64 `json:"generation"`
}

// Options configure a Cache. The zero value is a memory-only cache.
type Options struct {
	Store  Store
	Logger *zap.Logger
}

// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	entries    map[Key]Entry
	generation uint64

	group  singleflight.Group
	store  Store
	logger *zap.Logger
	now    func() time.Time

	hits, misses, fetches, shared, storeHits, storeWrites atomic.Int64
}

// ─── Construction ────────────────────────────────────────────────────────────

func New(opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[Key]Entry),
		store:   opts.Store,
		logger:  logger,
		now:     time.Now,
	}
}

// ─── Lookup & population ─────────────────────────────────────────────────────

// Get returns the entry for key, if cached in this session.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	return e, ok
}

// Put records outcome for key. Transient outcomes are ignored. Put never
// writes to the persistent store; Do does that for fetched outcomes.
func (c *Cache) Put(key Key, ref doc.Ref, outcome doc.Outcome) bool {
	origin := OriginFetch
	if outcome.Kind == doc.Denied {
		origin = OriginPolicy
	}
	return c.put(key, ref, outcome, origin, c.currentGeneration())
}

func (c *Cache) put(key Key, ref doc.Ref, outcome doc.Outcome, origin Origin, gen uint64) bool {
	if !outcome.Cacheable() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		// The session was invalidated while this outcome was produced.
		return false
	}
	c.entries[key] = Entry{Key: key, Ref: ref, Outcome: outcome, Origin: origin, CreatedAt: c.now()}
	return true
}

func (c *Cache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Do returns the cached entry for key or produces it. On a session miss the
// persistent store is consulted first, then fetch runs. Concurrent calls
// for the same key share a single store lookup and fetch; shared reports
// whether this caller joined another caller's work.
//
// If ctx is cancelled first, Do returns ctx.Err() but the work continues
// and still populates the cache.
func (c *Cache) Do(ctx context.Context, key Key, ref doc.Ref, fetch FetchFunc) (entry Entry, shared bool, err error) {
	if e, ok := c.Get(key); ok {
		c.hits.Add(1)
		return e, false, nil
	}
	c.misses.Add(1)

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(string(key), func() (any, error) {
		return c.fill(detached, key, ref, fetch), nil
	})

	select {
	case <-ctx.Done():
		return Entry{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Shared, fmt.Errorf("cache: filling %s: %w", ref, res.Err)
		}
		if res.Shared {
			c.shared.Add(1)
		}
		return res.Val.(Entry), res.Shared, nil
	}
}

func (c *Cache) fill(ctx context.Context, key Key, ref doc.Ref, fetch FetchFunc) Entry {
	gen := c.currentGeneration()

	// A caller that lost the race to a just-finished flight sees the entry here.
	if e, ok := c.Get(key); ok {
		return e
	}

	if outcome, ok := c.loadStored(ctx, ref); ok {
		c.storeHits.Add(1)
		c.put(key, ref, outcome, OriginStore, gen)
		return Entry{Key: key, Ref: ref, Outcome: outcome, Origin: OriginStore, CreatedAt: c.now()}
	}

	c.fetches.Add(1)
	outcome := fetch(ctx)
	c.logger.Debug("fetched",
		zap.String("ref", ref.String()),
		zap.String("kind", string(outcome.Kind)),
		zap.Int("attempts", outcome.Attempts))

	c.put(key, ref, outcome, OriginFetch, gen)
	c.persist(ctx, ref, outcome)
	return Entry{Key: key, Ref: ref, Outcome: outcome, Origin: OriginFetch, CreatedAt: c.now()}
}

func persistentSource(ref doc.Ref) bool {
	return ref.Source == doc.SourceClient || ref.Source == doc.SourceRemote
}

func (c *Cache) loadStored(ctx context.Context, ref doc.Ref) (doc.Outcome, bool) {
	if c.store == nil || !persistentSource(ref) {
		return doc.Outcome{}, false
	}
	outcome, ok, err := c.store.Get(ctx, StoreKey(ref))
	if err != nil {
		c.logger.Warn("persistent cache read failed", zap.String("ref", ref.String()), zap.Error(err))
		return doc.Outcome{}, false
	}
	if !ok || !outcome.Persistable() {
		return doc.Outcome{}, false
	}
	return outcome, true
}

func (c *Cache) persist(ctx context.Context, ref doc.Ref, outcome doc.Outcome) {
	if c.store == nil || !persistentSource(ref) || !outcome.Persistable() {
		return
	}
	if err := c.store.Put(ctx, StoreKey(ref), ref, outcome); err != nil {
		c.logger.Warn("persistent cache write failed", zap.String("ref", ref.String()), zap.Error(err))
		return
	}
	c.storeWrites.Add(1)
}

// ─── Invalidation ────────────────────────────────────────────────────────────

// InvalidateSession drops every entry. Fetches in flight at the time do
// not repopulate the cache.
func (c *Cache) InvalidateSession() int {
	return c.reset("session")
}

// InvalidateProjectSwitch drops every entry because the session moved to
// another project.
func (c *Cache) InvalidateProjectSwitch() int {
	return c.reset("project_switch")
}

func (c *Cache) reset(reason string) int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[Key]Entry)
	c.generation++
	c.mu.Unlock()
	c.logger.Debug("cache invalidated", zap.String("reason", reason), zap.Int("dropped", n))
	return n
}

// InvalidatePolicyDenials drops entries that were denied by policy. Called
// when the policy changes so previously denied documents are re-checked.
func (c *Cache) InvalidatePolicyDenials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.Outcome.Kind == doc.Denied {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	s := Stats{Entries: len(c.entries), Generation: c.generation}
	for _, e := range c.entries {
		if e.Outcome.Positive() {
			s.Positive++
		} else {
			s.Negative++
		}
	}
	c.mu.RUnlock()
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	s.Fetches = c.fetches.Load()
	s.Shared = c.shared.Load()
	s.StoreHits = c.storeHits.Load()
	s.StoreWrites = c.storeWrites.Load()
	return s
}
