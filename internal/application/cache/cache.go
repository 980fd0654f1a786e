package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanwahyu/domain-insight/internal/application"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

const backendTimeout = 3 * time.Second

// lingerFor keeps a stored flight in the map after it finishes, so a caller
// whose backend lookup raced the store finds it without asking the backend
// again under the lock. It outlives the longest lookup.
const lingerFor = backendTimeout + time.Second

// ComputeFunc produces the report for a key. publish forwards progress to
// every subscriber of the computation.
type ComputeFunc func(ctx context.Context, publish func(analysis.ProgressEvent)) (*analysis.AggregatedReport, error)

// Stats snapshot
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Joins    uint64 `json:"joins"`
	Degraded uint64 `json:"degraded"`
	InFlight int    `json:"in_flight"`
}

// Cache is a single-flight result cache. For one key at most one
// ComputeFunc runs at a time; callers arriving meanwhile join it. Ready
// entries live in the backend and expire lazily after the TTL. A nil or
// failing backend turns the cache into a pass-through, single-flight still
// applies.
type Cache struct {
	backend analysis.CacheBackend
	ttl     time.Duration
	clock   application.Clock

	mu      sync.Mutex
	flights map[string]*flight

	hits     atomic.Uint64
	misses   atomic.Uint64
	joins    atomic.Uint64
	degraded atomic.Uint64
}

// New creates a cache. backend may be nil.
func New(backend analysis.CacheBackend, ttl time.Duration, clock application.Clock) *Cache {
	if clock == nil {
		clock = application.SystemClock{}
	}
	return &Cache{
		backend: backend,
		ttl:     ttl,
		clock:   clock,
		flights: make(map[string]*flight),
	}
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Subscribe returns a subscription for key: served from a fresh Ready
// entry, joined to the running computation, or backed by a new one.
// The caller must Close the subscription.
func (c *Cache) Subscribe(ctx context.Context, key string, fn ComputeFunc) *Subscription {
	if entry := c.lookup(ctx, key); entry != nil {
		c.hits.Add(1)
		return cachedSubscription(key, entry.Report)
	}

	c.mu.Lock()
	if f, ok := c.flights[key]; ok && !f.abandoned {
		// A computation may have finished and stored between the lookup
		// and taking the lock; its lingering flight holds the entry.
		if entry := f.stored(); entry != nil {
			if !entry.Expired(c.clock.Now()) {
				c.mu.Unlock()
				c.hits.Add(1)
				return cachedSubscription(key, entry.Report)
			}
			delete(c.flights, key)
		} else {
			f.subscribers++
			c.mu.Unlock()
			c.joins.Add(1)
			return c.attach(f)
		}
	}

	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := newFlight(key, cancel)
	f.subscribers = 1
	c.flights[key] = f
	c.mu.Unlock()

	c.misses.Add(1)
	go c.run(fctx, f, fn)
	return c.attach(f)
}

// GetOrCompute blocks until the report for key is available.
func (c *Cache) GetOrCompute(ctx context.Context, key string, fn func(ctx context.Context) (*analysis.AggregatedReport, error)) (*analysis.AggregatedReport, bool, error) {
	sub := c.Subscribe(ctx, key, func(ctx context.Context, _ func(analysis.ProgressEvent)) (*analysis.AggregatedReport, error) {
		return fn(ctx)
	})
	defer sub.Close()

	report, err := sub.Wait(ctx)
	return report, sub.Cached(), err
}

// Invalidate drops the Ready entry for key. A running computation is not
// affected and will store its result when it finishes.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	if f, ok := c.flights[key]; ok && f.stored() != nil {
		delete(c.flights, key)
	}
	c.mu.Unlock()

	if c.backend == nil {
		return nil
	}
	bctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()
	if err := c.backend.Delete(bctx, key); err != nil {
		c.degraded.Add(1)
		log.Printf("cache: backend unavailable op=delete key=%s err=%v", key, err)
		return fmt.Errorf("%w: %v", analysis.ErrCacheUnavailable, err)
	}
	return nil
}

// State reports the lifecycle state of key.
func (c *Cache) State(ctx context.Context, key string) analysis.CacheState {
	c.mu.Lock()
	f, ok := c.flights[key]
	c.mu.Unlock()
	if ok && !f.isDone() {
		return analysis.CacheInFlight
	}

	entry := c.get(ctx, key)
	switch {
	case entry == nil:
		return analysis.CacheAbsent
	case entry.Expired(c.clock.Now()):
		return analysis.CacheExpired
	default:
		return analysis.CacheReady
	}
}

// Stats returns counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	inFlight := 0
	for _, f := range c.flights {
		if !f.isDone() {
			inFlight++
		}
	}
	c.mu.Unlock()
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Joins:    c.joins.Load(),
		Degraded: c.degraded.Load(),
		InFlight: inFlight,
	}
}

// lookup returns a fresh Ready entry or nil.
func (c *Cache) lookup(ctx context.Context, key string) *analysis.CacheEntry {
	entry := c.get(ctx, key)
	if entry == nil || entry.Report == nil || entry.Expired(c.clock.Now()) {
		return nil
	}
	return entry
}

func (c *Cache) get(ctx context.Context, key string) *analysis.CacheEntry {
	if c.backend == nil {
		return nil
	}
	bctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()
	entry, err := c.backend.Get(bctx, key)
	if err != nil {
		c.degraded.Add(1)
		log.Printf("cache: backend unavailable op=get key=%s err=%v", key, err)
		return nil
	}
	return entry
}

// store writes entry to the backend and reports whether it landed.
func (c *Cache) store(ctx context.Context, entry *analysis.CacheEntry) bool {
	if c.backend == nil {
		return false
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backendTimeout)
	defer cancel()
	if err := c.backend.Set(bctx, entry); err != nil {
		c.degraded.Add(1)
		log.Printf("cache: backend unavailable op=set key=%s err=%v", entry.Key, err)
		return false
	}
	return true
}

func (c *Cache) run(ctx context.Context, f *flight, fn ComputeFunc) {
	defer f.cancel()

	report, err := c.compute(ctx, f, fn)
	if err == nil && report == nil {
		err = fmt.Errorf("cache: compute for %s returned no report", f.key)
	}
	var entry *analysis.CacheEntry
	if err == nil {
		entry = &analysis.CacheEntry{
			Key:     f.key,
			Report:  report,
			ReadyAt: c.clock.Now(),
			TTL:     c.ttl,
		}
		if !c.store(ctx, entry) {
			entry = nil
		}
		f.publish(analysis.ProgressEvent{
			RequestID: report.ID,
			Progress:  100,
			Message:   "analysis complete",
			Terminal:  true,
			Report:    report,
		})
	}
	f.finish(report, err, entry)

	if entry != nil {
		time.AfterFunc(lingerFor, func() { c.forget(f) })
		return
	}
	c.forget(f)
}

// forget removes f from the map unless another flight replaced it.
func (c *Cache) forget(f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.flights[f.key]; ok && cur == f {
		delete(c.flights, f.key)
	}
}

func (c *Cache) compute(ctx context.Context, f *flight, fn ComputeFunc) (report *analysis.AggregatedReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report, err = nil, fmt.Errorf("cache: compute panic for %s: %v", f.key, r)
		}
	}()
	return fn(ctx, f.publish)
}

func (c *Cache) attach(f *flight) *Subscription {
	s := &Subscription{
		cache:  c,
		flight: f,
		key:    f.key,
		events: make(chan analysis.ProgressEvent),
		stop:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// detach drops one subscriber. When the last subscriber leaves an
// unfinished flight, the flight is abandoned and its context cancelled.
func (c *Cache) detach(f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.subscribers--
	if f.subscribers > 0 || f.abandoned || f.isDone() {
		return
	}
	f.abandoned = true
	if cur, ok := c.flights[f.key]; ok && cur == f {
		delete(c.flights, f.key)
	}
	f.cancel()
	log.Printf("cache: flight abandoned key=%s", f.key)
}
