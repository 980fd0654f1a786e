package conversation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bryanwahyu/domain-insight/internal/application"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	domain "github.com/bryanwahyu/domain-insight/internal/domain/conversation"
)

const repoTimeout = 3 * time.Second

// Config for the store.
type Config struct {
	IdleTTL          time.Duration
	MaxRecentTargets int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{IdleTTL: 30 * time.Minute, MaxRecentTargets: 5}
}

// Store keeps one bounded Context per session in memory and writes through
// to the repository when one is configured. mu guards the maps; writes to
// one session are serialized by that session's lock.
type Store struct {
	repo   domain.Repository
	clock  application.Clock
	config Config

	mu       sync.Mutex
	contexts map[string]*domain.Context
	locks    map[string]*sessionLock
	loads    singleflight.Group
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a store. repo and clock may be nil.
func NewStore(repo domain.Repository, clock application.Clock, cfg Config) *Store {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if cfg.MaxRecentTargets < 1 {
		cfg.MaxRecentTargets = DefaultConfig().MaxRecentTargets
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultConfig().IdleTTL
	}
	return &Store{
		repo:     repo,
		clock:    clock,
		config:   cfg,
		contexts: make(map[string]*domain.Context),
		locks:    make(map[string]*sessionLock),
	}
}

// Resolve turns free-form input into a request, filling in elliptical
// references ("vs coda.io", "what about mobile") from the session's most
// recent primary target. When raw names a target, the resolved targets are
// remembered, primary first.
func (s *Store) Resolve(ctx context.Context, sessionID, raw string) (analysis.ResolvedRequest, error) {
	p := parse(raw)
	c := s.load(ctx, sessionID)
	prior, hasPrior := c.PrimaryTarget()

	var targets []string
	switch {
	case len(p.targets) > 2:
		return analysis.ResolvedRequest{}, fmt.Errorf("%w: I can compare two sites at a time, ask again with just %s vs %s or pick another pair",
			domain.ErrInsufficientContext, p.targets[0], p.targets[1])
	case len(p.targets) == 2:
		targets = p.targets
	case len(p.targets) == 1 && p.comparative:
		if !hasPrior {
			return analysis.ResolvedRequest{}, fmt.Errorf("%w: compare %s with which site?", domain.ErrInsufficientContext, p.targets[0])
		}
		if prior == p.targets[0] {
			return analysis.ResolvedRequest{}, fmt.Errorf("%w: %s is already the site under discussion, name another one to compare", domain.ErrInsufficientContext, prior)
		}
		targets = []string{prior, p.targets[0]}
	case len(p.targets) == 1:
		targets = p.targets
	default:
		if !hasPrior {
			return analysis.ResolvedRequest{}, fmt.Errorf("%w: which domain should I analyze?", domain.ErrInsufficientContext)
		}
		targets = []string{prior}
	}

	var history []string
	if c != nil {
		history = append(history, c.RecentTargets...)
	}
	resolved := analysis.ResolvedRequest{
		Targets:      targets,
		Capabilities: p.capabilities,
		RawInput:     strings.TrimSpace(raw),
		History:      history,
	}

	if len(p.targets) > 0 {
		s.mutate(ctx, sessionID, func(c *domain.Context) {
			for i := len(targets) - 1; i >= 0; i-- {
				c.Remember(targets[i], s.config.MaxRecentTargets)
			}
		})
	}
	return resolved, nil
}

// Update records a completed report: its targets become the most recent
// ones, primary first.
func (s *Store) Update(ctx context.Context, sessionID string, report *analysis.AggregatedReport) {
	if report == nil {
		return
	}
	s.mutate(ctx, sessionID, func(c *domain.Context) {
		for i := len(report.Targets) - 1; i >= 0; i-- {
			c.Remember(report.Targets[i], s.config.MaxRecentTargets)
		}
		c.LastReport = report
	})
}

// Touch extends the idle window of an existing context.
func (s *Store) Touch(ctx context.Context, sessionID string) {
	if s.load(ctx, sessionID) == nil {
		return
	}
	s.mutate(ctx, sessionID, func(*domain.Context) {})
}

// Get returns a copy of the session's context if it exists and is not
// expired.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.Context, bool) {
	c := s.load(ctx, sessionID)
	if c == nil {
		return nil, false
	}
	return c, true
}

// Drop forgets a session.
func (s *Store) Drop(ctx context.Context, sessionID string) {
	defer s.lock(sessionID)()

	s.mu.Lock()
	delete(s.contexts, sessionID)
	s.mu.Unlock()
	if s.repo == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), repoTimeout)
	defer cancel()
	if err := s.repo.Delete(rctx, sessionID); err != nil {
		log.Printf("conversation: delete failed session=%s err=%v", sessionID, err)
	}
}

// Sweep removes contexts idle for longer than the idle TTL and returns how
// many were removed. Repository rows expire lazily on load.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.contexts {
		if c.Expired(now, s.config.IdleTTL) {
			delete(s.contexts, id)
			n++
		}
	}
	return n
}

// Len returns the number of contexts held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

// load returns a copy of the live context, consulting the repository on a
// memory miss. Concurrent misses for one session share a single query.
func (s *Store) load(ctx context.Context, sessionID string) *domain.Context {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.contexts[sessionID]
	if ok && c.Expired(now, s.config.IdleTTL) {
		delete(s.contexts, sessionID)
		c, ok = nil, false
	}
	s.mu.Unlock()
	if ok {
		return c.Clone()
	}
	if s.repo == nil || sessionID == "" {
		return nil
	}

	v, err, _ := s.loads.Do(sessionID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), repoTimeout)
		defer cancel()
		return s.repo.Load(rctx, sessionID)
	})
	if err != nil {
		log.Printf("conversation: load failed session=%s err=%v", sessionID, err)
		return nil
	}
	loaded, _ := v.(*domain.Context)
	if loaded == nil || loaded.Expired(now, s.config.IdleTTL) {
		return nil
	}

	s.mu.Lock()
	if cur, ok := s.contexts[sessionID]; ok {
		loaded = cur
	} else {
		s.contexts[sessionID] = loaded
	}
	s.mu.Unlock()
	return loaded.Clone()
}

// lock holds the session's write lock until the returned func is called.
func (s *Store) lock(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}

// mutate applies fn to the session's context, creating it if needed, and
// writes the result through to the repository. The read, the change and
// the write happen under the session's lock so concurrent writers never
// store a stale copy.
func (s *Store) mutate(ctx context.Context, sessionID string, fn func(*domain.Context)) {
	defer s.lock(sessionID)()

	c := s.load(ctx, sessionID)
	if c == nil {
		c = &domain.Context{SessionID: sessionID}
	}
	fn(c)
	c.UpdatedAt = s.clock.Now()

	s.mu.Lock()
	s.contexts[sessionID] = c
	s.mu.Unlock()

	if s.repo == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), repoTimeout)
	defer cancel()
	if err := s.repo.Save(rctx, c.Clone()); err != nil {
		log.Printf("conversation: save failed session=%s err=%v", sessionID, err)
	}
}
