package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bryanwahyu/domain-insight/internal/application"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// Memory is an in-process CacheBackend. Expired entries stay until the
// janitor prunes them or they are overwritten.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*analysis.CacheEntry
	clock   application.Clock
}

func NewMemory(clock application.Clock) *Memory {
	if clock == nil {
		clock = application.SystemClock{}
	}
	return &Memory{
		entries: make(map[string]*analysis.CacheEntry),
		clock:   clock,
	}
}

func (m *Memory) Get(_ context.Context, key string) (*analysis.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[key], nil
}

func (m *Memory) Set(_ context.Context, e *analysis.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Prune removes entries that expired before now and returns how many.
func (m *Memory) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, key)
			n++
		}
	}
	return n
}

// RunJanitor prunes expired entries every interval until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(m.clock.Now()); n > 0 {
				log.Printf("cache: pruned expired entries count=%d", n)
			}
		}
	}
}
