package orchestrator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// Registry holds the analyzers registered at startup, keyed by capability.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[analysis.CapabilityID]analysis.Analyzer
}

// NewRegistry registers every analyzer given; duplicates panic since they are
// a wiring bug.
func NewRegistry(analyzers ...analysis.Analyzer) *Registry {
	r := &Registry{analyzers: make(map[analysis.CapabilityID]analysis.Analyzer)}
	for _, a := range analyzers {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds an analyzer.
func (r *Registry) Register(a analysis.Analyzer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := a.Capability()
	if _, ok := r.analyzers[id]; ok {
		return fmt.Errorf("capability %q already registered", id)
	}
	r.analyzers[id] = a
	return nil
}

// Get returns the analyzer for id.
func (r *Registry) Get(id analysis.CapabilityID) (analysis.Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[id]
	return a, ok
}

// Capabilities lists registered ids in sorted order.
func (r *Registry) Capabilities() []analysis.CapabilityID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]analysis.CapabilityID, 0, len(r.analyzers))
	for id := range r.analyzers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
