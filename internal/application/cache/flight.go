package cache

import (
	"context"
	"sync"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// flight is one in-progress computation for a key. Its events form an
// append-only log so every subscriber sees the same total order, and a slow
// subscriber never blocks the producer.
type flight struct {
	key    string
	cancel context.CancelFunc
	doneCh chan struct{}

	mu      sync.Mutex
	events  []analysis.ProgressEvent
	changed chan struct{}
	done    bool
	report  *analysis.AggregatedReport
	err     error

	// set when the report reached the backend
	entry *analysis.CacheEntry

	// guarded by Cache.mu
	subscribers int
	abandoned   bool
}

func newFlight(key string, cancel context.CancelFunc) *flight {
	return &flight{
		key:     key,
		cancel:  cancel,
		doneCh:  make(chan struct{}),
		changed: make(chan struct{}),
	}
}

func (f *flight) publish(ev analysis.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	f.events = append(f.events, ev)
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *flight) finish(report *analysis.AggregatedReport, err error, entry *analysis.CacheEntry) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	f.report = report
	f.err = err
	f.entry = entry
	close(f.changed)
	f.mu.Unlock()
	close(f.doneCh)
}

func (f *flight) isDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// next returns the events after index i, whether the flight is finished,
// and a channel that is closed on the next change.
func (f *flight) next(i int) ([]analysis.ProgressEvent, bool, <-chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var evs []analysis.ProgressEvent
	if i < len(f.events) {
		evs = f.events[i:len(f.events):len(f.events)]
	}
	return evs, f.done, f.changed
}

// stored returns the backend entry of a finished flight, or nil.
func (f *flight) stored() *analysis.CacheEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entry
}

func (f *flight) result() (*analysis.AggregatedReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report, f.err
}
