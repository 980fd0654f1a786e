package cache

import (
	"context"
	"sync"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// Subscription is one caller's view of a computation.
type Subscription struct {
	cache  *Cache
	flight *flight
	key    string
	cached bool
	report *analysis.AggregatedReport

	events chan analysis.ProgressEvent
	stop   chan struct{}
	once   sync.Once
}

func cachedSubscription(key string, report *analysis.AggregatedReport) *Subscription {
	events := make(chan analysis.ProgressEvent, 1)
	events <- analysis.ProgressEvent{
		RequestID: report.ID,
		Progress:  100,
		Message:   "served from cache",
		Terminal:  true,
		Report:    report,
	}
	close(events)
	return &Subscription{
		key:    key,
		cached: true,
		report: report,
		events: events,
		stop:   make(chan struct{}),
	}
}

// Events delivers progress in production order. The channel is closed after
// the terminal event, when the computation fails, or after Close.
func (s *Subscription) Events() <-chan analysis.ProgressEvent { return s.events }

// Cached reports whether the result came from a Ready entry.
func (s *Subscription) Cached() bool { return s.cached }

// Key returns the cache key.
func (s *Subscription) Key() string { return s.key }

// Wait blocks until the computation finishes or ctx is done.
func (s *Subscription) Wait(ctx context.Context) (*analysis.AggregatedReport, error) {
	if s.cached {
		return s.report, nil
	}
	select {
	case <-s.flight.doneCh:
		return s.flight.result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close detaches from the computation. If this was its last subscriber and
// it has not finished, the computation is cancelled.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.stop)
		if s.flight != nil {
			s.cache.detach(s.flight)
		}
	})
}

func (s *Subscription) pump() {
	defer close(s.events)

	i := 0
	for {
		evs, done, changed := s.flight.next(i)
		for _, ev := range evs {
			select {
			case s.events <- ev:
				i++
			case <-s.stop:
				return
			}
		}
		if done && len(evs) == 0 {
			return
		}
		if done {
			continue
		}
		select {
		case <-changed:
		case <-s.stop:
			return
		}
	}
}
