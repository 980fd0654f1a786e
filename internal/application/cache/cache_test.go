package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/bryanwahyu/domain-insight/internal/application"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// mapBackend is an in-memory CacheBackend that can be switched to failing.
type mapBackend struct {
	mu      sync.Mutex
	entries map[string]*analysis.CacheEntry
	failing bool
	sets    int

	// delay and afterGet run after Get has read the map
	delay    time.Duration
	afterGet func()
}

func newMapBackend() *mapBackend {
	return &mapBackend{entries: make(map[string]*analysis.CacheEntry)}
}

var errBackendDown = errors.New("backend down")

func (m *mapBackend) Get(_ context.Context, key string) (*analysis.CacheEntry, error) {
	m.mu.Lock()
	if m.failing {
		m.mu.Unlock()
		return nil, errBackendDown
	}
	entry, delay, hook := m.entries[key], m.delay, m.afterGet
	m.mu.Unlock()

	time.Sleep(delay)
	if hook != nil {
		hook()
	}
	return entry, nil
}

func (m *mapBackend) Set(_ context.Context, e *analysis.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errBackendDown
	}
	m.sets++
	m.entries[e.Key] = e
	return nil
}

func (m *mapBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errBackendDown
	}
	delete(m.entries, key)
	return nil
}

func (m *mapBackend) setFailing(v bool) {
	m.mu.Lock()
	m.failing = v
	m.mu.Unlock()
}

func testReport(id string) *analysis.AggregatedReport {
	return &analysis.AggregatedReport{
		ID:            id,
		Key:           "stripe.com#technical",
		Targets:       []string{"stripe.com"},
		OverallStatus: analysis.OverallComplete,
		Results: []analysis.AnalyzerResult{
			{CapabilityID: analysis.CapabilityTechnical, Status: analysis.StatusOk},
		},
	}
}

func waitSubscribers(t require.TestingT, c *Cache, key string, n int) {
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		f, ok := c.flights[key]
		return ok && f.subscribers == n
	}, 2*time.Second, time.Millisecond)
}

func TestGetOrComputeCachesWithinTTL(t *testing.T) {
	t.Parallel()

	clock := application.NewManualClock(time.Unix(1_700_000_000, 0))
	c := New(newMapBackend(), time.Hour, clock)

	var calls atomic.Int32
	fn := func(ctx context.Context) (*analysis.AggregatedReport, error) {
		calls.Add(1)
		return testReport("r1"), nil
	}

	ctx := context.Background()
	first, cached, err := c.GetOrCompute(ctx, "k", fn)
	require.NoError(t, err)
	require.False(t, cached)

	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Minute)
		got, cached, err := c.GetOrCompute(ctx, "k", fn)
		require.NoError(t, err)
		require.True(t, cached)
		require.Same(t, first, got)
	}
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, analysis.CacheReady, c.State(ctx, "k"))

	// 60 minutes elapsed: the entry is now logically expired.
	clock.Advance(10 * time.Minute)
	require.Equal(t, analysis.CacheExpired, c.State(ctx, "k"))

	_, cached, err = c.GetOrCompute(ctx, "k", fn)
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, int32(2), calls.Load())
}

func TestConcurrentCallersShareOneComputation(t *testing.T) {
	t.Parallel()

	c := New(newMapBackend(), time.Hour, nil)
	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(ctx context.Context) (*analysis.AggregatedReport, error) {
		calls.Add(1)
		<-release
		return testReport("shared"), nil
	}

	const n = 8
	var wg sync.WaitGroup
	reports := make([]*analysis.AggregatedReport, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, _, err := c.GetOrCompute(context.Background(), "k", fn)
			require.NoError(t, err)
			reports[i] = r
		}(i)
	}

	waitSubscribers(t, c, "k", n)
	require.Equal(t, analysis.CacheInFlight, c.State(context.Background(), "k"))
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, r := range reports {
		require.Same(t, reports[0], r)
	}
}

// TestSingleFlightProperty checks that any number of concurrent callers for a
// key trigger exactly one computation and observe the same report.
func TestSingleFlightProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 12).Draw(rt, "callers")
		c := New(newMapBackend(), time.Hour, nil)

		release := make(chan struct{})
		var calls atomic.Int32
		fn := func(ctx context.Context) (*analysis.AggregatedReport, error) {
			calls.Add(1)
			<-release
			return testReport("p"), nil
		}

		var wg sync.WaitGroup
		results := make(chan *analysis.AggregatedReport, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r, _, err := c.GetOrCompute(context.Background(), "key", fn)
				if err == nil {
					results <- r
				}
			}()
		}
		waitSubscribers(rt, c, "key", n)
		close(release)
		wg.Wait()
		close(results)

		if calls.Load() != 1 {
			rt.Fatalf("compute ran %d times", calls.Load())
		}
		var first *analysis.AggregatedReport
		count := 0
		for r := range results {
			count++
			if first == nil {
				first = r
			}
			if r != first {
				rt.Fatalf("callers saw different reports")
			}
		}
		if count != n {
			rt.Fatalf("only %d of %d callers succeeded", count, n)
		}
	})
}

func TestSubscribersSeeSameEventOrder(t *testing.T) {
	t.Parallel()

	c := New(newMapBackend(), time.Hour, nil)
	release := make(chan struct{})
	fn := func(ctx context.Context, publish func(analysis.ProgressEvent)) (*analysis.AggregatedReport, error) {
		publish(analysis.ProgressEvent{Progress: 0})
		<-release
		for _, p := range []int{25, 50, 75} {
			publish(analysis.ProgressEvent{Progress: p})
		}
		return testReport("ordered"), nil
	}

	a := c.Subscribe(context.Background(), "k", fn)
	defer a.Close()
	b := c.Subscribe(context.Background(), "k", fn)
	defer b.Close()
	close(release)

	collect := func(s *Subscription) []int {
		var out []int
		for ev := range s.Events() {
			out = append(out, ev.Progress)
		}
		return out
	}

	var wg sync.WaitGroup
	var seqA, seqB []int
	wg.Add(2)
	go func() { defer wg.Done(); seqA = collect(a) }()
	go func() { defer wg.Done(); seqB = collect(b) }()
	wg.Wait()

	want := []int{0, 25, 50, 75, 100}
	require.Equal(t, want, seqA)
	require.Equal(t, want, seqB)
	require.False(t, a.Cached())
}

func TestLateSubscriberReplaysEvents(t *testing.T) {
	t.Parallel()

	c := New(newMapBackend(), time.Hour, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context, publish func(analysis.ProgressEvent)) (*analysis.AggregatedReport, error) {
		publish(analysis.ProgressEvent{Progress: 0})
		publish(analysis.ProgressEvent{Progress: 50})
		close(started)
		<-release
		return testReport("late"), nil
	}

	first := c.Subscribe(context.Background(), "k", fn)
	defer first.Close()
	<-started

	late := c.Subscribe(context.Background(), "k", fn)
	defer late.Close()
	close(release)

	var got []int
	for ev := range late.Events() {
		got = append(got, ev.Progress)
	}
	require.Equal(t, []int{0, 50, 100}, got)
}

func TestLastSubscriberLeavingCancelsComputation(t *testing.T) {
	t.Parallel()

	backend := newMapBackend()
	c := New(backend, time.Hour, nil)
	cancelled := make(chan struct{})
	fn := func(ctx context.Context, _ func(analysis.ProgressEvent)) (*analysis.AggregatedReport, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, analysis.ErrAborted
	}

	a := c.Subscribe(context.Background(), "k", fn)
	b := c.Subscribe(context.Background(), "k", fn)

	a.Close()
	select {
	case <-cancelled:
		t.Fatal("computation cancelled while a subscriber remained")
	case <-time.After(50 * time.Millisecond):
	}

	b.Close()
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("computation not cancelled after last subscriber left")
	}

	require.Eventually(t, func() bool {
		return c.State(context.Background(), "k") == analysis.CacheAbsent
	}, time.Second, time.Millisecond)
	require.Zero(t, backend.sets)
}

func TestAbortedComputationAllowsRetry(t *testing.T) {
	t.Parallel()

	c := New(newMapBackend(), time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	fn := func(ctx context.Context) (*analysis.AggregatedReport, error) {
		<-ctx.Done()
		return nil, analysis.ErrAborted
	}

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(ctx, "k", fn)
		errCh <- err
	}()
	waitSubscribers(t, c, "k", 1)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	report, cached, err := c.GetOrCompute(context.Background(), "k",
		func(ctx context.Context) (*analysis.AggregatedReport, error) {
			return testReport("retry"), nil
		})
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, "retry", report.ID)
}

func TestUnavailableBackendDegradesToPassThrough(t *testing.T) {
	t.Parallel()

	backend := newMapBackend()
	backend.setFailing(true)
	c := New(backend, time.Hour, nil)

	var calls atomic.Int32
	fn := func(ctx context.Context) (*analysis.AggregatedReport, error) {
		calls.Add(1)
		return testReport("x"), nil
	}
	for i := 0; i < 3; i++ {
		_, cached, err := c.GetOrCompute(context.Background(), "k", fn)
		require.NoError(t, err)
		require.False(t, cached)
	}
	require.Equal(t, int32(3), calls.Load())
	require.NotZero(t, c.Stats().Degraded)
	require.ErrorIs(t, c.Invalidate(context.Background(), "k"), analysis.ErrCacheUnavailable)
}

func TestNilBackendIsPassThrough(t *testing.T) {
	t.Parallel()

	c := New(nil, time.Hour, nil)
	var calls atomic.Int32
	fn := func(ctx context.Context) (*analysis.AggregatedReport, error) {
		calls.Add(1)
		return testReport("x"), nil
	}
	for i := 0; i < 2; i++ {
		_, cached, err := c.GetOrCompute(context.Background(), "k", fn)
		require.NoError(t, err)
		require.False(t, cached)
	}
	require.Equal(t, int32(2), calls.Load())
	require.NoError(t, c.Invalidate(context.Background(), "k"))
}

func TestInvalidateForcesRecompute(t *testing.T) {
	t.Parallel()

	c := New(newMapBackend(), time.Hour, nil)
	var calls atomic.Int32
	fn := func(ctx context.Context) (*analysis.AggregatedReport, error) {
		calls.Add(1)
		return testReport("x"), nil
	}
	ctx := context.Background()
	_, _, err := c.GetOrCompute(ctx, "k", fn)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "k"))

	_, cached, err := c.GetOrCompute(ctx, "k", fn)
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, int32(2), calls.Load())
}

func TestComputePanicIsReported(t *testing.T) {
	t.Parallel()

	c := New(newMapBackend(), time.Hour, nil)
	_, _, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (*analysis.AggregatedReport, error) {
		panic("boom")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, analysis.CacheAbsent, c.State(context.Background(), "k"))
}

func TestCachedSubscriptionSingleTerminalEvent(t *testing.T) {
	t.Parallel()

	c := New(newMapBackend(), time.Hour, nil)
	ctx := context.Background()
	_, _, err := c.GetOrCompute(ctx, "k", func(ctx context.Context) (*analysis.AggregatedReport, error) {
		return testReport("c"), nil
	})
	require.NoError(t, err)

	sub := c.Subscribe(ctx, "k", func(ctx context.Context, _ func(analysis.ProgressEvent)) (*analysis.AggregatedReport, error) {
		t.Fatal("compute must not run for a cached key")
		return nil, nil
	})
	defer sub.Close()
	require.True(t, sub.Cached())

	var evs []analysis.ProgressEvent
	for ev := range sub.Events() {
		evs = append(evs, ev)
	}
	require.Len(t, evs, 1)
	require.True(t, evs[0].Terminal)
	require.Equal(t, 100, evs[0].Progress)
	require.Equal(t, "c", evs[0].Report.ID)
}

func TestSlowBackendDoesNotSerializeDistinctKeys(t *testing.T) {
	t.Parallel()
	backend := newMapBackend()
	backend.delay = 100 * time.Millisecond
	c := New(backend, time.Hour, nil)

	fn := func(ctx context.Context, _ func(analysis.ProgressEvent)) (*analysis.AggregatedReport, error) {
		return testReport("r"), nil
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := c.Subscribe(context.Background(), fmt.Sprintf("k%d", i), fn)
			sub.Close()
		}(i)
	}
	wg.Wait()
	require.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestLookupRacingStoreHitsFinishedFlight(t *testing.T) {
	t.Parallel()
	backend := newMapBackend()
	c := New(backend, time.Hour, nil)
	ctx := context.Background()

	gate := make(chan struct{})
	var calls atomic.Int32
	fn := func(ctx context.Context, _ func(analysis.ProgressEvent)) (*analysis.AggregatedReport, error) {
		calls.Add(1)
		<-gate
		return testReport("r1"), nil
	}

	first := c.Subscribe(ctx, "k", fn)
	defer first.Close()

	// The second caller reads the backend before the store and resumes
	// only after the flight has finished.
	inGet := make(chan struct{})
	resume := make(chan struct{})
	backend.mu.Lock()
	backend.afterGet = func() {
		close(inGet)
		<-resume
	}
	backend.mu.Unlock()

	got := make(chan *Subscription, 1)
	go func() { got <- c.Subscribe(ctx, "k", fn) }()
	<-inGet
	backend.mu.Lock()
	backend.afterGet = nil
	backend.mu.Unlock()

	close(gate)
	report, err := first.Wait(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Stats().InFlight == 0 }, time.Second, time.Millisecond)
	close(resume)

	second := <-got
	defer second.Close()
	require.True(t, second.Cached())
	again, err := second.Wait(ctx)
	require.NoError(t, err)
	require.Same(t, report, again)
	require.Equal(t, int32(1), calls.Load())

	require.NoError(t, c.Invalidate(ctx, "k"))
	_, cached, err := c.GetOrCompute(ctx, "k", func(ctx context.Context) (*analysis.AggregatedReport, error) {
		calls.Add(1)
		return testReport("r2"), nil
	})
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, int32(2), calls.Load())
}
