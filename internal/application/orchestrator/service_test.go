package orchestrator

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

	"github.com/bryanwahyu/domain-insight/internal/application/cache"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	"github.com/bryanwahyu/domain-insight/internal/domain/failures"
	memcache "github.com/bryanwahyu/domain-insight/internal/infra/cache"
)

// fakeAnalyzer runs behave for every call and counts invocations.
type fakeAnalyzer struct {
	id     analysis.CapabilityID
	calls  atomic.Int32
	behave func(ctx context.Context, target string, req analysis.ResolvedRequest) (analysis.AnalyzerResult, error)
}

func (f *fakeAnalyzer) Capability() analysis.CapabilityID { return f.id }

func (f *fakeAnalyzer) Analyze(ctx context.Context, target string, req analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
	f.calls.Add(1)
	if f.behave == nil {
		return analysis.AnalyzerResult{Status: analysis.StatusOk, Score: analysis.Score(80)}, nil
	}
	return f.behave(ctx, target, req)
}

func okAnalyzer(id analysis.CapabilityID) *fakeAnalyzer {
	return &fakeAnalyzer{id: id}
}

func delayedAnalyzer(id analysis.CapabilityID, d time.Duration) *fakeAnalyzer {
	return &fakeAnalyzer{id: id, behave: func(ctx context.Context, _ string, _ analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
		select {
		case <-time.After(d):
			return analysis.AnalyzerResult{Status: analysis.StatusOk}, nil
		case <-ctx.Done():
			return analysis.AnalyzerResult{}, ctx.Err()
		}
	}}
}

// stuckAnalyzer never returns and ignores its context.
func stuckAnalyzer(id analysis.CapabilityID, release <-chan struct{}) *fakeAnalyzer {
	return &fakeAnalyzer{id: id, behave: func(context.Context, string, analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
		<-release
		return analysis.AnalyzerResult{Status: analysis.StatusOk}, nil
	}}
}

func newService(t *testing.T, cfg Config, analyzers ...analysis.Analyzer) *Service {
	t.Helper()
	return &Service{
		Registry: NewRegistry(analyzers...),
		Cache:    cache.New(memcache.NewMemory(nil), time.Hour, nil),
		Config:   cfg,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CapabilityTimeout = 2 * time.Second
	cfg.OverallTimeout = 5 * time.Second
	return cfg
}

func drain(t *testing.T, run *Run) []analysis.ProgressEvent {
	t.Helper()
	var evs []analysis.ProgressEvent
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		case <-timeout:
			t.Fatal("event stream did not terminate")
		}
	}
}

func TestEndToEndThreeCapabilities(t *testing.T) {
	t.Parallel()

	a := okAnalyzer("a")
	b := okAnalyzer("b")
	c := okAnalyzer("c")
	svc := newService(t, testConfig(), a, b, c)

	req := analysis.AnalysisRequest{
		Targets:      []string{"stripe.com"},
		Capabilities: []analysis.CapabilityID{"a", "b", "c"},
	}
	run, err := svc.Run(context.Background(), req, analysis.ResolvedRequest{})
	require.NoError(t, err)
	defer run.Detach()
	require.False(t, run.Cached())

	evs := drain(t, run)
	require.Len(t, evs, 5)
	var progress []int
	for _, ev := range evs {
		progress = append(progress, ev.Progress)
	}
	require.Equal(t, []int{0, 33, 67, 100, 100}, progress)

	terminal := evs[len(evs)-1]
	require.True(t, terminal.Terminal)
	require.NotNil(t, terminal.Report)
	require.Len(t, terminal.Report.Results, 3)
	require.Equal(t, analysis.OverallComplete, terminal.Report.OverallStatus)
	require.Equal(t, []analysis.CapabilityID{"a", "b", "c"}, terminal.Report.Capabilities())

	// A second identical request right after is served from cache.
	again, err := svc.Run(context.Background(), req, analysis.ResolvedRequest{})
	require.NoError(t, err)
	defer again.Detach()
	require.True(t, again.Cached())

	evs2 := drain(t, again)
	require.Len(t, evs2, 1)
	require.Same(t, terminal.Report, evs2[0].Report)
	for _, an := range []*fakeAnalyzer{a, b, c} {
		require.Equal(t, int32(1), an.calls.Load())
	}
}

func TestPartialFailureTolerance(t *testing.T) {
	t.Parallel()

	var analyzers []analysis.Analyzer
	var caps []analysis.CapabilityID
	for i := 1; i <= 6; i++ {
		id := analysis.CapabilityID(fmt.Sprintf("cap%d", i))
		caps = append(caps, id)
		if i == 3 {
			analyzers = append(analyzers, &fakeAnalyzer{id: id, behave: func(context.Context, string, analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
				panic("capability exploded")
			}})
			continue
		}
		analyzers = append(analyzers, delayedAnalyzer(id, 10*time.Millisecond))
	}
	cfg := testConfig()
	svc := newService(t, cfg, analyzers...)

	start := time.Now()
	report, cached, err := svc.Analyze(context.Background(), analysis.AnalysisRequest{
		Targets: []string{"example.com"}, Capabilities: caps,
	})
	require.NoError(t, err)
	require.False(t, cached)
	require.Less(t, time.Since(start), cfg.OverallTimeout)

	require.Equal(t, analysis.OverallPartial, report.OverallStatus)
	require.Equal(t, 5, report.CountByStatus(analysis.StatusOk))
	require.Equal(t, 1, report.CountByStatus(analysis.StatusFailed))

	res, ok := report.Result("cap3")
	require.True(t, ok)
	require.Equal(t, analysis.StatusFailed, res.Status)
	require.Equal(t, analysis.ReasonPanic, res.Reason)
}

func TestErrorsBecomeFailedResults(t *testing.T) {
	t.Parallel()

	upstream := &fakeAnalyzer{id: "up", behave: func(context.Context, string, analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
		return analysis.AnalyzerResult{}, fmt.Errorf("fetch: %w", analysis.ErrUpstreamUnavailable)
	}}
	plain := &fakeAnalyzer{id: "plain", behave: func(context.Context, string, analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
		return analysis.AnalyzerResult{}, errors.New("boom")
	}}
	svc := newService(t, testConfig(), upstream, plain)

	report, _, err := svc.Analyze(context.Background(), analysis.AnalysisRequest{
		Targets: []string{"example.com"}, Capabilities: []analysis.CapabilityID{"up", "plain"},
	})
	require.NoError(t, err)
	require.Equal(t, analysis.OverallFailed, report.OverallStatus)

	res, _ := report.Result("up")
	require.Equal(t, analysis.ReasonUpstreamUnavailable, res.Reason)
	res, _ = report.Result("plain")
	require.Equal(t, analysis.ReasonError, res.Reason)
	require.Equal(t, uint64(2), svc.Stats().CapabilityFailures)
}

func TestStuckCapabilityTimesOutIndependently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	cfg := testConfig()
	cfg.CapabilityTimeout = 100 * time.Millisecond
	cfg.OverallTimeout = 3 * time.Second
	svc := newService(t, cfg, stuckAnalyzer("stuck", release), okAnalyzer("fine"))

	start := time.Now()
	report, _, err := svc.Analyze(context.Background(), analysis.AnalysisRequest{
		Targets: []string{"example.com"}, Capabilities: []analysis.CapabilityID{"stuck", "fine"},
	})
	require.NoError(t, err)
	require.Less(t, time.Since(start), cfg.CapabilityTimeout+time.Second)

	require.Equal(t, analysis.OverallPartial, report.OverallStatus)
	res, _ := report.Result("stuck")
	require.Equal(t, analysis.StatusTimedOut, res.Status)
	require.Equal(t, analysis.ReasonCapabilityTimeout, res.Reason)
	res, _ = report.Result("fine")
	require.Equal(t, analysis.StatusOk, res.Status)
}

func TestOverallDeadlineForcesAggregation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	cfg := testConfig()
	cfg.CapabilityTimeout = 5 * time.Second
	cfg.OverallTimeout = 150 * time.Millisecond
	svc := newService(t, cfg, stuckAnalyzer("slow1", release), stuckAnalyzer("slow2", release))

	start := time.Now()
	report, _, err := svc.Analyze(context.Background(), analysis.AnalysisRequest{
		Targets: []string{"example.com"}, Capabilities: []analysis.CapabilityID{"slow1", "slow2"},
	})
	require.NoError(t, err)
	require.Less(t, time.Since(start), cfg.OverallTimeout+time.Second)
	require.Equal(t, analysis.OverallFailed, report.OverallStatus)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		require.Equal(t, analysis.StatusTimedOut, res.Status)
		require.Equal(t, analysis.ReasonOverallTimeout, res.Reason)
	}
	require.Equal(t, uint64(2), svc.Stats().CapabilityTimeouts)
}

func TestInvalidRequestsAreRejectedBeforeDispatch(t *testing.T) {
	t.Parallel()

	a := okAnalyzer("a")
	cfg := testConfig()
	cfg.MaxCapabilities = 1
	svc := newService(t, cfg, a, okAnalyzer("b"))

	_, err := svc.Run(context.Background(), analysis.AnalysisRequest{
		Targets: []string{"not a domain"}, Capabilities: []analysis.CapabilityID{"a"},
	}, analysis.ResolvedRequest{})
	require.ErrorIs(t, err, analysis.ErrInvalidTarget)

	_, err = svc.Run(context.Background(), analysis.AnalysisRequest{
		Targets: []string{"stripe.com"}, Capabilities: []analysis.CapabilityID{"zzz"},
	}, analysis.ResolvedRequest{})
	require.ErrorIs(t, err, analysis.ErrUnknownCapability)

	_, err = svc.Run(context.Background(), analysis.AnalysisRequest{
		Targets: []string{"stripe.com"}, Capabilities: []analysis.CapabilityID{"a", "b"},
	}, analysis.ResolvedRequest{})
	require.ErrorIs(t, err, analysis.ErrTooManyCapabilities)

	require.Zero(t, a.calls.Load())
	require.Zero(t, svc.Stats().Started)
}

func TestDefaultCapabilitiesAddCompetitiveForPairs(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DefaultCapabilities = []analysis.CapabilityID{analysis.CapabilityTechnical}
	svc := newService(t, cfg,
		okAnalyzer(analysis.CapabilityTechnical), okAnalyzer(analysis.CapabilityCompetitive))

	req, err := svc.Validate(analysis.AnalysisRequest{Targets: []string{"notion.so"}})
	require.NoError(t, err)
	require.Equal(t, []analysis.CapabilityID{analysis.CapabilityTechnical}, req.Capabilities)
	require.NotEmpty(t, req.ID)

	req, err = svc.Validate(analysis.AnalysisRequest{Targets: []string{"notion.so", "coda.io"}})
	require.NoError(t, err)
	require.Equal(t, []analysis.CapabilityID{analysis.CapabilityCompetitive, analysis.CapabilityTechnical}, req.Capabilities)
}

func TestDetachAbortsSoleSubscriberRun(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var once sync.Once
	cancelled := make(chan struct{})
	blocker := &fakeAnalyzer{id: "block", behave: func(ctx context.Context, _ string, _ analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		close(cancelled)
		return analysis.AnalyzerResult{}, ctx.Err()
	}}
	svc := newService(t, testConfig(), blocker)

	req := analysis.AnalysisRequest{Targets: []string{"stripe.com"}, Capabilities: []analysis.CapabilityID{"block"}}
	run, err := svc.Run(context.Background(), req, analysis.ResolvedRequest{})
	require.NoError(t, err)
	<-started
	run.Detach()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("capability not cancelled after detach")
	}
	require.Eventually(t, func() bool { return svc.Stats().Aborted == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, analysis.CacheAbsent, svc.Cache.State(context.Background(), run.Key))
}

func TestDetachKeepsSharedRunAlive(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := &fakeAnalyzer{id: "slow", behave: func(ctx context.Context, _ string, _ analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
		select {
		case <-release:
			return analysis.AnalyzerResult{Status: analysis.StatusOk}, nil
		case <-ctx.Done():
			return analysis.AnalyzerResult{}, ctx.Err()
		}
	}}
	svc := newService(t, testConfig(), slow)

	req := analysis.AnalysisRequest{Targets: []string{"stripe.com"}, Capabilities: []analysis.CapabilityID{"slow"}}
	first, err := svc.Run(context.Background(), req, analysis.ResolvedRequest{})
	require.NoError(t, err)
	second, err := svc.Run(context.Background(), req, analysis.ResolvedRequest{})
	require.NoError(t, err)
	defer second.Detach()

	first.Detach()
	close(release)

	report, err := second.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, analysis.OverallComplete, report.OverallStatus)
	require.Equal(t, int32(1), slow.calls.Load())
}

// TestProgressIsMonotonic runs random mixes of succeeding, failing and
// panicking capabilities and checks the observed progress sequence.
func TestProgressIsMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "capabilities")
		var analyzers []analysis.Analyzer
		var caps []analysis.CapabilityID
		for i := 0; i < n; i++ {
			id := analysis.CapabilityID(fmt.Sprintf("c%d", i))
			caps = append(caps, id)
			mode := rapid.IntRange(0, 2).Draw(rt, fmt.Sprintf("mode%d", i))
			delay := time.Duration(rapid.IntRange(0, 5).Draw(rt, fmt.Sprintf("delay%d", i))) * time.Millisecond
			analyzers = append(analyzers, &fakeAnalyzer{id: id, behave: func(context.Context, string, analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
				time.Sleep(delay)
				switch mode {
				case 0:
					return analysis.AnalyzerResult{Status: analysis.StatusOk}, nil
				case 1:
					return analysis.AnalyzerResult{}, errors.New("nope")
				default:
					panic("bad")
				}
			}})
		}

		svc := &Service{
			Registry: NewRegistry(analyzers...),
			Cache:    cache.New(nil, time.Hour, nil),
			Config:   testConfig(),
		}
		run, err := svc.Run(context.Background(), analysis.AnalysisRequest{
			Targets: []string{"example.com"}, Capabilities: caps,
		}, analysis.ResolvedRequest{})
		if err != nil {
			rt.Fatalf("run: %v", err)
		}
		defer run.Detach()

		last := -1
		var terminal *analysis.ProgressEvent
		for ev := range run.Events() {
			if ev.Progress < last {
				rt.Fatalf("progress went backwards: %d after %d", ev.Progress, last)
			}
			last = ev.Progress
			if ev.Terminal {
				ev := ev
				terminal = &ev
			}
		}
		if last != 100 || terminal == nil {
			rt.Fatalf("stream ended at %d without terminal event", last)
		}
		if len(terminal.Report.Results) != n {
			rt.Fatalf("report has %d results, want %d", len(terminal.Report.Results), n)
		}
	})
}

func TestEnhancedContextControlsHistory(t *testing.T) {
	t.Parallel()

	for _, enhanced := range []bool{false, true} {
		var seen atomic.Value
		a := &fakeAnalyzer{id: "a", behave: func(_ context.Context, _ string, req analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
			seen.Store(req.History)
			return analysis.AnalyzerResult{Status: analysis.StatusOk}, nil
		}}
		cfg := testConfig()
		cfg.EnhancedContext = enhanced
		svc := newService(t, cfg, a)

		run, err := svc.Run(context.Background(), analysis.AnalysisRequest{
			Targets: []string{"stripe.com"}, Capabilities: []analysis.CapabilityID{"a"},
		}, analysis.ResolvedRequest{History: []string{"notion.so"}})
		require.NoError(t, err)
		_, err = run.Wait(context.Background())
		require.NoError(t, err)
		run.Detach()

		history, _ := seen.Load().([]string)
		if enhanced {
			require.Equal(t, []string{"notion.so"}, history)
		} else {
			require.Empty(t, history)
		}
	}
}

type recordingRepo struct {
	mu      sync.Mutex
	reports []*analysis.AggregatedReport
}

func (r *recordingRepo) Save(_ context.Context, rep *analysis.AggregatedReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return nil
}

func (r *recordingRepo) Get(context.Context, string) (*analysis.AggregatedReport, error) {
	return nil, analysis.ErrNotFound
}

func (r *recordingRepo) LatestByTarget(context.Context, string, int) ([]*analysis.AggregatedReport, error) {
	return nil, nil
}

func (r *recordingRepo) Archive(context.Context, *analysis.AggregatedReport) (string, error) {
	return "", errors.New("archive offline")
}

type recordingFailures struct {
	mu    sync.Mutex
	saved []*failures.CapabilityFailure
}

func (r *recordingFailures) Save(_ context.Context, f *failures.CapabilityFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, f)
	return nil
}

func (r *recordingFailures) ListByRequest(context.Context, string, int) ([]*failures.CapabilityFailure, error) {
	return nil, nil
}

func TestCompletedReportsArePersisted(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{}
	fails := &recordingFailures{}
	bad := &fakeAnalyzer{id: "bad", behave: func(context.Context, string, analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
		return analysis.AnalyzerResult{}, errors.New("broken")
	}}
	svc := newService(t, testConfig(), okAnalyzer("good"), bad)
	svc.Reports = repo
	svc.Archive = repo
	svc.Failures = fails

	report, _, err := svc.Analyze(context.Background(), analysis.AnalysisRequest{
		Targets: []string{"stripe.com"}, Capabilities: []analysis.CapabilityID{"good", "bad"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		fails.mu.Lock()
		defer fails.mu.Unlock()
		return len(repo.reports) == 1 && len(fails.saved) == 1
	}, 2*time.Second, 5*time.Millisecond)

	fails.mu.Lock()
	defer fails.mu.Unlock()
	require.Equal(t, report.ID, fails.saved[0].RequestID)
	require.Equal(t, "bad", fails.saved[0].Capability)
	require.Equal(t, string(analysis.StatusFailed), fails.saved[0].Status)
}
