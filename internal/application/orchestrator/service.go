package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/domain-insight/internal/application"
	"github.com/bryanwahyu/domain-insight/internal/application/cache"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	"github.com/bryanwahyu/domain-insight/internal/domain/failures"
)

const persistTimeout = 10 * time.Second

// Config knobs for the orchestrator. EnhancedContext passes the session's
// recent targets through to analyzers.
type Config struct {
	CapabilityTimeout   time.Duration
	OverallTimeout      time.Duration
	MaxCapabilities     int
	DefaultCapabilities []analysis.CapabilityID
	EnhancedContext     bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CapabilityTimeout: 20 * time.Second,
		OverallTimeout:    60 * time.Second,
		MaxCapabilities:   8,
		DefaultCapabilities: []analysis.CapabilityID{
			analysis.CapabilityTechnical,
			analysis.CapabilityContent,
			analysis.CapabilityConversion,
			analysis.CapabilityMobile,
		},
	}
}

// Stats counters
type Stats struct {
	Started            uint64 `json:"started"`
	Completed          uint64 `json:"completed"`
	Partial            uint64 `json:"partial"`
	Failed             uint64 `json:"failed"`
	Aborted            uint64 `json:"aborted"`
	CapabilityFailures uint64 `json:"capability_failures"`
	CapabilityTimeouts uint64 `json:"capability_timeouts"`
}

// Service fans one request out to every requested capability and folds
// the results into an AggregatedReport. Identical concurrent requests share
// one execution through the Cache.
// Service is safe for concurrent use.
type Service struct {
	Registry *Registry
	Cache    *cache.Cache
	Reports  analysis.ReportRepository // optional
	Archive  analysis.ReportArchive    // optional
	Failures failures.Repository       // optional
	Clock    application.Clock
	Config   Config

	started            atomic.Uint64
	completed          atomic.Uint64
	partial            atomic.Uint64
	failed             atomic.Uint64
	aborted            atomic.Uint64
	capabilityFailures atomic.Uint64
	capabilityTimeouts atomic.Uint64
}

// Validate normalizes targets and capabilities. Nothing is dispatched for
// an invalid request.
func (s *Service) Validate(req analysis.AnalysisRequest) (analysis.AnalysisRequest, error) {
	targets, err := analysis.NormalizeTargets(req.Targets)
	if err != nil {
		return req, err
	}
	caps := analysis.CanonicalCapabilities(req.Capabilities)
	if len(caps) == 0 {
		defaults := append([]analysis.CapabilityID(nil), s.Config.DefaultCapabilities...)
		if len(targets) == 2 {
			defaults = append(defaults, analysis.CapabilityCompetitive)
		}
		caps = analysis.CanonicalCapabilities(defaults)
	}
	if len(caps) == 0 {
		return req, analysis.ErrNoCapabilities
	}
	if limit := s.Config.MaxCapabilities; limit > 0 && len(caps) > limit {
		return req, fmt.Errorf("%w: %d requested, limit %d", analysis.ErrTooManyCapabilities, len(caps), limit)
	}
	for _, id := range caps {
		if _, ok := s.Registry.Get(id); !ok {
			return req, fmt.Errorf("%w: %s", analysis.ErrUnknownCapability, id)
		}
	}

	out := req
	out.Targets = targets
	out.Capabilities = caps
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.RequestedAt.IsZero() {
		out.RequestedAt = s.now()
	}
	return out, nil
}

// Run validates req and returns a handle streaming its progress. resolved
// carries conversational context for analyzers; its targets and
// capabilities are overwritten with the validated ones.
func (s *Service) Run(ctx context.Context, req analysis.AnalysisRequest, resolved analysis.ResolvedRequest) (*Run, error) {
	req, err := s.Validate(req)
	if err != nil {
		return nil, err
	}
	resolved.Targets = req.Targets
	resolved.Capabilities = req.Capabilities
	if !s.Config.EnhancedContext {
		resolved.History = nil
	}

	key := analysis.CacheKey(req.Targets, req.Capabilities)
	sub := s.Cache.Subscribe(ctx, key, func(ctx context.Context, publish func(analysis.ProgressEvent)) (*analysis.AggregatedReport, error) {
		return s.execute(ctx, key, req, resolved, publish)
	})
	return &Run{Request: req, Key: key, sub: sub}, nil
}

// Analyze runs req to completion and returns the report.
func (s *Service) Analyze(ctx context.Context, req analysis.AnalysisRequest) (*analysis.AggregatedReport, bool, error) {
	run, err := s.Run(ctx, req, analysis.ResolvedRequest{})
	if err != nil {
		return nil, false, err
	}
	defer run.Detach()

	report, err := run.Wait(ctx)
	return report, run.Cached(), err
}

// Invalidate drops the cached report for the given targets and capabilities.
func (s *Service) Invalidate(ctx context.Context, req analysis.AnalysisRequest) (string, error) {
	req, err := s.Validate(req)
	if err != nil {
		return "", err
	}
	key := analysis.CacheKey(req.Targets, req.Capabilities)
	return key, s.Cache.Invalidate(ctx, key)
}

// Stats returns counters.
func (s *Service) Stats() Stats {
	return Stats{
		Started:            s.started.Load(),
		Completed:          s.completed.Load(),
		Partial:            s.partial.Load(),
		Failed:             s.failed.Load(),
		Aborted:            s.aborted.Load(),
		CapabilityFailures: s.capabilityFailures.Load(),
		CapabilityTimeouts: s.capabilityTimeouts.Load(),
	}
}

type taskResult struct {
	idx int
	res analysis.AnalyzerResult
}

func (s *Service) execute(ctx context.Context, key string, req analysis.AnalysisRequest, resolved analysis.ResolvedRequest, publish func(analysis.ProgressEvent)) (*analysis.AggregatedReport, error) {
	s.started.Add(1)
	start := s.now()
	total := len(req.Capabilities)

	overallCtx, cancel := context.WithTimeout(ctx, s.Config.OverallTimeout)
	defer cancel()

	publish(analysis.ProgressEvent{
		RequestID: req.ID,
		Progress:  0,
		Message:   fmt.Sprintf("analyzing %s: %d checks started", strings.Join(req.Targets, " vs "), total),
	})

	done := make(chan taskResult, total)
	for i, id := range req.Capabilities {
		a, _ := s.Registry.Get(id)
		go func(i int, a analysis.Analyzer) {
			done <- taskResult{idx: i, res: s.invoke(overallCtx, a, req.Targets[0], resolved)}
		}(i, a)
	}

	results := make([]analysis.AnalyzerResult, total)
	have := make([]bool, total)
	completed := 0
	record := func(i int, res analysis.AnalyzerResult) {
		results[i] = res
		have[i] = true
		completed++
		s.count(res)
		publish(analysis.ProgressEvent{
			RequestID:    req.ID,
			CapabilityID: res.CapabilityID,
			Status:       res.Status,
			Progress:     percent(completed, total),
			Message:      describe(res),
		})
	}

	for completed < total {
		select {
		case tr := <-done:
			if !have[tr.idx] {
				record(tr.idx, tr.res)
			}
		case <-overallCtx.Done():
			if ctx.Err() != nil {
				s.aborted.Add(1)
				return nil, analysis.ErrAborted
			}
			// Overall deadline: everything still running is recorded as
			// timed out rather than dropped.
			for i, id := range req.Capabilities {
				if !have[i] {
					record(i, timedOut(id, analysis.ReasonOverallTimeout, s.now()))
				}
			}
		}
	}
	if ctx.Err() != nil {
		s.aborted.Add(1)
		return nil, analysis.ErrAborted
	}

	report := &analysis.AggregatedReport{
		ID:            req.ID,
		Key:           key,
		Targets:       req.Targets,
		Results:       results,
		OverallStatus: analysis.Aggregate(results),
		StartedAt:     start,
		CompletedAt:   s.now(),
	}
	switch report.OverallStatus {
	case analysis.OverallComplete:
		s.completed.Add(1)
	case analysis.OverallPartial:
		s.partial.Add(1)
	default:
		s.failed.Add(1)
	}
	log.Printf("orchestrator: run finished id=%s key=%s status=%s duration=%s",
		report.ID, key, report.OverallStatus, report.CompletedAt.Sub(start))

	go s.persist(context.WithoutCancel(ctx), report)
	return report, nil
}

// invoke runs one capability under its own deadline. A capability that
// ignores its context is abandoned at the deadline; its goroutine ends
// whenever the analyzer returns.
func (s *Service) invoke(ctx context.Context, a analysis.Analyzer, target string, resolved analysis.ResolvedRequest) analysis.AnalyzerResult {
	id := a.Capability()
	capCtx, cancel := context.WithTimeout(ctx, s.Config.CapabilityTimeout)
	defer cancel()

	out := make(chan analysis.AnalyzerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- failed(id, analysis.ReasonPanic, fmt.Sprint(r), s.now())
			}
		}()
		res, err := a.Analyze(capCtx, target, resolved)
		out <- s.normalize(capCtx, ctx, id, res, err)
	}()

	select {
	case res := <-out:
		return res
	case <-capCtx.Done():
		return s.fromContext(capCtx, ctx, id)
	}
}

func (s *Service) normalize(capCtx, overallCtx context.Context, id analysis.CapabilityID, res analysis.AnalyzerResult, err error) analysis.AnalyzerResult {
	now := s.now()
	if err != nil {
		if capCtx.Err() != nil {
			return s.fromContext(capCtx, overallCtx, id)
		}
		reason := analysis.ReasonError
		if errors.Is(err, analysis.ErrUpstreamUnavailable) {
			reason = analysis.ReasonUpstreamUnavailable
		}
		return failed(id, reason, err.Error(), now)
	}
	res.CapabilityID = id
	if res.Status == "" {
		res.Status = analysis.StatusOk
	}
	if res.Findings == nil {
		res.Findings = []analysis.Finding{}
	}
	if res.ComputedAt.IsZero() {
		res.ComputedAt = now
	}
	return res
}

func (s *Service) fromContext(capCtx, overallCtx context.Context, id analysis.CapabilityID) analysis.AnalyzerResult {
	now := s.now()
	switch {
	case errors.Is(overallCtx.Err(), context.DeadlineExceeded):
		return timedOut(id, analysis.ReasonOverallTimeout, now)
	case overallCtx.Err() != nil:
		return failed(id, analysis.ReasonCancelled, "request cancelled", now)
	case errors.Is(capCtx.Err(), context.DeadlineExceeded):
		return timedOut(id, analysis.ReasonCapabilityTimeout, now)
	default:
		return failed(id, analysis.ReasonCancelled, "capability cancelled", now)
	}
}

func (s *Service) count(res analysis.AnalyzerResult) {
	switch res.Status {
	case analysis.StatusFailed:
		s.capabilityFailures.Add(1)
	case analysis.StatusTimedOut:
		s.capabilityTimeouts.Add(1)
	}
}

// persist stores the report and its failures. Each sink is best-effort.
func (s *Service) persist(ctx context.Context, report *analysis.AggregatedReport) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if s.Reports != nil {
		if err := s.Reports.Save(ctx, report); err != nil {
			log.Printf("orchestrator: report save failed id=%s err=%v", report.ID, err)
		}
	}
	if s.Archive != nil {
		if url, err := s.Archive.Archive(ctx, report); err != nil {
			log.Printf("orchestrator: report archive failed id=%s err=%v", report.ID, err)
		} else {
			log.Printf("orchestrator: report archived id=%s url=%s", report.ID, url)
		}
	}
	if s.Failures != nil {
		for _, res := range report.Results {
			if res.OK() {
				continue
			}
			f := &failures.CapabilityFailure{
				RequestID:  report.ID,
				CacheKey:   report.Key,
				Target:     report.PrimaryTarget(),
				Capability: string(res.CapabilityID),
				Status:     string(res.Status),
				Reason:     res.Reason,
				Message:    res.Message,
				CreatedAt:  res.ComputedAt,
			}
			if err := s.Failures.Save(ctx, f); err != nil {
				log.Printf("orchestrator: failure record save failed id=%s capability=%s err=%v", report.ID, res.CapabilityID, err)
			}
		}
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func percent(completed, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(completed) * 100 / float64(total)))
}

func describe(res analysis.AnalyzerResult) string {
	switch res.Status {
	case analysis.StatusOk:
		return fmt.Sprintf("%s analysis complete", res.CapabilityID)
	case analysis.StatusTimedOut:
		return fmt.Sprintf("%s analysis timed out", res.CapabilityID)
	default:
		return fmt.Sprintf("%s analysis failed", res.CapabilityID)
	}
}

func failed(id analysis.CapabilityID, reason, msg string, now time.Time) analysis.AnalyzerResult {
	return analysis.AnalyzerResult{
		CapabilityID: id,
		Status:       analysis.StatusFailed,
		Findings:     []analysis.Finding{},
		Reason:       reason,
		Message:      msg,
		ComputedAt:   now,
	}
}

func timedOut(id analysis.CapabilityID, reason string, now time.Time) analysis.AnalyzerResult {
	return analysis.AnalyzerResult{
		CapabilityID: id,
		Status:       analysis.StatusTimedOut,
		Findings:     []analysis.Finding{},
		Reason:       reason,
		Message:      strings.ReplaceAll(reason, "_", " "),
		ComputedAt:   now,
	}
}
