package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bryanwahyu/domain-insight/internal/application/orchestrator"
	"github.com/bryanwahyu/domain-insight/internal/application/session"
	domai "github.com/bryanwahyu/domain-insight/internal/domain/ai"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	"github.com/bryanwahyu/domain-insight/internal/domain/conversation"
	"github.com/bryanwahyu/domain-insight/internal/domain/failures"
	domsession "github.com/bryanwahyu/domain-insight/internal/domain/session"
	"github.com/bryanwahyu/domain-insight/internal/infra/ws"
	"github.com/bryanwahyu/domain-insight/internal/middleware"
)

// Options for NewRouter. Reports, Failures, Limiter and Health are optional.
type Options struct {
	Orchestrator *orchestrator.Service
	Sessions     *session.Manager
	Reports      analysis.ReportRepository
	Failures     failures.Repository
	Limiter      *middleware.RateLimiter
	Health       map[string]middleware.HealthChecker
	APIKeys      map[string]string
	CORSOrigins  []string
}

type Router struct {
	orch     *orchestrator.Service
	sessions *session.Manager
	reports  analysis.ReportRepository
	failures failures.Repository
}

func NewRouter(opts Options) http.Handler {
	r := &Router{
		orch:     opts.Orchestrator,
		sessions: opts.Sessions,
		reports:  opts.Reports,
		failures: opts.Failures,
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.Limiter != nil {
		mux.Use(middleware.RateLimitMiddleware(opts.Limiter))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)
	mux.Get("/ws", r.handleWebsocket)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/analyses", r.wrap(r.handleAnalyze))
		rt.Delete("/cache", r.wrap(r.handleInvalidate))
		rt.Get("/reports/{id}", r.wrap(r.handleGetReport))
		rt.Get("/reports/{id}/failures", r.wrap(r.handleReportFailures))
		rt.Get("/targets/{target}/reports", r.wrap(r.handleTargetReports))
		rt.Get("/sessions/{id}/context", r.wrap(r.handleSessionContext))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks errors caused by malformed input.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var br badRequest
		switch {
		case errors.As(err, &br),
			errors.Is(err, analysis.ErrInvalidTarget),
			errors.Is(err, analysis.ErrUnknownCapability),
			errors.Is(err, analysis.ErrTooManyCapabilities),
			errors.Is(err, analysis.ErrNoCapabilities):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, analysis.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, domsession.ErrBusy):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, domai.ErrQuotaExceeded):
			writeError(w, http.StatusTooManyRequests, err)
		case errors.Is(err, domsession.ErrTooManySessions):
			writeError(w, http.StatusServiceUnavailable, err)
		case errors.Is(err, analysis.ErrAborted):
			// client went away; nobody reads the body
			writeError(w, http.StatusServiceUnavailable, err)
		default:
			log.Printf("http: handler error method=%s path=%s err=%v", req.Method, req.URL.Path, err)
			writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	_ = writeJSON(w, status, map[string]string{"error": err.Error()})
}

type analysisBody struct {
	Targets      []string `json:"targets"`
	Capabilities []string `json:"capabilities"`
}

func (b analysisBody) request() (analysis.AnalysisRequest, error) {
	if err := middleware.ValidateCapabilityNames(b.Capabilities); err != nil {
		return analysis.AnalysisRequest{}, badRequest{err}
	}
	caps := make([]analysis.CapabilityID, len(b.Capabilities))
	for i, c := range b.Capabilities {
		caps[i] = analysis.CapabilityID(c)
	}
	return analysis.AnalysisRequest{Targets: b.Targets, Capabilities: caps}, nil
}

// POST /v1/analyses
// Body: {"targets": ["a.com", "b.com"], "capabilities": ["technical"]}
// Blocks until the report is ready.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body analysisBody
	if err := middleware.DecodeJSON(req, &body); err != nil {
		return badRequest{err}
	}
	ar, err := body.request()
	if err != nil {
		return err
	}
	report, cached, err := r.orch.Analyze(req.Context(), ar)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"report": report, "cached": cached})
}

// DELETE /v1/cache
func (r *Router) handleInvalidate(w http.ResponseWriter, req *http.Request) error {
	var body analysisBody
	if err := middleware.DecodeJSON(req, &body); err != nil {
		return badRequest{err}
	}
	ar, err := body.request()
	if err != nil {
		return err
	}
	key, err := r.orch.Invalidate(req.Context(), ar)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"key": key, "invalidated": true})
}

// GET /v1/reports/{id}
func (r *Router) handleGetReport(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateReportID(id); err != nil {
		return badRequest{err}
	}
	if r.reports == nil {
		return analysis.ErrNotFound
	}
	report, err := r.reports.Get(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, report)
}

// GET /v1/reports/{id}/failures?limit=20
func (r *Router) handleReportFailures(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateReportID(id); err != nil {
		return badRequest{err}
	}
	if r.failures == nil {
		return writeJSON(w, http.StatusOK, []*failures.CapabilityFailure{})
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.failures.ListByRequest(req.Context(), id, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*failures.CapabilityFailure{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/targets/{target}/reports?limit=20
func (r *Router) handleTargetReports(w http.ResponseWriter, req *http.Request) error {
	target, err := analysis.NormalizeTarget(chi.URLParam(req, "target"))
	if err != nil {
		return err
	}
	if r.reports == nil {
		return writeJSON(w, http.StatusOK, []*analysis.AggregatedReport{})
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.reports.LatestByTarget(req.Context(), target, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*analysis.AggregatedReport{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/sessions/{id}/context
func (r *Router) handleSessionContext(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateSessionToken(id); err != nil || id == "" {
		return badRequest{errors.New("invalid session token")}
	}
	c, ok := r.sessions.Context(req.Context(), id)
	snap, live := r.sessions.Snapshot(id)
	if !ok && !live {
		return analysis.ErrNotFound
	}
	resp := struct {
		Context *conversation.Context `json:"context,omitempty"`
		Session *domsession.Snapshot  `json:"session,omitempty"`
	}{}
	if ok {
		resp.Context = c
	}
	if live {
		resp.Session = &snap
	}
	return writeJSON(w, http.StatusOK, resp)
}

// GET /ws?token=
func (r *Router) handleWebsocket(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")
	if err := middleware.ValidateSessionToken(token); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	raw, err := ws.Upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already replied
		return
	}
	conn := ws.Accept(raw)
	middleware.WebsocketOpened()
	defer middleware.WebsocketClosed()

	sess, err := r.sessions.Connect(req.Context(), token, conn)
	if err != nil {
		log.Printf("ws: connect rejected token=%s err=%v", token, err)
		code := domsession.CodeInternal
		if errors.Is(err, domsession.ErrTooManySessions) {
			code = domsession.CodeTooManySessions
		}
		_ = conn.Send(req.Context(), domsession.Envelope{
			Type:    domsession.TypeError,
			Payload: domsession.ErrorPayload{Code: code, Message: err.Error()},
		})
		conn.Close()
		return
	}

	start := time.Now()
	conn.ReadLoop(sess.HandleMessage)
	sess.Close()
	log.Printf("ws: closed session=%s lifetime=%s", sess.ID(), time.Since(start))
}
