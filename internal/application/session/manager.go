package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/domain-insight/internal/application"
	"github.com/bryanwahyu/domain-insight/internal/application/conversation"
	"github.com/bryanwahyu/domain-insight/internal/application/orchestrator"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	convo "github.com/bryanwahyu/domain-insight/internal/domain/conversation"
	domain "github.com/bryanwahyu/domain-insight/internal/domain/session"
)

// Sink receives the outbound frames of one connection. Send blocks until
// the frame is queued or ctx is done; it must not drop frames.
type Sink interface {
	Send(ctx context.Context, env domain.Envelope) error
	Close() error
}

// Synthesizer writes the reply for a finished report.
type Synthesizer interface {
	Synthesize(ctx context.Context, report *analysis.AggregatedReport, c *convo.Context) string
}

// Config for the manager.
type Config struct {
	IdleTTL     time.Duration
	MaxSessions int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{IdleTTL: 30 * time.Minute, MaxSessions: 1000}
}

// Stats counters
type Stats struct {
	Open           int    `json:"open"`
	Opened         uint64 `json:"opened"`
	Replaced       uint64 `json:"replaced"`
	BusyRejections uint64 `json:"busy_rejections"`
	Clarifications uint64 `json:"clarifications"`
}

// Manager owns every live session, keyed by session token.
type Manager struct {
	orchestrator *orchestrator.Service
	contexts     *conversation.Store
	synth        Synthesizer
	clock        application.Clock
	config       Config

	mu       sync.Mutex
	sessions map[string]*Session

	opened         atomic.Uint64
	replaced       atomic.Uint64
	busyRejections atomic.Uint64
	clarifications atomic.Uint64
}

// NewManager creates a manager. clock may be nil.
func NewManager(orch *orchestrator.Service, contexts *conversation.Store, synth Synthesizer, clock application.Clock, cfg Config) *Manager {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultConfig().IdleTTL
	}
	return &Manager{
		orchestrator: orch,
		contexts:     contexts,
		synth:        synth,
		clock:        clock,
		config:       cfg,
		sessions:     make(map[string]*Session),
	}
}

// Connect opens a session for token, generating one when empty. A live
// session already holding the token is closed and replaced. The prior
// conversation context is rehydrated when it has not expired.
func (m *Manager) Connect(ctx context.Context, token string, sink Sink) (*Session, error) {
	if token == "" {
		token = uuid.NewString()
	}
	now := m.clock.Now()

	m.mu.Lock()
	old, replacing := m.sessions[token]
	if !replacing && m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, domain.ErrTooManySessions
	}
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:           token,
		manager:      m,
		sink:         sink,
		ctx:          sctx,
		cancel:       cancel,
		state:        domain.StateConnecting,
		connectedAt:  now,
		lastActivity: now,
	}
	m.sessions[token] = s
	m.mu.Unlock()

	if replacing {
		m.replaced.Add(1)
		log.Printf("session: replacing connection session=%s", token)
		old.Close()
	}

	c, rehydrated := m.contexts.Get(ctx, token)
	payload := domain.ConnectionPayload{SessionID: token, Status: "connected", Rehydrated: rehydrated}
	if rehydrated {
		payload.RecentTargets = c.RecentTargets
	}

	s.mu.Lock()
	if s.state == domain.StateConnecting {
		s.state = domain.StateOpen
	}
	s.mu.Unlock()
	if err := s.send(domain.Envelope{Type: domain.TypeConnection, Payload: payload}); err != nil {
		s.Close()
		return nil, err
	}
	m.opened.Add(1)
	log.Printf("session: opened session=%s rehydrated=%t", token, rehydrated)
	return s, nil
}

// Snapshot returns the state of the live session holding token.
func (m *Manager) Snapshot(token string) (domain.Snapshot, bool) {
	m.mu.Lock()
	s, ok := m.sessions[token]
	m.mu.Unlock()
	if !ok {
		return domain.Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Context returns the conversation context of a session, live or not.
func (m *Manager) Context(ctx context.Context, token string) (*convo.Context, bool) {
	return m.contexts.Get(ctx, token)
}

// Stats returns counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	open := len(m.sessions)
	m.mu.Unlock()
	return Stats{
		Open:           open,
		Opened:         m.opened.Load(),
		Replaced:       m.replaced.Load(),
		BusyRejections: m.busyRejections.Load(),
		Clarifications: m.clarifications.Load(),
	}
}

// Run closes idle connections and sweeps expired contexts until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.sweep(m.clock.Now())
		}
	}
}

// CloseAll closes every live session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.idle(now, m.config.IdleTTL) {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()
	for _, s := range idle {
		log.Printf("session: closing idle session=%s", s.id)
		s.Close()
	}
	if n := m.contexts.Sweep(now); n > 0 {
		log.Printf("session: swept idle contexts count=%d", n)
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		delete(m.sessions, s.id)
	}
}

// errorCode maps request errors to wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, analysis.ErrInvalidTarget):
		return domain.CodeInvalidTarget
	case errors.Is(err, analysis.ErrUnknownCapability):
		return domain.CodeUnknownCapability
	case errors.Is(err, analysis.ErrTooManyCapabilities):
		return domain.CodeTooManyCapabilities
	case errors.Is(err, domain.ErrBusy):
		return domain.CodeBusy
	default:
		return domain.CodeInternal
	}
}
