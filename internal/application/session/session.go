package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bryanwahyu/domain-insight/internal/application/orchestrator"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	convo "github.com/bryanwahyu/domain-insight/internal/domain/conversation"
	domain "github.com/bryanwahyu/domain-insight/internal/domain/session"
)

const maxChatLength = 2000

// Session is one physical connection. Inbound frames are handled one at a
// time by the connection's reader; progress is relayed by a goroutine per
// in-flight analysis.
type Session struct {
	id      string
	manager *Manager
	sink    Sink
	ctx     context.Context
	cancel  context.CancelFunc

	mu           sync.Mutex
	state        domain.ConnectionState
	inFlight     string
	run          *orchestrator.Run
	connectedAt  time.Time
	lastActivity time.Time
	relayDone    chan struct{}
}

// ID returns the session token.
func (s *Session) ID() string { return s.id }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Snapshot returns a read-only view.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Snapshot{
		SessionID:       s.id,
		State:           s.state,
		InFlightRequest: s.inFlight,
		ConnectedAt:     s.connectedAt,
		LastActivity:    s.lastActivity,
	}
}

// HandleMessage processes one inbound frame. Protocol errors are reported
// to the client; the returned error is only non-nil when the session is
// closed.
func (s *Session) HandleMessage(data []byte) error {
	s.mu.Lock()
	if s.state == domain.StateClosed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.lastActivity = s.manager.clock.Now()
	s.mu.Unlock()

	var in domain.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return s.sendError(domain.CodeInvalidMessage, "malformed frame")
	}
	switch in.Type {
	case domain.TypePing:
		return s.send(domain.Envelope{Type: domain.TypePong, Payload: struct{}{}})
	case domain.TypeChat:
		var p domain.ChatPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return s.sendError(domain.CodeInvalidMessage, "chat payload must be {\"content\": string}")
		}
		content := strings.TrimSpace(p.Content)
		if content == "" || len(content) > maxChatLength {
			return s.sendError(domain.CodeInvalidMessage, "chat content must be 1-2000 characters")
		}
		return s.chat(content)
	default:
		return s.sendError(domain.CodeInvalidMessage, "unsupported message type "+in.Type)
	}
}

// chat starts an analysis unless one is already in flight.
func (s *Session) chat(content string) error {
	s.mu.Lock()
	switch s.state {
	case domain.StateClosed:
		s.mu.Unlock()
		return domain.ErrSessionClosed
	case domain.StateProcessing:
		s.mu.Unlock()
		s.manager.busyRejections.Add(1)
		return s.sendError(domain.CodeBusy, "an analysis is already running for this session")
	}
	s.state = domain.StateProcessing
	s.mu.Unlock()

	m := s.manager
	resolved, err := m.contexts.Resolve(s.ctx, s.id, content)
	if errors.Is(err, convo.ErrInsufficientContext) {
		s.idleAgain()
		m.clarifications.Add(1)
		return s.send(domain.Envelope{Type: domain.TypeChat, Payload: domain.ChatPayload{
			Content:  clarification(err),
			Metadata: map[string]any{"clarification": true},
		}})
	}
	if err != nil {
		s.idleAgain()
		return s.sendError(domain.CodeInternal, "could not resolve request")
	}

	run, err := m.orchestrator.Run(s.ctx, analysis.AnalysisRequest{
		Targets:      resolved.Targets,
		Capabilities: resolved.Capabilities,
		SessionID:    s.id,
	}, resolved)
	if err != nil {
		s.idleAgain()
		return s.sendError(errorCode(err), err.Error())
	}

	done := make(chan struct{})
	s.mu.Lock()
	if s.state == domain.StateClosed {
		s.mu.Unlock()
		run.Detach()
		return domain.ErrSessionClosed
	}
	s.inFlight = run.Request.ID
	s.run = run
	s.relayDone = done
	s.mu.Unlock()

	log.Printf("session: analysis started session=%s request=%s key=%s cached=%t", s.id, run.Request.ID, run.Key, run.Cached())
	go s.relay(run, done)
	return nil
}

// relay forwards progress in the order the run produced it, then sends the
// synthesized reply.
func (s *Session) relay(run *orchestrator.Run, done chan struct{}) {
	defer close(done)
	defer s.finish(run)

	var report *analysis.AggregatedReport
	for ev := range run.Events() {
		if ev.Terminal {
			report = ev.Report
			if !run.Cached() {
				continue
			}
		}
		err := s.send(domain.Envelope{Type: domain.TypeAnalysisUpdate, Payload: domain.UpdatePayload{
			Progress:     ev.Progress,
			Message:      ev.Message,
			CapabilityID: string(ev.CapabilityID),
		}})
		if err != nil {
			return
		}
	}
	if s.ctx.Err() != nil {
		return
	}
	if report == nil {
		_, err := run.Wait(s.ctx)
		log.Printf("session: analysis failed session=%s request=%s err=%v", s.id, run.Request.ID, err)
		_ = s.sendError(domain.CodeInternal, "analysis failed, please try again")
		return
	}

	m := s.manager
	m.contexts.Update(s.ctx, s.id, report)
	c, _ := m.contexts.Get(s.ctx, s.id)
	text := m.synth.Synthesize(s.ctx, report, c)
	_ = s.send(domain.Envelope{Type: domain.TypeChat, Payload: domain.ChatPayload{
		Content: text,
		Metadata: map[string]any{
			"reportId":      report.ID,
			"targets":       report.Targets,
			"overallStatus": report.OverallStatus,
			"cached":        run.Cached(),
			"report":        report,
		},
	}})
}

func (s *Session) finish(run *orchestrator.Run) {
	run.Detach()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == run {
		s.run = nil
		s.inFlight = ""
	}
	if s.state == domain.StateProcessing {
		s.state = domain.StateOpen
	}
	s.lastActivity = s.manager.clock.Now()
}

func (s *Session) idleAgain() {
	s.mu.Lock()
	if s.state == domain.StateProcessing {
		s.state = domain.StateOpen
	}
	s.mu.Unlock()
}

// Close ends the session. An in-flight analysis is detached from; it keeps
// running for other subscribers and is cancelled if this was the last one.
// Results finishing afterwards are not redelivered.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == domain.StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = domain.StateClosed
	run := s.run
	s.mu.Unlock()

	s.cancel()
	if run != nil {
		run.Detach()
	}
	if err := s.sink.Close(); err != nil {
		log.Printf("session: sink close failed session=%s err=%v", s.id, err)
	}
	s.manager.remove(s)
	s.manager.contexts.Touch(context.Background(), s.id)
	log.Printf("session: closed session=%s", s.id)
}

// Wait blocks until the current analysis relay, if any, has finished.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.relayDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Session) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.StateOpen && now.Sub(s.lastActivity) > ttl
}

func (s *Session) send(env domain.Envelope) error {
	if err := s.sink.Send(s.ctx, env); err != nil {
		if s.ctx.Err() != nil {
			return domain.ErrSessionClosed
		}
		return err
	}
	return nil
}

func (s *Session) sendError(code, msg string) error {
	return s.send(domain.Envelope{Type: domain.TypeError, Payload: domain.ErrorPayload{Code: code, Message: msg}})
}

func clarification(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	msg = strings.TrimSpace(msg)
	if msg == "" || msg == convo.ErrInsufficientContext.Error() {
		return "Which domain would you like me to look at?"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
