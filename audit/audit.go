// Package audit records authentication outcomes for later review. Sinks are
// pluggable; the callback flow treats emission as best-effort and never
// fails an authentication over it.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType names the auditable outcomes of the auth flows.
type EventType string

const (
	EventSignIn             EventType = "signin"
	EventFailure            EventType = "failure"
	EventSuspiciousActivity EventType = "suspicious_activity"
)

// Event is one audit record.
type Event struct {
	SessionID    string            `json:"session_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	EventType    EventType         `json:"event_type"`
	Success      bool              `json:"success"`
	ErrorMessage string            `json:"error_message,omitempty"`
	IPAddress    string            `json:"ip_address,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Sink receives audit events. Implementations must be safe for concurrent
// use and must not block the caller for long.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// LoggerSink writes events as structured log lines.
type LoggerSink struct {
	log zerolog.Logger
}

func NewLoggerSink(log zerolog.Logger) *LoggerSink {
	return &LoggerSink{log: log}
}

func (s *LoggerSink) Emit(_ context.Context, event Event) {
	evt := s.log.Info()
	if !event.Success {
		evt = s.log.Warn()
	}
	evt.Str("event_type", string(event.EventType)).
		Bool("success", event.Success).
		Str("session_id", event.SessionID).
		Str("user_id", event.UserID).
		Str("ip_address", event.IPAddress).
		Str("user_agent", event.UserAgent).
		Str("error_message", event.ErrorMessage).
		Time("created_at", event.CreatedAt).
		Msg("audit event")
}

// RecorderSink keeps events in memory for inspection in tests.
type RecorderSink struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorderSink() *RecorderSink {
	return &RecorderSink{}
}

func (s *RecorderSink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of everything recorded so far.
func (s *RecorderSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
