// Package output turns query events into session-scoped envelopes and hands
// them to publishers such as the WebSocket hub and the NATS publisher.
package output

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/sparqlstream/pkg/timestamp"
	"github.com/c360/sparqlstream/sparql"
)

// EventType discriminates envelopes.
type EventType string

// Event types.
const (
	EventProgress EventType = "progress"
	EventSuccess  EventType = "success"
	EventError    EventType = "error"
)

// Envelope is the wire form of one event.
type Envelope struct {
	Type      EventType       `json:"type"`
	Session   string          `json:"session"`
	RequestID string          `json:"request_id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Publisher delivers envelopes to some transport.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Sink adapts a Publisher to the coordinator's sink interface for one
// session. Publish failures are logged and never reach the query.
type Sink struct {
	session string
	pub     Publisher
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	requestID string
}

// NewSink creates a sink publishing the events of session to pub.
func NewSink(session string, pub Publisher, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		session: session,
		pub:     pub,
		timeout: 5 * time.Second,
		logger:  logger.With("component", "output", "session", session),
	}
}

// OnStart records the request ID stamped on subsequent envelopes.
func (s *Sink) OnStart(requestID string) {
	s.mu.Lock()
	s.requestID = requestID
	s.mu.Unlock()
}

// OnProgress publishes a progress envelope.
func (s *Sink) OnProgress(ev sparql.ProgressEvent) {
	s.publish(EventProgress, ev)
}

// OnSuccess publishes a summary of resp. The raw body is not sent.
func (s *Sink) OnSuccess(resp *sparql.ProtocolResponse) {
	s.publish(EventSuccess, resp.Summarize())
}

// OnError publishes err.
func (s *Sink) OnError(err *sparql.QueryError) {
	s.publish(EventError, err)
}

func (s *Sink) publish(t EventType, payload any) {
	s.mu.Lock()
	id := s.requestID
	s.mu.Unlock()

	env, err := NewEnvelope(t, s.session, id, payload)
	if err != nil {
		s.logger.Warn("encode event failed", "type", t, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.pub.Publish(ctx, env); err != nil {
		s.logger.Debug("publish event failed", "type", t, "request_id", id, "error", err)
	}
}

// NewEnvelope encodes payload into an envelope stamped with the current time.
func NewEnvelope(t EventType, session, requestID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:      t,
		Session:   session,
		RequestID: requestID,
		Timestamp: timestamp.Now(),
		Payload:   data,
	}, nil
}
