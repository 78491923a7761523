// Package natspub publishes query event envelopes to NATS subjects of the
// form <prefix>.<session>.<type>.
package natspub

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/output"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "sparql.events"

// Conn is the publishing side of a NATS connection. *natsclient.Client
// satisfies it.
type Conn interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Publisher implements output.Publisher on top of NATS.
type Publisher struct {
	conn     Conn
	prefix   string
	logger   *slog.Logger
	registry *metric.MetricsRegistry
}

var _ output.Publisher = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix = strings.Trim(prefix, "."); prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics counts published events.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(p *Publisher) {
		p.registry = registry
	}
}

// New creates a publisher on conn.
func New(conn Conn, opts ...Option) (*Publisher, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Publisher", "New", "nats connection required")
	}
	p := &Publisher{conn: conn, prefix: DefaultPrefix, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "natspub")
	return p, nil
}

// Subject returns the subject for session and event type. Characters that
// NATS treats as tokens or wildcards are replaced in the session.
func (p *Publisher) Subject(session string, t output.EventType) string {
	return p.prefix + "." + sanitize(session) + "." + string(t)
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

func sanitize(token string) string {
	if token == "" {
		return "_"
	}
	return subjectReplacer.Replace(token)
}

// Publish encodes env and publishes it.
func (p *Publisher) Publish(ctx context.Context, env output.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "Publisher", "Publish", "encode envelope")
	}
	subject := p.Subject(env.Session, env.Type)
	if err := p.conn.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "Publisher", "Publish", "publish "+subject)
	}
	if p.registry != nil {
		p.registry.CoreMetrics().RecordEventPublished("nats", string(env.Type))
	}
	p.logger.Debug("event published", "subject", subject, "request_id", env.RequestID)
	return nil
}
