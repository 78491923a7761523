// Package httppost delivers query event envelopes to a webhook with
// retries. Only 5xx responses and transport failures are retried.
package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/output"
	"github.com/c360/sparqlstream/pkg/retry"
	"github.com/c360/sparqlstream/pkg/security"
	"github.com/c360/sparqlstream/pkg/tlsutil"
)

// Config holds webhook settings.
type Config struct {
	URL         string                   `json:"url"                    yaml:"url"`
	Headers     map[string]string        `json:"headers,omitempty"      yaml:"headers,omitempty"`
	Timeout     int                      `json:"timeout"                yaml:"timeout"`
	RetryCount  int                      `json:"retry_count"            yaml:"retry_count"`
	ContentType string                   `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Types       []output.EventType       `json:"types,omitempty"        yaml:"types,omitempty"`
	TLS         security.ClientTLSConfig `json:"tls,omitempty"          yaml:"tls,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}
	if u, err := url.Parse(c.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "invalid URL format")
	}
	if c.Timeout < 0 || c.Timeout > 300 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 300 seconds")
	}
	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}
	return nil
}

// DefaultConfig returns the default webhook settings without a URL.
func DefaultConfig() Config {
	return Config{
		Headers:     make(map[string]string),
		Timeout:     30,
		RetryCount:  3,
		ContentType: "application/json",
		Types:       []output.EventType{output.EventSuccess, output.EventError},
	}
}

// Publisher posts envelopes to the configured URL.
type Publisher struct {
	cfg        Config
	types      map[output.EventType]bool
	httpClient *http.Client
	retry      retry.Config
	logger     *slog.Logger
	registry   *metric.MetricsRegistry

	messagesSent    atomic.Int64
	messagesRetried atomic.Int64
	errors          atomic.Int64
}

var _ output.Publisher = (*Publisher)(nil)

// New creates a webhook publisher. Events whose type is not listed in
// cfg.Types are skipped; an empty list sends everything.
func New(cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.TLS.IsZero() {
		tlsCfg, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Publisher", "New", "load TLS config")
		}
		transport.TLSClientConfig = tlsCfg
	}

	p := &Publisher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second, Transport: transport},
		retry: retry.Config{
			MaxAttempts:  cfg.RetryCount + 1,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		},
		logger:   logger.With("component", "httppost", "url", cfg.URL),
		registry: registry,
	}
	if len(cfg.Types) > 0 {
		p.types = make(map[output.EventType]bool, len(cfg.Types))
		for _, t := range cfg.Types {
			p.types[t] = true
		}
	}
	p.retry.OnRetry = func(attempt int, err error) {
		p.messagesRetried.Add(1)
		p.logger.Debug("webhook delivery failed, retrying", "attempt", attempt, "error", err)
	}
	return p, nil
}

// Publish posts env, retrying transient failures.
func (p *Publisher) Publish(ctx context.Context, env output.Envelope) error {
	if p.types != nil && !p.types[env.Type] {
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "Publisher", "Publish", "encode envelope")
	}

	if err := retry.Do(ctx, p.retry, func() error { return p.send(ctx, data) }); err != nil {
		p.errors.Add(1)
		return errors.WrapTransient(err, "Publisher", "Publish", "post envelope")
	}
	p.messagesSent.Add(1)
	if p.registry != nil {
		p.registry.CoreMetrics().RecordEventPublished("httppost", string(env.Type))
	}
	return nil
}

func (p *Publisher) send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", p.cfg.ContentType)
	for key, value := range p.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	default:
		return retry.NonRetryable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	}
}

// Stats reports delivery counters.
type Stats struct {
	Sent    int64 `json:"sent"`
	Retried int64 `json:"retried"`
	Errors  int64 `json:"errors"`
}

// Stats returns the delivery counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Sent:    p.messagesSent.Load(),
		Retried: p.messagesRetried.Load(),
		Errors:  p.errors.Load(),
	}
}
