package protocol

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/pkg/security"
	"github.com/c360/sparqlstream/pkg/tlsutil"
	"github.com/c360/sparqlstream/sparql"
)

// Defaults for Client.
const (
	DefaultTimeout          = 60 * time.Second
	DefaultChunkSize        = 32 * 1024
	DefaultProgressInterval = 100 * time.Millisecond
	DefaultUserAgent        = "sparqlstream/1.0"
)

// Observer receives callbacks while a response is fetched. Both methods are
// called on the goroutine running Fetch.
type Observer interface {
	OnFirstByte()
	OnProgress(sparql.ProgressEvent)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	FirstByte func()
	Progress  func(sparql.ProgressEvent)
}

// OnFirstByte implements Observer.
func (o ObserverFuncs) OnFirstByte() {
	if o.FirstByte != nil {
		o.FirstByte()
	}
}

// OnProgress implements Observer.
func (o ObserverFuncs) OnProgress(ev sparql.ProgressEvent) {
	if o.Progress != nil {
		o.Progress(ev)
	}
}

// RawResponse is a fully downloaded 2xx response before body parsing.
type RawResponse struct {
	Body          []byte
	ContentType   string
	Status        int
	Headers       map[string]string
	ContentLength int64
	Method        string
	Elapsed       time.Duration
}

// ResponseBytes is the larger of the received size and the advertised
// Content-Length.
func (r *RawResponse) ResponseBytes() int64 {
	n := int64(len(r.Body))
	if r.ContentLength > n {
		return r.ContentLength
	}
	return n
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http client must not be nil")
		}
		c.http = hc
		return nil
	}
}

// WithTimeout sets the timeout applied when a request carries none.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithChunkSize sets the body read size.
func WithChunkSize(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("chunk size must be positive, got %d", n)
		}
		c.chunkSize = n
		return nil
	}
}

// WithProgressInterval sets the minimum gap between download events.
func WithProgressInterval(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("progress interval must be positive, got %v", d)
		}
		c.progressInterval = d
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithTLS configures endpoint TLS on the default transport.
func WithTLS(cfg security.ClientTLSConfig) Option {
	return func(c *Client) error {
		if cfg.IsZero() {
			return nil
		}
		tlsCfg, err := tlsutil.LoadClientTLSConfig(cfg)
		if err != nil {
			return err
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsCfg
		c.http = &http.Client{Transport: transport}
		return nil
	}
}

// Client performs SPARQL protocol exchanges. It is safe for concurrent use.
type Client struct {
	http             *http.Client
	timeout          time.Duration
	chunkSize        int
	progressInterval time.Duration
	userAgent        string
	logger           *slog.Logger
	now              func() time.Time
}

// NewClient creates a protocol client.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		http:             &http.Client{},
		timeout:          DefaultTimeout,
		chunkSize:        DefaultChunkSize,
		progressInterval: DefaultProgressInterval,
		userAgent:        DefaultUserAgent,
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "protocol")
	return c, nil
}

// NewRequest builds the HTTP request for req without sending it.
func (c *Client) NewRequest(ctx context.Context, req sparql.QueryRequest) (*http.Request, error) {
	if req.Endpoint == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewRequest", "endpoint required")
	}

	kind := req.Kind()
	method := ChooseMethod(req.Query, req.Endpoint, kind)

	var (
		httpReq *http.Request
		err     error
	)
	if method == http.MethodGet {
		httpReq, err = http.NewRequestWithContext(ctx, method, GetURL(req.Endpoint, req.Query), nil)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, req.Endpoint, strings.NewReader(req.Query))
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "NewRequest", "build http request")
	}

	httpReq.Header.Set("Accept", BuildAcceptHeader(kind, req.Format))
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, "Content-Type") {
			continue
		}
		httpReq.Header.Set(k, v)
	}
	if method == http.MethodPost {
		httpReq.Header.Set("Content-Type", RequestContentType(kind))
	}
	return httpReq, nil
}

// Fetch sends req and downloads the whole body, reporting progress to obs.
// Every failure is returned as a *sparql.QueryError.
func (c *Client) Fetch(ctx context.Context, req sparql.QueryRequest, obs Observer) (*RawResponse, error) {
	if obs == nil {
		obs = ObserverFuncs{}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.NewRequest(ctx, req)
	if err != nil {
		return nil, &sparql.QueryError{Kind: sparql.ErrorUnknown, Message: "Could not build request", Cause: err}
	}

	start := c.now()
	c.logger.Debug("sending query",
		"endpoint", req.Endpoint,
		"method", httpReq.Method,
		"accept", httpReq.Header.Get("Accept"))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		qe := ClassifyTransportError(err)
		c.logger.Debug("query transport failed", "endpoint", req.Endpoint, "kind", qe.Kind, "error", err)
		return nil, qe
	}
	defer resp.Body.Close()

	obs.OnFirstByte()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		qe := ClassifyStatus(resp.StatusCode, string(body))
		c.logger.Debug("query rejected", "endpoint", req.Endpoint, "status", resp.StatusCode, "kind", qe.Kind)
		return nil, qe
	}

	body, err := c.download(ctx, resp, obs)
	if err != nil {
		if qe := ClassifyTransportError(err); qe.Kind != sparql.ErrorUnknown {
			return nil, qe
		}
		return nil, &sparql.QueryError{
			Kind:    sparql.ErrorNetwork,
			Message: "Connection lost while downloading the response",
			Cause:   err,
		}
	}

	raw := &RawResponse{
		Body:          body,
		ContentType:   resp.Header.Get("Content-Type"),
		Status:        resp.StatusCode,
		Headers:       flattenHeaders(resp.Header),
		ContentLength: resp.ContentLength,
		Method:        httpReq.Method,
		Elapsed:       c.now().Sub(start),
	}
	c.logger.Debug("query response received",
		"endpoint", req.Endpoint,
		"status", raw.Status,
		"content_type", raw.ContentType,
		"bytes", len(body),
		"elapsed", raw.Elapsed)
	return raw, nil
}

// Execute fetches req and builds the ProtocolResponse.
func (c *Client) Execute(ctx context.Context, req sparql.QueryRequest, obs Observer) (*sparql.ProtocolResponse, error) {
	raw, err := c.Fetch(ctx, req, obs)
	if err != nil {
		return nil, err
	}
	return BuildResponse(raw)
}

// BuildResponse parses a raw response. JSON results become a ResultSet;
// any other media type is kept as text. RawBody is always the received body.
func BuildResponse(raw *RawResponse) (*sparql.ProtocolResponse, error) {
	resp := raw.Response(nil)
	if !sparql.IsJSONResults(raw.ContentType) {
		resp.Text = resp.RawBody
		return resp, nil
	}

	rs, err := sparql.ParseResultSet(raw.Body)
	if err != nil {
		return nil, MalformedResults(raw, err)
	}
	resp.Results = rs
	return resp, nil
}

// Response builds the ProtocolResponse for results decoded elsewhere.
func (r *RawResponse) Response(rs *sparql.ResultSet) *sparql.ProtocolResponse {
	return &sparql.ProtocolResponse{
		RawBody:       string(r.Body),
		Results:       rs,
		ContentType:   r.ContentType,
		Status:        r.Status,
		Headers:       r.Headers,
		ExecutionTime: r.Elapsed,
	}
}

// MalformedResults classifies a 2xx JSON body that failed to decode.
func MalformedResults(raw *RawResponse, err error) *sparql.QueryError {
	return &sparql.QueryError{
		Kind:    sparql.ErrorUnknown,
		Status:  raw.Status,
		Message: "The endpoint returned malformed JSON results",
		Details: truncate(string(raw.Body), maxErrorDetails),
		Cause:   err,
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}
