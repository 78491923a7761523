// Package config loads, validates and defaults the sparqlstream
// configuration. Files may be JSON or YAML; both are checked against an
// embedded JSON Schema before decoding.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/output/file"
	"github.com/c360/sparqlstream/output/httppost"
	"github.com/c360/sparqlstream/pagination"
	"github.com/c360/sparqlstream/parsing"
	"github.com/c360/sparqlstream/pkg/security"
	"github.com/c360/sparqlstream/profiler"
	"github.com/c360/sparqlstream/vocabulary"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete application configuration.
type Config struct {
	Version    string           `json:"version"`
	Client     ClientConfig     `json:"client"`
	Parsing    ParsingConfig    `json:"parsing"`
	Pagination PaginationConfig `json:"pagination"`
	Profiler   ProfilerConfig   `json:"profiler"`
	Gateway    GatewayConfig    `json:"gateway"`
	NATS       NATSConfig       `json:"nats"`
	Outputs    OutputsConfig    `json:"outputs"`
	Vocabulary VocabularyConfig `json:"vocabulary"`
	Log        LogConfig        `json:"log"`
}

// ClientConfig configures the SPARQL protocol client.
type ClientConfig struct {
	Endpoint         string                   `json:"endpoint,omitempty"`
	Timeout          Duration                 `json:"timeout"`
	ChunkSize        int                      `json:"chunk_size"`
	ProgressInterval Duration                 `json:"progress_interval"`
	UserAgent        string                   `json:"user_agent,omitempty"`
	Headers          map[string]string        `json:"headers,omitempty"`
	TLS              security.ClientTLSConfig `json:"tls,omitempty"`
}

// ParsingConfig configures strategy thresholds and the offloaded parser.
type ParsingConfig struct {
	Thresholds parsing.Thresholds `json:"thresholds"`
	Workers    int                `json:"workers"`
	QueueSize  int                `json:"queue_size"`
	ChunkSize  int                `json:"chunk_size"`
}

// PaginationConfig configures LoadNextPage.
type PaginationConfig struct {
	PageSize int `json:"page_size"`
}

// ProfilerConfig configures sample retention.
type ProfilerConfig struct {
	Retention int `json:"retention"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Addr            string                   `json:"addr"`
	SessionTTL      Duration                 `json:"session_ttl"`
	ShutdownTimeout Duration                 `json:"shutdown_timeout"`
	AllowedOrigins  []string                 `json:"allowed_origins,omitempty"`
	MaxRequestBytes int64                    `json:"max_request_bytes,omitempty"`
	TLS             security.ServerTLSConfig `json:"tls,omitempty"`
}

// NATSConfig configures event publishing to NATS.
type NATSConfig struct {
	Enabled       bool     `json:"enabled"`
	URL           string   `json:"url,omitempty"`
	SubjectPrefix string   `json:"subject_prefix"`
	MaxReconnects int      `json:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
}

// OutputsConfig enables the optional event sinks.
type OutputsConfig struct {
	File    *file.Config     `json:"file,omitempty"`
	Webhook *httppost.Config `json:"webhook,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// VocabularyConfig adds prefixes to the built-in set used when compacting
// IRIs for display.
type VocabularyConfig struct {
	Prefixes map[string]string `json:"prefixes,omitempty"`
}

// Registry returns the built-in registry extended with the configured
// prefixes.
func (v VocabularyConfig) Registry() (*vocabulary.Registry, error) {
	reg := vocabulary.NewRegistry()
	for prefix, ns := range v.Prefixes {
		if err := reg.Register(prefix, ns); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Registry", "register prefix "+prefix)
		}
	}
	return reg, nil
}

// Default returns a runnable configuration.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Client: ClientConfig{
			Timeout:          Duration(60 * time.Second),
			ChunkSize:        32 * 1024,
			ProgressInterval: Duration(100 * time.Millisecond),
			UserAgent:        "sparqlstream/1.0",
		},
		Parsing: ParsingConfig{
			Thresholds: parsing.DefaultThresholds(),
			Workers:    1,
			QueueSize:  16,
			ChunkSize:  1000,
		},
		Pagination: PaginationConfig{PageSize: pagination.DefaultPageSize},
		Profiler:   ProfilerConfig{Retention: profiler.DefaultRetention},
		Gateway: GatewayConfig{
			Addr:            ":8080",
			SessionTTL:      Duration(30 * time.Minute),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "sparql.events",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Validate checks cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	if c.Client.Timeout <= 0 {
		return invalid("client.timeout must be positive")
	}
	if c.Client.ChunkSize <= 0 {
		return invalid("client.chunk_size must be positive")
	}
	if c.Client.ProgressInterval <= 0 {
		return invalid("client.progress_interval must be positive")
	}
	if err := c.Parsing.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Parsing.Workers < 1 {
		return invalid("parsing.workers must be at least 1")
	}
	if c.Pagination.PageSize < 1 {
		return invalid("pagination.page_size must be at least 1")
	}
	if c.Profiler.Retention < 1 {
		return invalid("profiler.retention must be at least 1")
	}
	if c.Gateway.Addr == "" {
		return invalid("gateway.addr is required")
	}
	if c.Gateway.SessionTTL <= 0 {
		return invalid("gateway.session_ttl must be positive")
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return invalid("nats.url is required when nats is enabled")
		}
		if !isValidNATSSubject(c.NATS.SubjectPrefix) {
			return invalid(fmt.Sprintf("nats.subject_prefix %q is not a valid NATS subject", c.NATS.SubjectPrefix))
		}
	}
	if _, err := c.Vocabulary.Registry(); err != nil {
		return err
	}
	if c.Outputs.File != nil {
		if err := c.Outputs.File.Validate(); err != nil {
			return err
		}
	}
	if c.Outputs.Webhook != nil {
		if err := c.Outputs.Webhook.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "check fields")
}

// isValidNATSSubject accepts dot-separated tokens of letters, digits,
// dashes and underscores.
func isValidNATSSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// String returns a JSON representation with secrets masked.
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
