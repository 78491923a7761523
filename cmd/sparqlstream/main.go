// Package main runs the sparqlstream gateway: a REST and WebSocket front end
// that executes SPARQL queries per session and streams their progress.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/sparqlstream/config"
	"github.com/c360/sparqlstream/execution"
	gwhttp "github.com/c360/sparqlstream/gateway/http"
	"github.com/c360/sparqlstream/health"
	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/natsclient"
	"github.com/c360/sparqlstream/output"
	"github.com/c360/sparqlstream/output/file"
	"github.com/c360/sparqlstream/output/httppost"
	"github.com/c360/sparqlstream/output/natspub"
	"github.com/c360/sparqlstream/output/websocket"
	"github.com/c360/sparqlstream/parsing"
	"github.com/c360/sparqlstream/pkg/retry"
	"github.com/c360/sparqlstream/pkg/tlsutil"
	"github.com/c360/sparqlstream/protocol"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sparqlstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath)
		return nil
	}

	logger.Info("Starting sparqlstream",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"addr", cfg.Gateway.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger)
}

// loadConfig layers file, SPARQLSTREAM_* variables and explicit flags.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cli.Addr != "" {
		cfg.Gateway.Addr = cli.Addr
	}
	if cli.Endpoint != "" {
		cfg.Client.Endpoint = cli.Endpoint
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.ShutdownTimeout > 0 {
		cfg.Gateway.ShutdownTimeout = config.Duration(cli.ShutdownTimeout)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// closer is one shutdown step, run in reverse order of creation.
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(appName, registry)

	var closers []closer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout.Std())
		defer cancel()
		for _, c := range slices.Backward(closers) {
			if err := c.fn(shutdownCtx); err != nil {
				logger.Warn("shutdown step failed", "step", c.name, "error", err)
			}
		}
	}()

	client, err := protocol.NewClient(
		protocol.WithTimeout(cfg.Client.Timeout.Std()),
		protocol.WithChunkSize(cfg.Client.ChunkSize),
		protocol.WithProgressInterval(cfg.Client.ProgressInterval.Std()),
		protocol.WithUserAgent(cfg.Client.UserAgent),
		protocol.WithTLS(cfg.Client.TLS),
		protocol.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create protocol client: %w", err)
	}
	if cfg.Client.Endpoint != "" {
		monitor.Register("endpoint", health.EndpointCheck("endpoint", client, cfg.Client.Endpoint))
	}

	hub := websocket.NewHub(
		websocket.WithLogger(logger),
		websocket.WithMetrics(registry),
		websocket.WithCheckOrigin(originChecker(cfg.Gateway.AllowedOrigins)))
	closers = append(closers, closer{"websocket", func(ctx context.Context) error {
		return hub.Close(remaining(ctx))
	}})

	publishers := []output.Publisher{hub}
	pubs, more, err := setupPublishers(ctx, cfg, logger, registry, monitor)
	closers = append(closers, more...)
	if err != nil {
		return err
	}
	publishers = append(publishers, pubs...)

	vocab, err := cfg.Vocabulary.Registry()
	if err != nil {
		return err
	}

	gateway, err := gwhttp.New(ctx, client,
		gwhttp.WithLogger(logger),
		gwhttp.WithMetrics(registry),
		gwhttp.WithPublishers(publishers...),
		gwhttp.WithWebSocket(hub),
		gwhttp.WithHealth(monitor),
		gwhttp.WithDefaultEndpoint(cfg.Client.Endpoint),
		gwhttp.WithSessionTTL(cfg.Gateway.SessionTTL.Std()),
		gwhttp.WithAllowedOrigins(cfg.Gateway.AllowedOrigins),
		gwhttp.WithMaxRequestSize(cfg.Gateway.MaxRequestBytes),
		gwhttp.WithRetention(cfg.Profiler.Retention),
		gwhttp.WithCoordinatorOptions(
			execution.WithThresholds(cfg.Parsing.Thresholds),
			execution.WithPageSize(cfg.Pagination.PageSize),
			execution.WithParseChunkSize(cfg.Parsing.ChunkSize),
			execution.WithVocabulary(vocab),
			execution.WithParserOptions(
				parsing.WithWorkers(cfg.Parsing.Workers),
				parsing.WithQueueSize(cfg.Parsing.QueueSize))))
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	closers = append(closers, closer{"gateway", func(context.Context) error { return gateway.Close() }})

	tlsCfg, err := tlsutil.LoadServerTLSConfig(cfg.Gateway.TLS)
	if err != nil {
		return fmt.Errorf("load gateway TLS: %w", err)
	}
	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           gateway.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gateway listening", "addr", srv.Addr, "tls", tlsCfg != nil)
		var err error
		if tlsCfg != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout.Std())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	logger.Info("sparqlstream shutdown complete")
	return nil
}

// setupPublishers creates the optional NATS, file and webhook publishers.
// The returned closers are valid even when err is non-nil.
func setupPublishers(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
) ([]output.Publisher, []closer, error) {
	var (
		pubs    []output.Publisher
		closers []closer
	)

	if cfg.NATS.Enabled {
		connectRetry := retry.DefaultConfig()
		connectRetry.MaxAttempts = 5
		connectRetry.InitialDelay = 500 * time.Millisecond
		connectRetry.MaxDelay = 10 * time.Second
		connectRetry.OnRetry = func(attempt int, err error) {
			logger.Warn("NATS connect failed, retrying", "attempt", attempt, "error", err)
		}
		opts := []natsclient.ClientOption{
			natsclient.WithLogger(logger),
			natsclient.WithMetrics(registry),
			natsclient.WithName(appName),
			natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
			natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
			natsclient.WithConnectRetry(connectRetry),
			natsclient.WithDrainTimeout(cfg.Gateway.ShutdownTimeout.Std()),
			natsclient.WithHealthChangeCallback(func(healthy bool) {
				logger.Info("NATS connectivity changed", "healthy", healthy)
			}),
		}
		if cfg.NATS.Username != "" {
			opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
		}
		if cfg.NATS.Token != "" {
			opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
		}
		nc, err := natsclient.NewClient(cfg.NATS.URL, opts...)
		if err != nil {
			return nil, closers, fmt.Errorf("create NATS client: %w", err)
		}
		closers = append(closers, closer{"nats", nc.Close})
		if err := nc.Connect(ctx); err != nil {
			return nil, closers, fmt.Errorf("connect to NATS: %w", err)
		}
		monitor.Register("nats", health.NATSCheck("nats", nc))

		pub, err := natspub.New(nc,
			natspub.WithPrefix(cfg.NATS.SubjectPrefix),
			natspub.WithLogger(logger),
			natspub.WithMetrics(registry))
		if err != nil {
			return nil, closers, fmt.Errorf("create NATS publisher: %w", err)
		}
		pubs = append(pubs, pub)
	}

	if cfg.Outputs.File != nil {
		out, err := file.New(*cfg.Outputs.File, logger, registry)
		if err != nil {
			return nil, closers, fmt.Errorf("create event log: %w", err)
		}
		closers = append(closers, closer{"file", func(context.Context) error { return out.Close() }})
		pubs = append(pubs, out)
	}

	if cfg.Outputs.Webhook != nil {
		hook, err := httppost.New(*cfg.Outputs.Webhook, logger, registry)
		if err != nil {
			return nil, closers, fmt.Errorf("create webhook: %w", err)
		}
		pubs = append(pubs, hook)
	}
	return pubs, closers, nil
}

// originChecker allows same-origin requests and the configured origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

func remaining(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return time.Second
}
