package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration. Empty values leave the
// configuration file untouched.
type CLIConfig struct {
	ConfigPath      string
	Addr            string
	Endpoint        string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config", getEnv("SPARQLSTREAM_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: SPARQLSTREAM_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", getEnv("SPARQLSTREAM_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: SPARQLSTREAM_CONFIG)")
	fs.StringVar(&cfg.Addr, "addr", "",
		"Gateway listen address (env: SPARQLSTREAM_GATEWAY_ADDR)")
	fs.StringVar(&cfg.Endpoint, "endpoint", "",
		"Default SPARQL endpoint (env: SPARQLSTREAM_ENDPOINT)")
	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: SPARQLSTREAM_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (env: SPARQLSTREAM_LOG_FORMAT)")
	fs.BoolVar(&cfg.Debug, "debug", getEnvBool("SPARQLSTREAM_DEBUG", false),
		"Enable debug logging (env: SPARQLSTREAM_DEBUG)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", getEnvDuration("SPARQLSTREAM_SHUTDOWN_TIMEOUT", 0),
		"Graceful shutdown timeout (env: SPARQLSTREAM_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs.Output(), fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowHelp {
		fs.Usage()
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - SPARQL query gateway with streamed progress

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Serve with a default endpoint
  %[1]s --endpoint=https://query.wikidata.org/sparql

  # Run with a config file and text logs
  %[1]s --config=/etc/sparqlstream/config.yaml --log-format=text

  # Configure through the environment
  export SPARQLSTREAM_ENDPOINT=https://dbpedia.org/sparql
  export SPARQLSTREAM_NATS_ENABLED=true
  %[1]s

  # Validate configuration only
  %[1]s --config=config.yaml --validate

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
