// Package main is sparqlq, a command line client that runs SPARQL queries
// through the same execution pipeline as the gateway.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/c360/sparqlstream/config"
)

const appName = "sparqlq"

// Version is set at build time.
var Version = "0.1.0"

// outputModes are the accepted values of --output.
var outputModes = []string{"table", "json", "raw"}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	ConfigPath string
	Endpoint   string
	Output     string
	Verbose    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     appName,
		Short:   "Run SPARQL queries against a protocol endpoint",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(outputModes, opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, outputModes)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"),
		"configuration file (JSON or YAML)")
	cmd.PersistentFlags().StringVarP(&opts.Endpoint, "endpoint", "e", "", "SPARQL endpoint URL")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "table", "output mode (table|json|raw)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log pipeline activity to stderr")

	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newExplainCommand(opts))
	return cmd
}

// loadConfig reads the configuration and applies the --endpoint override.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.Endpoint != "" {
		cfg.Client.Endpoint = o.Endpoint
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logger writes text logs to w when verbose, and discards them otherwise.
func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	if !o.Verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With("service", appName)
}
