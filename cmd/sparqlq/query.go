package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/sparqlstream/execution"
	"github.com/c360/sparqlstream/pagination"
	"github.com/c360/sparqlstream/parsing"
	"github.com/c360/sparqlstream/protocol"
	"github.com/c360/sparqlstream/sparql"
)

type queryOptions struct {
	File     string
	Format   string
	Timeout  time.Duration
	Headers  map[string]string
	Quiet    bool
	MaxPages int
}

func newQueryCommand(root *rootOptions) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query [sparql]",
		Short: "Execute a query and print its results",
		Long: `Execute a SPARQL query or update and print the outcome.

The query is read from the argument, from --file, or from stdin when the
argument is "-". Progress is written to stderr unless --quiet is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readQuery(cmd.InOrStdin(), opts.File, args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runQuery(ctx, root, opts, text, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the query from a file")
	cmd.Flags().StringVar(&opts.Format, "format", "", "preferred result format (json|xml|csv|tsv|turtle|jsonld|ntriples|rdfxml)")
	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", 0, "request timeout (default from configuration)")
	cmd.Flags().StringToStringVarP(&opts.Headers, "header", "H", nil, "extra request header as name=value")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress progress output")
	cmd.Flags().IntVar(&opts.MaxPages, "pages", 1, "number of result pages to print, 0 for all")
	return cmd
}

func readQuery(stdin io.Reader, file string, args []string) (string, error) {
	var data []byte
	var err error
	switch {
	case file != "" && len(args) > 0:
		return "", fmt.Errorf("give the query as an argument or with --file, not both")
	case file != "":
		data, err = os.ReadFile(file)
	case len(args) == 1 && args[0] == "-":
		data, err = io.ReadAll(stdin)
	case len(args) == 1:
		data = []byte(args[0])
	default:
		return "", fmt.Errorf("no query given")
	}
	if err != nil {
		return "", fmt.Errorf("read query: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("query is empty")
	}
	return text, nil
}

func runQuery(ctx context.Context, root *rootOptions, opts *queryOptions, text string, stdout, stderr io.Writer) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Client.Endpoint == "" {
		return fmt.Errorf("no endpoint configured: use --endpoint or client.endpoint")
	}

	req := sparql.QueryRequest{
		Endpoint: cfg.Client.Endpoint,
		Query:    text,
		Timeout:  opts.Timeout,
		Headers:  opts.Headers,
	}
	if opts.Format != "" {
		if req.Format, err = sparql.ParseFormat(opts.Format); err != nil {
			return err
		}
	}

	vocab, err := cfg.Vocabulary.Registry()
	if err != nil {
		return err
	}
	logger := root.logger(stderr)
	client, err := protocol.NewClient(
		protocol.WithTimeout(cfg.Client.Timeout.Std()),
		protocol.WithChunkSize(cfg.Client.ChunkSize),
		protocol.WithProgressInterval(cfg.Client.ProgressInterval.Std()),
		protocol.WithUserAgent(cfg.Client.UserAgent),
		protocol.WithTLS(cfg.Client.TLS),
		protocol.WithLogger(logger))
	if err != nil {
		return err
	}

	coord, err := execution.NewCoordinator(client,
		execution.WithLogger(logger),
		execution.WithThresholds(cfg.Parsing.Thresholds),
		execution.WithPageSize(cfg.Pagination.PageSize),
		execution.WithParseChunkSize(cfg.Parsing.ChunkSize),
		execution.WithVocabulary(vocab),
		execution.WithParserOptions(
			parsing.WithWorkers(cfg.Parsing.Workers),
			parsing.WithQueueSize(cfg.Parsing.QueueSize)))
	if err != nil {
		return err
	}
	defer coord.Close()

	var sink execution.ResultSink
	if !opts.Quiet {
		sink = &progressSink{w: stderr}
	}

	h, err := coord.Submit(ctx, req, sink)
	if err != nil {
		return err
	}
	<-h.Done()
	resp, qe := h.Result()
	if qe != nil {
		return qe
	}

	r := &renderer{w: stdout, mode: root.Output, vocab: vocab}
	if err := r.response(resp); err != nil {
		return err
	}
	return printMorePages(ctx, coord, h, r, opts.MaxPages)
}

// printMorePages follows the paginator until maxPages pages have been
// printed in total, or every page when maxPages is zero.
func printMorePages(ctx context.Context, coord *execution.Coordinator, h *execution.Handle, r *renderer, maxPages int) error {
	resp, _ := h.Result()
	if !resp.IsTabular() || resp.Results.IsBoolean() {
		return nil
	}
	vars := resp.Results.Head.Vars
	for printed := 1; maxPages == 0 || printed < maxPages; printed++ {
		page := coord.LoadNextPage(ctx, h)
		if page.Err != nil {
			return page.Err
		}
		if page.Loaded > 0 {
			if err := r.rows(vars, page.Bindings); err != nil {
				return err
			}
		}
		if page.Outcome != pagination.OutcomeMore {
			return nil
		}
	}
	return nil
}

// progressSink prints one line per phase change to stderr.
type progressSink struct {
	w     io.Writer
	phase sparql.Phase
	last  time.Time
}

func (p *progressSink) OnProgress(ev sparql.ProgressEvent) {
	now := time.Now()
	if ev.Phase == p.phase && now.Sub(p.last) < time.Second {
		return
	}
	p.phase, p.last = ev.Phase, now

	switch {
	case ev.Download != nil && ev.Download.TotalBytes > 0:
		fmt.Fprintf(p.w, "%s: %s of %s\n", ev.Phase, humanBytes(ev.Download.BytesReceived), humanBytes(ev.Download.TotalBytes))
	case ev.Download != nil:
		fmt.Fprintf(p.w, "%s: %s\n", ev.Phase, humanBytes(ev.Download.BytesReceived))
	case ev.Parse != nil && ev.Parse.TotalRows > 0:
		fmt.Fprintf(p.w, "%s: %d/%d rows\n", ev.Phase, ev.Parse.RowsParsed, ev.Parse.TotalRows)
	default:
		fmt.Fprintf(p.w, "%s...\n", ev.Phase)
	}
}

func (p *progressSink) OnSuccess(resp *sparql.ProtocolResponse) {
	s := resp.Summarize()
	fmt.Fprintf(p.w, "done: HTTP %d, %s, %d rows in %dms\n", s.Status, humanBytes(int64(s.Bytes)), s.Rows, s.ExecutionMs)
}

func (p *progressSink) OnError(err *sparql.QueryError) {
	fmt.Fprintf(p.w, "failed: %s\n", err.Kind)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
