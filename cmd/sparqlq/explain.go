package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/c360/sparqlstream/config"
	"github.com/c360/sparqlstream/execution"
	"github.com/c360/sparqlstream/pagination"
	"github.com/c360/sparqlstream/parsing"
	"github.com/c360/sparqlstream/protocol"
	"github.com/c360/sparqlstream/sparql"
)

// explanation describes how a query would be sent and parsed.
type explanation struct {
	Kind        sparql.QueryKind `json:"kind"`
	Pretty      string           `json:"pretty"`
	Method      string           `json:"method"`
	URL         string           `json:"url,omitempty"`
	Accept      string           `json:"accept"`
	ContentType string           `json:"content_type,omitempty"`
	PageQuery   string           `json:"page_query,omitempty"`
	Strategy    parsing.Strategy `json:"strategy,omitempty"`
}

type explainOptions struct {
	File   string
	Format string
	Bytes  int64
	Rows   int
}

func newExplainCommand(root *rootOptions) *cobra.Command {
	opts := &explainOptions{}

	cmd := &cobra.Command{
		Use:   "explain [sparql]",
		Short: "Show how a query would be sent without sending it",
		Long: `Show the detected query kind, HTTP method, Accept header and the second
page query for a SPARQL query. With --bytes or --rows the parsing strategy
chosen for a response of that size is shown too. A missing dimension is
estimated from the other.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readQuery(cmd.InOrStdin(), opts.File, args)
			if err != nil {
				return err
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			ex, err := explain(cfg, opts, text)
			if err != nil {
				return err
			}
			return printExplanation(cmd.OutOrStdout(), root.Output, ex)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the query from a file")
	cmd.Flags().StringVar(&opts.Format, "format", "", "preferred result format")
	cmd.Flags().Int64Var(&opts.Bytes, "bytes", 0, "response size to choose a parsing strategy for")
	cmd.Flags().IntVar(&opts.Rows, "rows", 0, "row count to choose a parsing strategy for")
	return cmd
}

func explain(cfg *config.Config, opts *explainOptions, text string) (*explanation, error) {
	format := sparql.Format("")
	if opts.Format != "" {
		var err error
		if format, err = sparql.ParseFormat(opts.Format); err != nil {
			return nil, err
		}
	}

	vocab, err := cfg.Vocabulary.Registry()
	if err != nil {
		return nil, err
	}

	kind := sparql.DetectKind(text)
	ex := &explanation{
		Kind:   kind,
		Pretty: vocab.Pretty(text),
		Method: protocol.ChooseMethod(text, cfg.Client.Endpoint, kind),
		Accept: protocol.BuildAcceptHeader(kind, format),
	}
	if cfg.Client.Endpoint != "" && ex.Method == http.MethodGet {
		ex.URL = protocol.GetURL(cfg.Client.Endpoint, text)
	}
	if ex.Method == http.MethodPost {
		ex.ContentType = protocol.RequestContentType(kind)
	}
	if kind == sparql.KindSelect {
		ex.PageQuery = pagination.RewriteQuery(text, cfg.Pagination.PageSize, pagination.QueryOffset(text)+cfg.Pagination.PageSize)
	}
	if opts.Bytes > 0 || opts.Rows > 0 {
		bytes, rows := opts.Bytes, opts.Rows
		if rows == 0 {
			rows = int(bytes / execution.BytesPerRowEstimate)
		}
		if bytes == 0 {
			bytes = int64(rows) * execution.BytesPerRowEstimate
		}
		ex.Strategy = cfg.Parsing.Thresholds.Select(bytes, rows)
	}
	return ex, nil
}

func printExplanation(w io.Writer, mode string, ex *explanation) error {
	if mode == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ex)
	}
	fmt.Fprintf(w, "kind:     %s\n", ex.Kind)
	fmt.Fprintf(w, "query:    %s\n", ex.Pretty)
	fmt.Fprintf(w, "method:   %s\n", ex.Method)
	if ex.URL != "" {
		fmt.Fprintf(w, "url:      %s\n", ex.URL)
	}
	if ex.ContentType != "" {
		fmt.Fprintf(w, "content:  %s\n", ex.ContentType)
	}
	fmt.Fprintf(w, "accept:   %s\n", ex.Accept)
	if ex.PageQuery != "" {
		fmt.Fprintf(w, "page 2:   %s\n", ex.PageQuery)
	}
	if ex.Strategy != "" {
		fmt.Fprintf(w, "strategy: %s\n", ex.Strategy)
	}
	return nil
}
