package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/c360/sparqlstream/sparql"
	"github.com/c360/sparqlstream/vocabulary"
)

const maxCellWidth = 60

// renderer prints responses in the selected output mode.
type renderer struct {
	w     io.Writer
	mode  string
	vocab *vocabulary.Registry
}

func (r *renderer) response(resp *sparql.ProtocolResponse) error {
	switch {
	case r.mode == "raw":
		_, err := io.WriteString(r.w, resp.RawBody)
		if err == nil && !strings.HasSuffix(resp.RawBody, "\n") {
			_, err = io.WriteString(r.w, "\n")
		}
		return err
	case r.mode == "json":
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		if resp.IsTabular() {
			return enc.Encode(resp.Results)
		}
		return enc.Encode(resp.Summarize())
	case resp.IsTabular() && resp.Results.IsBoolean():
		_, err := fmt.Fprintln(r.w, *resp.Results.Boolean)
		return err
	case resp.IsTabular():
		var rows []sparql.Binding
		if resp.Results.Results != nil {
			rows = resp.Results.Results.Bindings
		}
		return r.table(resp.Results.Head.Vars, rows, true)
	case resp.Text != "":
		_, err := fmt.Fprintln(r.w, strings.TrimRight(resp.Text, "\n"))
		return err
	default:
		_, err := fmt.Fprintf(r.w, "HTTP %d %s\n", resp.Status, resp.ContentType)
		return err
	}
}

// rows prints a follow-up page without repeating the header.
func (r *renderer) rows(vars []string, rows []sparql.Binding) error {
	switch r.mode {
	case "json", "raw":
		enc := json.NewEncoder(r.w)
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	default:
		return r.table(vars, rows, false)
	}
}

func (r *renderer) table(vars []string, rows []sparql.Binding, header bool) error {
	if r.vocab == nil {
		r.vocab = vocabulary.NewRegistry()
	}
	tw := tabwriter.NewWriter(r.w, 0, 4, 2, ' ', 0)
	if header {
		fmt.Fprintln(tw, strings.Join(vars, "\t"))
		sep := make([]string, len(vars))
		for i, v := range vars {
			sep[i] = strings.Repeat("-", len(v))
		}
		fmt.Fprintln(tw, strings.Join(sep, "\t"))
	}
	cells := make([]string, len(vars))
	for _, row := range rows {
		for i, v := range vars {
			cells[i] = r.cell(row[v])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func (r *renderer) cell(t sparql.Term) string {
	var s string
	switch t.Type {
	case "":
		return ""
	case "uri":
		s = r.vocab.Compact(t.Value)
	case "bnode":
		s = "_:" + t.Value
	default:
		s = t.Value
		if t.Lang != "" {
			s += "@" + t.Lang
		}
	}
	s = strings.NewReplacer("\t", " ", "\n", " ").Replace(s)
	if len(s) > maxCellWidth {
		s = s[:maxCellWidth-3] + "..."
	}
	return s
}
