package sparql

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Term is one RDF term in a binding.
type Term struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty"`
}

// Binding is one result row keyed by variable name.
type Binding map[string]Term

// Head is the result set header.
type Head struct {
	Vars []string `json:"vars,omitempty"`
	Link []string `json:"link,omitempty"`
}

// Results holds the row bindings of a SELECT result.
type Results struct {
	Bindings []Binding `json:"bindings"`
}

// ResultSet mirrors the SPARQL 1.1 Query Results JSON format. ASK results
// carry Boolean and no Results.
type ResultSet struct {
	Head    Head     `json:"head"`
	Results *Results `json:"results,omitempty"`
	Boolean *bool    `json:"boolean,omitempty"`
}

// IsBoolean reports whether the result set answers an ASK query.
func (rs *ResultSet) IsBoolean() bool {
	return rs != nil && rs.Boolean != nil
}

// RowCount returns the number of bindings.
func (rs *ResultSet) RowCount() int {
	if rs == nil || rs.Results == nil {
		return 0
	}
	return len(rs.Results.Bindings)
}

// ColumnCount returns the number of projected variables.
func (rs *ResultSet) ColumnCount() int {
	if rs == nil {
		return 0
	}
	return len(rs.Head.Vars)
}

// AppendBindings adds rows to the result set, creating Results if needed.
func (rs *ResultSet) AppendBindings(rows []Binding) {
	if rs.Results == nil {
		rs.Results = &Results{}
	}
	rs.Results.Bindings = append(rs.Results.Bindings, rows...)
}

// ParseResultSet decodes a SPARQL JSON results document.
func ParseResultSet(data []byte) (*ResultSet, error) {
	var rs ResultSet
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("decode result set: %w", err)
	}
	if rs.Results == nil && rs.Boolean == nil {
		return nil, fmt.Errorf("decode result set: neither results nor boolean present")
	}
	return &rs, nil
}

// ProtocolResponse is the successful outcome of one exchange. RawBody is
// the body exactly as received. Results is set for JSON results, Text for
// every other serialisation.
type ProtocolResponse struct {
	RawBody       string            `json:"raw_body"`
	Results       *ResultSet        `json:"results,omitempty"`
	Text          string            `json:"text,omitempty"`
	ContentType   string            `json:"content_type"`
	Status        int               `json:"status"`
	Headers       map[string]string `json:"headers,omitempty"`
	ExecutionTime time.Duration     `json:"execution_time"`
}

// IsTabular reports whether the parsed body is a JSON result set.
func (r *ProtocolResponse) IsTabular() bool {
	return r != nil && r.Results != nil
}

// Summary is a compact description of a response used in events.
type Summary struct {
	Status      int      `json:"status"`
	ContentType string   `json:"content_type"`
	Bytes       int      `json:"bytes"`
	Rows        int      `json:"rows"`
	Vars        []string `json:"vars,omitempty"`
	Boolean     *bool    `json:"boolean,omitempty"`
	ExecutionMs int64    `json:"execution_ms"`
}

// Summarize returns a Summary of r.
func (r *ProtocolResponse) Summarize() Summary {
	s := Summary{
		Status:      r.Status,
		ContentType: r.ContentType,
		Bytes:       len(r.RawBody),
		ExecutionMs: r.ExecutionTime.Milliseconds(),
	}
	if r.Results != nil {
		s.Rows = r.Results.RowCount()
		s.Vars = r.Results.Head.Vars
		s.Boolean = r.Results.Boolean
	}
	return s
}
