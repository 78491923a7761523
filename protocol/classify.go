package protocol

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/c360/sparqlstream/sparql"
)

const maxErrorDetails = 1024

var syntaxMarkers = []string{"syntax", "parse", "malformed"}

var corsMarkers = []string{"cross-origin", "cors", "blocked"}

const corsRemediation = "The endpoint refused the cross-origin request. Enable CORS on the " +
	"endpoint (Access-Control-Allow-Origin) or route the query through a proxy."

// statusMessages maps the statuses with a dedicated message.
var statusMessages = map[int]string{
	http.StatusBadRequest:          "Invalid query: the endpoint rejected the request",
	http.StatusUnauthorized:        "Unauthorized: the endpoint requires authentication",
	http.StatusForbidden:           "Forbidden: access to the endpoint was denied",
	http.StatusNotFound:            "Not found: check the endpoint URL",
	http.StatusNotAcceptable:       "The endpoint cannot produce the requested result format",
	http.StatusRequestTimeout:      "The endpoint timed out while executing the query",
	http.StatusInternalServerError: "The endpoint reported a server error",
	http.StatusBadGateway:          "The endpoint is unavailable (bad gateway)",
	http.StatusServiceUnavailable:  "The endpoint is unavailable",
	http.StatusGatewayTimeout:      "The endpoint is unavailable (gateway timeout)",
}

func hasMarker(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ClassifyStatus turns a non-2xx response into a QueryError. 400 is always
// a syntax failure. A 500 or an unlisted status whose body mentions a
// syntax, parse or malformed problem is upgraded to protocolSyntax.
func ClassifyStatus(status int, body string) *sparql.QueryError {
	qe := &sparql.QueryError{
		Kind:    sparql.ErrorHTTP,
		Status:  status,
		Details: truncate(strings.TrimSpace(body), maxErrorDetails),
	}

	msg, listed := statusMessages[status]
	if !listed {
		msg = fmt.Sprintf("HTTP error %d %s", status, http.StatusText(status))
	}
	qe.Message = msg

	generic := !listed || status == http.StatusInternalServerError
	switch {
	case status == http.StatusBadRequest:
		qe.Kind = sparql.ErrorProtocolSyntax
	case generic && hasMarker(body, syntaxMarkers):
		qe.Kind = sparql.ErrorProtocolSyntax
		qe.Message = "Query syntax error reported by the endpoint"
	}
	return qe
}

// ClassifyTransportError maps a failure that produced no HTTP response.
// A QueryError passes through unchanged and nil stays nil.
func ClassifyTransportError(err error) *sparql.QueryError {
	if err == nil {
		return nil
	}
	if qe, ok := sparql.AsQueryError(err); ok {
		return qe
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return &sparql.QueryError{Kind: sparql.ErrorTimeout, Message: "Query timed out", Cause: err}
	case stderrors.Is(err, context.Canceled):
		return &sparql.QueryError{Kind: sparql.ErrorTimeout, Message: "Query was cancelled", Cause: err}
	}

	// *url.Error and *net.OpError both satisfy net.Error.
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if hasMarker(err.Error(), corsMarkers) {
			return &sparql.QueryError{
				Kind:    sparql.ErrorCORS,
				Message: "Request blocked by cross-origin policy",
				Details: corsRemediation,
				Cause:   err,
			}
		}
		if netErr.Timeout() {
			return &sparql.QueryError{Kind: sparql.ErrorTimeout, Message: "Query timed out", Cause: err}
		}
		return &sparql.QueryError{
			Kind:    sparql.ErrorNetwork,
			Message: "Could not reach the endpoint",
			Details: "Check the endpoint URL and your network connection.",
			Cause:   err,
		}
	}

	return &sparql.QueryError{Kind: sparql.ErrorUnknown, Message: "Unexpected error", Cause: err}
}
