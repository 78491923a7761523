package sparql

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/c360/sparqlstream/errors"
)

// ErrorKind is the failure taxonomy of a query.
type ErrorKind string

// Error kinds.
const (
	ErrorNetwork        ErrorKind = "network"
	ErrorCORS           ErrorKind = "cors"
	ErrorTimeout        ErrorKind = "timeout"
	ErrorHTTP           ErrorKind = "http"
	ErrorProtocolSyntax ErrorKind = "protocolSyntax"
	ErrorUnknown        ErrorKind = "unknown"
)

// QueryError is the single error produced for a failed request.
type QueryError struct {
	Kind    ErrorKind `json:"kind"`
	Status  int       `json:"status,omitempty"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements error.
func (e *QueryError) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: %d %s", e.Kind, e.Status, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// ErrorClass lets the errors package classify query failures.
func (e *QueryError) ErrorClass() errors.ErrorClass {
	switch e.Kind {
	case ErrorTimeout, ErrorNetwork:
		return errors.ErrorTransient
	case ErrorProtocolSyntax, ErrorCORS:
		return errors.ErrorInvalid
	case ErrorHTTP:
		switch {
		case e.Status >= 500, e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
			return errors.ErrorTransient
		case e.Status >= 400:
			return errors.ErrorInvalid
		}
	}
	return errors.ErrorFatal
}

// AsQueryError extracts a QueryError from err's chain.
func AsQueryError(err error) (*QueryError, bool) {
	var qe *QueryError
	if stderrors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
