package parsing

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/sparql"
)

// DecodeOptions tune Decode.
type DecodeOptions struct {
	// ChunkSize is the number of rows between progress callbacks and
	// context checks. Zero disables both.
	ChunkSize int
	// MaxRows stops decoding after that many bindings. Zero means all.
	MaxRows int
	// OnProgress receives the running row count.
	OnProgress func(rowsParsed int)
}

// DecodeFunc decodes a SPARQL JSON results body.
type DecodeFunc func(ctx context.Context, data []byte, opts DecodeOptions) (*sparql.ResultSet, error)

// Decode streams a SPARQL JSON results document token by token so that
// bindings are appended as they are read.
func Decode(ctx context.Context, data []byte, opts DecodeOptions) (*sparql.ResultSet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	rs := &sparql.ResultSet{}

	if err := expectDelim(dec, '{'); err != nil {
		return nil, decodeError(err)
	}

	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, decodeError(err)
		}

		switch key {
		case "head":
			err = dec.Decode(&rs.Head)
		case "boolean":
			var b bool
			if err = dec.Decode(&b); err == nil {
				rs.Boolean = &b
			}
		case "results":
			rs.Results = &sparql.Results{Bindings: []sparql.Binding{}}
			var truncated bool
			truncated, err = decodeResults(ctx, dec, rs.Results, opts)
			if err == nil && truncated {
				return rs, nil
			}
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return nil, decodeError(err)
		}
	}

	if rs.Results == nil && rs.Boolean == nil {
		return nil, decodeError(fmt.Errorf("neither results nor boolean present"))
	}
	return rs, nil
}

// decodeResults reads the results object. It reports true when MaxRows cut
// decoding short.
func decodeResults(ctx context.Context, dec *json.Decoder, out *sparql.Results, opts DecodeOptions) (bool, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return false, err
	}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return false, err
		}
		if key != "bindings" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return false, err
			}
			continue
		}

		if err := expectDelim(dec, '['); err != nil {
			return false, err
		}
		for dec.More() {
			var b sparql.Binding
			if err := dec.Decode(&b); err != nil {
				return false, err
			}
			out.Bindings = append(out.Bindings, b)
			n := len(out.Bindings)

			if opts.ChunkSize > 0 && n%opts.ChunkSize == 0 {
				if err := ctx.Err(); err != nil {
					return false, err
				}
				if opts.OnProgress != nil {
					opts.OnProgress(n)
				}
			}
			if opts.MaxRows > 0 && n >= opts.MaxRows {
				return true, nil
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			return false, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return false, err
	}
	if opts.OnProgress != nil && opts.ChunkSize > 0 && len(out.Bindings)%opts.ChunkSize != 0 {
		opts.OnProgress(len(out.Bindings))
	}
	return false, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if stderrors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

func decodeError(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "Decoder", "Decode", "decode JSON results")
}
