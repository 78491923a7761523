package protocol

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/c360/sparqlstream/pkg/timestamp"
	"github.com/c360/sparqlstream/sparql"
)

// maxPreallocate caps the buffer sized up front from Content-Length. The
// header is the server's claim, so anything beyond it grows as bytes arrive.
const maxPreallocate = 8 << 20

// download reads the body chunk by chunk, checking ctx before every read.
// Progress is throttled to one event per progressInterval and a final event
// with the complete totals is always sent.
func (c *Client) download(ctx context.Context, resp *http.Response, obs Observer) ([]byte, error) {
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	start := c.now()

	emit := func(received int64) {
		elapsed := c.now().Sub(start).Seconds()
		var bps float64
		if elapsed > 0 {
			bps = float64(received) / elapsed
		}
		obs.OnProgress(sparql.ProgressEvent{
			Phase: sparql.PhaseDownloading,
			Download: &sparql.DownloadProgress{
				BytesReceived:  received,
				TotalBytes:     total,
				BytesPerSecond: bps,
			},
			Timestamp: timestamp.Now(),
		})
	}

	// Small bodies are consumed in one read.
	if total > 0 && total <= int64(c.chunkSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, readError(ctx, err)
		}
		emit(int64(len(body)))
		return body, nil
	}

	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(min(total, maxPreallocate)))
	}
	chunk := make([]byte, c.chunkSize)
	limiter := rate.NewLimiter(rate.Every(c.progressInterval), 1)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if limiter.AllowN(c.now(), 1) {
				emit(int64(buf.Len()))
			}
		}
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(ctx, err)
		}
	}

	emit(int64(buf.Len()))
	return buf.Bytes(), nil
}

// readError prefers the context error so an abort mid-body reads as a
// timeout rather than a network failure.
func readError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
