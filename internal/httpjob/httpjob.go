// Package httpjob is the thin HTTP transport adapter spec.md leaves as an
// external collaborator: it issues one GET, delivers headers, streams (or
// buffers) the body, reports progress and calls a finished callback exactly
// once. Each call to Do is meant to run on its own goroutine; the callbacks
// it invokes are the only thing that crosses back into the pull engine's
// single owning goroutine, via whatever synchronization the caller's
// callbacks implement.
package httpjob

import (
	"io"
	"net/http"
)

const readChunk = 32 * 1024

// Callbacks mirrors spec.md §6's HTTP engine contract.
type Callbacks struct {
	// OnHeader is invoked once, after the response headers arrive and
	// before any body is read. Returning an error aborts the request
	// before OnOpenDisk/body streaming and is reported via OnFinished.
	OnHeader func(http.Header) error

	// OnOpenDisk, if set, is invoked once after OnHeader succeeds to
	// acquire a writer for the body; the body is streamed into it instead
	// of being buffered. Used only by layer requests.
	OnOpenDisk func() (io.Writer, error)

	// OnProgress is invoked as the body streams, with an integer percent
	// (0-100) when Content-Length is known; never invoked otherwise.
	OnProgress func(percent int)

	// OnFinished is invoked exactly once. body is the buffered response
	// body when OnOpenDisk was nil, or nil when the body was streamed.
	OnFinished func(body []byte, err error)
}

// Client issues GETs against an *http.Client.
type Client struct {
	HTTP *http.Client
}

// Do issues req and drives cb to completion. It blocks until the request
// is fully handled, so callers run it on its own goroutine.
func (c *Client) Do(req *http.Request, cb Callbacks) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		cb.OnFinished(nil, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		cb.OnFinished(nil, &StatusError{Code: resp.StatusCode, Status: resp.Status})
		return
	}

	if cb.OnHeader != nil {
		if err := cb.OnHeader(resp.Header); err != nil {
			cb.OnFinished(nil, err)
			return
		}
	}

	if cb.OnOpenDisk == nil {
		body, err := io.ReadAll(resp.Body)
		cb.OnFinished(body, err)
		return
	}

	w, err := cb.OnOpenDisk()
	if err != nil {
		cb.OnFinished(nil, err)
		return
	}

	total := resp.ContentLength
	var written int64
	buf := make([]byte, readChunk)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				cb.OnFinished(nil, werr)
				return
			}
			written += int64(n)
			if cb.OnProgress != nil && total > 0 {
				cb.OnProgress(int(written * 100 / total))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			cb.OnFinished(nil, rerr)
			return
		}
	}
	cb.OnFinished(nil, nil)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string { return "registry: " + e.Status }
