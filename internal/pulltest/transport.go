// Package pulltest provides the fake HTTP transport used to drive the pull
// state machine end to end without a real registry. It stands in for the
// index and the per-repository registries the same way btrfs.Fake and
// extract.Fake stand in for the filesystem and the tar child process.
package pulltest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Response is one scripted reply. Setting Err makes the RoundTrip itself
// fail, simulating a transport error rather than an HTTP status.
type Response struct {
	Status     int
	Headers    http.Header
	Body       []byte
	Err        error
	BodyReader io.ReadCloser // takes precedence over Body when set
}

// Route matches a request by exact method+path (query strings ignored).
type Route struct {
	Method string
	Path   string
}

// Transport is an http.RoundTripper that serves canned Responses keyed by
// Route, recording every request it saw so tests can assert on what the
// engine actually issued (headers included, per spec.md's header-relay
// invariant).
type Transport struct {
	mu        sync.Mutex
	routes    map[Route]Response
	seen      []*http.Request
	fallback  *Response
}

// NewTransport returns an empty, ready-to-use Transport.
func NewTransport() *Transport {
	return &Transport{routes: make(map[Route]Response)}
}

// Set registers the response Transport returns for method+path.
func (t *Transport) Set(method, path string, resp Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[Route{Method: method, Path: path}] = resp
}

// SetFallback registers a response served for any unmatched route, useful
// for asserting a request is never issued (leave fallback unset so an
// unmatched request fails with a RoundTrip error instead of hanging).
func (t *Transport) SetFallback(resp Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallback = &resp
}

// Requests returns every request RoundTrip has served so far, in order.
func (t *Transport) Requests() []*http.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*http.Request, len(t.seen))
	copy(out, t.seen)
	return out
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.seen = append(t.seen, req.Clone(req.Context()))
	resp, ok := t.routes[Route{Method: req.Method, Path: req.URL.Path}]
	fallback := t.fallback
	t.mu.Unlock()

	if !ok {
		if fallback == nil {
			return nil, fmt.Errorf("pulltest: no route registered for %s %s", req.Method, req.URL.Path)
		}
		resp = *fallback
	}

	if resp.Err != nil {
		return nil, resp.Err
	}

	body := resp.BodyReader
	if body == nil {
		body = io.NopCloser(bytes.NewReader(resp.Body))
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	header := resp.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}

	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        header,
		Body:          body,
		ContentLength: int64(len(resp.Body)),
		Request:       req,
	}, nil
}

// PathFor builds the path component (no scheme/host) for one of the five
// v1 registry endpoints, mirroring internal/pull's URL builders so tests
// can register routes without duplicating the format strings.
func PathFor(kind string, args ...string) string {
	switch kind {
	case "images":
		return fmt.Sprintf("/v1/repositories/%s/images", args[0])
	case "tags":
		return fmt.Sprintf("/v1/repositories/%s/tags/%s", args[0], args[1])
	case "ancestry":
		return fmt.Sprintf("/v1/images/%s/ancestry", args[0])
	case "json":
		return fmt.Sprintf("/v1/images/%s/json", args[0])
	case "layer":
		return fmt.Sprintf("/v1/images/%s/layer", args[0])
	default:
		panic("pulltest: unknown kind " + kind)
	}
}

// JSONString encodes id as a bare JSON string, the tags-resolution wire
// shape.
func JSONString(id string) []byte {
	return []byte(`"` + id + `"`)
}

// JSONStringArray encodes ids as a JSON array, the ancestry wire shape
// (tip-first, matching what a real registry sends).
func JSONStringArray(ids []string) []byte {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + id + `"`
	}
	return []byte("[" + strings.Join(quoted, ",") + "]")
}
