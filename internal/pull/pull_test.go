package pull

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmonjo/dkrimport/internal/btrfs"
	"github.com/rmonjo/dkrimport/internal/extract"
	"github.com/rmonjo/dkrimport/internal/pulltest"
)

const (
	testName = "library/ubuntu"
	testTag  = "latest"
	layerA   = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	layerB   = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	registry = "registry.example.com"
)

// harness bundles the fakes a test drives a Pull with, plus the collected
// outcome.
type harness struct {
	t          *testing.T
	transport  *pulltest.Transport
	snap       *btrfs.Fake
	tar        *extract.Fake
	root       string
	percents   []int
	mu         sync.Mutex
	finishedN  int
	lastErr    *Error
	finishedAt *Pull
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:         t,
		transport: pulltest.NewTransport(),
		snap:      btrfs.NewFake(),
		tar:       &extract.Fake{},
		root:      t.TempDir(),
	}
}

func (h *harness) opts() Options {
	return Options{
		IndexURL:    "http://index.example.com",
		ImageRoot:   h.root,
		HTTPClient:  &http.Client{Transport: h.transport},
		Snapshotter: h.snap,
		Extractor:   h.tar,
		Notify: func(percent int) {
			h.mu.Lock()
			h.percents = append(h.percents, percent)
			h.mu.Unlock()
		},
	}
}

func (h *harness) onFinished(p *Pull, err *Error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finishedN++
	h.lastErr = err
	h.finishedAt = p
}

// registerHappyRoutes wires up a complete two-layer image behind the index
// and registry endpoints, tip-first on the wire as a real registry sends.
func (h *harness) registerHappyRoutes() {
	h.transport.Set(http.MethodGet, pulltest.PathFor("images", testName), pulltest.Response{
		Headers: http.Header{
			"X-Docker-Endpoints": []string{registry},
			"X-Docker-Token":     []string{"tok-123"},
		},
		Body: []byte(`[]`),
	})
	h.transport.Set(http.MethodGet, pulltest.PathFor("tags", testName, testTag), pulltest.Response{
		Body: pulltest.JSONString(layerB),
	})
	h.transport.Set(http.MethodGet, pulltest.PathFor("ancestry", layerB), pulltest.Response{
		Body: pulltest.JSONStringArray([]string{layerB, layerA}), // tip-first
	})
	h.transport.Set(http.MethodGet, pulltest.PathFor("json", layerB), pulltest.Response{
		Body: []byte(`{}`),
	})
	h.transport.Set(http.MethodGet, pulltest.PathFor("layer", layerA), pulltest.Response{
		Body: []byte("layer-a-tar-bytes"),
	})
	h.transport.Set(http.MethodGet, pulltest.PathFor("layer", layerB), pulltest.Response{
		Body: []byte("layer-b-tar-bytes"),
	})
}

func waitFinished(t *testing.T, p *Pull) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pull did not finish in time")
	}
}

func TestPullHappyPathTwoLayers(t *testing.T) {
	h := newHarness(t)
	h.registerHappyRoutes()

	p, err := New(h.opts(), h.onFinished)
	require.NoError(t, err)
	require.NoError(t, p.Start(testName, testTag, "", false))
	waitFinished(t, p)

	require.Equal(t, 1, h.finishedN)
	require.Nil(t, h.lastErr)

	pathA := filepath.Join(h.root, ".dkr-"+layerA)
	pathB := filepath.Join(h.root, ".dkr-"+layerB)
	assert.True(t, h.snap.Exists(pathA))
	assert.True(t, h.snap.Exists(pathB))
	assert.True(t, h.snap.IsReadOnly(pathA))
	assert.True(t, h.snap.IsReadOnly(pathB))

	assertForkedInto(t, h.tar.Forked, pathA, pathB)

	assertNoTempPaths(t, h.root)
	assertMonotone(t, h.percents)
	assert.Equal(t, 100, h.percents[len(h.percents)-1])
}

func TestPullReuseSkipsAlreadyMaterializedLayer(t *testing.T) {
	h := newHarness(t)
	h.registerHappyRoutes()

	pathA := filepath.Join(h.root, ".dkr-"+layerA)
	require.NoError(t, h.snap.Make(pathA))
	require.NoError(t, h.snap.SetReadOnly(pathA))

	p, err := New(h.opts(), h.onFinished)
	require.NoError(t, err)
	require.NoError(t, p.Start(testName, testTag, "", false))
	waitFinished(t, p)

	require.Equal(t, 1, h.finishedN)
	require.Nil(t, h.lastErr)

	assertForkedInto(t, h.tar.Forked, filepath.Join(h.root, ".dkr-"+layerB))

	for _, req := range h.transport.Requests() {
		assert.NotEqual(t, pulltest.PathFor("layer", layerA), req.URL.Path, "already-materialized layer must not be re-requested")
	}
}

func TestPullEmptyRegistries(t *testing.T) {
	h := newHarness(t)
	h.transport.Set(http.MethodGet, pulltest.PathFor("images", testName), pulltest.Response{
		Body: []byte(`[]`),
	})

	p, err := New(h.opts(), h.onFinished)
	require.NoError(t, err)
	require.NoError(t, p.Start(testName, testTag, "", false))
	waitFinished(t, p)

	require.Equal(t, 1, h.finishedN)
	require.NotNil(t, h.lastErr)
	assert.Equal(t, KindProtocol, h.lastErr.Kind)
}

func TestPullAncestryMismatch(t *testing.T) {
	h := newHarness(t)
	h.registerHappyRoutes()
	h.transport.Set(http.MethodGet, pulltest.PathFor("ancestry", layerB), pulltest.Response{
		Body: pulltest.JSONStringArray([]string{layerA}), // doesn't resolve to layerB
	})

	p, err := New(h.opts(), h.onFinished)
	require.NoError(t, err)
	require.NoError(t, p.Start(testName, testTag, "", false))
	waitFinished(t, p)

	require.Equal(t, 1, h.finishedN)
	require.NotNil(t, h.lastErr)
	assert.Equal(t, KindProtocol, h.lastErr.Kind)
	assertNoTempPaths(t, h.root)
}

func TestPullExtractorCrash(t *testing.T) {
	h := newHarness(t)
	h.registerHappyRoutes()
	h.tar.ExitErr = fakeErr("tar: unexpected EOF")

	p, err := New(h.opts(), h.onFinished)
	require.NoError(t, err)
	require.NoError(t, p.Start(testName, testTag, "", false))
	waitFinished(t, p)

	require.Equal(t, 1, h.finishedN)
	require.NotNil(t, h.lastErr)
	assert.Equal(t, KindExtractor, h.lastErr.Kind)
	assertNoTempPaths(t, h.root)

	pathA := filepath.Join(h.root, ".dkr-"+layerA)
	assert.False(t, h.snap.Exists(pathA), "layer must not be promoted when the extractor fails")
}

func TestPullAncestryTooLong(t *testing.T) {
	h := newHarness(t)
	h.registerHappyRoutes()

	ids := make([]string, 2049)
	for i := range ids {
		ids[i] = fmt.Sprintf("%064x", i)
	}
	h.transport.Set(http.MethodGet, pulltest.PathFor("ancestry", layerB), pulltest.Response{
		Body: pulltest.JSONStringArray(ids),
	})

	p, err := New(h.opts(), h.onFinished)
	require.NoError(t, err)
	require.NoError(t, p.Start(testName, testTag, "", false))
	waitFinished(t, p)

	require.Equal(t, 1, h.finishedN)
	require.NotNil(t, h.lastErr)
	assert.Equal(t, KindTooLarge, h.lastErr.Kind)
}

func TestPullBusyRejectsConcurrentStart(t *testing.T) {
	h := newHarness(t)
	h.registerHappyRoutes()

	p, err := New(h.opts(), h.onFinished)
	require.NoError(t, err)
	require.NoError(t, p.Start(testName, testTag, "", false))

	err2 := p.Start(testName, testTag, "", false)
	require.Error(t, err2)
	pullErr, ok := err2.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindBusy, pullErr.Kind)

	waitFinished(t, p)
}

func TestPullLocalAlias(t *testing.T) {
	h := newHarness(t)
	h.registerHappyRoutes()

	p, err := New(h.opts(), h.onFinished)
	require.NoError(t, err)
	require.NoError(t, p.Start(testName, testTag, "my-ubuntu", false))
	waitFinished(t, p)

	require.Nil(t, h.lastErr)
	assert.True(t, h.snap.Exists(filepath.Join(h.root, "my-ubuntu")))
}

func assertNoTempPaths(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp path: %s", e.Name())
	}
}

// assertForkedInto checks the extractor was forked once per wantFinal path,
// in order, each into a randomized ".tmp-<uuid>" sibling of that path (the
// promotion rename happens only after the extractor and body both finish).
func assertForkedInto(t *testing.T, forked []string, wantFinal ...string) {
	t.Helper()
	require.Len(t, forked, len(wantFinal))
	for i, final := range wantFinal {
		assert.Truef(t, strings.HasPrefix(forked[i], final+".tmp-"), "forked[%d] = %q, want a temp sibling of %q", i, forked[i], final)
	}
}

func assertMonotone(t *testing.T, percents []int) {
	t.Helper()
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqualf(t, percents[i], percents[i-1], "progress must never regress (index %d)", i)
	}
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
