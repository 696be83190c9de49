// Package pull implements the CORE of the image pull engine: the session
// object (Pull) and the state machine that drives it through
// SEARCH -> RESOLVE -> METADATA -> DOWNLOAD -> COPY against a v1-style
// registry, materializing each layer as a copy-on-write snapshot.
package pull

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rmonjo/dkrimport/internal/btrfs"
	"github.com/rmonjo/dkrimport/internal/extract"
	"github.com/rmonjo/dkrimport/internal/grammar"
	"github.com/rmonjo/dkrimport/internal/httpjob"
)

// state is the state machine's current phase, used both to gate
// transitions and to drive progress accounting.
type state int

const (
	stateIdle state = iota
	stateSearch
	stateResolve
	stateMetadata
	stateDownload
	stateCopy
	stateDone
)

// Options configures a Pull. HTTPClient, Snapshotter and Extractor default
// to production implementations when left nil, so tests can substitute
// fakes without touching the state machine.
type Options struct {
	IndexURL  string
	ImageRoot string

	HTTPClient  *http.Client
	Snapshotter btrfs.Snapshotter
	Extractor   extract.Extractor

	// VerifyTarsum, if set, computes and logs a tarsum for every
	// materialized layer (see internal/layerid); it never affects the
	// state machine's outcome. Resolves spec.md §9's digest-verification
	// Open Question.
	VerifyTarsum bool

	// Notify receives the integer 0-100 progress percentage; may be nil.
	Notify func(percent int)

	Logger *logrus.Logger
}

// OnFinished is invoked exactly once per successful Start call, per
// spec.md §6.
type OnFinished func(p *Pull, err *Error)

// job records the at-most-one in-flight request of a given kind.
type job struct {
	kind   requestKind
	cancel context.CancelFunc
}

// Pull is one image-pull session. All fields below the job slots are
// mutated exclusively by the goroutine running (*Pull).run, per spec.md
// §5's single-threaded-cooperative model realized with a channel instead
// of a native event loop; no other goroutine touches them directly.
type Pull struct {
	opts      Options
	indexURL  string
	imageRoot string

	httpc *httpjob.Client
	snap  btrfs.Snapshotter
	tar   extract.Extractor
	log   *logrus.Entry

	onFinished OnFinished

	ctx    context.Context
	cancel context.CancelFunc
	events chan any
	done   chan struct{}

	mu      sync.Mutex
	started bool

	state state
	prog  *progressReporter
	err   *Error

	name, tag, id      string
	local              string
	forceLocal         bool
	responseToken      string
	responseRegistries []string

	ancestry        []string
	currentAncestry int

	imagesJob, tagsJob, ancestryJob, jsonJob, layerJob *job

	tempPath, finalPath string
	tarPID              int
	layerStdin          io.WriteCloser
	extractorErrCh      <-chan error
	layerBodyDone       bool
	extractorDone       bool
	extractorErr        error
}

// New validates indexURL and allocates an idle Pull. It performs no I/O.
func New(opts Options, onFinished OnFinished) (*Pull, error) {
	u, err := url.Parse(opts.IndexURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &Error{Kind: KindInvalid, Cause: fmt.Errorf("invalid index URL %q", opts.IndexURL)}
	}
	if opts.ImageRoot == "" {
		return nil, &Error{Kind: KindInvalid, Cause: fmt.Errorf("image root must not be empty")}
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Snapshotter == nil {
		snap, err := btrfs.New()
		if err != nil {
			return nil, &Error{Kind: KindFilesystem, Cause: err}
		}
		opts.Snapshotter = snap
	}
	if opts.Extractor == nil {
		opts.Extractor = &extract.Tar{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pull{
		opts:       opts,
		indexURL:   strings.TrimSuffix(opts.IndexURL, "/"),
		imageRoot:  opts.ImageRoot,
		httpc:      &httpjob.Client{HTTP: opts.HTTPClient},
		snap:       opts.Snapshotter,
		tar:        opts.Extractor,
		onFinished: onFinished,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan any, 16),
		done:       make(chan struct{}),
		log:        opts.Logger.WithField("component", "pull"),
	}
	return p, nil
}

// Start validates the requested name/tag/local alias and, if no pull is
// already running, kicks off the state machine at SEARCH. A Pull runs at
// most once: every Start after one that was accepted returns EBUSY, also
// once that pull has finished.
func (p *Pull) Start(name, tag, local string, forceLocal bool) error {
	validName, err := grammar.Name(name)
	if err != nil {
		return &Error{Kind: KindInvalid, Cause: err}
	}
	validTag, err := grammar.Tag(tag)
	if err != nil {
		return &Error{Kind: KindInvalid, Cause: err}
	}
	validLocal, err := grammar.Local(local)
	if err != nil {
		return &Error{Kind: KindInvalid, Cause: err}
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return &Error{Kind: KindBusy, Cause: fmt.Errorf("pull already running")}
	}
	p.started = true
	p.mu.Unlock()

	p.name = validName
	p.tag = validTag
	p.local = validLocal
	p.forceLocal = forceLocal
	p.log = p.log.WithFields(logrus.Fields{"name": p.name, "tag": p.tag})
	p.prog = newProgressReporter(p.opts.Notify)

	go p.run()
	return nil
}

// Cancel terminates an in-flight pull. It is safe to call more than once
// and safe to call after the pull has already finished.
func (p *Pull) Cancel() {
	p.cancel()
}

// Wait blocks until the pull's terminal callback has fired.
func (p *Pull) Wait() {
	<-p.done
}

// Done returns a channel closed when the pull finishes, for callers that
// want to select on it alongside other events.
func (p *Pull) Done() <-chan struct{} {
	return p.done
}

