package pull

import (
	"context"
	"io"
	"net/http"
)

// The event types below are the only things that cross from a request's
// own goroutine back into the goroutine running (*Pull).run — the Go
// stand-in for spec.md's single-threaded event loop. evHeader and
// evOpenDisk carry a reply channel because the HTTP engine needs an answer
// (a possible error, or a writer) before it can proceed; the rest are
// fire-and-forget notifications.

type evHeader struct {
	kind   requestKind
	header http.Header
	reply  chan error
}

type openDiskResult struct {
	w   io.Writer
	err error
}

type evOpenDisk struct {
	reply chan openDiskResult
}

type evProgress struct {
	kind    requestKind
	percent int
}

type evFinished struct {
	kind requestKind
	body []byte
	err  error
}

type evExtractorDone struct {
	err error
}

func (p *Pull) reportHeader(ctx context.Context, kind requestKind, h http.Header) error {
	reply := make(chan error, 1)
	select {
	case p.events <- evHeader{kind: kind, header: h, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pull) requestDisk(ctx context.Context) (io.Writer, error) {
	reply := make(chan openDiskResult, 1)
	select {
	case p.events <- evOpenDisk{reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.w, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pull) reportProgress(kind requestKind, percent int) {
	select {
	case p.events <- evProgress{kind: kind, percent: percent}:
	default:
		// progress is best-effort; drop rather than block a hot loop
	}
}

func (p *Pull) reportFinished(kind requestKind, body []byte, err error) {
	select {
	case p.events <- evFinished{kind: kind, body: body, err: err}:
	case <-p.ctx.Done():
	}
}

func (p *Pull) reportExtractorDone(err error) {
	select {
	case p.events <- evExtractorDone{err: err}:
	case <-p.ctx.Done():
	}
}

// run is the goroutine that owns every mutable Pull field from here on.
// Kicking off SEARCH here, rather than in Start, keeps every write to
// session state on this one goroutine.
func (p *Pull) run() {
	defer close(p.done)

	p.state = stateSearch
	p.issueImages()

	for {
		select {
		case <-p.ctx.Done():
			p.abort(&Error{Kind: KindTransport, Cause: p.ctx.Err()})
			p.teardown()
			p.finish()
			return
		case ev := <-p.events:
			p.dispatch(ev)
			if p.state == stateDone {
				p.teardown()
				p.finish()
				return
			}
		}
	}
}

func (p *Pull) dispatch(ev any) {
	switch e := ev.(type) {
	case evHeader:
		e.reply <- p.handleHeader(e.kind, e.header)
	case evOpenDisk:
		w, err := p.handleOpenDisk()
		e.reply <- openDiskResult{w: w, err: err}
		if err != nil {
			p.abort(&Error{Kind: KindFilesystem, Cause: err})
		}
	case evProgress:
		p.handleProgress(e.kind, e.percent)
	case evFinished:
		p.handleFinished(e.kind, e.body, e.err)
	case evExtractorDone:
		p.handleExtractorDone(e.err)
	}
}

// handleHeader implements the HeaderSink (spec.md §4.4): it updates the
// session's token/registries from any response and is a no-op once the
// pull has already latched a terminal error.
func (p *Pull) handleHeader(kind requestKind, h http.Header) error {
	if p.err != nil {
		return p.err
	}
	token, registries, err := applyHeaders(h)
	if err != nil {
		p.abort(&Error{Kind: KindProtocol, Cause: err})
		return p.err
	}
	if token != "" {
		p.responseToken = token
	}
	if len(registries) > 0 {
		p.responseRegistries = registries
	}
	return nil
}

func (p *Pull) handleProgress(kind requestKind, percent int) {
	if p.err != nil {
		return
	}
	switch p.state {
	case stateSearch:
		p.prog.search(percent)
	case stateResolve:
		p.prog.resolve(percent)
	case stateMetadata:
		if kind == kindAncestry {
			p.prog.metadata(percent, 0)
		} else {
			p.prog.metadata(0, percent)
		}
	case stateDownload:
		if kind == kindLayer {
			p.prog.download(p.currentAncestry, len(p.ancestry), percent)
		}
	}
}

func (p *Pull) registry() string {
	return p.responseRegistries[0]
}
