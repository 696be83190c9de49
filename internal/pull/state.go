package pull

import (
	"os"

	"github.com/pkg/errors"

	"github.com/rmonjo/dkrimport/internal/localcopy"
	"github.com/rmonjo/dkrimport/internal/wire"
)

// handleFinished implements the PullStateMachine's transition table
// (spec.md §4.1): each request kind's completion drives the session to the
// next state, or is folded into the completion predicate.
func (p *Pull) handleFinished(kind requestKind, body []byte, err error) {
	if p.err != nil {
		return
	}

	switch kind {
	case kindImages:
		p.imagesJob = nil
		if err != nil {
			p.abort(wrapErr(KindTransport, err, "images request"))
			return
		}
		if len(p.responseRegistries) == 0 {
			p.abort(newErr(KindProtocol, "no registry endpoints discovered"))
			return
		}
		p.log.Info("resolved registry endpoints")
		p.state = stateResolve
		p.issueTags()

	case kindTags:
		p.tagsJob = nil
		if err != nil {
			p.abort(wrapErr(KindTransport, err, "tags request"))
			return
		}
		id, perr := wire.ParseID(body)
		if perr != nil {
			p.abort(wrapErr(KindProtocol, perr, "parsing tag resolution"))
			return
		}
		p.id = id
		p.log = p.log.WithField("id", id)
		p.state = stateMetadata
		p.issueAncestry()
		p.issueJSON()

	case kindAncestry:
		p.ancestryJob = nil
		if err != nil {
			p.abort(wrapErr(KindTransport, err, "ancestry request"))
			return
		}
		ancestry, perr := wire.ParseAncestry(body)
		if perr != nil {
			if errors.Is(perr, wire.ErrTooLarge) {
				p.abort(wrapErr(KindTooLarge, perr, "ancestry"))
			} else {
				p.abort(wrapErr(KindProtocol, perr, "parsing ancestry"))
			}
			return
		}
		if ancestry[len(ancestry)-1] != p.id {
			p.abort(newErr(KindProtocol, "ancestry tail %q doesn't match resolved id %q", ancestry[len(ancestry)-1], p.id))
			return
		}
		p.ancestry = ancestry
		p.log.WithField("layers", len(ancestry)).Info("resolved ancestry")
		p.state = stateDownload
		p.layerPullNext()

	case kindJSON:
		p.jsonJob = nil
		if err != nil {
			p.abort(wrapErr(KindTransport, err, "json request"))
			return
		}
		p.checkCompletion()

	case kindLayer:
		p.layerJob = nil
		p.layerBodyDone = true
		if err != nil {
			p.abort(wrapErr(KindTransport, err, "layer body"))
			return
		}
		if p.layerStdin != nil {
			_ = p.layerStdin.Close()
		}
		p.maybeFinishLayer()
	}
}

// checkCompletion implements spec.md §4.1's completion predicate: only
// once every request kind is settled and no layer remains does the
// session advance to COPY (and then straight to done, since COPY's only
// action — the optional local alias — is synchronous).
func (p *Pull) checkCompletion() {
	if p.err != nil || p.state == stateDone {
		return
	}
	if p.imagesJob != nil || p.tagsJob != nil || p.ancestryJob != nil || p.jsonJob != nil || p.layerJob != nil {
		return
	}
	if p.ancestry == nil || p.currentAncestry < len(p.ancestry) {
		return
	}

	p.state = stateCopy
	p.prog.copy()
	p.log.Info("all layers materialized")

	if p.local != "" {
		tip := p.layerPath(p.ancestry[len(p.ancestry)-1])
		if err := localcopy.Materialize(p.snap, tip, p.imageRoot, p.local, p.forceLocal); err != nil {
			p.abort(wrapErr(KindFilesystem, err, "materializing local alias %q", p.local))
			return
		}
	}

	p.state = stateDone
}

// abort latches the first error observed, per spec.md §7's propagation
// policy: further completions become no-ops (checked at the top of
// handleFinished/handleHeader/checkCompletion) and the context is
// cancelled so in-flight jobs unwind.
func (p *Pull) abort(err *Error) {
	if p.err != nil {
		return
	}
	p.err = err
	p.state = stateDone
	p.log.WithError(err).Warn("pull aborted")
	p.cancel()
}

// teardown implements SessionLifecycle's cleanup (spec.md §5): kill and
// reap the extractor, remove the temp snapshot, and unstick any request
// goroutine still waiting on a reply.
func (p *Pull) teardown() {
	if p.tarPID > 0 {
		if proc, err := os.FindProcess(p.tarPID); err == nil {
			_ = proc.Kill()
		}
		p.tarPID = 0
	}
	if p.layerStdin != nil {
		_ = p.layerStdin.Close()
		p.layerStdin = nil
	}
	if p.tempPath != "" {
		_ = p.snap.RemoveAll(p.tempPath)
		p.tempPath = ""
	}
	p.finalPath = ""

	for _, j := range []*job{p.imagesJob, p.tagsJob, p.ancestryJob, p.jsonJob, p.layerJob} {
		if j != nil {
			j.cancel()
		}
	}
}

func (p *Pull) finish() {
	if p.err == nil {
		p.prog.done()
	}
	if p.onFinished != nil {
		p.onFinished(p, p.err)
	}
}
