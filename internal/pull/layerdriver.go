package pull

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rmonjo/dkrimport/internal/httpjob"
	"github.com/rmonjo/dkrimport/internal/layerid"
	"github.com/rmonjo/dkrimport/internal/whiteout"
)

// layerPath returns the well-known path a materialized layer lives at,
// per spec.md §3's naming invariant.
func (p *Pull) layerPath(id string) string {
	return filepath.Join(p.imageRoot, ".dkr-"+id)
}

// layerPullNext implements LayerDriver.pull_next (spec.md §4.2): skip over
// already-materialized layers, and issue a request for the first one that
// isn't. When the ancestry is exhausted, it falls through to the
// completion predicate instead of issuing anything.
func (p *Pull) layerPullNext() {
	for p.currentAncestry < len(p.ancestry) {
		id := p.ancestry[p.currentAncestry]
		path := p.layerPath(id)
		if p.snap.Exists(path) {
			p.log.WithField("layer", id).Debug("already materialized, skipping")
			p.currentAncestry++
			continue
		}
		p.finalPath = path
		p.issueLayer(id)
		return
	}
	p.checkCompletion()
}

func (p *Pull) issueLayer(id string) {
	ctx, cancel := context.WithCancel(p.ctx)
	p.layerJob = &job{kind: kindLayer, cancel: cancel}

	req, err := buildRequest(layerURL(p.registry(), id), p.responseToken)
	if err != nil {
		p.abort(wrapErr(KindInvalid, err, "building layer request"))
		return
	}
	req = req.WithContext(ctx)

	p.layerBodyDone = false
	p.extractorDone = false
	p.extractorErr = nil

	p.log.WithField("layer", id).Info("pulling layer")

	go p.httpc.Do(req, httpjob.Callbacks{
		OnHeader: func(h http.Header) error {
			return p.reportHeader(ctx, kindLayer, h)
		},
		OnOpenDisk: func() (io.Writer, error) {
			return p.requestDisk(ctx)
		},
		OnProgress: func(percent int) {
			p.reportProgress(kindLayer, percent)
		},
		OnFinished: func(body []byte, err error) {
			p.reportFinished(kindLayer, body, err)
		},
	})
}

// handleOpenDisk implements LayerDriver's on_open_disk callback: allocate a
// randomized temp sibling of final_path, snapshot the parent layer (or
// create a fresh subvolume for the base layer), fork the extractor rooted
// there, and hand its stdin back as the disk fd. Ordering matches spec.md
// §4.2: the snapshot exists before the extractor is started.
func (p *Pull) handleOpenDisk() (io.Writer, error) {
	tempPath := p.finalPath + ".tmp-" + uuid.NewString()

	if err := os.MkdirAll(filepath.Dir(tempPath), 0o700); err != nil {
		return nil, err
	}

	if p.currentAncestry > 0 {
		parent := p.layerPath(p.ancestry[p.currentAncestry-1])
		if err := p.snap.Snapshot(parent, tempPath, false); err != nil {
			return nil, err
		}
	} else if err := p.snap.Make(tempPath); err != nil {
		return nil, err
	}

	stdin, pid, done, err := p.tar.Fork(tempPath)
	if err != nil {
		_ = p.snap.RemoveAll(tempPath)
		return nil, err
	}

	p.tempPath = tempPath
	p.tarPID = pid
	p.layerStdin = stdin

	go func() {
		p.reportExtractorDone(<-done)
	}()

	return stdin, nil
}

// handleExtractorDone records the extractor's exit and, if the HTTP body
// has also finished streaming, finalizes the layer.
func (p *Pull) handleExtractorDone(err error) {
	if p.err != nil {
		return
	}
	p.extractorDone = true
	p.extractorErr = err
	p.maybeFinishLayer()
}

// maybeFinishLayer implements the back half of LayerDriver's on_finished
// (spec.md §4.2): once both the body stream and the extractor have ended,
// check the extractor's exit status, resolve whiteouts, mark the snapshot
// read-only, and atomically promote it — the sole commit point — before
// advancing to the next layer.
func (p *Pull) maybeFinishLayer() {
	if p.err != nil || !p.layerBodyDone || !p.extractorDone {
		return
	}

	if p.extractorErr != nil {
		p.abort(wrapErr(KindExtractor, p.extractorErr, "extractor exited with an error"))
		return
	}

	if err := whiteout.Resolve(p.tempPath); err != nil {
		p.abort(wrapErr(KindFilesystem, err, "resolving whiteouts"))
		return
	}

	if err := p.snap.SetReadOnly(p.tempPath); err != nil {
		p.abort(wrapErr(KindFilesystem, err, "marking layer read-only"))
		return
	}

	if p.opts.VerifyTarsum {
		if sum, err := layerid.Tarsum(p.tempPath); err != nil {
			p.log.WithError(err).Debug("tarsum computation failed")
		} else {
			p.log.WithField("tarsum", sum).Debug("computed layer tarsum")
		}
	}

	if err := p.snap.Rename(p.tempPath, p.finalPath); err != nil {
		p.abort(wrapErr(KindFilesystem, err, "promoting layer snapshot"))
		return
	}

	p.log.WithField("layer", p.ancestry[p.currentAncestry]).Info("layer materialized")

	p.tempPath = ""
	p.finalPath = ""
	p.tarPID = 0
	p.layerStdin = nil
	p.layerBodyDone = false
	p.extractorDone = false
	p.extractorErr = nil

	p.currentAncestry++
	p.layerPullNext()
}
