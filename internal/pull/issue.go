package pull

import (
	"context"
	"net/http"

	"github.com/rmonjo/dkrimport/internal/httpjob"
)

// issue is a RequestFactory helper shared by the four non-layer request
// kinds: it builds the request, binds the per-job cancellation context,
// records the job slot and launches the transport goroutine.
func (p *Pull) issue(kind requestKind, urlStr string, slot **job) {
	ctx, cancel := context.WithCancel(p.ctx)
	*slot = &job{kind: kind, cancel: cancel}

	req, err := buildRequest(urlStr, p.responseToken)
	if err != nil {
		p.abort(wrapErr(KindInvalid, err, "building %s request", kind))
		return
	}
	req = req.WithContext(ctx)

	p.log.WithField("kind", kind).Debug("issuing request")

	go p.httpc.Do(req, httpjob.Callbacks{
		OnHeader: func(h http.Header) error {
			return p.reportHeader(ctx, kind, h)
		},
		OnProgress: func(percent int) {
			p.reportProgress(kind, percent)
		},
		OnFinished: func(body []byte, err error) {
			p.reportFinished(kind, body, err)
		},
	})
}

func (p *Pull) issueImages() {
	p.issue(kindImages, imagesURL(p.indexURL, p.name), &p.imagesJob)
}

func (p *Pull) issueTags() {
	p.issue(kindTags, tagsURL(p.registry(), p.name, p.tag), &p.tagsJob)
}

func (p *Pull) issueAncestry() {
	p.issue(kindAncestry, ancestryURL(p.registry(), p.id), &p.ancestryJob)
}

func (p *Pull) issueJSON() {
	p.issue(kindJSON, jsonURL(p.registry(), p.id), &p.jsonJob)
}
