package pull

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// requestKind tags which of the five request slots a job occupies, per
// spec.md's design note preferring a tag per request over dispatch on
// pointer identity.
type requestKind int

const (
	kindImages requestKind = iota
	kindTags
	kindAncestry
	kindJSON
	kindLayer
)

func (k requestKind) String() string {
	switch k {
	case kindImages:
		return "images"
	case kindTags:
		return "tags"
	case kindAncestry:
		return "ancestry"
	case kindJSON:
		return "json"
	case kindLayer:
		return "layer"
	default:
		return "unknown"
	}
}

const (
	headerToken     = "X-Docker-Token"
	headerEndpoints = "X-Docker-Endpoints"
)

// buildRequest constructs the GET request for the URL base, attaching
// the Accept header and either the propagated auth token or a bootstrap
// token request, per spec.md §4.1's header-propagation rule.
func buildRequest(base, token string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, base, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building request for %s", base)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	} else {
		req.Header.Set(headerToken, "true")
	}
	return req, nil
}

func imagesURL(indexURL, name string) string {
	return fmt.Sprintf("%s/v1/repositories/%s/images", indexURL, name)
}

func tagsURL(registry, name, tag string) string {
	return fmt.Sprintf("https://%s/v1/repositories/%s/tags/%s", registry, name, tag)
}

func ancestryURL(registry, id string) string {
	return fmt.Sprintf("https://%s/v1/images/%s/ancestry", registry, id)
}

func jsonURL(registry, id string) string {
	return fmt.Sprintf("https://%s/v1/images/%s/json", registry, id)
}

func layerURL(registry, id string) string {
	return fmt.Sprintf("https://%s/v1/images/%s/layer", registry, id)
}

// applyHeaders implements the HeaderSink: it inspects one response's
// headers and reports the (possibly unchanged) token and registries it
// finds, without mutating shared state itself — the caller (running on the
// pull's owning goroutine) applies the result.
func applyHeaders(h http.Header) (token string, registries []string, err error) {
	token = h.Get(headerToken)

	if raw := h.Get(headerEndpoints); raw != "" {
		for _, ep := range strings.Split(raw, ",") {
			ep = strings.TrimSpace(ep)
			if !validHostname(ep) {
				return "", nil, errors.Errorf("invalid registry hostname %q", ep)
			}
			registries = append(registries, ep)
		}
	}
	return token, registries, nil
}

func validHostname(h string) bool {
	if h == "" || len(h) > 255 {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for _, r := range label {
			if !(r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return false
			}
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
	}
	return true
}
