// Package grammar validates the identifiers the pull engine accepts from a
// caller or a registry response: repository names, tags, local aliases and
// v1 layer ids.
package grammar

import (
	"regexp"

	"github.com/distribution/reference"
	"github.com/pkg/errors"
)

// DefaultTag is used whenever a caller doesn't specify one.
const DefaultTag = "latest"

var (
	// localRegexp matches the machine-name grammar for a local image alias:
	// a leading alphanumeric followed by alphanumerics, dots, dashes and
	// underscores.
	localRegexp = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

	// layerIDRegexp matches a v1 content-address: 64 lowercase hex chars.
	layerIDRegexp = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

// ErrInvalid is wrapped by every validation failure in this package so
// callers can match on it with errors.Is.
var ErrInvalid = errors.New("invalid identifier")

// Name validates a repository name against the registry name grammar
// (a dotted/slashed repository path) and returns it unchanged.
func Name(name string) (string, error) {
	if name == "" {
		return "", errors.Wrap(ErrInvalid, "empty repository name")
	}
	named, err := reference.ParseNormalizedNamed(name)
	if err != nil {
		return "", errors.Wrapf(ErrInvalid, "repository name %q: %v", name, err)
	}
	if _, ok := named.(reference.Tagged); ok {
		return "", errors.Wrapf(ErrInvalid, "repository name %q must not carry a tag", name)
	}
	if _, ok := named.(reference.Digested); ok {
		return "", errors.Wrapf(ErrInvalid, "repository name %q must not carry a digest", name)
	}
	return name, nil
}

// Tag validates a tag, defaulting to DefaultTag when empty.
func Tag(tag string) (string, error) {
	if tag == "" {
		return DefaultTag, nil
	}
	if reference.TagRegexp.FindString(tag) != tag {
		return "", errors.Wrapf(ErrInvalid, "tag %q doesn't match the tag grammar", tag)
	}
	return tag, nil
}

// Local validates a local image alias name.
func Local(local string) (string, error) {
	if local == "" {
		return "", nil
	}
	if !localRegexp.MatchString(local) {
		return "", errors.Wrapf(ErrInvalid, "local alias %q is not a valid machine name", local)
	}
	return local, nil
}

// LayerID validates a hex content-address as used by the v1 protocol.
func LayerID(id string) error {
	if !layerIDRegexp.MatchString(id) {
		return errors.Wrapf(ErrInvalid, "layer id %q doesn't match the content-address grammar", id)
	}
	return nil
}
