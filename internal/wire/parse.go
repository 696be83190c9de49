// Package wire decodes the two JSON payload shapes the v1 registry protocol
// returns to the pull engine: a bare id string (tags resolution) and an
// ordered array of ids (ancestry). Both are validated strictly: no NUL
// bytes, no trailing data, no malformed ids.
package wire

import (
	"bytes"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rmonjo/dkrimport/internal/grammar"
)

// LayersMax bounds the length of an ancestry chain the engine will accept.
const LayersMax = 2048

// ErrProtocol is wrapped by every decode failure in this package.
var ErrProtocol = errors.New("malformed registry response")

// ErrTooLarge is wrapped instead of ErrProtocol when an ancestry chain
// exceeds LayersMax, so callers can classify it as a size-limit error
// (spec.md's EFBIG) rather than a generic protocol error (EBADMSG).
var ErrTooLarge = errors.New("ancestry too large")

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseID decodes a JSON document of shape `"hex-id"` — the tags-resolution
// response body — into a validated layer id.
func ParseID(payload []byte) (string, error) {
	if err := checkNoNUL(payload); err != nil {
		return "", err
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return "", errors.Wrap(ErrProtocol, "empty tag resolution payload")
	}

	iter := api.BorrowIterator(payload)
	defer api.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.StringValue {
		return "", errors.Wrap(ErrProtocol, "expected a JSON string")
	}
	id := iter.ReadString()
	if iter.Error != nil && iter.Error != io.EOF {
		return "", errors.Wrapf(ErrProtocol, "decoding tag resolution: %v", iter.Error)
	}
	if err := requireExhausted(iter); err != nil {
		return "", err
	}
	if err := grammar.LayerID(id); err != nil {
		return "", errors.Wrap(ErrProtocol, err.Error())
	}
	return id, nil
}

// ParseAncestry decodes a JSON array of ids — tip-first on the wire — into a
// validated, parent-first ordered layer chain. The wire order is reversed
// before returning, per the materialization order the layer driver expects.
func ParseAncestry(payload []byte) ([]string, error) {
	if err := checkNoNUL(payload); err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return nil, errors.Wrap(ErrProtocol, "empty ancestry payload")
	}

	iter := api.BorrowIterator(payload)
	defer api.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ArrayValue {
		return nil, errors.Wrap(ErrProtocol, "expected a JSON array")
	}

	seen := make(map[string]struct{})
	var ids []string
	for iter.ReadArray() {
		if len(ids) >= LayersMax {
			return nil, errors.Wrapf(ErrTooLarge, "ancestry exceeds %d layers", LayersMax)
		}
		if iter.WhatIsNext() != jsoniter.StringValue {
			return nil, errors.Wrap(ErrProtocol, "ancestry element is not a string")
		}
		id := iter.ReadString()
		if iter.Error != nil && iter.Error != io.EOF {
			return nil, errors.Wrapf(ErrProtocol, "decoding ancestry element: %v", iter.Error)
		}
		if err := grammar.LayerID(id); err != nil {
			return nil, errors.Wrap(ErrProtocol, err.Error())
		}
		if _, dup := seen[id]; dup {
			return nil, errors.Wrapf(ErrProtocol, "duplicate layer id %q in ancestry", id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return nil, errors.Wrapf(ErrProtocol, "decoding ancestry: %v", iter.Error)
	}
	if err := requireExhausted(iter); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.Wrap(ErrProtocol, "empty ancestry")
	}

	reverse(ids)
	return ids, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func checkNoNUL(payload []byte) error {
	if bytes.IndexByte(payload, 0) >= 0 {
		return errors.Wrap(ErrProtocol, "NUL byte in payload")
	}
	return nil
}

// requireExhausted reports an error if iter has anything left beyond the
// value already consumed. WhatIsNext peeks the next token without consuming
// it: at true end of input that peek drives the iterator past the buffer and
// leaves iter.Error set to io.EOF, which is the only case that counts as
// clean. Leftover bytes that don't even look like a JSON value (stray text
// after a closing quote or bracket) still report as InvalidValue but leave
// iter.Error nil, so both are checked.
func requireExhausted(iter *jsoniter.Iterator) error {
	next := iter.WhatIsNext()
	if next == jsoniter.InvalidValue && iter.Error == io.EOF {
		return nil
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return errors.Wrapf(ErrProtocol, "trailing data: %v", iter.Error)
	}
	return errors.Wrap(ErrProtocol, "trailing data after value")
}
