package pull

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies the terminal result of a Pull, mirroring the error
// kinds the protocol distinguishes: configuration mistakes the caller can
// fix, transient busy states, resource exhaustion, malformed registry
// responses, size-limit violations, transport failures, filesystem
// failures and extractor failures.
type ErrorKind int

const (
	// KindNone marks a successful pull; Error is never constructed with it.
	KindNone ErrorKind = iota
	KindInvalid
	KindBusy
	KindNoMemory
	KindProtocol
	KindTooLarge
	KindTransport
	KindFilesystem
	KindExtractor
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalid:
		return "EINVAL"
	case KindBusy:
		return "EBUSY"
	case KindNoMemory:
		return "ENOMEM"
	case KindProtocol:
		return "EBADMSG"
	case KindTooLarge:
		return "EFBIG"
	case KindTransport:
		return "transport error"
	case KindFilesystem:
		return "filesystem error"
	case KindExtractor:
		return "extractor error"
	default:
		return "ok"
	}
}

// Error is the terminal error type a Pull surfaces to its caller. It wraps
// the original collaborator error (via github.com/pkg/errors) so a caller
// or log line can inspect both the classification and the root cause.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func wrapErr(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: errors.Wrapf(cause, format, args...)}
}

func newErr(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}
