package rtmp

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/streamlayer/rtmpingest/internal/bitio"
)

// Kind classifies a protocol-level error so the connection driver can
// decide whether it is retryable (more bytes needed) or fatal.
type Kind uint8

const (
	// KindInsufficientData is the normal end-of-buffer outcome: retried
	// once more bytes arrive, never fatal.
	KindInsufficientData Kind = iota
	// KindBadProtocolData marks malformed chunk framing or AMF0; fatal.
	KindBadProtocolData
	// KindUnsupported marks a recognised-but-unimplemented feature; fatal
	// except for unknown top-level commands, which are logged and ignored
	// by the caller instead of being surfaced as this Kind.
	KindUnsupported
	// KindBadState marks a valid message arriving in a phase that
	// disallows it; fatal.
	KindBadState
	// KindInternalError marks collaborator rejection or a system-call
	// failure; fatal.
	KindInternalError
)

func (k Kind) String() string {
	switch k {
	case KindInsufficientData:
		return "InsufficientData"
	case KindBadProtocolData:
		return "BadProtocolData"
	case KindUnsupported:
		return "Unsupported"
	case KindBadState:
		return "BadState"
	case KindInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Error is the typed error surfaced by the codec and state-machine layers.
// It wraps an underlying cause (often via github.com/pkg/errors, for a
// stack trace at the point of first failure) with a Kind the connection
// driver switches on.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("rtmp: %s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("rtmp: %s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// NewError constructs an *Error of the given kind with a message.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// WrapError constructs an *Error of the given kind wrapping a cause.
func WrapError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, msg: msg, err: errors.WithStack(cause)}
}

// IsInsufficientData reports whether err is (or wraps) bitio's
// ErrInsufficientData or an *Error of KindInsufficientData — the signal
// that a parse attempt should be rolled back and retried once more bytes
// arrive, never treated as fatal.
func IsInsufficientData(err error) bool {
	if errors.Is(err, bitio.ErrInsufficientData) {
		return true
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind == KindInsufficientData
	}
	return false
}
