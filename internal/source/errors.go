package source

import (
	"errors"
	"fmt"
)

// Reason classifies source failures for callers that need to report a
// typed outcome rather than a bare error string.
type Reason int

const (
	// ReasonUnreachable means the origin could not be opened at all.
	ReasonUnreachable Reason = iota
	// ReasonUnsupported means the descriptor token was not recognized.
	ReasonUnsupported
	// ReasonTimeout means no frame arrived within the allowed bound.
	ReasonTimeout
	// ReasonDecode means the origin produced malformed or empty data.
	ReasonDecode
)

func (r Reason) String() string {
	switch r {
	case ReasonUnreachable:
		return "unreachable"
	case ReasonUnsupported:
		return "unsupported"
	case ReasonTimeout:
		return "timeout"
	case ReasonDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is a typed source failure. It wraps an underlying cause when
// one exists so callers can still errors.Is into it.
type Error struct {
	Reason Reason
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("source: %s (%s)", e.Msg, e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("source: %v (%s)", e.Cause, e.Reason)
	}
	return fmt.Sprintf("source: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// ReasonOf extracts the failure reason from err, defaulting to
// unreachable for untyped errors.
func ReasonOf(err error) Reason {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ReasonUnreachable
}
