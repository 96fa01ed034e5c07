// Package source models video origins and the background worker that
// turns one origin into a stream of frames.
//
// A Descriptor identifies where video comes from (local capture device
// or remote stream URI). Sessions are the capability dispatch over the
// two backends: opening a descriptor yields a Session with a uniform
// ReadFrame/Close contract regardless of the origin kind.
package source

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the two video origin families.
type Kind int

const (
	// LocalDevice is a capture device addressed by index (webcam).
	LocalDevice Kind = iota
	// RemoteStream is a network source addressed by URI (RTSP/HTTP).
	RemoteStream
)

func (k Kind) String() string {
	switch k {
	case LocalDevice:
		return "webcam"
	case RemoteStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Descriptor identifies a video origin. Descriptors are immutable: a
// new one is constructed on every source change, never mutated.
type Descriptor struct {
	Kind   Kind
	Device int    // device index when Kind == LocalDevice
	URL    string // stream URI when Kind == RemoteStream
}

// DefaultDevice is the descriptor the system falls back to after
// sustained source failure: the default local webcam.
func DefaultDevice() Descriptor {
	return Descriptor{Kind: LocalDevice, Device: 0}
}

// Parse interprets a user-supplied source token using the settings
// contract: empty, "0" or "webcam" select the default device, a bare
// integer selects that device index, and an rtsp/http/https URI is a
// remote stream. Anything else is rejected as unsupported.
func Parse(token string) (Descriptor, error) {
	token = strings.TrimSpace(token)

	if token == "" || token == "0" || strings.EqualFold(token, "webcam") {
		return DefaultDevice(), nil
	}

	if strings.HasPrefix(token, "rtsp://") ||
		strings.HasPrefix(token, "http://") ||
		strings.HasPrefix(token, "https://") {
		return Descriptor{Kind: RemoteStream, URL: token}, nil
	}

	if idx, err := strconv.Atoi(token); err == nil && idx >= 0 {
		return Descriptor{Kind: LocalDevice, Device: idx}, nil
	}

	return Descriptor{}, &Error{
		Reason: ReasonUnsupported,
		Msg:    fmt.Sprintf("invalid source %q: use webcam (0) or a valid RTSP/HTTP URL", token),
	}
}

// Value returns the origin in the wire shape the settings API uses: an
// integer for device sources, the URI string for remote streams.
func (d Descriptor) Value() any {
	if d.Kind == LocalDevice {
		return d.Device
	}
	return d.URL
}

// String renders the origin for logs.
func (d Descriptor) String() string {
	if d.Kind == LocalDevice {
		return fmt.Sprintf("device:%d", d.Device)
	}
	return d.URL
}
