package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  Descriptor
	}{
		{"empty selects default device", "", DefaultDevice()},
		{"zero selects default device", "0", DefaultDevice()},
		{"webcam token", "webcam", DefaultDevice()},
		{"webcam token case-insensitive", "Webcam", DefaultDevice()},
		{"device index", "2", Descriptor{Kind: LocalDevice, Device: 2}},
		{"rtsp url", "rtsp://cam.local/stream", Descriptor{Kind: RemoteStream, URL: "rtsp://cam.local/stream"}},
		{"http url", "http://cam.local/mjpeg", Descriptor{Kind: RemoteStream, URL: "http://cam.local/mjpeg"}},
		{"https url", "https://cam.local/mjpeg", Descriptor{Kind: RemoteStream, URL: "https://cam.local/mjpeg"}},
		{"whitespace trimmed", "  rtsp://cam.local/s  ", Descriptor{Kind: RemoteStream, URL: "rtsp://cam.local/s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, token := range []string{"not-a-url", "ftp://nope", "-3", "rtsp:/missing-slash"} {
		_, err := Parse(token)
		require.Error(t, err, "token %q", token)

		var se *Error
		require.True(t, errors.As(err, &se))
		assert.Equal(t, ReasonUnsupported, se.Reason)
	}
}

func TestDescriptorValue(t *testing.T) {
	assert.Equal(t, 0, DefaultDevice().Value())
	assert.Equal(t, 3, Descriptor{Kind: LocalDevice, Device: 3}.Value())
	assert.Equal(t, "rtsp://x/y", Descriptor{Kind: RemoteStream, URL: "rtsp://x/y"}.Value())
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, ReasonTimeout, ReasonOf(&Error{Reason: ReasonTimeout}))
	assert.Equal(t, ReasonUnreachable, ReasonOf(errors.New("plain")))
}
