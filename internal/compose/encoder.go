package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Encoder serializes composited frames to JPEG for the multipart
// stream.
type Encoder struct {
	quality int
}

// NewEncoder returns an encoder with the given JPEG quality (1-100).
// Out-of-range values fall back to 85, the balance the dashboard was
// tuned for.
func NewEncoder(quality int) *Encoder {
	if quality < 1 || quality > 100 {
		quality = 85
	}
	return &Encoder{quality: quality}
}

// Encode compresses img to JPEG bytes.
func (e *Encoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("compose: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
