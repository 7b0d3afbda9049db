package capture

import (
	"image"
	"image/jpeg"
	"io"
)

// DefaultJPEGQuality is the quality used when none is configured.
const DefaultJPEGQuality = 95

// Encoder turns a decoded frame into stored image bytes.
type Encoder interface {
	Encode(w io.Writer, img image.Image) error
}

// JPEGEncoder encodes baseline JPEG. 16-bit frames are reduced to 8 bits per
// channel by the encoder.
type JPEGEncoder struct {
	Quality int
}

// Encode writes img as JPEG.
func (e JPEGEncoder) Encode(w io.Writer, img image.Image) error {
	q := e.Quality
	if q <= 0 || q > 100 {
		q = DefaultJPEGQuality
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
}
