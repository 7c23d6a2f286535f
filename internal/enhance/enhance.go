// Package enhance implements the basic (non-AI) enhancement filters.
//
// Filters are pure image transforms applied server-side with the imaging
// library. Output is always JPEG.
package enhance

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// JPEGQuality is the encode quality for enhanced output.
const JPEGQuality = 90

// Filter identifies a basic enhancement.
type Filter string

const (
	FilterBrighten  Filter = "brighten"
	FilterContrast  Filter = "contrast"
	FilterVivid     Filter = "vivid"
	FilterSharpen   Filter = "sharpen"
	FilterGrayscale Filter = "grayscale"
)

// Valid reports whether f is a known filter.
func (f Filter) Valid() bool {
	switch f {
	case FilterBrighten, FilterContrast, FilterVivid, FilterSharpen, FilterGrayscale:
		return true
	}
	return false
}

// Label returns the human-readable description stored on the image record.
func (f Filter) Label() string {
	switch f {
	case FilterBrighten:
		return "Brightened"
	case FilterContrast:
		return "Contrast boost"
	case FilterVivid:
		return "Vivid colors"
	case FilterSharpen:
		return "Sharpened"
	case FilterGrayscale:
		return "Black & white"
	}
	return string(f)
}

// Apply decodes the source image, applies the filter, and returns the result
// encoded as JPEG.
func Apply(src io.Reader, filter Filter) ([]byte, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var out image.Image
	switch filter {
	case FilterBrighten:
		out = imaging.AdjustBrightness(img, 12)
	case FilterContrast:
		out = imaging.AdjustContrast(img, 18)
	case FilterVivid:
		out = imaging.AdjustSaturation(img, 30)
	case FilterSharpen:
		out = imaging.Sharpen(img, 1.2)
	case FilterGrayscale:
		out = imaging.Grayscale(img)
	default:
		return nil, fmt.Errorf("unknown filter %q", filter)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
