// Package imaging decodes, scales and re-encodes post images.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"
	"golang.org/x/image/draw"
)

// Supported formats, as reported by image.DecodeConfig.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
)

const (
	jpegQuality = 90
	webpQuality = 85
)

// ErrUnsupportedFormat is returned for images that cannot be re-encoded.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Config describes an encoded image without decoding its pixels.
type Config struct {
	Width  int
	Height int
	Format string
}

// Inspect reads the image header.
func Inspect(data []byte) (Config, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("decode image config: %w", err)
	}
	return Config{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Decode decodes an image in any supported format.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// FitWithin returns the largest size no bigger than limit in either dimension
// that keeps the aspect ratio of w×h. Sizes that already fit are returned
// unchanged.
func FitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		nh := (h*limit + w/2) / w
		return limit, clampMin(nh)
	}
	nw := (w*limit + h/2) / h
	return clampMin(nw), limit
}

// Shrink re-encodes data so that neither dimension exceeds limit. The second
// return value is false when the image already fits, in which case data is
// returned untouched.
func Shrink(data []byte, limit int) ([]byte, bool, error) {
	cfg, err := Inspect(data)
	if err != nil {
		return nil, false, err
	}
	if cfg.Width <= limit && cfg.Height <= limit {
		return data, false, nil
	}
	if !canEncode(cfg.Format) {
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedFormat, cfg.Format)
	}

	img, format, err := Decode(data)
	if err != nil {
		return nil, false, err
	}

	w, h := FitWithin(cfg.Width, cfg.Height, limit)
	out, err := Encode(Scale(img, w, h), format)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Scale resamples img to exactly w×h using Catmull-Rom interpolation.
func Scale(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// Encode writes img in the given format.
func Encode(img image.Image, format string) ([]byte, error) {
	var (
		buf bytes.Buffer
		err error
	)
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatWebP:
		err = webp.Encode(&buf, img, webp.Options{Lossless: false, Quality: webpQuality})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func canEncode(format string) bool {
	switch format {
	case FormatJPEG, FormatPNG, FormatWebP:
		return true
	}
	return false
}

func clampMin(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
