// Package imaging bounds the size of images sent for background removal.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxPixels is the largest width*height passed through untouched.
	MaxPixels = 4194304

	MaxWidth  = 2048
	MaxHeight = 2048

	// MaxInputPixels caps the declared size of an image before it is decoded.
	MaxInputPixels = 50_000_000
)

// ErrTooLarge is returned for images whose header declares more than
// MaxInputPixels pixels.
var ErrTooLarge = errors.New("image dimensions are too large")

// FitWithin returns the largest dimensions with the aspect ratio of w×h that
// fit inside maxW×maxH. Images already inside the box are returned as is.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return max(nw, 1), max(nh, 1)
}

// Downscale re-encodes data as PNG inside the MaxWidth×MaxHeight box when it
// has more than MaxPixels pixels. Otherwise data is returned unchanged and the
// second result is false. Images declaring more than MaxInputPixels are
// rejected with ErrTooLarge without being decoded.
func Downscale(data []byte) ([]byte, bool, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, false, fmt.Errorf("failed to read image header: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	pixels := int64(cfg.Width) * int64(cfg.Height)
	if pixels > MaxInputPixels {
		return nil, false, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	if pixels <= MaxPixels {
		return data, false, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode image: %w", err)
	}

	w, h := FitWithin(cfg.Width, cfg.Height, MaxWidth, MaxHeight)
	if w == cfg.Width && h == cfg.Height {
		return data, false, nil
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, false, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), true, nil
}
