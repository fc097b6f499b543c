// Package imaging decodes untrusted image bytes with a bound on their area.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// MaxPixels bounds width*height of any decoded image.
const MaxPixels = 40_000_000

var ErrTooLarge = errors.New("image too large")

// Decode reads the header first and rejects images whose declared area
// exceeds MaxPixels before any pixel buffer is allocated.
func Decode(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("image has no area")
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrTooLarge)
	}
	return image.Decode(bytes.NewReader(data))
}
