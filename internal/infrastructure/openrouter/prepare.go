package openrouter

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/pkg/imaging"
)

const (
	// MaxInputDimension bounds the longer side of the reference photo.
	MaxInputDimension = 1024
	inputJPEGQuality  = 85
)

// PrepareInput decodes a JPEG, PNG or WebP photo, shrinks it to fit inside
// MaxInputDimension (never enlarging) and re-encodes it as JPEG.
// Transparent regions are flattened onto white. Photos over imaging.MaxPixels
// are rejected as ErrBadRequest.
func PrepareInput(photo []byte) ([]byte, error) {
	src, _, err := imaging.Decode(photo)
	if err != nil {
		return nil, fmt.Errorf("decode photo: %v: %w", err, domain.ErrBadRequest)
	}

	b := src.Bounds()
	w, h := fitInside(b.Dx(), b.Dy(), MaxInputDimension)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: inputJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return buf.Bytes(), nil
}

// fitInside scales (w, h) down so neither side exceeds max, keeping aspect.
func fitInside(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}
