package composition

import (
	"fmt"
	"image"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// drawLine renders text centered horizontally on dst with its x-height
// centered on style.CenterY. It returns the drawn advance width.
func (e *Engine) drawLine(dst draw.Image, f *opentype.Font, text string, s TextStyle) (fixed.Int26_6, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0, nil
	}
	size, compress := FitLine(len(runes), s, e.layout.MaxTextWidth)
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return 0, fmt.Errorf("font face: %w", err)
	}
	defer face.Close()

	advances := make([]fixed.Int26_6, len(runes))
	var natural fixed.Int26_6
	for i, r := range runes {
		adv, _ := face.GlyphAdvance(r)
		if i+1 < len(runes) {
			adv += face.Kern(r, runes[i+1])
		}
		advances[i] = adv
		natural += adv
	}

	gap := fixed.Int26_6(0)
	width := natural
	if gaps := fixed.Int26_6(len(runes) - 1); gaps > 0 {
		target := fixed.Int26_6(e.layout.MaxTextWidth * 64)
		if compress {
			gap = (target - natural) / gaps
		} else {
			gap = fixed.Int26_6(s.Tracking * size * 64)
		}
		width = natural + gap*gaps
	}

	b := dst.Bounds()
	centerX := fixed.I(b.Min.X + b.Dx()/2)
	centerY := fixed.Int26_6(float64(b.Min.Y)*64 + float64(b.Dy())*s.CenterY*64)
	m := face.Metrics()
	xh := m.XHeight
	if xh <= 0 {
		xh = m.Ascent / 2
	}

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(s.Color), Face: face}
	x := centerX - width/2
	y := centerY + xh/2
	for i, r := range runes {
		d.Dot = fixed.Point26_6{X: x, Y: y}
		d.DrawString(string(r))
		x += advances[i] + gap
	}
	return width, nil
}
