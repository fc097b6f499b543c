package composition

import (
	"image/color"
	"math"
)

// TextStyle controls how one overlay line is sized and placed.
type TextStyle struct {
	BaseSize    float64 // px, used when the line fits
	WidthFactor float64 // estimated glyph width as a fraction of the size
	MinSize     float64 // px floor after shrinking
	CenterY     float64 // vertical center as a fraction of canvas height
	Tracking    float64 // extra spacing per glyph in em, when not compressed
	Color       color.Color
}

// Layout describes the fixed template geometry.
type Layout struct {
	SubjectHeightRatio float64 // subject box height as a fraction of layer height
	SubjectTop         int     // px offset of the subject box inside the layer
	MaxTextWidth       float64 // px
	Name               TextStyle
	Secondary          TextStyle
}

// DefaultLayout matches the 1080x1920 poster template.
func DefaultLayout() Layout {
	return Layout{
		SubjectHeightRatio: 0.60,
		SubjectTop:         350,
		MaxTextWidth:       900,
		Name: TextStyle{
			BaseSize:    80,
			WidthFactor: 0.6,
			MinSize:     24,
			CenterY:     0.752,
			Color:       color.RGBA{A: 0xff},
		},
		Secondary: TextStyle{
			BaseSize:    42,
			WidthFactor: 0.5,
			MinSize:     18,
			CenterY:     0.784,
			Tracking:    -0.02,
			Color:       color.RGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xff},
		},
	}
}

// FitLine picks the font size for a line of n glyphs. When the estimated
// width exceeds maxWidth the size shrinks proportionally (never below
// MinSize) and compress reports that the line must be drawn at exactly
// maxWidth.
func FitLine(n int, s TextStyle, maxWidth float64) (size float64, compress bool) {
	estimated := float64(n) * s.BaseSize * s.WidthFactor
	if estimated <= maxWidth {
		return s.BaseSize, false
	}
	size = math.Floor(s.BaseSize * (maxWidth / estimated))
	return math.Max(size, s.MinSize), true
}
