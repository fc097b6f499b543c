// Package composition renders the final poster: the generated subject is
// fitted into the template window, merged onto the background and labelled
// with the person's name and secondary line.
package composition

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/pkg/imaging"
)

// Engine is safe for concurrent use. Casers are stateful, so each call
// builds its own.
type Engine struct {
	templates TemplateLoader
	layout    Layout
	nameFont  *opentype.Font
	textFont  *opentype.Font
}

func NewEngine(templates TemplateLoader, layout Layout) (*Engine, error) {
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	return &Engine{
		templates: templates,
		layout:    layout,
		nameFont:  bold,
		textFont:  regular,
	}, nil
}

// Compose returns an opaque PNG the size of the background template.
// Every failure wraps domain.ErrComposition.
func (e *Engine) Compose(ctx context.Context, aiImage []byte, name, secondary string) ([]byte, error) {
	out, err := e.compose(ctx, aiImage, name, secondary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrComposition, err)
	}
	return out, nil
}

func (e *Engine) compose(ctx context.Context, aiImage []byte, name, secondary string) ([]byte, error) {
	t, err := e.templates.Load(ctx)
	if err != nil {
		return nil, err
	}
	subject, _, err := imaging.Decode(aiImage)
	if err != nil {
		return nil, fmt.Errorf("decode generated image: %w", err)
	}

	// Subject goes beneath the layer so the frame art overlaps it.
	lb := t.Layer.Bounds()
	boxW := lb.Dx()
	boxH := int(math.Floor(float64(lb.Dy()) * e.layout.SubjectHeightRatio))
	if boxW <= 0 || boxH <= 0 {
		return nil, fmt.Errorf("layer template has no area")
	}
	fitted := cover(subject, boxW, boxH, anchorTop, draw.CatmullRom)

	layered := image.NewRGBA(image.Rect(0, 0, lb.Dx(), lb.Dy()))
	subjectRect := fitted.Bounds().Add(image.Pt(0, e.layout.SubjectTop))
	draw.Draw(layered, subjectRect, fitted, image.Point{}, draw.Src)
	draw.Draw(layered, layered.Bounds(), t.Layer, lb.Min, draw.Over)

	bb := t.Background.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bb.Dx(), bb.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), t.Background, bb.Min, draw.Over)
	merged := cover(layered, bb.Dx(), bb.Dy(), anchorCenter, draw.ApproxBiLinear)
	draw.Draw(canvas, canvas.Bounds(), merged, image.Point{}, draw.Over)

	if name != "" {
		if _, err := e.drawLine(canvas, e.nameFont, cases.Upper(language.Und).String(name), e.layout.Name); err != nil {
			return nil, err
		}
	}
	if secondary != "" {
		if _, err := e.drawLine(canvas, e.textFont, cases.Title(language.English).String(secondary), e.layout.Secondary); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

type anchor int

const (
	anchorCenter anchor = iota
	anchorTop
)

// cover scales src to fill exactly w x h, cropping the overflow. The crop is
// centered horizontally; vertically it keeps the top edge or the center.
func cover(src image.Image, w, h int, a anchor, scaler draw.Scaler) *image.RGBA {
	sb := src.Bounds()
	sw, sh := float64(sb.Dx()), float64(sb.Dy())
	scale := math.Max(float64(w)/sw, float64(h)/sh)
	cropW := math.Min(sw, float64(w)/scale)
	cropH := math.Min(sh, float64(h)/scale)

	x0 := sb.Min.X + int(math.Round((sw-cropW)/2))
	y0 := sb.Min.Y
	if a == anchorCenter {
		y0 += int(math.Round((sh - cropH) / 2))
	}
	crop := image.Rect(x0, y0, x0+int(math.Round(cropW)), y0+int(math.Round(cropH))).Intersect(sb)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	scaler.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}
