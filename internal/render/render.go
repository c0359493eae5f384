// Package render draws a stage scene into a PNG snapshot.
package render

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/fogleman/gg"
	"go.uber.org/zap"

	"github.com/Seednode/towerbox/internal/geom"
	"github.com/Seednode/towerbox/internal/stage"
)

// cameraMargin keeps the top of the stack this far below the top edge
// once it grows past the frame.
const cameraMargin = 10.0

type rgb struct{ r, g, b int }

var (
	sky         = rgb{3, 182, 252}
	ground      = rgb{20, 222, 106}
	objectFill  = rgb{255, 255, 255}
	objectEdge  = rgb{245, 66, 129}
	iconEdge    = rgb{0, 88, 122}
	objectWidth = stage.StrokeWidth
	iconWidth   = 2.0
)

type Renderer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{logger: logger}
}

// Render draws the scene and returns it PNG encoded.
func (r *Renderer) Render(scene stage.Scene) ([]byte, error) {
	w, h := int(scene.Width), int(scene.Height)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid scene size %vx%v", scene.Width, scene.Height)
	}

	dc := gg.NewContext(w, h)
	shift := -math.Min(0, scene.StackTop-cameraMargin)

	setColor(dc, sky)
	dc.DrawRectangle(0, 0, scene.Width, scene.Height)
	dc.Fill()

	setColor(dc, ground)
	dc.DrawRectangle(scene.Ground.Min.X, scene.Ground.Min.Y+shift, scene.Ground.Width(), scene.Ground.Height())
	dc.Fill()

	icons := r.decodeIcons(scene)
	for _, o := range scene.Objects {
		drawObject(dc, o, shift, icons[o.Owner])
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	return buf.Bytes(), nil
}

// decodeIcons decodes only the icons of participants that own an object.
func (r *Renderer) decodeIcons(scene stage.Scene) map[string]image.Image {
	icons := make(map[string]image.Image)
	for _, o := range scene.Objects {
		if o.Owner == "" {
			continue
		}
		if _, done := icons[o.Owner]; done {
			continue
		}
		data, ok := scene.Icons[o.Owner]
		if !ok {
			continue
		}
		img, format, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			r.logger.Debug("skipping undecodable icon",
				zap.String("participant", o.Owner),
				zap.Int("bytes", len(data)),
				zap.Error(err),
			)
			icons[o.Owner] = nil
			continue
		}
		r.logger.Debug("decoded icon", zap.String("participant", o.Owner), zap.String("format", format))
		icons[o.Owner] = img
	}
	return icons
}

func drawObject(dc *gg.Context, o stage.SceneObject, shift float64, icon image.Image) {
	if len(o.Outline) < 3 {
		return
	}

	dc.Push()
	defer dc.Pop()

	dc.Translate(o.Position.X, o.Position.Y+shift)
	dc.Rotate(o.Rotation)
	tracePath(dc, o.Outline)

	setColor(dc, objectFill)
	dc.FillPreserve()

	if icon == nil {
		setColor(dc, objectEdge)
		dc.SetLineWidth(objectWidth)
		dc.Stroke()
		return
	}

	dc.ClipPreserve()
	drawCover(dc, icon, o.Outline.Bounds())
	dc.ResetClip()

	setColor(dc, iconEdge)
	dc.SetLineWidth(iconWidth)
	dc.Stroke()
}

// drawCover scales img so it covers bounds, keeping its aspect ratio, and
// centers it there.
func drawCover(dc *gg.Context, img image.Image, bounds geom.Rect) {
	size := img.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return
	}
	s := math.Max(bounds.Width()/float64(size.X), bounds.Height()/float64(size.Y))
	c := bounds.Center()

	dc.Push()
	dc.Translate(c.X, c.Y)
	dc.Scale(s, s)
	dc.DrawImageAnchored(img, 0, 0, 0.5, 0.5)
	dc.Pop()
}

func tracePath(dc *gg.Context, o geom.Outline) {
	dc.NewSubPath()
	dc.MoveTo(o[0].X, o[0].Y)
	for _, p := range o[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.ClosePath()
}

func setColor(dc *gg.Context, c rgb) {
	dc.SetRGB255(c.r, c.g, c.b)
}
