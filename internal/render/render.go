// Package render draws arena snapshots to images with gg.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"time"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"

	"microbiome/internal/metrics"
	"microbiome/internal/sim"
)

const (
	DefaultSize = 512
	MaxSize     = 2048
	gridLines   = 8
)

var (
	background = color.RGBA{12, 12, 28, 255}
	gridColor  = color.RGBA{30, 30, 45, 255}
	fallback   = color.RGBA{200, 200, 200, 255}
)

// ParseColor parses a "#rrggbb" entity color, falling back to light grey
// for anything it cannot read.
func ParseColor(hex string) color.Color {
	c, err := colorful.Hex(hex)
	if err != nil {
		return fallback
	}
	return c.Clamped()
}

// Frame draws snap into a size x size image. The arena is scaled to fit.
func Frame(snap sim.Snapshot, size int) (image.Image, error) {
	if size <= 0 || size > MaxSize {
		return nil, fmt.Errorf("frame size %d out of range (1..%d)", size, MaxSize)
	}
	start := time.Now()
	defer func() { metrics.RenderDuration.Observe(time.Since(start).Seconds()) }()

	dc := gg.NewContext(size, size)
	drawBackground(dc, size)

	scale := 1.0
	if snap.Size > 0 {
		scale = float64(size) / snap.Size
	}

	// Food under organisms.
	for _, f := range snap.Food {
		drawEntity(dc, f, scale, 1)
	}
	for _, o := range snap.Organisms {
		drawEntity(dc, o, scale, 2)
	}
	return dc.Image(), nil
}

// WritePNG renders snap and encodes it as PNG.
func WritePNG(w io.Writer, snap sim.Snapshot, size int) error {
	img, err := Frame(snap, size)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

func drawBackground(dc *gg.Context, size int) {
	s := float64(size)
	dc.SetColor(background)
	dc.DrawRectangle(0, 0, s, s)
	dc.Fill()

	dc.SetColor(gridColor)
	dc.SetLineWidth(1)
	step := s / gridLines
	for i := 1; i < gridLines; i++ {
		p := float64(i) * step
		dc.DrawLine(p, 0, p, s)
		dc.DrawLine(0, p, s, p)
	}
	dc.Stroke()
}

// drawEntity draws one circle. minRadius keeps tiny pellets visible when
// the arena is scaled down.
func drawEntity(dc *gg.Context, e sim.EntitySnapshot, scale, minRadius float64) {
	r := e.Radius * scale
	if r < minRadius {
		r = minRadius
	}
	dc.SetColor(ParseColor(e.Color))
	dc.DrawCircle(e.Pos[0]*scale, e.Pos[1]*scale, r)
	dc.Fill()
}
