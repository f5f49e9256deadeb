package render

import (
	"image"

	"github.com/fogleman/gg"

	"strokesync-server/domain"
)

// Surface is a drawing target for stroke segments. Implementations
// must be deterministic: the same sequence of calls after a Clear
// yields identical pixels every time. The reconciliation engine
// serializes all access.
type Surface interface {
	DrawSegment(s domain.Stroke)
	Clear()
}

// Raster renders strokes into an in-memory RGBA image via gg. Stroke
// geometry is in device-independent units; the scale factor (device
// pixel ratio) maps it to pixels, so the same log produces the same
// picture at any resolution.
type Raster struct {
	dc     *gg.Context
	width  int
	height int
	scale  float64
}

// NewRaster creates a white surface of width×height logical units at
// the given device pixel ratio.
func NewRaster(width, height int, scale float64) *Raster {
	if scale <= 0 {
		scale = 1
	}
	r := &Raster{width: width, height: height, scale: scale}
	r.reset()
	return r
}

func (r *Raster) reset() {
	dc := gg.NewContext(int(float64(r.width)*r.scale), int(float64(r.height)*r.scale))
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)
	r.dc = dc
}

func (r *Raster) DrawSegment(s domain.Stroke) {
	r.dc.SetHexColor(s.Color)
	r.dc.SetLineWidth(s.Width * r.scale)
	r.dc.DrawLine(s.From.X*r.scale, s.From.Y*r.scale, s.To.X*r.scale, s.To.Y*r.scale)
	r.dc.Stroke()
}

func (r *Raster) Clear() {
	r.reset()
}

// Resize swaps in a fresh surface at the new dimensions and ratio.
// The caller must follow up with an engine invalidation so the log is
// replayed onto it.
func (r *Raster) Resize(width, height int, scale float64) {
	if scale <= 0 {
		scale = 1
	}
	r.width, r.height, r.scale = width, height, scale
	r.reset()
}

// Scale returns the current device pixel ratio.
func (r *Raster) Scale() float64 { return r.scale }

// Image exposes the rendered picture.
func (r *Raster) Image() image.Image { return r.dc.Image() }
