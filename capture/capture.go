package capture

import (
	"strokesync-server/domain"
)

// Submitter is the reconciliation engine's intake for locally captured
// strokes.
type Submitter interface {
	SubmitLocal(c domain.Candidate) error
}

// Capture converts raw pointer input into point-to-point stroke
// candidates. Coordinates arrive in device pixels; the scale factor
// (device pixel ratio) maps them to the device-independent units the
// stroke log uses, the same transform the renderer applies on replay,
// so the optimistic draw and the eventual replay land on the same
// pixels.
//
// Pointer events are expected from a single event source, matching the
// engine's single-threaded canvas model.
type Capture struct {
	engine Submitter
	scale  float64
	color  string
	width  float64
	prev   *domain.Point
	down   bool
}

func New(engine Submitter) *Capture {
	return &Capture{engine: engine, scale: 1, color: "#000000", width: 2}
}

// SetTool selects the pen color and width for subsequent strokes.
func (c *Capture) SetTool(color string, width float64) {
	c.color = color
	c.width = width
}

// SetScale updates the device pixel ratio.
func (c *Capture) SetScale(scale float64) {
	if scale > 0 {
		c.scale = scale
	}
}

// Down starts a gesture at a device-pixel position.
func (c *Capture) Down(x, y float64) {
	p := c.toLogical(x, y)
	c.prev = &p
	c.down = true
}

// Move samples the gesture. Each (prev, curr) pair becomes one stroke
// candidate, drawn optimistically and sent to the room. The previous
// point advances only after the candidate is handed off, so segments
// chain without gaps.
func (c *Capture) Move(x, y float64) {
	if !c.down || c.prev == nil {
		return
	}
	curr := c.toLogical(x, y)
	cand := domain.Candidate{From: *c.prev, To: curr, Color: c.color, Width: c.width}
	// ErrNotSynced just freezes the pen; the gesture continues when
	// the engine resyncs.
	_ = c.engine.SubmitLocal(cand)
	c.prev = &curr
}

// Up ends the gesture.
func (c *Capture) Up() {
	c.down = false
	c.prev = nil
}

func (c *Capture) toLogical(x, y float64) domain.Point {
	return domain.Point{X: x / c.scale, Y: y / c.scale}
}
