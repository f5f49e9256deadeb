package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"strokesync-server/domain"
	"strokesync-server/render"
)

// State of the reconciliation engine's connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	default:
		return "disconnected"
	}
}

// ErrNotSynced is returned when a local stroke is submitted while the
// engine has no live session; the canvas stays frozen until resync.
var ErrNotSynced = errors.New("not synced")

// Engine keeps a local mirror of the room's stroke log and drives the
// drawing surface from it. One mutex serializes network events, local
// pointer events, and redraws, so a replay never interleaves with an
// incremental append.
//
// Confirmed strokes live in the log; locally drawn strokes that have
// not round-tripped yet live in a pending queue. The echo from the
// room (matched by author and FIFO position) moves a pending stroke
// into the log without re-drawing it. Pending strokes are discarded
// whenever a new snapshot arrives: the snapshot is authoritative and
// unconfirmed local writes are at-most-once.
type Engine struct {
	mu       sync.Mutex
	state    State
	surface  render.Surface
	outbound func(domain.Candidate) error

	clientID string
	log      []domain.Stroke
	lastSeq  uint64
	pending  []domain.Candidate

	latency time.Duration
}

func NewEngine(surface render.Surface) *Engine {
	return &Engine{surface: surface}
}

// SetOutbound wires the channel local strokes are submitted through.
func (e *Engine) SetOutbound(fn func(domain.Candidate) error) {
	e.mu.Lock()
	e.outbound = fn
	e.mu.Unlock()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HandleMessage applies one server frame. Malformed frames are
// discarded with an error, never fatal.
func (e *Engine) HandleMessage(data []byte) error {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	switch msg.Type {
	case domain.TypeSnapshot:
		e.applySnapshot(msg.ClientID, msg.Strokes)
	case domain.TypeStroke:
		if msg.Stroke == nil {
			return errors.New("stroke frame without stroke")
		}
		e.applyStroke(*msg.Stroke)
	case domain.TypePong:
		e.recordPong(msg.Timestamp)
	default:
		return fmt.Errorf("unknown frame type %q", msg.Type)
	}
	return nil
}

// applySnapshot replaces the local log wholesale and redraws. This is
// the only point where the log is rebuilt rather than appended to.
func (e *Engine) applySnapshot(clientID string, strokes []domain.Stroke) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dropped := len(e.pending)
	e.clientID = clientID
	e.log = append([]domain.Stroke(nil), strokes...)
	e.lastSeq = 0
	if n := len(e.log); n > 0 {
		e.lastSeq = e.log[n-1].Sequence
	}
	e.pending = nil
	e.state = StateSynced
	e.redrawLocked()

	slog.Debug("synced", "clientId", clientID, "strokes", len(strokes), "droppedPending", dropped)
}

func (e *Engine) applyStroke(s domain.Stroke) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateSynced {
		return
	}
	if s.Sequence <= e.lastSeq {
		// Duplicate or stale; already in the log.
		return
	}
	e.log = append(e.log, s)
	e.lastSeq = s.Sequence

	if s.Author == e.clientID && len(e.pending) > 0 && matches(e.pending[0], s) {
		// Echo of our own stroke: it is already on the surface from
		// the optimistic draw.
		e.pending = e.pending[1:]
		return
	}
	e.surface.DrawSegment(s)
}

// SubmitLocal draws a locally captured stroke immediately and sends it
// to the room. Rejected while not synced.
func (e *Engine) SubmitLocal(c domain.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateSynced || e.outbound == nil {
		return ErrNotSynced
	}
	if err := e.outbound(c); err != nil {
		return err
	}
	e.pending = append(e.pending, c)
	e.surface.DrawSegment(c.Stroke(0, e.clientID))
	return nil
}

// Invalidate redraws the whole surface from the local log. Called on
// resize, device-pixel-ratio change, or tab restore. It runs to
// completion under the lock, so no incremental stroke can interleave.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.redrawLocked()
}

// redrawLocked is a pure function of the log plus the optimistic
// overlay: clear, replay every confirmed stroke in order, then the
// pending strokes that were already on the old surface.
func (e *Engine) redrawLocked() {
	e.surface.Clear()
	for _, s := range e.log {
		e.surface.DrawSegment(s)
	}
	for _, c := range e.pending {
		e.surface.DrawSegment(c.Stroke(0, e.clientID))
	}
}

// BeginConnect marks the engine as dialing. The log is kept so the
// surface still shows the last known picture.
func (e *Engine) BeginConnect() {
	e.setState(StateConnecting)
}

// ConnectionLost freezes the engine: the log and surface are
// preserved, new submissions are rejected until the next snapshot.
func (e *Engine) ConnectionLost() {
	e.setState(StateDisconnected)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == s {
		return
	}
	slog.Debug("state change", "from", e.state.String(), "to", s.String())
	e.state = s
}

func (e *Engine) recordPong(sentMillis int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sentMillis > 0 {
		e.latency = time.Duration(time.Now().UnixMilli()-sentMillis) * time.Millisecond
	}
}

// Latency returns the last measured round-trip to the relay.
func (e *Engine) Latency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latency
}

// Log returns a copy of the confirmed local stroke log.
func (e *Engine) Log() []domain.Stroke {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Stroke(nil), e.log...)
}

// PendingCount reports unconfirmed optimistic strokes.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// ClientID returns the id the server assigned at the last join.
func (e *Engine) ClientID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientID
}

func matches(c domain.Candidate, s domain.Stroke) bool {
	return c.From == s.From && c.To == s.To && c.Color == s.Color && c.Width == s.Width
}
