package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"strokesync-server/domain"
	"strokesync-server/metrics"
)

// ErrTooManyRooms is returned by GetOrCreate when the live-room cap is
// reached. It is reported to the caller, never fatal.
var ErrTooManyRooms = errors.New("too many live rooms")

const (
	defaultGrace    = 45 * time.Second
	defaultMaxRooms = 1024
)

// Config tunes the registry. Zero values take defaults.
type Config struct {
	// Grace is how long an empty room survives before it is released,
	// absorbing reconnect churn.
	Grace time.Duration
	// MaxRooms caps the number of live rooms.
	MaxRooms int
}

// pendingRelease is a scheduled room teardown. The generation token
// lets a fired callback detect that it was cancelled or superseded
// after firing but before acquiring the hub lock.
type pendingRelease struct {
	timer *time.Timer
	gen   uint64
}

// Hub is the process-wide room registry. Rooms are created lazily on
// first join and released after sitting empty for the grace window.
type Hub struct {
	mu         sync.Mutex
	rooms      map[string]*Room
	releases   map[string]pendingRelease
	releaseGen uint64
	grace      time.Duration
	maxRooms   int
	metrics    *metrics.Metrics
}

func New(cfg Config) *Hub {
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = defaultMaxRooms
	}
	return &Hub{
		rooms:    make(map[string]*Room),
		releases: make(map[string]pendingRelease),
		grace:    cfg.Grace,
		maxRooms: cfg.MaxRooms,
		metrics:  metrics.New(),
	}
}

// GetOrCreate returns the live room for id, creating it on first join.
// Concurrent first-joins for the same id yield the same instance. A
// pending release for the room is cancelled.
func (h *Hub) GetOrCreate(roomID string) (domain.RoomHub, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.releases[roomID]; ok {
		// Stop is a no-op if the callback already fired; deleting the
		// entry invalidates its generation token, so the cancellation
		// holds either way.
		p.timer.Stop()
		delete(h.releases, roomID)
	}

	r, ok := h.rooms[roomID]
	if !ok {
		if len(h.rooms) >= h.maxRooms {
			return nil, ErrTooManyRooms
		}
		r = newRoom(roomID, h.onEmpty, h.metrics)
		h.rooms[roomID] = r
		h.metrics.RoomOpened()
		slog.Info("room created", "room", roomID, "rooms", len(h.rooms))
	}
	if r.MemberCount() == 0 {
		// Covers the caller never completing its join (e.g. upgrade
		// failure); the timer is a no-op once a member is present.
		h.scheduleReleaseLocked(roomID)
	}
	return r, nil
}

// Exists reports whether a room id is currently live. Used by the
// canvas allocator to avoid handing out a code already in use.
func (h *Hub) Exists(roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rooms[roomID]
	return ok
}

// Stats returns the number of live rooms and connected clients.
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms = len(h.rooms)
	for _, r := range h.rooms {
		clients += r.MemberCount()
	}
	return rooms, clients
}

// onEmpty is called by a room when its last member leaves. The release
// is deferred by the grace window and cancelled if anyone rejoins.
func (h *Hub) onEmpty(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		return
	}
	h.scheduleReleaseLocked(roomID)
}

func (h *Hub) scheduleReleaseLocked(roomID string) {
	if p, ok := h.releases[roomID]; ok {
		p.timer.Stop()
	}
	h.releaseGen++
	gen := h.releaseGen
	t := time.AfterFunc(h.grace, func() { h.release(roomID, gen) })
	h.releases[roomID] = pendingRelease{timer: t, gen: gen}
	slog.Debug("room empty, release scheduled", "room", roomID, "grace", h.grace)
}

func (h *Hub) release(roomID string, gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.releases[roomID]; !ok || p.gen != gen {
		// Superseded: a rejoin cancelled this release after the timer
		// had already fired, or a later leave rescheduled it.
		return
	}
	delete(h.releases, roomID)
	r, ok := h.rooms[roomID]
	if !ok || r.MemberCount() > 0 {
		return
	}
	delete(h.rooms, roomID)
	h.metrics.RoomClosed()
	slog.Info("room released", "room", roomID, "strokes", r.LogLen())
}
