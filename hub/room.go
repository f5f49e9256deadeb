package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"strokesync-server/domain"
	"strokesync-server/metrics"
	"strokesync-server/protocol"
)

// Room owns one canvas session: the ordered stroke log and the set of
// connected members. All mutation happens under one mutex so that
// sequence assignment and fan-out order are race-free; the order
// strokes enter each member's outbound queue is the log order.
type Room struct {
	id      string
	onEmpty func(roomID string)
	metrics *metrics.Metrics

	mu      sync.Mutex
	seq     uint64
	log     []domain.Stroke
	members map[string]domain.Connection
}

func newRoom(id string, onEmpty func(string), m *metrics.Metrics) *Room {
	return &Room{
		id:      id,
		onEmpty: onEmpty,
		metrics: m,
		members: make(map[string]domain.Connection),
	}
}

func (r *Room) ID() string { return r.id }

// Join enqueues a snapshot of the full log on conn's outbound queue
// and then adds conn to the room, all under the room lock. Fan-out
// also runs under that lock, so the snapshot strictly precedes every
// live stroke for this session. The snapshot is also returned.
func (r *Room) Join(conn domain.Connection) []domain.Stroke {
	r.mu.Lock()
	snapshot := make([]domain.Stroke, len(r.log))
	copy(snapshot, r.log)
	if data, err := protocol.EncodeSnapshot(conn.ID(), snapshot); err == nil {
		if err := conn.Send(data); err != nil {
			slog.Warn("snapshot enqueue failed", "room", r.id, "clientId", conn.ID(), "error", err)
		}
	} else {
		slog.Error("snapshot encode", "room", r.id, "clientId", conn.ID(), "error", err)
	}
	r.members[conn.ID()] = conn
	count := len(r.members)
	r.mu.Unlock()

	r.metrics.ClientConnected()
	slog.Info("client joined", "room", r.id, "clientId", conn.ID(), "clients", count, "snapshot", len(snapshot))
	return snapshot
}

// Submit assigns the next sequence number, appends the stroke to the
// log, and enqueues it on every member's outbound queue, including the
// submitter (the echo confirms the stroke; clients dedup by sequence).
// Members whose queue is full are dropped and must rejoin.
func (r *Room) Submit(clientID string, c domain.Candidate) domain.Stroke {
	r.mu.Lock()
	r.seq++
	stroke := c.Stroke(r.seq, clientID)
	r.log = append(r.log, stroke)

	data, err := json.Marshal(domain.Message{Type: domain.TypeStroke, Stroke: &stroke})
	if err != nil {
		r.mu.Unlock()
		slog.Error("stroke marshal", "room", r.id, "error", err)
		return stroke
	}

	var stalled []domain.Connection
	for _, m := range r.members {
		if err := m.Send(data); err != nil {
			stalled = append(stalled, m)
		}
	}
	r.mu.Unlock()

	r.metrics.RecordStroke()
	for _, m := range stalled {
		r.metrics.RecordBackpressureDrop()
		slog.Warn("outbound queue full, dropping session", "room", r.id, "clientId", m.ID())
		go func(c domain.Connection) {
			c.Close()
			r.Leave(c.ID())
		}(m)
	}
	return stroke
}

// Leave removes the session from the room. The log is untouched; a
// room that stays empty past the grace window is released by the hub.
func (r *Room) Leave(clientID string) {
	r.mu.Lock()
	_, present := r.members[clientID]
	delete(r.members, clientID)
	count := len(r.members)
	r.mu.Unlock()

	if !present {
		return
	}
	r.metrics.ClientDisconnected()
	slog.Info("client left", "room", r.id, "clientId", clientID, "clients", count)
	if count == 0 && r.onEmpty != nil {
		r.onEmpty(r.id)
	}
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// LogLen reports the number of strokes accepted so far.
func (r *Room) LogLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.log)
}
