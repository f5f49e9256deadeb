package protocol

import (
	"encoding/json"
	"log/slog"
	"sync"

	"strokesync-server/domain"
	"strokesync-server/metrics"
)

// MaxViolations is how many malformed messages one connection may send
// before it is closed.
const MaxViolations = 8

// Handler decodes inbound frames and dispatches them to the room. A
// malformed message is discarded; a connection that keeps sending
// garbage past MaxViolations is closed.
type Handler struct {
	metrics *metrics.Metrics

	mu         sync.Mutex
	violations map[string]int
}

func NewHandler() *Handler {
	return &Handler{
		metrics:    metrics.New(),
		violations: make(map[string]int),
	}
}

func (h *Handler) Handle(conn domain.Connection, room domain.RoomHub, data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.violation(conn, "invalid json", err)
		return
	}

	switch msg.Type {
	case domain.TypeStroke:
		if msg.Stroke == nil {
			h.violation(conn, "stroke message without stroke", nil)
			return
		}
		room.Submit(conn.ID(), domain.Candidate{
			From:  msg.Stroke.From,
			To:    msg.Stroke.To,
			Color: msg.Stroke.Color,
			Width: msg.Stroke.Width,
		})

	case domain.TypePing:
		pong := domain.Message{Type: domain.TypePong, Timestamp: msg.Timestamp, ClientID: conn.ID()}
		if resp, err := json.Marshal(pong); err == nil {
			conn.Send(resp)
		}

	default:
		h.violation(conn, "unknown message type", nil)
	}
}

// Forget clears the violation count for a connection. Called by the
// transport when the connection goes away.
func (h *Handler) Forget(connID string) {
	h.mu.Lock()
	delete(h.violations, connID)
	h.mu.Unlock()
}

func (h *Handler) violation(conn domain.Connection, reason string, err error) {
	h.metrics.RecordProtocolError()
	h.mu.Lock()
	h.violations[conn.ID()]++
	count := h.violations[conn.ID()]
	h.mu.Unlock()

	slog.Warn("protocol violation", "clientId", conn.ID(), "reason", reason, "count", count, "error", err)
	if count > MaxViolations {
		slog.Warn("violation threshold exceeded, closing", "clientId", conn.ID())
		conn.Close()
	}
}

// EncodeSnapshot builds the initial server-to-client payload: the full
// ordered log plus the client id the server assigned to this session.
// It always precedes live events for the session. An empty log omits
// the strokes field.
func EncodeSnapshot(clientID string, strokes []domain.Stroke) ([]byte, error) {
	return json.Marshal(domain.Message{
		Type:     domain.TypeSnapshot,
		ClientID: clientID,
		Strokes:  strokes,
	})
}
