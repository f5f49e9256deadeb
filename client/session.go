package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"strokesync-server/domain"
)

const (
	sendQueueCap   = 64
	appPingPeriod  = 30 * time.Second
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 15 * time.Second
)

// ErrOutboundFull is returned when the local send queue is at
// capacity. The stroke is unconfirmed and simply lost (at-most-once).
var ErrOutboundFull = errors.New("outbound queue full")

// Session owns the client side of one (client, room) connection: it
// dials, feeds inbound frames to the engine, drains local submissions
// to the wire, and reconnects with exponential backoff. Each accepted
// join produces a fresh snapshot, so the engine always resyncs from an
// authoritative baseline.
type Session struct {
	url    string
	engine *Engine
	dialer *websocket.Dialer
	send   chan domain.Candidate
}

// NewSession prepares a session for the given websocket URL, e.g.
// ws://host:8080/ws/ABC123. The engine's outbound channel is wired to
// this session.
func NewSession(url string, engine *Engine) *Session {
	s := &Session{
		url:    url,
		engine: engine,
		dialer: websocket.DefaultDialer,
		send:   make(chan domain.Candidate, sendQueueCap),
	}
	engine.SetOutbound(s.enqueue)
	return s
}

func (s *Session) enqueue(c domain.Candidate) error {
	select {
	case s.send <- c:
		return nil
	default:
		return ErrOutboundFull
	}
}

// Run connects and keeps reconnecting until the context is cancelled.
func (s *Session) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = maxBackoff

	for {
		s.engine.BeginConnect()
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.engine.ConnectionLost()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := bo.NextBackOff()
			slog.Warn("dial failed, retrying", "url", s.url, "wait", wait, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		s.flush()
		s.serve(ctx, conn)
		s.engine.ConnectionLost()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("connection lost, reconnecting", "url", s.url)
	}
}

// flush discards strokes queued for a connection that no longer
// exists. Unconfirmed local writes are at-most-once: they are never
// resent on a new session.
func (s *Session) flush() {
	for {
		select {
		case <-s.send:
		default:
			return
		}
	}
}

// serve runs the read loop plus one writer goroutine and returns when
// the connection dies or the context ends.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	go s.writeLoop(ctx, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		if err := s.engine.HandleMessage(data); err != nil {
			slog.Warn("bad frame discarded", "error", err)
		}
	}
}

func (s *Session) writeLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(appPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case c := <-s.send:
			msg := domain.Message{Type: domain.TypeStroke, Stroke: &domain.Stroke{
				From:  c.From,
				To:    c.To,
				Color: c.Color,
				Width: c.Width,
			}}
			if err := s.write(conn, msg); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			ping := domain.Message{Type: domain.TypePing, Timestamp: time.Now().UnixMilli()}
			if err := s.write(conn, ping); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (s *Session) write(conn *websocket.Conn, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
