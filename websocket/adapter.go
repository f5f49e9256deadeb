package websocket

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"strokesync-server/domain"
	"strokesync-server/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// outboundCap bounds each session's delivery queue. A consumer
	// that falls this far behind is dropped and must rejoin for a
	// fresh snapshot.
	outboundCap = 256
)

// ErrQueueFull is reported by Send when the outbound queue is at
// capacity; the room reacts by dropping the session.
var ErrQueueFull = errors.New("outbound queue full")

// Conn is the server-side session for one connected participant: its
// websocket, its bounded outbound queue, and the single writer pump
// that drains it. One writer per connection keeps wire order identical
// to enqueue order.
type Conn struct {
	id      string
	room    domain.RoomHub
	ws      *websocket.Conn
	send    chan []byte
	handler *protocol.Handler
}

func NewConn(id string, room domain.RoomHub, ws *websocket.Conn, h *protocol.Handler) *Conn {
	return &Conn{
		id:      id,
		room:    room,
		ws:      ws,
		send:    make(chan []byte, outboundCap),
		handler: h,
	}
}

func (c *Conn) ID() string   { return c.id }
func (c *Conn) Room() string { return c.room.ID() }

func (c *Conn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Start joins the room and runs the pumps. Join enqueues the snapshot
// under the room lock before this session becomes visible to fan-out,
// so the snapshot always precedes live events on the wire. Blocks
// until the connection ends.
func (c *Conn) Start() {
	c.room.Join(c)
	go c.writePump()
	c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.room.Leave(c.id)
		c.handler.Forget(c.id)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}
		c.handler.Handle(c, c.room, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
