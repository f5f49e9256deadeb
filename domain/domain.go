package domain

// Point is a surface-local coordinate in device-independent units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one immutable straight segment of drawing. Sequence and
// Author are assigned by the room that accepted the stroke; both are
// zero on client-submitted candidates and omitted from the wire.
type Stroke struct {
	Sequence uint64  `json:"sequence,omitempty"`
	From     Point   `json:"from"`
	To       Point   `json:"to"`
	Color    string  `json:"color"`
	Width    float64 `json:"width"`
	Author   string  `json:"author,omitempty"`
}

// Candidate is a stroke as submitted by a client, before the room has
// ordered it.
type Candidate struct {
	From  Point
	To    Point
	Color string
	Width float64
}

// Stroke turns the candidate into a sequenced stroke.
func (c Candidate) Stroke(seq uint64, author string) Stroke {
	return Stroke{Sequence: seq, From: c.From, To: c.To, Color: c.Color, Width: c.Width, Author: author}
}

// Wire message types.
const (
	TypeStroke   = "stroke"
	TypeSnapshot = "snapshot"
	TypePing     = "ping"
	TypePong     = "pong"
)

// Message is the wire envelope, one JSON object per websocket frame.
type Message struct {
	Type      string   `json:"type"`
	Stroke    *Stroke  `json:"stroke,omitempty"`
	Strokes   []Stroke `json:"strokes,omitempty"`
	ClientID  string   `json:"clientId,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// Connection is one connected participant as a room sees it. Send must
// never block: it reports an error when the peer's outbound queue is
// full or the session is gone, and the room reacts by dropping the
// session.
type Connection interface {
	ID() string
	Room() string
	Send(data []byte) error
	Close() error
}

// Registry resolves room ids to live rooms. GetOrCreate is idempotent
// and safe under concurrent first-joins; it fails only on resource
// exhaustion.
type Registry interface {
	GetOrCreate(roomID string) (RoomHub, error)
	Exists(roomID string) bool
	Stats() (rooms, clients int)
}

// RoomHub is the ordering authority for one room: it serializes all
// writes to the stroke log and fans them out in append order. Join
// returns the full log so a new member can render the current picture
// before any live event arrives.
type RoomHub interface {
	ID() string
	Join(conn Connection) []Stroke
	Submit(clientID string, c Candidate) Stroke
	Leave(clientID string)
	MemberCount() int
}

// MessageHandler processes one inbound frame from a connection.
type MessageHandler interface {
	Handle(conn Connection, room RoomHub, data []byte)
}
