package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by implementations after Close.
var ErrClosed = errors.New("transport closed")

// Unsubscribe tears down one subscription. Safe to call more than once.
type Unsubscribe func()

// Member is one presence occupant of a room as seen by the transport.
// Data is an opaque snapshot supplied by the application layer.
type Member struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PresenceAction identifies a presence transition.
type PresenceAction string

const (
	PresenceEnter  PresenceAction = "enter"
	PresenceUpdate PresenceAction = "update"
	PresenceLeave  PresenceAction = "leave"
)

// PresenceEvent is delivered to presence subscribers on every transition.
type PresenceEvent struct {
	Action PresenceAction `json:"action"`
	Member Member         `json:"member"`
}

// Transport is the injected real-time capability the coordination layer sits
// on: per-room at-least-once pub/sub plus a presence primitive. Delivery
// carries no ordering or exactly-once guarantee; consumers must deduplicate.
type Transport interface {
	// Publish sends raw event bytes to every subscriber of the room,
	// including the local process.
	Publish(ctx context.Context, roomCode string, data []byte) error

	// Subscribe registers a handler for the room's event traffic.
	Subscribe(roomCode string, handler func(data []byte)) (Unsubscribe, error)

	// EnterPresence announces a member; UpdatePresence refreshes its data;
	// LeavePresence withdraws it.
	EnterPresence(ctx context.Context, roomCode string, member Member) error
	UpdatePresence(ctx context.Context, roomCode string, member Member) error
	LeavePresence(ctx context.Context, roomCode string, memberID string) error

	// GetPresence returns the members currently known for the room. The view
	// is best-effort and converges through presence traffic.
	GetPresence(ctx context.Context, roomCode string) ([]Member, error)

	// SubscribePresence registers a handler for presence transitions.
	SubscribePresence(roomCode string, handler func(PresenceEvent)) (Unsubscribe, error)

	// Close tears the transport down; all operations fail afterwards.
	Close() error
}
