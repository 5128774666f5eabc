package channel

import (
	"context"
	"sync"

	"github.com/mkoval/sortroom/internal/events"
	"github.com/mkoval/sortroom/internal/transport"
)

// Manager hands out one RoomChannel per room code, created on demand and
// torn down when the room goes away. Channel lifetime tracks room lifetime
// so a reused room code never inherits stale subscriptions.
type Manager struct {
	transport transport.Transport
	opts      []Option

	mu       sync.Mutex
	channels map[string]*RoomChannel
}

// NewManager creates a manager over the given transport. opts are applied to
// every channel it creates.
func NewManager(tr transport.Transport, opts ...Option) *Manager {
	return &Manager{
		transport: tr,
		opts:      opts,
		channels:  make(map[string]*RoomChannel),
	}
}

// Channel returns the room's channel, creating and binding it on first use.
func (m *Manager) Channel(roomCode string) (*RoomChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[roomCode]; ok {
		return ch, nil
	}
	ch, err := New(roomCode, m.transport, m.opts...)
	if err != nil {
		return nil, err
	}
	m.channels[roomCode] = ch
	return ch, nil
}

// Publish routes event to the channel for its room code.
func (m *Manager) Publish(ctx context.Context, event *events.RoomEvent) error {
	ch, err := m.Channel(event.RoomCode)
	if err != nil {
		return err
	}
	return ch.PublishEvent(ctx, event)
}

// CloseRoom cleans up the room's channel, if any.
func (m *Manager) CloseRoom(roomCode string) {
	m.mu.Lock()
	ch, ok := m.channels[roomCode]
	if ok {
		delete(m.channels, roomCode)
	}
	m.mu.Unlock()

	if ok {
		ch.Cleanup()
	}
}

// CloseAll cleans up every channel; used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	channels := m.channels
	m.channels = make(map[string]*RoomChannel)
	m.mu.Unlock()

	for _, ch := range channels {
		ch.Cleanup()
	}
}
