package transport

import (
	"context"
	"sync"
)

// MemoryTransport is an in-process Transport for tests and single-node
// development, in the spirit of a mock publisher: synchronous delivery, no
// broker. It still exercises the at-least-once contract — callers can publish
// the same bytes twice to simulate redelivery.
type MemoryTransport struct {
	mu           sync.RWMutex
	nextSubID    int
	eventSubs    map[string]map[int]func(data []byte)
	presenceSubs map[string]map[int]func(PresenceEvent)
	roster       map[string]map[string]Member
	closed       bool
}

// NewMemoryTransport returns an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		eventSubs:    make(map[string]map[int]func(data []byte)),
		presenceSubs: make(map[string]map[int]func(PresenceEvent)),
		roster:       make(map[string]map[string]Member),
	}
}

// Publish delivers data synchronously to every subscriber of the room.
func (t *MemoryTransport) Publish(ctx context.Context, roomCode string, data []byte) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]func([]byte), 0, len(t.eventSubs[roomCode]))
	for _, h := range t.eventSubs[roomCode] {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

// Subscribe registers a handler for the room's events.
func (t *MemoryTransport) Subscribe(roomCode string, handler func(data []byte)) (Unsubscribe, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	id := t.nextSubID
	t.nextSubID++
	if t.eventSubs[roomCode] == nil {
		t.eventSubs[roomCode] = make(map[int]func(data []byte))
	}
	t.eventSubs[roomCode][id] = handler

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.eventSubs[roomCode], id)
		if len(t.eventSubs[roomCode]) == 0 {
			delete(t.eventSubs, roomCode)
		}
	}, nil
}

// EnterPresence announces a member.
func (t *MemoryTransport) EnterPresence(ctx context.Context, roomCode string, member Member) error {
	return t.applyAndFan(roomCode, PresenceEvent{Action: PresenceEnter, Member: member})
}

// UpdatePresence refreshes a member's data.
func (t *MemoryTransport) UpdatePresence(ctx context.Context, roomCode string, member Member) error {
	return t.applyAndFan(roomCode, PresenceEvent{Action: PresenceUpdate, Member: member})
}

// LeavePresence withdraws a member.
func (t *MemoryTransport) LeavePresence(ctx context.Context, roomCode string, memberID string) error {
	return t.applyAndFan(roomCode, PresenceEvent{Action: PresenceLeave, Member: Member{ID: memberID}})
}

func (t *MemoryTransport) applyAndFan(roomCode string, event PresenceEvent) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	switch event.Action {
	case PresenceEnter, PresenceUpdate:
		if t.roster[roomCode] == nil {
			t.roster[roomCode] = make(map[string]Member)
		}
		t.roster[roomCode][event.Member.ID] = event.Member
	case PresenceLeave:
		delete(t.roster[roomCode], event.Member.ID)
		if len(t.roster[roomCode]) == 0 {
			delete(t.roster, roomCode)
		}
	}
	handlers := make([]func(PresenceEvent), 0, len(t.presenceSubs[roomCode]))
	for _, h := range t.presenceSubs[roomCode] {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

// GetPresence returns the members currently present in the room.
func (t *MemoryTransport) GetPresence(ctx context.Context, roomCode string) ([]Member, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrClosed
	}
	members := make([]Member, 0, len(t.roster[roomCode]))
	for _, m := range t.roster[roomCode] {
		members = append(members, m)
	}
	return members, nil
}

// SubscribePresence registers a handler for the room's presence transitions.
func (t *MemoryTransport) SubscribePresence(roomCode string, handler func(PresenceEvent)) (Unsubscribe, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	id := t.nextSubID
	t.nextSubID++
	if t.presenceSubs[roomCode] == nil {
		t.presenceSubs[roomCode] = make(map[int]func(PresenceEvent))
	}
	t.presenceSubs[roomCode][id] = handler

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.presenceSubs[roomCode], id)
		if len(t.presenceSubs[roomCode]) == 0 {
			delete(t.presenceSubs, roomCode)
		}
	}, nil
}

// Close makes all further operations fail.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.eventSubs = make(map[string]map[int]func(data []byte))
	t.presenceSubs = make(map[string]map[int]func(PresenceEvent))
	t.roster = make(map[string]map[string]Member)
	return nil
}

var _ Transport = (*MemoryTransport)(nil)
var _ Transport = (*NATSTransport)(nil)
