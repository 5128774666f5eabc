package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mkoval/sortroom/internal/events"
	"github.com/mkoval/sortroom/internal/transport"
)

func testEvent(roomCode string, eventType events.EventType) *events.RoomEvent {
	return &events.RoomEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		RoomCode:      roomCode,
		ParticipantID: uuid.NewString(),
		Timestamp:     time.Now(),
		Version:       events.SchemaVersion,
		Payload:       json.RawMessage(`{}`),
	}
}

// counter collects delivered events behind a mutex; the memory transport
// delivers synchronously but subscribers should not assume that.
type counter struct {
	mu     sync.Mutex
	events []*events.RoomEvent
}

func (c *counter) handle(event *events.RoomEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	tr := transport.NewMemoryTransport()
	ch, err := New("ABC123", tr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ch.Cleanup()

	var got counter
	if _, err := ch.SubscribeToEvents(got.handle); err != nil {
		t.Fatalf("SubscribeToEvents() error = %v", err)
	}

	event := testEvent("ABC123", events.EventTypeParticipantJoined)
	if err := ch.PublishEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	if got.count() != 1 {
		t.Fatalf("delivered %d events, want 1", got.count())
	}
	if got.events[0].ID != event.ID {
		t.Errorf("delivered event id = %s, want %s", got.events[0].ID, event.ID)
	}
}

func TestDuplicateEventDeliveredOnce(t *testing.T) {
	tr := transport.NewMemoryTransport()
	ch, err := New("ABC123", tr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ch.Cleanup()

	var got counter
	if _, err := ch.SubscribeToEvents(got.handle); err != nil {
		t.Fatalf("SubscribeToEvents() error = %v", err)
	}

	data, err := json.Marshal(testEvent("ABC123", events.EventTypeStepTransitioned))
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	// Simulate at-least-once redelivery of identical bytes.
	for i := 0; i < 3; i++ {
		if err := tr.Publish(context.Background(), "ABC123", data); err != nil {
			t.Fatalf("transport publish %d: %v", i, err)
		}
	}

	if got.count() != 1 {
		t.Fatalf("delivered %d events, want exactly 1 after redelivery", got.count())
	}
}

func TestCrossRoomEventNeverDelivered(t *testing.T) {
	tr := transport.NewMemoryTransport()
	ch, err := New("ABC123", tr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ch.Cleanup()

	var got counter
	if _, err := ch.SubscribeToEvents(got.handle); err != nil {
		t.Fatalf("SubscribeToEvents() error = %v", err)
	}

	// An event bound to another room arriving on this room's subject.
	stray, err := json.Marshal(testEvent("DEF456", events.EventTypeParticipantJoined))
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := tr.Publish(context.Background(), "ABC123", stray); err != nil {
		t.Fatalf("transport publish: %v", err)
	}
	if got.count() != 0 {
		t.Fatalf("delivered %d cross-room events, want 0", got.count())
	}

	// Publishing an event bound elsewhere is a caller bug, rejected outright.
	err = ch.PublishEvent(context.Background(), testEvent("DEF456", events.EventTypeParticipantJoined))
	if !errors.Is(err, ErrRoomMismatch) {
		t.Fatalf("PublishEvent(cross-room) = %v, want ErrRoomMismatch", err)
	}
}

func TestInvalidInboundEventDropped(t *testing.T) {
	tr := transport.NewMemoryTransport()

	var dropped [][]byte
	var mu sync.Mutex
	ch, err := New("ABC123", tr, WithErrorCallback(func(err error, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		dropped = append(dropped, data)
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ch.Cleanup()

	var got counter
	if _, err := ch.SubscribeToEvents(got.handle); err != nil {
		t.Fatalf("SubscribeToEvents() error = %v", err)
	}

	if err := tr.Publish(context.Background(), "ABC123", []byte("not json")); err != nil {
		t.Fatalf("transport publish: %v", err)
	}
	noID, _ := json.Marshal(&events.RoomEvent{Type: events.EventTypeParticipantJoined, RoomCode: "ABC123", Timestamp: time.Now()})
	if err := tr.Publish(context.Background(), "ABC123", noID); err != nil {
		t.Fatalf("transport publish: %v", err)
	}

	if got.count() != 0 {
		t.Fatalf("delivered %d invalid events, want 0", got.count())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 2 {
		t.Fatalf("error callback saw %d events, want 2", len(dropped))
	}
}

func TestSubscribeToEventTypeFilters(t *testing.T) {
	tr := transport.NewMemoryTransport()
	ch, err := New("ABC123", tr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ch.Cleanup()

	var joins, all counter
	if _, err := ch.SubscribeToEventType(events.EventTypeParticipantJoined, joins.handle); err != nil {
		t.Fatalf("SubscribeToEventType() error = %v", err)
	}
	if _, err := ch.SubscribeToEvents(all.handle); err != nil {
		t.Fatalf("SubscribeToEvents() error = %v", err)
	}

	if err := ch.PublishEvent(context.Background(), testEvent("ABC123", events.EventTypeParticipantJoined)); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	if err := ch.PublishEvent(context.Background(), testEvent("ABC123", events.EventTypeStepTransitioned)); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	if joins.count() != 1 {
		t.Errorf("typed subscriber saw %d events, want 1", joins.count())
	}
	if all.count() != 2 {
		t.Errorf("catch-all subscriber saw %d events, want 2", all.count())
	}

	if _, err := ch.SubscribeToEventType("BOGUS", joins.handle); err == nil {
		t.Error("SubscribeToEventType(BOGUS) error = nil, want error")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	tr := transport.NewMemoryTransport()
	ch, err := New("ABC123", tr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ch.Cleanup()

	var got counter
	unsubscribe, err := ch.SubscribeToEvents(got.handle)
	if err != nil {
		t.Fatalf("SubscribeToEvents() error = %v", err)
	}

	if err := ch.PublishEvent(context.Background(), testEvent("ABC123", events.EventTypeParticipantJoined)); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	unsubscribe()
	if err := ch.PublishEvent(context.Background(), testEvent("ABC123", events.EventTypeParticipantJoined)); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	if got.count() != 1 {
		t.Fatalf("delivered %d events after unsubscribe, want 1", got.count())
	}
}

func TestCleanupMakesChannelInert(t *testing.T) {
	tr := transport.NewMemoryTransport()
	ch, err := New("ABC123", tr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ch.Cleanup()
	ch.Cleanup() // idempotent

	if err := ch.PublishEvent(context.Background(), testEvent("ABC123", events.EventTypeParticipantJoined)); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("PublishEvent() after Cleanup = %v, want ErrChannelClosed", err)
	}
	if _, err := ch.SubscribeToEvents(func(*events.RoomEvent) {}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("SubscribeToEvents() after Cleanup = %v, want ErrChannelClosed", err)
	}
}

func TestNewRejectsBadRoomCode(t *testing.T) {
	tr := transport.NewMemoryTransport()
	if _, err := New("abc123", tr); err == nil {
		t.Fatal("New(lowercase code) error = nil, want error")
	}
}

func TestManagerReusesAndClosesChannels(t *testing.T) {
	tr := transport.NewMemoryTransport()
	m := NewManager(tr)
	defer m.CloseAll()

	first, err := m.Channel("ABC123")
	if err != nil {
		t.Fatalf("Channel() error = %v", err)
	}
	again, err := m.Channel("ABC123")
	if err != nil {
		t.Fatalf("Channel() error = %v", err)
	}
	if first != again {
		t.Fatal("manager returned a new channel for the same room")
	}

	m.CloseRoom("ABC123")
	if err := first.PublishEvent(context.Background(), testEvent("ABC123", events.EventTypeParticipantJoined)); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("PublishEvent() on closed room = %v, want ErrChannelClosed", err)
	}

	// A reused room code gets a fresh channel, not the closed one.
	fresh, err := m.Channel("ABC123")
	if err != nil {
		t.Fatalf("Channel() after CloseRoom error = %v", err)
	}
	if fresh == first {
		t.Fatal("manager resurrected a closed channel")
	}
}
