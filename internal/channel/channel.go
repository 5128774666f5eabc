package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mkoval/sortroom/internal/events"
	"github.com/mkoval/sortroom/internal/transport"
)

var (
	// ErrChannelClosed is returned by every operation after Cleanup.
	ErrChannelClosed = errors.New("room channel closed")
	// ErrRoomMismatch flags a publish whose event is bound to another room.
	// That is a programming error at the call site, not a transport fault.
	ErrRoomMismatch = errors.New("event room code does not match channel room")
)

// Default dedup bounds. The transport gives no worst-case redelivery delay,
// so a redelivery later than the window is processed twice; consumers are
// idempotent either way.
const (
	DefaultDedupEntries = 512
	DefaultDedupWindow  = 5 * time.Minute
)

// ErrorCallback receives malformed or invalid inbound events that were
// dropped before delivery.
type ErrorCallback func(err error, data []byte)

type subscriber struct {
	id        int
	eventType events.EventType // empty means all types
	handler   func(*events.RoomEvent)
}

// RoomChannel validates, deduplicates and fans out one room's domain events.
// It is scoped to a single room code; stray cross-room delivery never
// reaches a handler.
type RoomChannel struct {
	roomCode  string
	transport transport.Transport
	clock     clockwork.Clock

	mu          sync.Mutex
	subscribers []subscriber
	nextSubID   int
	seen        *dedupSet
	unsubscribe transport.Unsubscribe
	closed      bool
	onError     ErrorCallback
}

// Option configures a RoomChannel.
type Option func(*RoomChannel)

// WithClock injects a clock, used for envelope validation and the dedup
// window.
func WithClock(clock clockwork.Clock) Option {
	return func(c *RoomChannel) { c.clock = clock }
}

// WithErrorCallback registers a callback for dropped inbound events.
func WithErrorCallback(cb ErrorCallback) Option {
	return func(c *RoomChannel) { c.onError = cb }
}

// WithDedupBounds overrides the dedup cache's entry and age limits.
func WithDedupBounds(maxEntries int, window time.Duration) Option {
	return func(c *RoomChannel) { c.seen = newDedupSet(maxEntries, window) }
}

// New binds a channel to roomCode on the given transport and starts
// receiving.
func New(roomCode string, tr transport.Transport, opts ...Option) (*RoomChannel, error) {
	if !events.ValidRoomCode(roomCode) {
		return nil, fmt.Errorf("%w: %q", events.ErrInvalidRoomCode, roomCode)
	}

	c := &RoomChannel{
		roomCode:  roomCode,
		transport: tr,
		clock:     clockwork.NewRealClock(),
		seen:      newDedupSet(DefaultDedupEntries, DefaultDedupWindow),
	}
	for _, opt := range opts {
		opt(c)
	}

	unsubscribe, err := tr.Subscribe(roomCode, c.dispatch)
	if err != nil {
		return nil, fmt.Errorf("subscribe to room %s: %w", roomCode, err)
	}
	c.unsubscribe = unsubscribe
	return c, nil
}

// RoomCode returns the room this channel is bound to.
func (c *RoomChannel) RoomCode() string {
	return c.roomCode
}

// PublishEvent validates the envelope and hands it to the transport.
func (c *RoomChannel) PublishEvent(ctx context.Context, event *events.RoomEvent) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	now := c.clock.Now()
	c.mu.Unlock()

	if event.RoomCode != c.roomCode {
		return fmt.Errorf("%w: event %q bound to %q, channel bound to %q",
			ErrRoomMismatch, event.ID, event.RoomCode, c.roomCode)
	}
	if err := events.Validate(event, now); err != nil {
		return fmt.Errorf("invalid event envelope: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	if err := c.transport.Publish(ctx, c.roomCode, data); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}

// SubscribeToEvents registers handler for every event type. The returned
// function removes the subscription.
func (c *RoomChannel) SubscribeToEvents(handler func(*events.RoomEvent)) (transport.Unsubscribe, error) {
	return c.subscribe("", handler)
}

// SubscribeToEventType registers handler for a single event type.
func (c *RoomChannel) SubscribeToEventType(eventType events.EventType, handler func(*events.RoomEvent)) (transport.Unsubscribe, error) {
	if !events.KnownType(eventType) {
		return nil, fmt.Errorf("%w: %q", events.ErrUnknownType, eventType)
	}
	return c.subscribe(eventType, handler)
}

func (c *RoomChannel) subscribe(eventType events.EventType, handler func(*events.RoomEvent)) (transport.Unsubscribe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChannelClosed
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers = append(c.subscribers, subscriber{id: id, eventType: eventType, handler: handler})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.subscribers {
			if sub.id == id {
				c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
				return
			}
		}
	}, nil
}

// dispatch is the transport callback: unmarshal, validate, filter by room,
// deduplicate, then fan out in arrival order. Invalid traffic is dropped and
// reported, never delivered and never fatal.
func (c *RoomChannel) dispatch(data []byte) {
	var event events.RoomEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.reportError(fmt.Errorf("malformed event dropped: %w", err), data)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()

	if err := events.Validate(&event, now); err != nil {
		c.mu.Unlock()
		c.reportError(fmt.Errorf("invalid event %s dropped: %w", event.ID, err), data)
		return
	}
	// Second room-identity filter behind the transport's own routing.
	if event.RoomCode != c.roomCode {
		c.mu.Unlock()
		log.Warn().
			Str("event_id", event.ID).
			Str("event_room", event.RoomCode).
			Str("channel_room", c.roomCode).
			Msg("cross-room event dropped")
		return
	}
	if c.seen.observe(event.ID, now) {
		c.mu.Unlock()
		log.Debug().Str("event_id", event.ID).Str("room_code", c.roomCode).Msg("duplicate event dropped")
		return
	}

	targets := make([]subscriber, 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		if sub.eventType == "" || sub.eventType == event.Type {
			targets = append(targets, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range targets {
		sub.handler(&event)
	}
}

func (c *RoomChannel) reportError(err error, data []byte) {
	log.Error().Err(err).Str("room_code", c.roomCode).Msg("inbound event rejected")
	c.mu.Lock()
	cb := c.onError
	c.mu.Unlock()
	if cb != nil {
		cb(err, data)
	}
}

// Cleanup unsubscribes everything and makes the channel permanently inert.
// Subsequent publish and subscribe calls fail fast with ErrChannelClosed.
func (c *RoomChannel) Cleanup() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.subscribers = nil
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	log.Debug().Str("room_code", c.roomCode).Msg("room channel cleaned up")
}
