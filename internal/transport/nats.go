package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the NATS-backed transport.
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	PublishTimeout time.Duration
}

// DefaultNATSConfig returns default NATS transport configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		MaxReconnects:  -1, // Infinite
		ReconnectWait:  2 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// NATSTransport carries room events and presence over core NATS subjects:
// room.<CODE>.events and room.<CODE>.presence. The presence roster is a local
// view converged from presence traffic.
type NATSTransport struct {
	nc     *nats.Conn
	config NATSConfig

	mu     sync.RWMutex
	roster map[string]map[string]Member // roomCode -> memberID -> member
	closed bool
}

// NewNATSTransport connects to NATS and returns a transport bound to it.
func NewNATSTransport(config NATSConfig) (*NATSTransport, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSTransport{
		nc:     nc,
		config: config,
		roster: make(map[string]map[string]Member),
	}, nil
}

func eventsSubject(roomCode string) string {
	return fmt.Sprintf("room.%s.events", roomCode)
}

func presenceSubject(roomCode string) string {
	return fmt.Sprintf("room.%s.presence", roomCode)
}

// Publish sends raw event bytes to the room's event subject.
func (t *NATSTransport) Publish(ctx context.Context, roomCode string, data []byte) error {
	if t.isClosed() {
		return ErrClosed
	}
	if err := t.nc.Publish(eventsSubject(roomCode), data); err != nil {
		return fmt.Errorf("publish to %s: %w", eventsSubject(roomCode), err)
	}
	// Bound the flush so a wedged connection surfaces as an error instead of
	// an indefinite hang.
	timeout := t.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if err := t.nc.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("flush publish to %s: %w", eventsSubject(roomCode), err)
	}
	return nil
}

// Subscribe registers a handler for the room's event subject.
func (t *NATSTransport) Subscribe(roomCode string, handler func(data []byte)) (Unsubscribe, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	sub, err := t.nc.Subscribe(eventsSubject(roomCode), func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", eventsSubject(roomCode), err)
	}
	return unsubscribeOnce(sub), nil
}

// EnterPresence announces a member on the presence subject.
func (t *NATSTransport) EnterPresence(ctx context.Context, roomCode string, member Member) error {
	return t.publishPresence(ctx, roomCode, PresenceEvent{Action: PresenceEnter, Member: member})
}

// UpdatePresence refreshes a member's presence data.
func (t *NATSTransport) UpdatePresence(ctx context.Context, roomCode string, member Member) error {
	return t.publishPresence(ctx, roomCode, PresenceEvent{Action: PresenceUpdate, Member: member})
}

// LeavePresence withdraws a member.
func (t *NATSTransport) LeavePresence(ctx context.Context, roomCode string, memberID string) error {
	return t.publishPresence(ctx, roomCode, PresenceEvent{Action: PresenceLeave, Member: Member{ID: memberID}})
}

func (t *NATSTransport) publishPresence(ctx context.Context, roomCode string, event PresenceEvent) error {
	if t.isClosed() {
		return ErrClosed
	}
	t.applyPresence(roomCode, event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	if err := t.nc.Publish(presenceSubject(roomCode), data); err != nil {
		return fmt.Errorf("publish presence to %s: %w", presenceSubject(roomCode), err)
	}
	return nil
}

// GetPresence returns the local presence view for the room.
func (t *NATSTransport) GetPresence(ctx context.Context, roomCode string) ([]Member, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := make([]Member, 0, len(t.roster[roomCode]))
	for _, m := range t.roster[roomCode] {
		members = append(members, m)
	}
	return members, nil
}

// SubscribePresence registers a handler for the room's presence subject.
// The transport also folds received transitions into its local roster.
func (t *NATSTransport) SubscribePresence(roomCode string, handler func(PresenceEvent)) (Unsubscribe, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	sub, err := t.nc.Subscribe(presenceSubject(roomCode), func(msg *nats.Msg) {
		var event PresenceEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Error().Err(err).Str("room_code", roomCode).Msg("malformed presence message dropped")
			return
		}
		t.applyPresence(roomCode, event)
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", presenceSubject(roomCode), err)
	}
	return unsubscribeOnce(sub), nil
}

func (t *NATSTransport) applyPresence(roomCode string, event PresenceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
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
}

func (t *NATSTransport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Close drains the NATS connection.
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.nc.Drain(); err != nil {
		t.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

func unsubscribeOnce(sub *nats.Subscription) Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				log.Error().Err(err).Str("subject", sub.Subject).Msg("failed to unsubscribe")
			}
		})
	}
}
