package reveal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mkoval/sortroom/internal/channel"
	"github.com/mkoval/sortroom/internal/events"
	"github.com/mkoval/sortroom/internal/models"
	"github.com/mkoval/sortroom/internal/session"
	"github.com/mkoval/sortroom/internal/transport"
)

// ErrInvalidSelection marks reveal requests rejected before any state
// change: wrong pile size, unknown reveal type, or arranging while hidden.
var ErrInvalidSelection = errors.New("invalid selection")

// Coordinator drives one participant's reveal state machine and mirrors the
// rest of the room through its StateStore. Transitions persist through the
// session coordinator first, then broadcast; a failed broadcast after a
// reveal rolls the persisted flag back so registry and room never disagree
// for longer than the compensation takes.
type Coordinator struct {
	roomCode      string
	participantID string

	sessions *session.Coordinator
	ch       *channel.RoomChannel
	store    *StateStore
	clock    clockwork.Clock

	mu          sync.Mutex
	own         map[models.RevealType]State
	unsubscribe transport.Unsubscribe
	closed      bool
}

// NewCoordinator binds a reveal coordinator for participantID in roomCode
// and starts mirroring the room's reveal traffic.
func NewCoordinator(roomCode, participantID string, sessions *session.Coordinator, ch *channel.RoomChannel) (*Coordinator, error) {
	return NewCoordinatorWithClock(roomCode, participantID, sessions, ch, clockwork.NewRealClock())
}

// NewCoordinatorWithClock is NewCoordinator with an injected clock.
func NewCoordinatorWithClock(roomCode, participantID string, sessions *session.Coordinator, ch *channel.RoomChannel, clock clockwork.Clock) (*Coordinator, error) {
	c := &Coordinator{
		roomCode:      roomCode,
		participantID: participantID,
		sessions:      sessions,
		ch:            ch,
		store:         NewStateStore(),
		clock:         clock,
		own: map[models.RevealType]State{
			models.RevealTop8: StateHidden,
			models.RevealTop3: StateHidden,
		},
	}

	unsubscribe, err := ch.SubscribeToEvents(c.store.ProcessEvent)
	if err != nil {
		return nil, fmt.Errorf("subscribe reveal store: %w", err)
	}
	c.unsubscribe = unsubscribe
	return c, nil
}

// Store exposes the read model for roster rendering.
func (c *Coordinator) Store() *StateStore {
	return c.store
}

// RevealSelection transitions (participant, rt) to REVEALED. The transition
// is guarded: it is only reachable with exactly the pile size rt requires.
func (c *Coordinator) RevealSelection(ctx context.Context, rt models.RevealType, cards []models.CardPlacement) error {
	if err := c.guardCards(rt, cards); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return channel.ErrChannelClosed
	}
	c.mu.Unlock()

	now := c.clock.Now()
	status := models.StatusRevealed8
	if rt == models.RevealTop3 {
		status = models.StatusRevealed3
	}
	err := c.sessions.UpdateParticipantReveal(ctx, c.roomCode, c.participantID, session.RevealData{
		Type:     rt,
		Revealed: true,
		Cards:    cards,
		Status:   status,
	})
	if err != nil {
		return err
	}

	if err := c.broadcast(ctx, events.EventTypeSelectionRevealed, events.SelectionRevealedPayload{
		ParticipantID: c.participantID,
		RevealType:    rt,
		CardPositions: cards,
		LastUpdated:   now,
	}); err != nil {
		// Compensate: un-persist the reveal so registry state matches what
		// the room saw. If the compensation itself fails the residue is
		// reclaimed by TTL eviction.
		if rbErr := c.sessions.UpdateParticipantReveal(ctx, c.roomCode, c.participantID, session.RevealData{
			Type:     rt,
			Revealed: false,
			Status:   models.StatusSorting,
		}); rbErr != nil {
			log.Error().Err(rbErr).
				Str("room_code", c.roomCode).
				Str("participant_id", c.participantID).
				Msg("reveal rollback failed")
		}
		return fmt.Errorf("broadcast reveal: %w", err)
	}

	c.setOwn(rt, StateRevealed)
	log.Info().
		Str("room_code", c.roomCode).
		Str("participant_id", c.participantID).
		Str("reveal_type", string(rt)).
		Int("cards", len(cards)).
		Msg("selection revealed")
	return nil
}

// UnrevealSelection transitions back to HIDDEN, clears the stored
// arrangement and broadcasts the removal.
func (c *Coordinator) UnrevealSelection(ctx context.Context, rt models.RevealType) error {
	if !rt.Valid() {
		return fmt.Errorf("%w: unknown reveal type %q", ErrInvalidSelection, rt)
	}

	err := c.sessions.UpdateParticipantReveal(ctx, c.roomCode, c.participantID, session.RevealData{
		Type:     rt,
		Revealed: false,
		Status:   models.StatusSorting,
	})
	if err != nil {
		return err
	}
	c.setOwn(rt, StateHidden)

	if err := c.broadcast(ctx, events.EventTypeSelectionHidden, events.SelectionHiddenPayload{
		ParticipantID: c.participantID,
		RevealType:    rt,
		LastUpdated:   c.clock.Now(),
	}); err != nil {
		// Hidden is the safe state; the registry already cleared the
		// arrangement, remote read models converge on the next snapshot.
		return fmt.Errorf("broadcast unreveal: %w", err)
	}
	return nil
}

// UpdateArrangement re-broadcasts the latest positions while REVEALED. This
// is a live-updating share, not a one-shot snapshot.
func (c *Coordinator) UpdateArrangement(ctx context.Context, rt models.RevealType, cards []models.CardPlacement) error {
	if err := c.guardCards(rt, cards); err != nil {
		return err
	}
	if c.ownState(rt) != StateRevealed {
		return fmt.Errorf("%w: arrangement update for %s while not revealed", ErrInvalidSelection, rt)
	}

	err := c.sessions.UpdateParticipantReveal(ctx, c.roomCode, c.participantID, session.RevealData{
		Type:     rt,
		Revealed: true,
		Cards:    cards,
	})
	if err != nil {
		return err
	}
	return c.broadcast(ctx, events.EventTypeArrangementUpdated, events.ArrangementUpdatedPayload{
		ParticipantID: c.participantID,
		RevealType:    rt,
		CardPositions: cards,
		LastUpdated:   c.clock.Now(),
	})
}

// JoinViewer marks this participant as viewing the target's reveal. The
// viewer set powers an informational count only; it gates nothing.
func (c *Coordinator) JoinViewer(ctx context.Context, targetParticipantID string, rt models.RevealType) error {
	return c.broadcast(ctx, events.EventTypeViewerJoined, events.ViewerJoinedPayload{
		TargetParticipantID: targetParticipantID,
		RevealType:          rt,
	})
}

// LeaveViewer withdraws this participant from the target's viewer set.
func (c *Coordinator) LeaveViewer(ctx context.Context, targetParticipantID string, rt models.RevealType) error {
	return c.broadcast(ctx, events.EventTypeViewerLeft, events.ViewerLeftPayload{
		TargetParticipantID: targetParticipantID,
		RevealType:          rt,
	})
}

// GetRevealedParticipants queries the read model over all known reveal
// states.
func (c *Coordinator) GetRevealedParticipants() []RevealState {
	return c.store.RevealedParticipants()
}

// Close unsubscribes the store from room traffic.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Coordinator) guardCards(rt models.RevealType, cards []models.CardPlacement) error {
	if !rt.Valid() {
		return fmt.Errorf("%w: unknown reveal type %q", ErrInvalidSelection, rt)
	}
	if len(cards) != rt.RequiredCards() {
		return fmt.Errorf("%w: %s requires exactly %d cards, got %d", ErrInvalidSelection, rt, rt.RequiredCards(), len(cards))
	}
	return nil
}

func (c *Coordinator) broadcast(ctx context.Context, eventType events.EventType, payload interface{}) error {
	event, err := c.sessions.NewEvent(c.roomCode, c.participantID, eventType, payload)
	if err != nil {
		return err
	}
	return c.ch.PublishEvent(ctx, event)
}

func (c *Coordinator) ownState(rt models.RevealType) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.own[rt]
}

func (c *Coordinator) setOwn(rt models.RevealType, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.own[rt] = state
}
