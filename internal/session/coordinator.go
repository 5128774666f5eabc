package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mkoval/sortroom/internal/channel"
	"github.com/mkoval/sortroom/internal/events"
	"github.com/mkoval/sortroom/internal/models"
	"github.com/mkoval/sortroom/internal/registry"
	"github.com/mkoval/sortroom/internal/transport"
)

// Hard cap on participants per room, applied over any caller config.
const maxParticipantsCap = 50

// RevealData is the durable side of a reveal: which pile, whether it is
// revealed, the arrangement snapshot, and an optional status transition.
type RevealData struct {
	Type     models.RevealType        `json:"type"`
	Revealed bool                     `json:"revealed"`
	Cards    []models.CardPlacement   `json:"cards,omitempty"`
	Status   models.ParticipantStatus `json:"status,omitempty"`
}

// Coordinator orchestrates create, join-or-create, leave, reactivation and
// reveal persistence. It is the only caller of the registry.
type Coordinator struct {
	registry  *registry.Registry
	channels  *channel.Manager
	transport transport.Transport
	clock     clockwork.Clock
}

// NewCoordinator wires a coordinator over its registry, channel manager and
// transport (used for the presence primitive).
func NewCoordinator(reg *registry.Registry, channels *channel.Manager, tr transport.Transport) *Coordinator {
	return NewCoordinatorWithClock(reg, channels, tr, clockwork.NewRealClock())
}

// NewCoordinatorWithClock is NewCoordinator with an injected clock for tests.
func NewCoordinatorWithClock(reg *registry.Registry, channels *channel.Manager, tr transport.Transport, clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		registry:  reg,
		channels:  channels,
		transport: tr,
		clock:     clock,
	}
}

// CreateSession creates a room with a generated code.
func (c *Coordinator) CreateSession(ctx context.Context, config models.SessionConfig) (*models.Session, error) {
	session, err := c.registry.CreateSession(clampConfig(config))
	if err != nil {
		return nil, wrapError(ErrCodeInternal, "failed to create session", err)
	}
	return snapshotSession(session), nil
}

// GetSession returns a read-only snapshot of the room.
func (c *Coordinator) GetSession(code string) (*models.Session, error) {
	code, err := sanitizeCode(code)
	if err != nil {
		return nil, err
	}
	session, err := c.registry.GetSession(code)
	if err != nil {
		return nil, mapRegistryError(code, err)
	}
	return snapshotSession(session), nil
}

// JoinOrCreateSession joins code, creating the room first if it does not
// exist. Concurrent callers for the same new code converge on exactly one
// room: the atomic check-and-set picks one winner and every loser falls back
// to a plain join.
func (c *Coordinator) JoinOrCreateSession(ctx context.Context, code, name, clientID string, config models.SessionConfig) (*models.Session, *models.Participant, error) {
	code, err := sanitizeCode(code)
	if err != nil {
		return nil, nil, err
	}
	if _, err := sanitizeName(name); err != nil {
		return nil, nil, err
	}

	// Normal join against an existing room first.
	session, participant, err := c.JoinSession(ctx, code, name, clientID)
	if err == nil {
		return session, participant, nil
	}
	if !IsCode(err, ErrCodeNotFound) && !IsCode(err, ErrCodeExpired) {
		return nil, nil, err
	}

	created, _, err := c.registry.CreateSessionIfNotExists(code, clampConfig(config))
	if err != nil {
		return nil, nil, wrapError(ErrCodeInternal, "failed to create session", err)
	}
	if !created {
		// Lost the creation race; the winner's room is the room.
		return c.JoinSession(ctx, code, name, clientID)
	}

	session, participant, err = c.JoinSession(ctx, code, name, clientID)
	if err != nil {
		c.rollbackEmptyRoom(code)
		return nil, nil, err
	}
	return session, participant, nil
}

// rollbackEmptyRoom is the best-effort rollback of a just-created room: the
// delete is guarded on the room still being unoccupied, so a concurrent
// joiner who got in between the create and the failed join keeps the room.
// Residue from a failed delete is reclaimed by TTL eviction.
func (c *Coordinator) rollbackEmptyRoom(code string) {
	var empty bool
	err := c.registry.UpdateSession(code, func(s *models.Session) error {
		empty = len(s.Participants) == 0
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("room_code", code).Msg("rollback delete found no session")
		return
	}
	if !empty {
		log.Info().Str("room_code", code).Msg("rollback skipped, room occupied")
		return
	}
	if !c.registry.DeleteSession(code) {
		log.Warn().Str("room_code", code).Msg("rollback delete found no session")
	}
	c.channels.CloseRoom(code)
}

// JoinSession adds name to the room, or reactivates the participant holding
// clientID in place: id, stored placements and revealed flags survive a
// reconnect, only the name and activity timestamps refresh.
func (c *Coordinator) JoinSession(ctx context.Context, code, name, clientID string) (*models.Session, *models.Participant, error) {
	code, err := sanitizeCode(code)
	if err != nil {
		return nil, nil, err
	}
	name, err = sanitizeName(name)
	if err != nil {
		return nil, nil, err
	}

	var (
		sessionSnap     *models.Session
		participantSnap models.Participant
		reactivated     bool
	)
	err = c.registry.UpdateSession(code, func(s *models.Session) error {
		now := c.clock.Now()

		if existing := s.FindParticipantByClientID(clientID); existing != nil {
			existing.Name = resolveName(s, name, existing.ID, now)
			existing.IsActive = true
			existing.LastActivity = now
			participantSnap = existing.Snapshot()
			reactivated = true
			sessionSnap = snapshotSession(s)
			return nil
		}

		if s.IsFull() {
			return newError(ErrCodeRoomFull, fmt.Sprintf("room %s is full (%d participants)", s.Code, s.MaxParticipants))
		}

		color, emoji := assignAppearance(s)
		p := &models.Participant{
			ID:           uuid.NewString(),
			ClientID:     clientID,
			Name:         resolveName(s, name, "", now),
			Color:        color,
			Emoji:        emoji,
			CurrentStep:  1,
			Status:       models.StatusSorting,
			IsActive:     true,
			JoinedAt:     now,
			LastActivity: now,
		}
		s.Participants = append(s.Participants, p)
		participantSnap = p.Snapshot()
		sessionSnap = snapshotSession(s)
		return nil
	})
	if err != nil {
		var de *DomainError
		if errors.As(err, &de) {
			return nil, nil, de
		}
		return nil, nil, mapRegistryError(code, err)
	}

	if err := c.registry.UpdateLastActivity(code); err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to refresh session activity")
	}

	c.publishEvent(ctx, code, participantSnap.ID, events.EventTypeParticipantJoined, events.ParticipantJoinedPayload{
		Participant: participantSnap,
		Reactivated: reactivated,
	})
	c.enterPresence(ctx, code, participantSnap)

	log.Info().
		Str("room_code", code).
		Str("participant_id", participantSnap.ID).
		Str("name", participantSnap.Name).
		Bool("reactivated", reactivated).
		Msg("participant joined")
	return sessionSnap, &participantSnap, nil
}

// LeaveSession removes the participant; an emptied room is deleted outright,
// tying room lifetime to occupancy as well as TTL.
func (c *Coordinator) LeaveSession(ctx context.Context, code, participantID string) error {
	code, err := sanitizeCode(code)
	if err != nil {
		return err
	}

	var (
		leftName string
		empty    bool
	)
	err = c.registry.UpdateSession(code, func(s *models.Session) error {
		p := s.FindParticipant(participantID)
		if p == nil {
			return newError(ErrCodeNotFound, fmt.Sprintf("participant %s not in room %s", participantID, code))
		}
		leftName = p.Name
		s.RemoveParticipant(participantID)
		empty = len(s.Participants) == 0
		return nil
	})
	if err != nil {
		var de *DomainError
		if errors.As(err, &de) {
			return de
		}
		return mapRegistryError(code, err)
	}

	c.leavePresence(ctx, code, participantID)

	if empty {
		c.registry.DeleteSession(code)
		c.channels.CloseRoom(code)
		log.Info().Str("room_code", code).Msg("room emptied and deleted")
		return nil
	}

	if err := c.registry.UpdateLastActivity(code); err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to refresh session activity")
	}
	c.publishEvent(ctx, code, participantID, events.EventTypeParticipantLeft, events.ParticipantLeftPayload{
		ParticipantName: leftName,
		LeftAt:          c.clock.Now(),
	})
	log.Info().Str("room_code", code).Str("participant_id", participantID).Msg("participant left")
	return nil
}

// UpdateParticipantActivity refreshes a participant's activity and, when
// step is non-nil and changed, records the step transition.
func (c *Coordinator) UpdateParticipantActivity(ctx context.Context, code, participantID string, step *int) error {
	code, err := sanitizeCode(code)
	if err != nil {
		return err
	}
	if step != nil && (*step < 1 || *step > 3) {
		return newError(ErrCodeInternal, fmt.Sprintf("step %d out of range 1..3", *step))
	}

	var (
		fromStep, toStep int
		name             string
		transitioned     bool
		snap             models.Participant
	)
	err = c.registry.UpdateSession(code, func(s *models.Session) error {
		p := s.FindParticipant(participantID)
		if p == nil {
			return newError(ErrCodeNotFound, fmt.Sprintf("participant %s not in room %s", participantID, code))
		}
		now := c.clock.Now()
		p.LastActivity = now
		p.IsActive = true
		if step != nil && *step != p.CurrentStep {
			fromStep, toStep = p.CurrentStep, *step
			p.CurrentStep = *step
			name = p.Name
			transitioned = true
		}
		snap = p.Snapshot()
		return nil
	})
	if err != nil {
		var de *DomainError
		if errors.As(err, &de) {
			return de
		}
		return mapRegistryError(code, err)
	}

	if err := c.registry.UpdateLastActivity(code); err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to refresh session activity")
	}
	if transitioned {
		c.publishEvent(ctx, code, participantID, events.EventTypeStepTransitioned, events.StepTransitionedPayload{
			FromStep:        fromStep,
			ToStep:          toStep,
			ParticipantName: name,
		})
	}
	c.updatePresence(ctx, code, snap)
	return nil
}

// UpdateParticipantReveal persists the reveal flag and arrangement snapshot
// on the participant record. Broadcasting is the reveal coordinator's job.
func (c *Coordinator) UpdateParticipantReveal(ctx context.Context, code, participantID string, data RevealData) error {
	code, err := sanitizeCode(code)
	if err != nil {
		return err
	}
	if !data.Type.Valid() {
		return newError(ErrCodeInvalidReveal, fmt.Sprintf("unknown reveal type %q", data.Type))
	}
	if data.Revealed && len(data.Cards) != data.Type.RequiredCards() {
		return newError(ErrCodeInvalidReveal, fmt.Sprintf("%s reveal requires exactly %d cards, got %d",
			data.Type, data.Type.RequiredCards(), len(data.Cards)))
	}

	err = c.registry.UpdateSession(code, func(s *models.Session) error {
		p := s.FindParticipant(participantID)
		if p == nil {
			return newError(ErrCodeNotFound, fmt.Sprintf("participant %s not in room %s", participantID, code))
		}
		p.SetRevealed(data.Type, data.Revealed, data.Cards)
		if data.Status != "" {
			p.Status = data.Status
		}
		p.LastActivity = c.clock.Now()
		return nil
	})
	if err != nil {
		var de *DomainError
		if errors.As(err, &de) {
			return de
		}
		return mapRegistryError(code, err)
	}

	if err := c.registry.UpdateLastActivity(code); err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to refresh session activity")
	}
	return nil
}

// NewEvent builds a validated envelope for the room, stamped with a fresh id
// and the coordinator clock.
func (c *Coordinator) NewEvent(code, participantID string, eventType events.EventType, payload interface{}) (*events.RoomEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &events.RoomEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		RoomCode:      code,
		ParticipantID: participantID,
		Timestamp:     c.clock.Now(),
		Version:       events.SchemaVersion,
		Payload:       data,
	}, nil
}

// publishEvent broadcasts optimistically: a transport failure is logged and
// reported, never allowed to undo the registry mutation it follows. Missed
// broadcasts converge through later snapshots and TTL eviction.
func (c *Coordinator) publishEvent(ctx context.Context, code, participantID string, eventType events.EventType, payload interface{}) {
	event, err := c.NewEvent(code, participantID, eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	if err := c.channels.Publish(ctx, event); err != nil {
		log.Error().Err(err).
			Str("room_code", code).
			Str("event_type", string(eventType)).
			Str("event_id", event.ID).
			Msg("failed to publish event")
	}
}

func (c *Coordinator) enterPresence(ctx context.Context, code string, p models.Participant) {
	member, err := presenceMember(p)
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to build presence member")
		return
	}
	if err := c.transport.EnterPresence(ctx, code, member); err != nil {
		log.Error().Err(err).Str("room_code", code).Str("participant_id", p.ID).Msg("presence enter failed")
	}
}

func (c *Coordinator) updatePresence(ctx context.Context, code string, p models.Participant) {
	member, err := presenceMember(p)
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to build presence member")
		return
	}
	if err := c.transport.UpdatePresence(ctx, code, member); err != nil {
		log.Error().Err(err).Str("room_code", code).Str("participant_id", p.ID).Msg("presence update failed")
	}
}

func (c *Coordinator) leavePresence(ctx context.Context, code, participantID string) {
	if err := c.transport.LeavePresence(ctx, code, participantID); err != nil {
		log.Error().Err(err).Str("room_code", code).Str("participant_id", participantID).Msg("presence leave failed")
	}
}

func presenceMember(p models.Participant) (transport.Member, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return transport.Member{}, err
	}
	return transport.Member{ID: p.ID, Data: data}, nil
}

func clampConfig(config models.SessionConfig) models.SessionConfig {
	defaults := models.DefaultSessionConfig()
	if config.MaxParticipants <= 0 {
		config.MaxParticipants = defaults.MaxParticipants
	}
	if config.MaxParticipants > maxParticipantsCap {
		config.MaxParticipants = maxParticipantsCap
	}
	if config.TimeoutMinutes <= 0 {
		config.TimeoutMinutes = defaults.TimeoutMinutes
	}
	return config
}

func mapRegistryError(code string, err error) error {
	switch {
	case errors.Is(err, registry.ErrSessionNotFound):
		return wrapError(ErrCodeNotFound, fmt.Sprintf("room %s not found", code), err)
	case errors.Is(err, registry.ErrSessionExpired):
		return wrapError(ErrCodeExpired, fmt.Sprintf("room %s has expired", code), err)
	default:
		return wrapError(ErrCodeInternal, fmt.Sprintf("registry operation failed for room %s", code), err)
	}
}

func snapshotSession(s *models.Session) *models.Session {
	snap := *s
	snap.Participants = make([]*models.Participant, len(s.Participants))
	for i, p := range s.Participants {
		cp := p.Snapshot()
		snap.Participants[i] = &cp
	}
	return &snap
}
