package events

import (
	"encoding/json"
	"time"
)

// SchemaVersion is stamped on every envelope this process emits.
const SchemaVersion = 1

// RoomEvent is the envelope for all domain events carried between
// participants of a room.
type RoomEvent struct {
	ID            string          `json:"id"`             // Event UUID
	Type          EventType       `json:"type"`           // Event type
	RoomCode      string          `json:"room_code"`      // 6-character room code
	ParticipantID string          `json:"participant_id"` // Originating participant
	Timestamp     time.Time       `json:"timestamp"`      // Event creation time
	Version       int             `json:"version"`        // Schema version
	Payload       json.RawMessage `json:"payload"`        // Event-specific payload
}

// EventType represents the type of a room event.
type EventType string

const (
	EventTypeParticipantJoined  EventType = "PARTICIPANT_JOINED"
	EventTypeParticipantLeft    EventType = "PARTICIPANT_LEFT"
	EventTypeStepTransitioned   EventType = "STEP_TRANSITIONED"
	EventTypeSelectionRevealed  EventType = "SELECTION_REVEALED"
	EventTypeSelectionHidden    EventType = "SELECTION_HIDDEN"
	EventTypeArrangementUpdated EventType = "ARRANGEMENT_UPDATED"
	EventTypeViewerJoined       EventType = "VIEWER_JOINED"
	EventTypeViewerLeft         EventType = "VIEWER_LEFT"
)

// KnownType reports whether t is an event type this process understands.
func KnownType(t EventType) bool {
	switch t {
	case EventTypeParticipantJoined,
		EventTypeParticipantLeft,
		EventTypeStepTransitioned,
		EventTypeSelectionRevealed,
		EventTypeSelectionHidden,
		EventTypeArrangementUpdated,
		EventTypeViewerJoined,
		EventTypeViewerLeft:
		return true
	default:
		return false
	}
}

// ParsePayload parses the envelope's payload into the struct matching its
// type. Returns nil for unknown types.
func ParsePayload(event *RoomEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeParticipantJoined:
		var payload ParticipantJoinedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeParticipantLeft:
		var payload ParticipantLeftPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeStepTransitioned:
		var payload StepTransitionedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSelectionRevealed:
		var payload SelectionRevealedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSelectionHidden:
		var payload SelectionHiddenPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeArrangementUpdated:
		var payload ArrangementUpdatedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeViewerJoined:
		var payload ViewerJoinedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeViewerLeft:
		var payload ViewerLeftPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
