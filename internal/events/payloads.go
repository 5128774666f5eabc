package events

import (
	"time"

	"github.com/mkoval/sortroom/internal/models"
)

// ParticipantJoinedPayload is the payload for a PARTICIPANT_JOINED event.
type ParticipantJoinedPayload struct {
	Participant models.Participant `json:"participant"`
	Reactivated bool               `json:"reactivated,omitempty"`
}

// ParticipantLeftPayload is the payload for a PARTICIPANT_LEFT event.
type ParticipantLeftPayload struct {
	ParticipantName string    `json:"participant_name"`
	LeftAt          time.Time `json:"left_at"`
}

// StepTransitionedPayload is the payload for a STEP_TRANSITIONED event.
type StepTransitionedPayload struct {
	FromStep        int    `json:"from_step"`
	ToStep          int    `json:"to_step"`
	ParticipantName string `json:"participant_name"`
}

// SelectionRevealedPayload is the payload for a SELECTION_REVEALED event.
type SelectionRevealedPayload struct {
	ParticipantID string                 `json:"participant_id"`
	RevealType    models.RevealType      `json:"reveal_type"`
	CardPositions []models.CardPlacement `json:"card_positions"`
	LastUpdated   time.Time              `json:"last_updated"`
}

// SelectionHiddenPayload is the payload for a SELECTION_HIDDEN event.
type SelectionHiddenPayload struct {
	ParticipantID string            `json:"participant_id"`
	RevealType    models.RevealType `json:"reveal_type"`
	LastUpdated   time.Time         `json:"last_updated"`
}

// ArrangementUpdatedPayload is the payload for an ARRANGEMENT_UPDATED event.
// It carries the full latest positions, not a delta, so a consumer that
// missed an update converges on the next one.
type ArrangementUpdatedPayload struct {
	ParticipantID string                 `json:"participant_id"`
	RevealType    models.RevealType      `json:"reveal_type"`
	CardPositions []models.CardPlacement `json:"card_positions"`
	LastUpdated   time.Time              `json:"last_updated"`
}

// ViewerJoinedPayload is the payload for a VIEWER_JOINED event.
type ViewerJoinedPayload struct {
	TargetParticipantID string            `json:"target_participant_id"`
	RevealType          models.RevealType `json:"reveal_type"`
}

// ViewerLeftPayload is the payload for a VIEWER_LEFT event.
type ViewerLeftPayload struct {
	TargetParticipantID string            `json:"target_participant_id"`
	RevealType          models.RevealType `json:"reveal_type"`
}
