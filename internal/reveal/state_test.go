package reveal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mkoval/sortroom/internal/events"
	"github.com/mkoval/sortroom/internal/models"
)

func storeEvent(t *testing.T, eventType events.EventType, participantID string, payload interface{}) *events.RoomEvent {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &events.RoomEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		RoomCode:      "ABC123",
		ParticipantID: participantID,
		Timestamp:     time.Now(),
		Version:       events.SchemaVersion,
		Payload:       data,
	}
}

func TestStateStoreDefaultsToHidden(t *testing.T) {
	ss := NewStateStore()
	state := ss.Get("nobody", models.RevealTop8)
	if state.State != StateHidden {
		t.Errorf("unknown participant state = %s, want HIDDEN", state.State)
	}
	if len(ss.RevealedParticipants()) != 0 {
		t.Errorf("empty store lists revealed participants")
	}
}

func TestStaleSnapshotDiscarded(t *testing.T) {
	ss := NewStateStore()
	base := time.Now()
	cards := []models.CardPlacement{{CardID: "c1"}, {CardID: "c2"}, {CardID: "c3"}}

	ss.ProcessEvent(storeEvent(t, events.EventTypeSelectionRevealed, "p1", events.SelectionRevealedPayload{
		ParticipantID: "p1",
		RevealType:    models.RevealTop3,
		CardPositions: cards,
		LastUpdated:   base.Add(10 * time.Second),
	}))

	// A hide snapshot stamped before the reveal arrives late; arrival order
	// must not win over snapshot time.
	ss.ProcessEvent(storeEvent(t, events.EventTypeSelectionHidden, "p1", events.SelectionHiddenPayload{
		ParticipantID: "p1",
		RevealType:    models.RevealTop3,
		LastUpdated:   base.Add(5 * time.Second),
	}))

	state := ss.Get("p1", models.RevealTop3)
	if state.State != StateRevealed {
		t.Fatalf("state after stale hide = %s, want REVEALED", state.State)
	}
	if len(state.Cards) != 3 {
		t.Errorf("cards after stale hide = %d, want 3", len(state.Cards))
	}

	// A hide stamped after the reveal applies normally.
	ss.ProcessEvent(storeEvent(t, events.EventTypeSelectionHidden, "p1", events.SelectionHiddenPayload{
		ParticipantID: "p1",
		RevealType:    models.RevealTop3,
		LastUpdated:   base.Add(20 * time.Second),
	}))
	state = ss.Get("p1", models.RevealTop3)
	if state.State != StateHidden {
		t.Fatalf("state after later hide = %s, want HIDDEN", state.State)
	}
	if len(state.Cards) != 0 {
		t.Errorf("cards not cleared on hide: %d", len(state.Cards))
	}
}

func TestViewerTracking(t *testing.T) {
	ss := NewStateStore()

	ss.ProcessEvent(storeEvent(t, events.EventTypeViewerJoined, "viewer-1", events.ViewerJoinedPayload{
		TargetParticipantID: "p1",
		RevealType:          models.RevealTop8,
	}))
	ss.ProcessEvent(storeEvent(t, events.EventTypeViewerJoined, "viewer-2", events.ViewerJoinedPayload{
		TargetParticipantID: "p1",
		RevealType:          models.RevealTop8,
	}))
	if got := ss.ViewerCount("p1", models.RevealTop8); got != 2 {
		t.Fatalf("ViewerCount() = %d, want 2", got)
	}

	ss.ProcessEvent(storeEvent(t, events.EventTypeViewerLeft, "viewer-1", events.ViewerLeftPayload{
		TargetParticipantID: "p1",
		RevealType:          models.RevealTop8,
	}))
	if got := ss.ViewerCount("p1", models.RevealTop8); got != 1 {
		t.Fatalf("ViewerCount() after leave = %d, want 1", got)
	}
}

func TestParticipantLeftEventClearsDepartedState(t *testing.T) {
	ss := NewStateStore()
	base := time.Now()

	ss.ProcessEvent(storeEvent(t, events.EventTypeSelectionRevealed, "p1", events.SelectionRevealedPayload{
		ParticipantID: "p1",
		RevealType:    models.RevealTop8,
		CardPositions: make([]models.CardPlacement, 8),
		LastUpdated:   base,
	}))
	ss.ProcessEvent(storeEvent(t, events.EventTypeViewerJoined, "p1", events.ViewerJoinedPayload{
		TargetParticipantID: "p2",
		RevealType:          models.RevealTop8,
	}))

	ss.ProcessEvent(storeEvent(t, events.EventTypeParticipantLeft, "p1", events.ParticipantLeftPayload{
		ParticipantName: "Ada",
		LeftAt:          base.Add(time.Second),
	}))

	if got := ss.Get("p1", models.RevealTop8); got.State != StateHidden {
		t.Errorf("departed participant state = %s, want HIDDEN", got.State)
	}
	if len(ss.RevealedParticipants()) != 0 {
		t.Errorf("departed participant still listed as revealed")
	}
	if got := ss.ViewerCount("p2", models.RevealTop8); got != 0 {
		t.Errorf("departed participant still counted as viewer: %d", got)
	}
}

func TestDropParticipantClearsOwnedAndViewedState(t *testing.T) {
	ss := NewStateStore()
	base := time.Now()

	ss.ProcessEvent(storeEvent(t, events.EventTypeSelectionRevealed, "p1", events.SelectionRevealedPayload{
		ParticipantID: "p1",
		RevealType:    models.RevealTop8,
		CardPositions: make([]models.CardPlacement, 8),
		LastUpdated:   base,
	}))
	ss.ProcessEvent(storeEvent(t, events.EventTypeViewerJoined, "p1", events.ViewerJoinedPayload{
		TargetParticipantID: "p2",
		RevealType:          models.RevealTop8,
	}))

	ss.DropParticipant("p1")

	if got := ss.Get("p1", models.RevealTop8); got.State != StateHidden {
		t.Errorf("dropped participant state = %s, want HIDDEN", got.State)
	}
	if got := ss.ViewerCount("p2", models.RevealTop8); got != 0 {
		t.Errorf("dropped participant still counted as viewer: %d", got)
	}
}
