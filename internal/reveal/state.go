package reveal

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkoval/sortroom/internal/events"
	"github.com/mkoval/sortroom/internal/models"
)

// State is one side of the per-(participant, revealType) machine.
type State string

const (
	StateHidden   State = "HIDDEN"
	StateRevealed State = "REVEALED"
)

// RevealState is the read-model entry for one participant's reveal of one
// type: current state, the arrangement while revealed, and who is watching.
type RevealState struct {
	ParticipantID string                 `json:"participant_id"`
	RevealType    models.RevealType      `json:"reveal_type"`
	State         State                  `json:"state"`
	Cards         []models.CardPlacement `json:"cards,omitempty"`
	LastUpdated   time.Time              `json:"last_updated"`
	Viewers       []string               `json:"viewers"`
}

type stateKey struct {
	participantID string
	revealType    models.RevealType
}

// StateStore builds reveal state from delivered room events. Snapshots are
// applied latest-timestamp-wins, never by arrival order: the transport
// reorders freely, so a stale snapshot arriving late is discarded by
// comparing timestamps.
type StateStore struct {
	mu     sync.RWMutex
	states map[stateKey]*revealEntry
}

type revealEntry struct {
	state       State
	cards       []models.CardPlacement
	lastUpdated time.Time
	viewers     map[string]bool
}

// NewStateStore returns an empty reveal read model.
func NewStateStore() *StateStore {
	return &StateStore{states: make(map[stateKey]*revealEntry)}
}

// ProcessEvent folds one delivered event into the read model. Events the
// store does not care about are ignored.
func (ss *StateStore) ProcessEvent(event *events.RoomEvent) {
	payload, err := events.ParsePayload(event)
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Str("event_type", string(event.Type)).
			Msg("reveal store dropped undecodable payload")
		return
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	switch p := payload.(type) {
	case events.SelectionRevealedPayload:
		ss.applySnapshotLocked(p.ParticipantID, p.RevealType, StateRevealed, p.CardPositions, p.LastUpdated)
	case events.ArrangementUpdatedPayload:
		ss.applySnapshotLocked(p.ParticipantID, p.RevealType, StateRevealed, p.CardPositions, p.LastUpdated)
	case events.SelectionHiddenPayload:
		ss.applySnapshotLocked(p.ParticipantID, p.RevealType, StateHidden, nil, p.LastUpdated)
	case events.ViewerJoinedPayload:
		entry := ss.entryLocked(p.TargetParticipantID, p.RevealType)
		entry.viewers[event.ParticipantID] = true
	case events.ViewerLeftPayload:
		entry := ss.entryLocked(p.TargetParticipantID, p.RevealType)
		delete(entry.viewers, event.ParticipantID)
	case events.ParticipantLeftPayload:
		// The envelope carries the leaver's id; their reveals and viewer
		// entries go with them.
		ss.dropParticipantLocked(event.ParticipantID)
	}
}

func (ss *StateStore) applySnapshotLocked(participantID string, rt models.RevealType, state State, cards []models.CardPlacement, at time.Time) {
	entry := ss.entryLocked(participantID, rt)
	if at.Before(entry.lastUpdated) {
		log.Debug().
			Str("participant_id", participantID).
			Str("reveal_type", string(rt)).
			Time("stale", at).
			Time("current", entry.lastUpdated).
			Msg("stale reveal snapshot discarded")
		return
	}
	entry.state = state
	entry.lastUpdated = at
	if state == StateRevealed {
		entry.cards = append([]models.CardPlacement(nil), cards...)
	} else {
		entry.cards = nil
	}
}

func (ss *StateStore) entryLocked(participantID string, rt models.RevealType) *revealEntry {
	key := stateKey{participantID: participantID, revealType: rt}
	entry, ok := ss.states[key]
	if !ok {
		entry = &revealEntry{state: StateHidden, viewers: make(map[string]bool)}
		ss.states[key] = entry
	}
	return entry
}

// Get returns the state for one (participant, revealType), defaulting to
// HIDDEN when nothing has been seen.
func (ss *StateStore) Get(participantID string, rt models.RevealType) RevealState {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	entry, ok := ss.states[stateKey{participantID: participantID, revealType: rt}]
	if !ok {
		return RevealState{ParticipantID: participantID, RevealType: rt, State: StateHidden, Viewers: []string{}}
	}
	return ss.snapshotLocked(participantID, rt, entry)
}

// RevealedParticipants returns every currently revealed state, ordered by
// participant id then reveal type for stable rendering.
func (ss *StateStore) RevealedParticipants() []RevealState {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	out := make([]RevealState, 0, len(ss.states))
	for key, entry := range ss.states {
		if entry.state != StateRevealed {
			continue
		}
		out = append(out, ss.snapshotLocked(key.participantID, key.revealType, entry))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParticipantID != out[j].ParticipantID {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].RevealType < out[j].RevealType
	})
	return out
}

// ViewerCount returns how many participants are watching the target's
// reveal. Informational only; viewing is not gated by this set.
func (ss *StateStore) ViewerCount(participantID string, rt models.RevealType) int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	entry, ok := ss.states[stateKey{participantID: participantID, revealType: rt}]
	if !ok {
		return 0
	}
	return len(entry.viewers)
}

// DropParticipant removes all state owned by or viewed by the participant,
// used when they leave the room.
func (ss *StateStore) DropParticipant(participantID string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.dropParticipantLocked(participantID)
}

func (ss *StateStore) dropParticipantLocked(participantID string) {
	for key, entry := range ss.states {
		if key.participantID == participantID {
			delete(ss.states, key)
			continue
		}
		delete(entry.viewers, participantID)
	}
}

func (ss *StateStore) snapshotLocked(participantID string, rt models.RevealType, entry *revealEntry) RevealState {
	viewers := make([]string, 0, len(entry.viewers))
	for id := range entry.viewers {
		viewers = append(viewers, id)
	}
	sort.Strings(viewers)
	return RevealState{
		ParticipantID: participantID,
		RevealType:    rt,
		State:         entry.state,
		Cards:         append([]models.CardPlacement(nil), entry.cards...),
		LastUpdated:   entry.lastUpdated,
		Viewers:       viewers,
	}
}
