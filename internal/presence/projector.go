package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mkoval/sortroom/internal/channel"
	"github.com/mkoval/sortroom/internal/events"
	"github.com/mkoval/sortroom/internal/models"
	"github.com/mkoval/sortroom/internal/transport"
)

// Entry is one roster line: the participant snapshot plus whether the
// transport currently sees them.
type Entry struct {
	Participant models.Participant `json:"participant"`
	Online      bool               `json:"online"`
}

// Projector is a read model of the live roster, built from the room's
// PARTICIPANT_JOINED/LEFT traffic plus the transport presence primitive.
// UI layers query it instead of polling the coordinator.
type Projector struct {
	roomCode string

	mu     sync.RWMutex
	roster map[string]models.Participant
	online map[string]bool
	unsubs []transport.Unsubscribe
	closed bool
}

// NewProjector binds a projector to the room and primes it from the
// transport's current presence view.
func NewProjector(ctx context.Context, roomCode string, ch *channel.RoomChannel, tr transport.Transport) (*Projector, error) {
	p := &Projector{
		roomCode: roomCode,
		roster:   make(map[string]models.Participant),
		online:   make(map[string]bool),
	}

	unsubEvents, err := ch.SubscribeToEvents(p.processEvent)
	if err != nil {
		return nil, err
	}
	p.unsubs = append(p.unsubs, unsubEvents)

	unsubPresence, err := tr.SubscribePresence(roomCode, p.processPresence)
	if err != nil {
		unsubEvents()
		return nil, err
	}
	p.unsubs = append(p.unsubs, unsubPresence)

	// Prime from whatever the transport already knows; later traffic
	// converges the view.
	members, err := tr.GetPresence(ctx, roomCode)
	if err != nil {
		log.Warn().Err(err).Str("room_code", roomCode).Msg("presence prime failed; starting empty")
		return p, nil
	}
	p.mu.Lock()
	for _, m := range members {
		p.applyMemberLocked(m)
		p.online[m.ID] = true
	}
	p.mu.Unlock()
	return p, nil
}

// Roster returns the current entries ordered by join time, then name.
func (p *Projector) Roster() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Entry, 0, len(p.roster))
	for id, participant := range p.roster {
		out = append(out, Entry{Participant: participant, Online: p.online[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Participant, out[j].Participant
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.Name < b.Name
	})
	return out
}

// Count returns how many participants the projector knows of.
func (p *Projector) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.roster)
}

// Close detaches the projector from its feeds.
func (p *Projector) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (p *Projector) processEvent(event *events.RoomEvent) {
	payload, err := events.ParsePayload(event)
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("projector dropped undecodable payload")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch pl := payload.(type) {
	case events.ParticipantJoinedPayload:
		p.roster[pl.Participant.ID] = pl.Participant
		p.online[pl.Participant.ID] = true
	case events.ParticipantLeftPayload:
		delete(p.roster, event.ParticipantID)
		delete(p.online, event.ParticipantID)
	case events.StepTransitionedPayload:
		if participant, ok := p.roster[event.ParticipantID]; ok {
			participant.CurrentStep = pl.ToStep
			p.roster[event.ParticipantID] = participant
		}
	}
}

func (p *Projector) processPresence(event transport.PresenceEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Action {
	case transport.PresenceEnter, transport.PresenceUpdate:
		p.applyMemberLocked(event.Member)
		p.online[event.Member.ID] = true
	case transport.PresenceLeave:
		p.online[event.Member.ID] = false
	}
}

func (p *Projector) applyMemberLocked(m transport.Member) {
	if len(m.Data) == 0 {
		return
	}
	var participant models.Participant
	if err := json.Unmarshal(m.Data, &participant); err != nil {
		log.Error().Err(err).Str("member_id", m.ID).Msg("malformed presence member data")
		return
	}
	p.roster[participant.ID] = participant
}
