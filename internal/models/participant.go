package models

import (
	"time"
)

// ParticipantStatus defines where a participant is in the sorting flow.
type ParticipantStatus string

const (
	StatusSorting   ParticipantStatus = "SORTING"
	StatusRevealed8 ParticipantStatus = "REVEALED_8"
	StatusRevealed3 ParticipantStatus = "REVEALED_3"
	StatusCompleted ParticipantStatus = "COMPLETED"
)

// RevealType identifies which narrowing round a reveal refers to.
type RevealType string

const (
	RevealTop8 RevealType = "top8"
	RevealTop3 RevealType = "top3"
)

// RequiredCards returns the exact pile size a reveal of this type demands.
func (rt RevealType) RequiredCards() int {
	switch rt {
	case RevealTop8:
		return 8
	case RevealTop3:
		return 3
	default:
		return 0
	}
}

// Valid reports whether rt is a known reveal type.
func (rt RevealType) Valid() bool {
	return rt == RevealTop8 || rt == RevealTop3
}

// CardPlacement is one card's position within a participant's arrangement.
type CardPlacement struct {
	CardID   string  `json:"card_id"`
	Pile     string  `json:"pile"`
	Position int     `json:"position"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
}

// Participant represents one occupant of a room. ID is durable for the
// lifetime of the occupancy; ClientID is the caller-supplied reconnect token.
type Participant struct {
	ID           string                  `json:"id"`
	ClientID     string                  `json:"client_id,omitempty"`
	Name         string                  `json:"name"`
	Color        string                  `json:"color"`
	Emoji        string                  `json:"emoji"`
	CurrentStep  int                     `json:"current_step"`
	Status       ParticipantStatus       `json:"status"`
	Placements   map[int][]CardPlacement `json:"placements,omitempty"`
	RevealedTop8 bool                    `json:"revealed_top8"`
	RevealedTop3 bool                    `json:"revealed_top3"`
	Top8Cards    []CardPlacement         `json:"top8_cards,omitempty"`
	Top3Cards    []CardPlacement         `json:"top3_cards,omitempty"`
	IsActive     bool                    `json:"is_active"`
	JoinedAt     time.Time               `json:"joined_at"`
	LastActivity time.Time               `json:"last_activity"`
}

// Revealed reports whether the given reveal type is currently revealed.
func (p *Participant) Revealed(rt RevealType) bool {
	switch rt {
	case RevealTop8:
		return p.RevealedTop8
	case RevealTop3:
		return p.RevealedTop3
	default:
		return false
	}
}

// RevealedCards returns the stored arrangement snapshot for the reveal type.
func (p *Participant) RevealedCards(rt RevealType) []CardPlacement {
	switch rt {
	case RevealTop8:
		return p.Top8Cards
	case RevealTop3:
		return p.Top3Cards
	default:
		return nil
	}
}

// SetRevealed toggles the stored reveal flag and attaches or clears the
// arrangement snapshot for the given reveal type.
func (p *Participant) SetRevealed(rt RevealType, revealed bool, cards []CardPlacement) {
	switch rt {
	case RevealTop8:
		p.RevealedTop8 = revealed
		if revealed {
			p.Top8Cards = cards
		} else {
			p.Top8Cards = nil
		}
	case RevealTop3:
		p.RevealedTop3 = revealed
		if revealed {
			p.Top3Cards = cards
		} else {
			p.Top3Cards = nil
		}
	}
}

// Snapshot returns a copy safe to hand to read models and event payloads.
func (p *Participant) Snapshot() Participant {
	cp := *p
	cp.Placements = nil
	if p.Top8Cards != nil {
		cp.Top8Cards = append([]CardPlacement(nil), p.Top8Cards...)
	}
	if p.Top3Cards != nil {
		cp.Top3Cards = append([]CardPlacement(nil), p.Top3Cards...)
	}
	return cp
}
