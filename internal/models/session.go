package models

import (
	"time"
)

// SessionConfig holds configuration applied to a room at creation time.
type SessionConfig struct {
	MaxParticipants int `json:"max_participants"`
	TimeoutMinutes  int `json:"timeout_minutes"`
}

// DefaultSessionConfig returns the configuration used when a caller
// supplies no overrides.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxParticipants: 10,
		TimeoutMinutes:  60,
	}
}

// Session represents one ephemeral room identified by a 6-character code.
type Session struct {
	Code            string         `json:"code"`
	CreatedAt       time.Time      `json:"created_at"`
	LastActivity    time.Time      `json:"last_activity"`
	ExpiresAt       time.Time      `json:"expires_at"`
	MaxParticipants int            `json:"max_participants"`
	TimeoutMinutes  int            `json:"timeout_minutes"`
	Participants    []*Participant `json:"participants"`
	IsActive        bool           `json:"is_active"`
}

// FindParticipant returns the participant with the given id, or nil.
func (s *Session) FindParticipant(participantID string) *Participant {
	for _, p := range s.Participants {
		if p.ID == participantID {
			return p
		}
	}
	return nil
}

// FindParticipantByClientID returns the participant holding the given
// reconnect token, active or not, or nil.
func (s *Session) FindParticipantByClientID(clientID string) *Participant {
	if clientID == "" {
		return nil
	}
	for _, p := range s.Participants {
		if p.ClientID == clientID {
			return p
		}
	}
	return nil
}

// RemoveParticipant removes the participant with the given id and reports
// whether it was present.
func (s *Session) RemoveParticipant(participantID string) bool {
	for i, p := range s.Participants {
		if p.ID == participantID {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// IsFull reports whether the room has reached its participant cap.
func (s *Session) IsFull() bool {
	return len(s.Participants) >= s.MaxParticipants
}

// IsExpired reports whether the sliding TTL has lapsed as of now.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
