package session

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mkoval/sortroom/internal/events"
	"github.com/mkoval/sortroom/internal/models"
)

const (
	maxNameLength   = 30
	maxNameAttempts = 100
)

// sanitizeCode normalizes a caller-supplied room code and validates its
// format: exactly 6 uppercase letters/digits.
func sanitizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !events.ValidRoomCode(code) {
		return "", newError(ErrCodeInvalidCode, fmt.Sprintf("room code %q must be 6 uppercase letters or digits", code))
	}
	return code, nil
}

// sanitizeName trims and bounds a display name.
func sanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", newError(ErrCodeInvalidName, "name must not be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", newError(ErrCodeInvalidName, fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	return name, nil
}

// resolveName returns name, suffixed if it collides with another participant
// in the session: John -> John-2 -> John-3, with a timestamp suffix once the
// bounded attempts run out. excludeID skips the participant being
// reactivated so it can keep its own name.
func resolveName(s *models.Session, name, excludeID string, now time.Time) string {
	taken := func(candidate string) bool {
		for _, p := range s.Participants {
			if p.ID != excludeID && strings.EqualFold(p.Name, candidate) {
				return true
			}
		}
		return false
	}

	if !taken(name) {
		return name
	}
	for i := 2; i <= maxNameAttempts; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !taken(candidate) {
			return candidate
		}
	}
	return fmt.Sprintf("%s-%d", name, now.Unix())
}

// assignAppearance picks a color/emoji pair for a new participant,
// preferring a combination no one in the room uses. When every combination
// is taken it falls back to the least-used color and least-used emoji picked
// independently rather than failing the join.
func assignAppearance(s *models.Session) (color, emoji string) {
	colorUse := make(map[string]int, len(models.ParticipantColors))
	emojiUse := make(map[string]int, len(models.ParticipantEmojis))
	pairUsed := make(map[string]bool, len(s.Participants))
	for _, p := range s.Participants {
		colorUse[p.Color]++
		emojiUse[p.Emoji]++
		pairUsed[p.Color+"/"+p.Emoji] = true
	}

	// Offset by occupancy so successive joiners walk the palette instead of
	// clustering at the front.
	offset := len(s.Participants)
	nc, ne := len(models.ParticipantColors), len(models.ParticipantEmojis)
	for i := 0; i < nc*ne; i++ {
		c := models.ParticipantColors[(offset+i)%nc]
		e := models.ParticipantEmojis[(offset+i/nc)%ne]
		if !pairUsed[c+"/"+e] {
			return c, e
		}
	}

	return leastUsed(models.ParticipantColors, colorUse), leastUsed(models.ParticipantEmojis, emojiUse)
}

func leastUsed(palette []string, use map[string]int) string {
	best := palette[0]
	for _, candidate := range palette[1:] {
		if use[candidate] < use[best] {
			best = candidate
		}
	}
	return best
}
