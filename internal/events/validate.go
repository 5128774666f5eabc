package events

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// MaxFutureSkew is how far into the future an event timestamp may sit before
// the envelope is rejected. Absorbs client clock drift without admitting
// forged far-future timestamps.
const MaxFutureSkew = 30 * time.Second

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

var (
	ErrMissingID        = errors.New("event id is required")
	ErrInvalidID        = errors.New("event id is not a valid UUID")
	ErrUnknownType      = errors.New("unknown event type")
	ErrInvalidRoomCode  = errors.New("invalid room code format")
	ErrMissingTimestamp = errors.New("event timestamp is required")
	ErrFutureTimestamp  = errors.New("event timestamp too far in the future")
)

// ValidRoomCode reports whether code is exactly 6 uppercase letters/digits.
func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

// Validate checks the full envelope against now. It does not inspect the
// payload; typed payload parsing happens at the consumer.
func Validate(event *RoomEvent, now time.Time) error {
	if event.ID == "" {
		return ErrMissingID
	}
	if _, err := uuid.Parse(event.ID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, event.ID)
	}
	if !KnownType(event.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownType, event.Type)
	}
	if !ValidRoomCode(event.RoomCode) {
		return fmt.Errorf("%w: %q", ErrInvalidRoomCode, event.RoomCode)
	}
	if event.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if event.Timestamp.After(now.Add(MaxFutureSkew)) {
		return fmt.Errorf("%w: %s", ErrFutureTimestamp, event.Timestamp.Format(time.RFC3339))
	}
	return nil
}
