package registry

import (
	"errors"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mkoval/sortroom/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrRegistryFull    = errors.New("registry at capacity")
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Config holds registry sizing and lifetime knobs.
type Config struct {
	// MaxRooms is the hard ceiling; creation is rejected outright above it.
	MaxRooms int
	// SoftLimit is where proactive eviction starts: expired rooms first,
	// then the oldest by (createdAt, lastActivity).
	SoftLimit int
	// CodeAttempts bounds collision retries before the timestamp fallback.
	CodeAttempts int
	// SweepInterval is how often the background sweep removes expired rooms.
	SweepInterval time.Duration
}

// DefaultConfig returns default registry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRooms:      500,
		SoftLimit:     450,
		CodeAttempts:  10,
		SweepInterval: time.Minute,
	}
}

// Registry is the authoritative in-memory map from room code to session.
// All mutation happens under one mutex, which is what makes
// CreateSessionIfNotExists a single indivisible check-and-set.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	clock    clockwork.Clock
	config   Config
	rng      *rand.Rand
}

// New creates a registry using the real clock.
func New(config Config) *Registry {
	return NewWithClock(config, clockwork.NewRealClock())
}

// NewWithClock creates a registry with an injected clock for tests.
func NewWithClock(config Config, clock clockwork.Clock) *Registry {
	return &Registry{
		sessions: make(map[string]*models.Session),
		clock:    clock,
		config:   config,
		rng:      rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// CreateSession generates a unique room code and stores a new session.
func (r *Registry) CreateSession(config models.SessionConfig) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureCapacityLocked(); err != nil {
		return nil, err
	}

	code := r.generateCodeLocked()
	session := r.newSessionLocked(code, config)
	r.sessions[code] = session

	log.Info().Str("room_code", code).Int("max_participants", session.MaxParticipants).Msg("session created")
	return session, nil
}

// CreateSessionIfNotExists stores a new session under code unless one already
// exists. The check and the insert execute under the registry lock, so two
// concurrent callers for the same code see exactly one created=true.
func (r *Registry) CreateSessionIfNotExists(code string, config models.SessionConfig) (created bool, session *models.Session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[code]; ok {
		if !existing.IsExpired(r.clock.Now()) {
			return false, existing, nil
		}
		// An expired record under this code is as good as absent.
		delete(r.sessions, code)
		log.Debug().Str("room_code", code).Msg("expired session displaced by create")
	}

	if err := r.ensureCapacityLocked(); err != nil {
		return false, nil, err
	}

	session = r.newSessionLocked(code, config)
	r.sessions[code] = session
	log.Info().Str("room_code", code).Msg("session created via check-and-set")
	return true, session, nil
}

// GetSession returns the session for code, or ErrSessionNotFound /
// ErrSessionExpired. An expired record is removed on the way out.
func (r *Registry) GetSession(code string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getSessionLocked(code)
}

// UpdateSession applies mutate to the session under the registry lock. The
// whole closure is one indivisible step with respect to other mutations; a
// returned error discards nothing (mutations are in place) but is passed
// through to the caller.
func (r *Registry) UpdateSession(code string, mutate func(*models.Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.getSessionLocked(code)
	if err != nil {
		return err
	}
	return mutate(session)
}

// DeleteSession removes the session for code and reports whether it existed.
func (r *Registry) DeleteSession(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[code]; !ok {
		return false
	}
	delete(r.sessions, code)
	log.Info().Str("room_code", code).Msg("session deleted")
	return true
}

// UpdateLastActivity bumps lastActivity and slides expiresAt forward by the
// session's configured timeout.
func (r *Registry) UpdateLastActivity(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.getSessionLocked(code)
	if err != nil {
		return err
	}
	now := r.clock.Now()
	session.LastActivity = now
	session.ExpiresAt = now.Add(time.Duration(session.TimeoutMinutes) * time.Minute)
	return nil
}

// Count returns the number of stored sessions, expired ones included.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SweepExpired removes every expired session and returns how many went.
func (r *Registry) SweepExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictExpiredLocked()
}

func (r *Registry) getSessionLocked(code string) (*models.Session, error) {
	session, ok := r.sessions[code]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired(r.clock.Now()) {
		delete(r.sessions, code)
		log.Debug().Str("room_code", code).Msg("expired session removed on access")
		return nil, ErrSessionExpired
	}
	return session, nil
}

func (r *Registry) newSessionLocked(code string, config models.SessionConfig) *models.Session {
	now := r.clock.Now()
	return &models.Session{
		Code:            code,
		CreatedAt:       now,
		LastActivity:    now,
		ExpiresAt:       now.Add(time.Duration(config.TimeoutMinutes) * time.Minute),
		MaxParticipants: config.MaxParticipants,
		TimeoutMinutes:  config.TimeoutMinutes,
		Participants:    []*models.Participant{},
		IsActive:        true,
	}
}

// ensureCapacityLocked enforces the hard ceiling and, near the soft
// threshold, evicts expired rooms followed by the oldest ones.
func (r *Registry) ensureCapacityLocked() error {
	if len(r.sessions) >= r.config.MaxRooms {
		// One last chance: reclaim expired rooms before refusing.
		r.evictExpiredLocked()
		if len(r.sessions) >= r.config.MaxRooms {
			return ErrRegistryFull
		}
	}
	if len(r.sessions) >= r.config.SoftLimit {
		r.evictExpiredLocked()
	}
	if len(r.sessions) >= r.config.SoftLimit {
		r.evictOldestLocked(len(r.sessions) - r.config.SoftLimit + 1)
	}
	return nil
}

func (r *Registry) evictExpiredLocked() int {
	now := r.clock.Now()
	removed := 0
	for code, session := range r.sessions {
		if session.IsExpired(now) {
			delete(r.sessions, code)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("evicted expired sessions")
	}
	return removed
}

func (r *Registry) evictOldestLocked(n int) {
	if n <= 0 {
		return
	}
	codes := make([]string, 0, len(r.sessions))
	for code := range r.sessions {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		a, b := r.sessions[codes[i]], r.sessions[codes[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.LastActivity.Before(b.LastActivity)
	})
	if n > len(codes) {
		n = len(codes)
	}
	for _, code := range codes[:n] {
		delete(r.sessions, code)
		log.Warn().Str("room_code", code).Msg("evicted oldest session over soft limit")
	}
}

// generateCodeLocked returns a 6-character code unique among stored
// sessions, falling back to a timestamp-derived code after bounded attempts.
func (r *Registry) generateCodeLocked() string {
	for attempt := 0; attempt < r.config.CodeAttempts; attempt++ {
		code := r.randomCodeLocked()
		if _, ok := r.sessions[code]; !ok {
			return code
		}
	}
	return r.timestampCodeLocked()
}

func (r *Registry) randomCodeLocked() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = codeAlphabet[r.rng.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// timestampCodeLocked derives a code from the clock so the fallback cannot
// collide with itself across successive calls.
func (r *Registry) timestampCodeLocked() string {
	ts := strings.ToUpper(strconv.FormatInt(r.clock.Now().UnixNano(), 36))
	for {
		suffix := ts
		if len(suffix) > 5 {
			suffix = suffix[len(suffix)-5:]
		}
		code := string(codeAlphabet[r.rng.Intn(26)]) + suffix
		if _, ok := r.sessions[code]; !ok {
			return code
		}
	}
}
