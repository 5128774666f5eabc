package registry

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically removes expired sessions from a registry.
type Sweeper struct {
	registry *Registry
}

// NewSweeper creates a sweeper over the given registry.
func NewSweeper(registry *Registry) *Sweeper {
	return &Sweeper{registry: registry}
}

// Run loops until ctx is cancelled, sweeping at the registry's configured
// interval. The timer comes from the registry clock so tests can drive it.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.registry.config.SweepInterval
	log.Info().Dur("interval", interval).Msg("session sweeper started")

	timer := s.registry.clock.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session sweeper shutting down")
			return nil
		case <-timer.Chan():
			if removed := s.registry.SweepExpired(); removed > 0 {
				log.Info().Int("removed", removed).Msg("sweep removed expired sessions")
			}
			timer.Reset(interval)
		}
	}
}
