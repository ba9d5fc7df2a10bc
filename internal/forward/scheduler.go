package forward

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Leader reports whether this process is the designated worker for
// singleton periodic tasks. An explicit predicate rather than a fixed
// process index, so it can later become lease-based leader election
// without touching the sync logic.
type Leader interface {
	IsDesignated() bool
}

// StaticLeader is a fixed role assignment from configuration
type StaticLeader bool

// IsDesignated reports the configured role
func (l StaticLeader) IsDesignated() bool { return bool(l) }

// Runner is one forwarding attempt
type Runner interface {
	RunOnce(ctx context.Context) error
}

// AttemptClock persists when the last real attempt happened, so the
// business interval survives restarts and stays decoupled from the
// tick rate.
type AttemptClock interface {
	LastAttempt() (time.Time, error)
	SetLastAttempt(t time.Time) error
}

// Scheduler triggers forwarding attempts on the designated worker. It
// ticks frequently but self-throttles to one real attempt per
// configured interval.
type Scheduler struct {
	runner   Runner
	leader   Leader
	clock    AttemptClock
	tick     time.Duration
	interval time.Duration
}

// NewScheduler creates a forwarding scheduler
func NewScheduler(runner Runner, leader Leader, clock AttemptClock, tick, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		leader:   leader,
		clock:    clock,
		tick:     tick,
		interval: interval,
	}
}

// Start runs the scheduler loop until the context is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().
		Dur("tick", s.tick).
		Dur("interval", s.interval).
		Bool("designated", s.leader.IsDesignated()).
		Msg("Starting forwarding scheduler")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Check immediately on start
	s.tickOnce(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Forwarding scheduler stopped")
			return
		case now := <-ticker.C:
			s.tickOnce(ctx, now)
		}
	}
}

// tickOnce decides whether this tick triggers a real attempt. Returns
// true when an attempt was made.
func (s *Scheduler) tickOnce(ctx context.Context, now time.Time) bool {
	if !s.leader.IsDesignated() {
		return false
	}

	last, err := s.clock.LastAttempt()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read last attempt time")
	}
	if now.Sub(last) < s.interval {
		return false
	}

	if err := s.clock.SetLastAttempt(now); err != nil {
		log.Warn().Err(err).Msg("Failed to record attempt time")
	}

	if err := s.runner.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Forwarding attempt errored")
	}
	return true
}
