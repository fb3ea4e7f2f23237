package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/metrics"
	"github.com/vovakirdan/wirechat-presence/internal/store"
)

// SweeperConfig controls participant expiry.
type SweeperConfig struct {
	// ExpiryWindow is how long a participant may stay silent.
	ExpiryWindow time.Duration
	// Interval is the pause between sweep cycles.
	Interval time.Duration
	// RemoveTimeout bounds the stale-participant removal.
	RemoveTimeout time.Duration
	// AnnounceTimeout bounds each departure message write.
	AnnounceTimeout time.Duration
}

// DefaultSweeperConfig returns the standard expiry settings.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		ExpiryWindow:    10 * time.Second,
		Interval:        15 * time.Second,
		RemoveTimeout:   5 * time.Second,
		AnnounceTimeout: 5 * time.Second,
	}
}

// Sweeper periodically removes participants that stopped sending heartbeats
// and appends one departure message per removed participant.
type Sweeper struct {
	cfg          SweeperConfig
	participants store.ParticipantStore
	messages     store.MessageStore
	events       core.Publisher
	metrics      *metrics.Metrics
	now          func() time.Time
	log          *zerolog.Logger

	inflight sync.WaitGroup
}

// NewSweeper creates a sweeper. events may be nil.
func NewSweeper(
	cfg SweeperConfig,
	participants store.ParticipantStore,
	messages store.MessageStore,
	events core.Publisher,
	m *metrics.Metrics,
	logger *zerolog.Logger,
	opts ...Option,
) *Sweeper {
	o := applyOptions(opts)
	return &Sweeper{
		cfg:          cfg,
		participants: participants,
		messages:     messages,
		events:       events,
		metrics:      m,
		now:          o.now,
		log:          logger,
	}
}

// Cycle is the outcome of one sweep. Departure announcements may still be
// running when Sweep returns; Wait blocks until all of them finished.
type Cycle struct {
	Threshold time.Time
	Removed   []core.Participant

	announcements *pool.ErrorPool
	once          sync.Once
	err           error
}

// Wait blocks until every announcement of the cycle completed and returns
// the joined announcement errors.
func (c *Cycle) Wait() error {
	c.once.Do(func() {
		if c.announcements != nil {
			c.err = c.announcements.Wait()
		}
	})
	return c.err
}

// Run sweeps on every tick until ctx is cancelled, then waits for in-flight
// announcements.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer s.inflight.Wait()

	s.log.Info().
		Dur("expiry_window", s.cfg.ExpiryWindow).
		Dur("interval", s.cfg.Interval).
		Msg("presence sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("presence sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	cycle, err := s.Sweep(ctx)
	if err != nil {
		// Next tick still runs; no immediate retry.
		s.log.Error().Err(err).Msg("sweep cycle failed")
		return
	}
	if cycle.announcements == nil {
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := cycle.Wait(); err != nil {
			s.log.Warn().Err(err).Int("removed", len(cycle.Removed)).Msg("sweep finished with failed announcements")
		}
	}()
}

// Sweep runs one cycle: it removes every participant whose heartbeat is
// older than the expiry window and starts one independent departure
// announcement per removed participant.
func (s *Sweeper) Sweep(ctx context.Context) (*Cycle, error) {
	now := s.now()
	threshold := now.Add(-s.cfg.ExpiryWindow)

	removeCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoveTimeout)
	defer cancel()

	start := time.Now()
	removed, err := s.participants.RemoveStaleBefore(removeCtx, threshold)
	s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Sweeps.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("remove stale participants: %w", err)
	}
	s.metrics.Sweeps.WithLabelValues(metrics.ResultOK).Inc()

	cycle := &Cycle{Threshold: threshold, Removed: removed}
	if len(removed) == 0 {
		s.log.Debug().Time("threshold", threshold).Msg("sweep found no stale participants")
		return cycle, nil
	}

	s.metrics.Expired.Add(float64(len(removed)))
	s.log.Info().Time("threshold", threshold).Int("removed", len(removed)).Msg("expired stale participants")

	// Announcements outlive the caller's cancellation but not their own timeout.
	announceCtx := context.WithoutCancel(ctx)
	cycle.announcements = pool.New().WithErrors()
	for _, p := range removed {
		cycle.announcements.Go(func() error {
			return s.announce(announceCtx, p, now)
		})
	}

	return cycle, nil
}

func (s *Sweeper) announce(ctx context.Context, p core.Participant, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AnnounceTimeout)
	defer cancel()

	msg := core.NewStatusMessage(p.Name, core.LeaveText, now)
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		s.metrics.Announcements.WithLabelValues(metrics.ResultError).Inc()
		s.log.Error().Err(err).Str("participant", p.Name).Msg("failed to announce departure")
		return fmt.Errorf("announce departure of %q: %w", p.Name, err)
	}

	s.metrics.Announcements.WithLabelValues(metrics.ResultOK).Inc()
	s.metrics.Messages.WithLabelValues(string(msg.Kind)).Inc()
	publish(s.events, core.EventMessageCreated, msg)
	s.log.Info().Str("participant", p.Name).Str("message_id", msg.ID).Msg("participant left")
	return nil
}
