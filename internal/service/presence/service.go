package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/metrics"
	"github.com/vovakirdan/wirechat-presence/internal/store"
)

// Service registers participants and records their heartbeats.
type Service struct {
	participants store.ParticipantStore
	messages     store.MessageStore
	events       core.Publisher
	metrics      *metrics.Metrics
	now          func() time.Time
	log          *zerolog.Logger
}

// Option customizes a Service or Sweeper.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewService creates a presence service. events may be nil.
func NewService(
	participants store.ParticipantStore,
	messages store.MessageStore,
	events core.Publisher,
	m *metrics.Metrics,
	logger *zerolog.Logger,
	opts ...Option,
) *Service {
	o := applyOptions(opts)
	return &Service{
		participants: participants,
		messages:     messages,
		events:       events,
		metrics:      m,
		now:          o.now,
		log:          logger,
	}
}

// Register adds a participant and announces the arrival to the room.
// The join message is best effort: a failure to append it is logged and
// does not undo the registration.
func (s *Service) Register(ctx context.Context, name string) error {
	name = core.NormalizeName(name)
	if name == "" || name == core.BroadcastTarget {
		s.metrics.Registrations.WithLabelValues(metrics.ResultInvalid).Inc()
		return fmt.Errorf("participant name %q: %w", name, core.ErrInvalidArgument)
	}

	now := s.now()
	if err := s.participants.CreateParticipant(ctx, name, now); err != nil {
		if errors.Is(err, core.ErrConflict) {
			s.metrics.Registrations.WithLabelValues(metrics.ResultConflict).Inc()
		} else {
			s.metrics.Registrations.WithLabelValues(metrics.ResultError).Inc()
		}
		return fmt.Errorf("register participant: %w", err)
	}
	s.metrics.Registrations.WithLabelValues(metrics.ResultOK).Inc()

	msg := core.NewStatusMessage(name, core.JoinText, now)
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		s.log.Error().Err(err).Str("participant", name).Msg("failed to append join message")
		return nil
	}
	s.metrics.Messages.WithLabelValues(string(msg.Kind)).Inc()
	publish(s.events, core.EventMessageCreated, msg)

	s.log.Info().Str("participant", name).Msg("participant joined")
	return nil
}

// Heartbeat refreshes the participant's last heartbeat.
// Returns core.ErrNotFound without side effects if name is not registered.
func (s *Service) Heartbeat(ctx context.Context, name string) error {
	name = core.NormalizeName(name)
	if name == "" {
		s.metrics.Heartbeats.WithLabelValues(metrics.ResultNotFound).Inc()
		return fmt.Errorf("heartbeat: %w", core.ErrNotFound)
	}

	if err := s.participants.TouchParticipant(ctx, name, s.now()); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.metrics.Heartbeats.WithLabelValues(metrics.ResultNotFound).Inc()
		} else {
			s.metrics.Heartbeats.WithLabelValues(metrics.ResultError).Inc()
		}
		return fmt.Errorf("heartbeat: %w", err)
	}

	s.metrics.Heartbeats.WithLabelValues(metrics.ResultOK).Inc()
	s.log.Debug().Str("participant", name).Msg("heartbeat")
	return nil
}

// List returns every present participant.
func (s *Service) List(ctx context.Context) ([]core.Participant, error) {
	participants, err := s.participants.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

// Exists reports whether name is currently registered.
func (s *Service) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.participants.GetParticipant(ctx, core.NormalizeName(name))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get participant: %w", err)
	}
	return true, nil
}

func publish(events core.Publisher, kind core.EventKind, msg *core.Message) {
	if events == nil || msg == nil {
		return
	}
	events.Publish(&core.Event{Kind: kind, Message: *msg})
}
