package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/metrics"
	"github.com/vovakirdan/wirechat-presence/internal/store"
)

// SendInput is the client-supplied part of a message.
type SendInput struct {
	To   string
	Text string
	Kind core.MessageKind
}

// Service implements message operations on top of the message log.
type Service struct {
	participants store.ParticipantStore
	messages     store.MessageStore
	events       core.Publisher
	metrics      *metrics.Metrics
	log          *zerolog.Logger
}

// NewService creates a chat service. events may be nil.
func NewService(
	participants store.ParticipantStore,
	messages store.MessageStore,
	events core.Publisher,
	m *metrics.Metrics,
	logger *zerolog.Logger,
) *Service {
	return &Service{
		participants: participants,
		messages:     messages,
		events:       events,
		metrics:      m,
		log:          logger,
	}
}

// Send appends a message from sender. The sender must be registered.
func (s *Service) Send(ctx context.Context, sender string, in SendInput) (*core.Message, error) {
	sender = core.NormalizeName(sender)
	in, err := validate(in)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, sender); err != nil {
		return nil, err
	}

	msg := &core.Message{
		From: sender,
		To:   in.To,
		Text: in.Text,
		Kind: in.Kind,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.metrics.Messages.WithLabelValues(string(msg.Kind)).Inc()
	s.publish(core.EventMessageCreated, msg)
	s.log.Debug().Str("from", msg.From).Str("to", msg.To).Str("message_id", msg.ID).Msg("message sent")

	return msg, nil
}

// Query returns the messages visible to viewer in chronological order.
// A nil limit returns all of them, otherwise the most recent *limit.
func (s *Service) Query(ctx context.Context, viewer string, limit *int) ([]core.Message, error) {
	n := 0
	if limit != nil {
		if *limit <= 0 {
			return nil, fmt.Errorf("limit must be positive: %w", core.ErrInvalidArgument)
		}
		n = *limit
	}

	msgs, err := s.messages.ListVisibleMessages(ctx, core.NormalizeName(viewer), n)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// ParseLimit parses the limit query parameter. An empty value means no limit.
func ParseLimit(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("limit %q must be a positive integer: %w", raw, core.ErrInvalidArgument)
	}
	return &n, nil
}

// Edit replaces recipient, text and kind of a message owned by sender.
func (s *Service) Edit(ctx context.Context, id, sender string, in SendInput) (*core.Message, error) {
	id, err := canonicalID(id)
	if err != nil {
		return nil, err
	}
	in, err = validate(in)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.UpdateMessage(ctx, id, core.NormalizeName(sender), store.MessageUpdate{
		To:   in.To,
		Text: in.Text,
		Kind: in.Kind,
	})
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}

	s.publish(core.EventMessageUpdated, msg)
	return msg, nil
}

// Delete removes a message owned by sender.
func (s *Service) Delete(ctx context.Context, id, sender string) (*core.Message, error) {
	id, err := canonicalID(id)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.DeleteMessage(ctx, id, core.NormalizeName(sender))
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}

	s.publish(core.EventMessageDeleted, msg)
	return msg, nil
}

func (s *Service) requireParticipant(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("sender is required: %w", core.ErrInvalidArgument)
	}
	if _, err := s.participants.GetParticipant(ctx, name); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("sender %q is not a participant: %w", name, core.ErrInvalidArgument)
		}
		return fmt.Errorf("get participant: %w", err)
	}
	return nil
}

func (s *Service) publish(kind core.EventKind, msg *core.Message) {
	if s.events == nil || msg == nil {
		return
	}
	s.events.Publish(&core.Event{Kind: kind, Message: *msg})
}

func validate(in SendInput) (SendInput, error) {
	in.To = strings.TrimSpace(in.To)
	in.Text = strings.TrimSpace(in.Text)
	switch {
	case in.To == "":
		return in, fmt.Errorf("recipient is required: %w", core.ErrInvalidArgument)
	case in.Text == "":
		return in, fmt.Errorf("text is required: %w", core.ErrInvalidArgument)
	case !in.Kind.Sendable():
		return in, fmt.Errorf("message type %q: %w", in.Kind, core.ErrInvalidArgument)
	}
	return in, nil
}

// canonicalID returns id in the lowercase hyphenated form the stores hold.
// Braced, urn:uuid: and uppercase spellings resolve to the same message.
func canonicalID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("message id %q: %w", id, core.ErrInvalidArgument)
	}
	return parsed.String(), nil
}
