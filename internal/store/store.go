package store

import (
	"context"
	"time"

	"github.com/vovakirdan/wirechat-presence/internal/core"
)

// MessageUpdate carries the mutable fields of a message.
type MessageUpdate struct {
	To   string
	Text string
	Kind core.MessageKind
}

// ParticipantStore handles participant persistence.
type ParticipantStore interface {
	// CreateParticipant inserts name with the given heartbeat.
	// Returns core.ErrConflict if the name is already present.
	CreateParticipant(ctx context.Context, name string, now time.Time) error

	// TouchParticipant refreshes the heartbeat of name.
	// Returns core.ErrNotFound if no such participant exists.
	TouchParticipant(ctx context.Context, name string, now time.Time) error

	// GetParticipant retrieves a participant by name.
	GetParticipant(ctx context.Context, name string) (*core.Participant, error)

	// ListParticipants lists all participants in insertion order.
	ListParticipants(ctx context.Context) ([]core.Participant, error)

	// RemoveStaleBefore atomically deletes every participant whose heartbeat
	// is older than threshold and returns exactly the removed rows.
	RemoveStaleBefore(ctx context.Context, threshold time.Time) ([]core.Participant, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// AppendMessage persists msg, assigning its ID and CreatedAt.
	AppendMessage(ctx context.Context, msg *core.Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id string) (*core.Message, error)

	// ListVisibleMessages returns messages visible to name in chronological order.
	// A positive limit keeps only the most recent limit entries.
	ListVisibleMessages(ctx context.Context, name string, limit int) ([]core.Message, error)

	// UpdateMessage overwrites the mutable fields of a message owned by sender.
	// Returns core.ErrNotFound or core.ErrForbidden.
	UpdateMessage(ctx context.Context, id, sender string, upd MessageUpdate) (*core.Message, error)

	// DeleteMessage removes a message owned by sender and returns it.
	// Returns core.ErrNotFound or core.ErrForbidden.
	DeleteMessage(ctx context.Context, id, sender string) (*core.Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ParticipantStore
	MessageStore

	// Ping checks the underlying connection.
	Ping(ctx context.Context) error

	// Close closes the underlying database connection.
	Close() error
}
