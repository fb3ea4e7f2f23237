package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/store"
)

// Schema creates the participants and messages tables.
const Schema = `
CREATE TABLE IF NOT EXISTS participants (
	name        TEXT PRIMARY KEY,
	last_status INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_participants_last_status ON participants(last_status);

CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	from_name  TEXT NOT NULL,
	to_name    TEXT NOT NULL,
	text       TEXT NOT NULL,
	type       TEXT NOT NULL,
	time       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_name);
CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_name);
`

// ApplySchema runs Schema against db. It is idempotent.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema against an in-memory database.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also serializes every
	// read-modify-write below.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== ParticipantStore implementation ====

// CreateParticipant inserts a participant unless the name is taken.
func (s *SQLiteStore) CreateParticipant(ctx context.Context, name string, now time.Time) error {
	query := `
		INSERT INTO participants (name, last_status)
		VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, name, now.UnixNano())
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("participant %q: %w", name, core.ErrConflict)
	}

	return nil
}

// TouchParticipant refreshes the heartbeat of an existing participant.
func (s *SQLiteStore) TouchParticipant(ctx context.Context, name string, now time.Time) error {
	query := `
		UPDATE participants
		SET last_status = ?
		WHERE name = ?
	`
	result, err := s.db.ExecContext(ctx, query, now.UnixNano(), name)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("participant %q: %w", name, core.ErrNotFound)
	}

	return nil
}

// GetParticipant retrieves a participant by name.
func (s *SQLiteStore) GetParticipant(ctx context.Context, name string) (*core.Participant, error) {
	query := `
		SELECT name, last_status
		FROM participants
		WHERE name = ?
	`
	var (
		p  core.Participant
		ts int64
	)
	err := s.db.QueryRowContext(ctx, query, name).Scan(&p.Name, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("participant %q: %w", name, core.ErrNotFound)
		}
		return nil, fmt.Errorf("query participant: %w", err)
	}
	p.LastStatus = time.Unix(0, ts)

	return &p, nil
}

// ListParticipants lists all participants in insertion order.
func (s *SQLiteStore) ListParticipants(ctx context.Context) ([]core.Participant, error) {
	query := `
		SELECT name, last_status
		FROM participants
		ORDER BY rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	return scanParticipants(rows)
}

// RemoveStaleBefore deletes stale participants in a single statement and
// returns the deleted rows. A concurrent TouchParticipant either commits
// before the delete (and the row no longer matches) or after it (and finds
// nothing to update).
func (s *SQLiteStore) RemoveStaleBefore(ctx context.Context, threshold time.Time) ([]core.Participant, error) {
	query := `
		DELETE FROM participants
		WHERE last_status < ?
		RETURNING name, last_status
	`
	rows, err := s.db.QueryContext(ctx, query, threshold.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("delete stale participants: %w", err)
	}
	defer rows.Close()

	removed, err := scanParticipants(rows)
	if err != nil {
		return nil, fmt.Errorf("delete stale participants: %w", err)
	}

	return removed, nil
}

func scanParticipants(rows *sql.Rows) ([]core.Participant, error) {
	participants := make([]core.Participant, 0)
	for rows.Next() {
		var (
			p  core.Participant
			ts int64
		)
		if err := rows.Scan(&p.Name, &ts); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.LastStatus = time.Unix(0, ts)
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// ==== MessageStore implementation ====

// AppendMessage persists a message, assigning ID, CreatedAt and Time when unset.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *core.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Time == "" {
		msg.Time = core.FormatTime(msg.CreatedAt)
	}

	query := `
		INSERT INTO messages (id, from_name, to_name, text, type, time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.From, msg.To, msg.Text, string(msg.Kind), msg.Time, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*core.Message, error) {
	return getMessage(ctx, s.db, id)
}

// ListVisibleMessages returns messages sent by, addressed to, or broadcast
// to name, oldest first.
func (s *SQLiteStore) ListVisibleMessages(ctx context.Context, name string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}

	query := `
		SELECT id, from_name, to_name, text, type, time, created_at
		FROM (
			SELECT seq, id, from_name, to_name, text, type, time, created_at
			FROM messages
			WHERE from_name = ? OR to_name = ? OR to_name = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, name, core.BroadcastTarget, name, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]core.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}

	return messages, rows.Err()
}

// UpdateMessage overwrites to, text and type of a message owned by sender.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, id, sender string, upd store.MessageUpdate) (*core.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	msg, err := getMessage(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if msg.From != sender {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrForbidden)
	}

	query := `
		UPDATE messages
		SET to_name = ?, text = ?, type = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, query, upd.To, upd.Text, string(upd.Kind), id); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	msg.To = upd.To
	msg.Text = upd.Text
	msg.Kind = upd.Kind
	return msg, nil
}

// DeleteMessage removes a message owned by sender.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id, sender string) (*core.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	msg, err := getMessage(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if msg.From != sender {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrForbidden)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return msg, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getMessage(ctx context.Context, q queryRower, id string) (*core.Message, error) {
	query := `
		SELECT id, from_name, to_name, text, type, time, created_at
		FROM messages
		WHERE id = ?
	`
	msg, err := scanMessage(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}

	return msg, nil
}

func scanMessage(row scanner) (*core.Message, error) {
	var (
		msg  core.Message
		kind string
		ts   int64
	)
	if err := row.Scan(&msg.ID, &msg.From, &msg.To, &msg.Text, &kind, &msg.Time, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg.Kind = core.MessageKind(kind)
	msg.CreatedAt = time.Unix(0, ts)

	return &msg, nil
}
