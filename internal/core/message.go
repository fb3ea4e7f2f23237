package core

import (
	"strings"
	"time"
)

const (
	// BroadcastTarget is the recipient value that makes a message visible to everyone.
	BroadcastTarget = "Todos"
	// JoinText is the status text appended when a participant registers.
	JoinText = "entra na sala..."
	// LeaveText is the status text appended when a participant expires.
	LeaveText = "sai da sala..."
	// TimeLayout formats Message.Time (HH:mm:ss, local time, no date).
	TimeLayout = "15:04:05"
)

// MessageKind is the type of a chat message.
type MessageKind string

const (
	KindMessage        MessageKind = "message"
	KindPrivateMessage MessageKind = "private_message"
	KindStatus         MessageKind = "status"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindMessage, KindPrivateMessage, KindStatus:
		return true
	default:
		return false
	}
}

// Sendable reports whether clients may post messages of this kind.
// Status messages are produced by the server only.
func (k MessageKind) Sendable() bool {
	return k == KindMessage || k == KindPrivateMessage
}

// Message is the domain model for a chat event.
type Message struct {
	ID        string
	From      string
	To        string
	Text      string
	Kind      MessageKind
	Time      string
	CreatedAt time.Time
}

// VisibleTo reports whether the message should be shown to the named participant.
func (m Message) VisibleTo(name string) bool {
	return m.From == name || m.To == BroadcastTarget || m.To == name
}

// NewStatusMessage builds a broadcast status message on behalf of name.
func NewStatusMessage(name, text string, now time.Time) *Message {
	return &Message{
		From:      name,
		To:        BroadcastTarget,
		Text:      text,
		Kind:      KindStatus,
		Time:      FormatTime(now),
		CreatedAt: now,
	}
}

// FormatTime renders t in the process-local timezone using TimeLayout.
func FormatTime(t time.Time) string {
	return t.Local().Format(TimeLayout)
}

// NormalizeName trims surrounding whitespace from a participant name.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}
