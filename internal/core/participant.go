package core

import "time"

// Participant is a chat user currently present in the room.
type Participant struct {
	Name       string
	LastStatus time.Time
}

// Stale reports whether the last heartbeat predates threshold.
func (p Participant) Stale(threshold time.Time) bool {
	return p.LastStatus.Before(threshold)
}
