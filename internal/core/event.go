package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessageCreated notifies clients about a new message.
	EventMessageCreated EventKind = iota
	// EventMessageUpdated notifies clients that a message was edited by its sender.
	EventMessageUpdated
	// EventMessageDeleted notifies clients that a message was removed by its sender.
	EventMessageDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventMessageCreated:
		return "created"
	case EventMessageUpdated:
		return "updated"
	case EventMessageDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Message Message
}

// Publisher accepts events for fan-out. Implementations must not block.
type Publisher interface {
	Publish(event *Event)
}
