package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	// InboundTypeStatus refreshes the sender's heartbeat.
	InboundTypeStatus = "status"
	// InboundTypeMsg posts a chat message.
	InboundTypeMsg = "msg"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventMessage        = "message"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
)

// MsgData is a chat message from the client.
type MsgData struct {
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Message is the wire form of a chat message, shared with the REST API.
type Message struct {
	ID   string `json:"_id"`
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
	Time string `json:"time"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
