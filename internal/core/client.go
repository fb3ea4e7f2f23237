package core

// Client is a live-feed subscriber as seen by the core layer.
type Client struct {
	ID     string
	Name   string
	Events chan *Event
}

// NewClient constructs a client with an initialized event channel.
func NewClient(id, name string) *Client {
	if name == "" {
		name = id
	}
	return &Client{
		ID:     id,
		Name:   name,
		Events: make(chan *Event, 16),
	}
}
