package types

// Event represents a typed event emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Receipt summarises one executed transaction on a bridge side.
type Receipt struct {
	Chain     string   `json:"chain"`
	Index     uint64   `json:"index"`
	Timestamp int64    `json:"timestamp"`
	Status    bool     `json:"status"`
	Error     string   `json:"error,omitempty"`
	Events    []*Event `json:"events"`
}
