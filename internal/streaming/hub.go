// Package streaming fans out run events to in-process subscribers such as
// debuggers and progress printers.
package streaming

import "context"

// StreamEvent is a real-time event emitted while a diagram runs.
type StreamEvent struct {
	RunID     string `json:"run_id"`
	DiagramID string `json:"diagram_id,omitempty"`
	NodeID    string `json:"node_id,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	DiagramID  string   `json:"diagram_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
