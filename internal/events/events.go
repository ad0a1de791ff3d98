package events

import "fmt"

// Event types broadcast to board subscribers. Every accepted mutation emits
// exactly one event tagged with its discriminant.
const (
	NoteCreated    = "NOTE_CREATED"
	NoteUpdated    = "NOTE_UPDATED"
	NoteDeleted    = "NOTE_DELETED"
	BoardCreated   = "BOARD_CREATED"
	BoardUpdated   = "BOARD_UPDATED"
	BoardDeleted   = "BOARD_DELETED"
	AccessGranted  = "ACCESS_GRANTED"
	AccessRejected = "ACCESS_REJECTED"
)

// Event is a normalized domain event. Payload carries the current state of
// the affected entity, or just its identifier for deletions.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Sink receives domain events for a subscriber group. Delivery is
// best-effort: implementations must never block or fail the mutation that
// produced the event.
type Sink interface {
	Publish(group string, event Event)
}

// BoardGroup returns the subscriber group key for a board.
func BoardGroup(boardID string) string {
	return fmt.Sprintf("board.%s", boardID)
}

// Deleted is the payload used for deletion events.
type Deleted struct {
	ID string `json:"id"`
}

// NopSink discards all events. Useful for tests and offline tooling.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(string, Event) {}
