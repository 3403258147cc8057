package types

import "time"

// FeedbackEvent is the kind of signal recorded against a memory.
type FeedbackEvent string

const (
	// EventHelpful marks a memory the caller found useful.
	EventHelpful FeedbackEvent = "helpful"

	// EventUnhelpful marks a memory the caller found irrelevant or wrong.
	EventUnhelpful FeedbackEvent = "unhelpful"

	// EventUsed marks a memory that was read into working context.
	EventUsed FeedbackEvent = "used"

	// EventCited marks a memory explicitly referenced in an answer.
	EventCited FeedbackEvent = "cited"
)

// Valid reports whether e is a recognised feedback event type.
func (e FeedbackEvent) Valid() bool {
	switch e {
	case EventHelpful, EventUnhelpful, EventUsed, EventCited:
		return true
	}
	return false
}

// Feedback is an append-only record of a usage or quality signal. Feedback
// rows feed the usage score and the spaced-review interval multiplier.
type Feedback struct {
	MemoryID  string        `json:"memory_id"`
	EventType FeedbackEvent `json:"event_type"`
	Score     float64       `json:"score"`
	CreatedAt time.Time     `json:"created_at"`
}
