package queue

import (
	"strings"
	"time"
)

// State is the lifecycle state of a queued item.
// pending -> active -> done, or pending -> cancelled.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCancelled State = "cancelled"
	StateDone      State = "done"
)

// Image is an inline attachment submitted alongside the text.
type Image struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

// Item is one admitted instruction, scoped to a single session. The queue
// owns it until it becomes active (ownership moves to the in-flight
// execution) or is cancelled.
type Item struct {
	ID          string    `json:"queue_id"`
	Text        string    `json:"text"`
	Images      []Image   `json:"images,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`

	state State
}

// ItemView is the introspection shape returned by Snapshot.
type ItemView struct {
	QueueID string `json:"queue_id"`
	Preview string `json:"preview"`
	State   State  `json:"state"`
}

const previewLen = 80

func (it *Item) view() ItemView {
	text := strings.ReplaceAll(strings.TrimSpace(it.Text), "\n", " ")
	if runes := []rune(text); len(runes) > previewLen {
		text = string(runes[:previewLen]) + "..."
	}
	return ItemView{QueueID: it.ID, Preview: text, State: it.state}
}
