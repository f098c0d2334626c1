// Package transcript records the session conversation as an append-only
// JSONL log with size-based rotation.
package transcript

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a transcript entry for rendering and filtering.
type Kind string

const (
	KindNormal  Kind = "normal"
	KindSystem  Kind = "system"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Broadcast is the recipient for entries addressed to the whole session.
const Broadcast = "all"

// Entry is a single transcript line. From and To are worker ids, or
// Broadcast for session-wide messages.
type Entry struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Checksum  string    `json:"checksum,omitempty"`
}

// NewEntry builds an entry with a fresh id and UTC timestamp.
func NewEntry(from, to, text string, kind Kind) Entry {
	return Entry{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Text:      text,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}
