// Package store persists session state, task records, the context
// snapshot, chart specs and the transcript for each session.
package store

import (
	"errors"

	"github.com/scriptorium-ai/scriptorium/internal/charts"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/transcript"
)

// ErrNotFound is returned when a session, task record or snapshot does
// not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary used by the orchestrator. After
// session init the orchestrator treats write errors as log-and-continue.
type Store interface {
	// UpdateSession persists the session state, creating it on first
	// write. UpdatedAt is stamped by the store.
	UpdateSession(sess *model.Session) error
	LoadSession(sessionID string) (*model.Session, error)
	// ListSessions returns known session ids, most recently updated
	// first.
	ListSessions() ([]string, error)

	// UpsertTaskRecord persists one task record. UpdatedAt is stamped
	// by the store.
	UpsertTaskRecord(rec *model.TaskRecord) error
	LoadTaskRecords(sessionID string) ([]*model.TaskRecord, error)
	// ListApprovedTasks returns approved records sorted by task id.
	ListApprovedTasks(sessionID string) ([]*model.TaskRecord, error)

	SaveSnapshot(snap *model.Snapshot) error
	LoadSnapshot(sessionID string) (*model.Snapshot, error)

	SaveChartSpec(sessionID string, spec *charts.Spec) error
	ListChartSpecs(sessionID string) ([]*charts.Spec, error)

	// AppendMessage appends to the session transcript and returns the
	// recorded entry.
	AppendMessage(sessionID, from, to, text string, kind transcript.Kind) (transcript.Entry, error)
	TranscriptPath(sessionID string) string

	Close() error
}
