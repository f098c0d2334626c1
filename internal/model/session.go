package model

import "time"

// Session is the persisted run state for one document-production session.
// Written to sessions/<id>/session.yaml after every mutation so a paused or
// crashed run resumes without redoing completed work.
type Session struct {
	SchemaVersion int           `yaml:"schema_version"`
	FileType      string        `yaml:"file_type"`
	SessionID     string        `yaml:"session_id"`
	WorkflowName  string        `yaml:"workflow_name"`
	Status        SessionStatus `yaml:"status"`
	Phase         string        `yaml:"phase"`
	TaskOrder     []string      `yaml:"task_order"`
	CurrentTaskID string        `yaml:"current_task_id"`
	CompletedIDs  []string      `yaml:"completed_ids"`
	ErroredIDs    []string      `yaml:"errored_ids"`
	LastError     string        `yaml:"last_error,omitempty"`
	CreatedAt     time.Time     `yaml:"created_at"`
	UpdatedAt     time.Time     `yaml:"updated_at"`
}

// TaskRecord is the mutable runtime counterpart of a workflow task. One per
// task per session, created when the task starts, updated in place until it
// reaches a terminal state.
type TaskRecord struct {
	SchemaVersion  int       `yaml:"schema_version"`
	FileType       string    `yaml:"file_type"`
	TaskID         string    `yaml:"task_id"`
	SessionID      string    `yaml:"session_id"`
	AuthorID       string    `yaml:"author_id"`
	State          TaskState `yaml:"state"`
	Content        string    `yaml:"content"`
	ReviewFeedback string    `yaml:"review_feedback,omitempty"`
	RevisionCount  int       `yaml:"revision_count"`
	ForceApproved  bool      `yaml:"force_approved"`
	CreatedAt      time.Time `yaml:"created_at"`
	UpdatedAt      time.Time `yaml:"updated_at"`
}

const (
	SchemaVersion = 1

	FileTypeSession    = "session_state"
	FileTypeTaskRecord = "task_record"
	FileTypeSnapshot   = "context_snapshot"
	FileTypeChartSpec  = "chart_spec"
)

// Completed reports whether the task id is in the session's completed list.
func (s *Session) Completed(taskID string) bool {
	for _, id := range s.CompletedIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// Errored reports whether the task id terminally failed.
func (s *Session) Errored(taskID string) bool {
	for _, id := range s.ErroredIDs {
		if id == taskID {
			return true
		}
	}
	return false
}
