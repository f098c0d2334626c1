package model

import "testing"

func TestIsSessionTerminal(t *testing.T) {
	tests := []struct {
		status   SessionStatus
		terminal bool
	}{
		{SessionIdle, false},
		{SessionRunning, false},
		{SessionPaused, false},
		{SessionComplete, true},
		{SessionError, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := IsSessionTerminal(tt.status); got != tt.terminal {
				t.Errorf("IsSessionTerminal(%q) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestIsTaskTerminal(t *testing.T) {
	tests := []struct {
		state    TaskState
		terminal bool
	}{
		{TaskPending, false},
		{TaskPreConsult, false},
		{TaskDrafting, false},
		{TaskLengthCheck, false},
		{TaskReview, false},
		{TaskRevising, false},
		{TaskApproved, true},
		{TaskErrored, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := IsTaskTerminal(tt.state); got != tt.terminal {
				t.Errorf("IsTaskTerminal(%q) = %v, want %v", tt.state, got, tt.terminal)
			}
		})
	}
}

func TestValidateSessionTransition(t *testing.T) {
	valid := []struct {
		from, to SessionStatus
	}{
		{SessionIdle, SessionRunning},
		{SessionRunning, SessionPaused},
		{SessionRunning, SessionComplete},
		{SessionRunning, SessionError},
		{SessionPaused, SessionRunning},
	}
	for _, tt := range valid {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateSessionTransition(tt.from, tt.to); err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
		})
	}

	invalid := []struct {
		from, to SessionStatus
	}{
		{SessionIdle, SessionPaused},
		{SessionIdle, SessionComplete},
		{SessionPaused, SessionComplete}, // must resume before completing
		{SessionPaused, SessionError},
		{SessionComplete, SessionRunning},
		{SessionError, SessionRunning},
	}
	for _, tt := range invalid {
		t.Run("invalid_"+string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateSessionTransition(tt.from, tt.to); err == nil {
				t.Errorf("expected error for %q → %q", tt.from, tt.to)
			}
		})
	}
}

func TestValidateTaskTransition(t *testing.T) {
	valid := []struct {
		from, to TaskState
	}{
		{TaskPending, TaskPreConsult},
		{TaskPending, TaskErrored}, // dependency never approved
		{TaskPreConsult, TaskDrafting},
		{TaskDrafting, TaskLengthCheck},
		{TaskDrafting, TaskErrored},
		{TaskLengthCheck, TaskReview},
		{TaskReview, TaskApproved},
		{TaskReview, TaskRevising},
		{TaskReview, TaskErrored},
		{TaskRevising, TaskReview},
	}
	for _, tt := range valid {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateTaskTransition(tt.from, tt.to); err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
		})
	}

	invalid := []struct {
		from, to TaskState
	}{
		{TaskPending, TaskDrafting}, // consultations cannot be skipped
		{TaskPending, TaskApproved},
		{TaskPreConsult, TaskReview},
		{TaskDrafting, TaskApproved}, // must pass through length check and review
		{TaskLengthCheck, TaskApproved},
		{TaskRevising, TaskApproved}, // revision must be re-reviewed
		{TaskApproved, TaskRevising},
		{TaskApproved, TaskReview},
		{TaskErrored, TaskPreConsult},
	}
	for _, tt := range invalid {
		t.Run("invalid_"+string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateTaskTransition(tt.from, tt.to); err == nil {
				t.Errorf("expected error for %q → %q", tt.from, tt.to)
			}
		})
	}
}
