package model

import "fmt"

type SessionStatus string

const (
	SessionIdle     SessionStatus = "idle"
	SessionRunning  SessionStatus = "running"
	SessionPaused   SessionStatus = "paused"
	SessionComplete SessionStatus = "complete"
	SessionError    SessionStatus = "error"
)

type TaskState string

const (
	TaskPending     TaskState = "pending"
	TaskPreConsult  TaskState = "pre_consult"
	TaskDrafting    TaskState = "drafting"
	TaskLengthCheck TaskState = "length_check"
	TaskReview      TaskState = "qc_review"
	TaskRevising    TaskState = "revising"
	TaskApproved    TaskState = "approved"
	TaskErrored     TaskState = "errored"
)

// Fixed session phase labels. While the task loop runs, Session.Phase holds
// the current task id instead.
const (
	PhaseInit        = "init"
	PhaseAudit       = "audit"
	PhaseFinalReview = "final_review"
	PhaseComplete    = "complete"
)

var terminalSessionStatuses = map[SessionStatus]bool{
	SessionComplete: true,
	SessionError:    true,
}

var terminalTaskStates = map[TaskState]bool{
	TaskApproved: true,
	TaskErrored:  true,
}

var validSessionTransitions = map[SessionStatus]map[SessionStatus]bool{
	SessionIdle: {
		SessionRunning: true,
	},
	SessionRunning: {
		SessionPaused:   true,
		SessionComplete: true,
		SessionError:    true,
	},
	SessionPaused: {
		SessionRunning: true,
	},
}

// Task transitions: pending → pre_consult → drafting → length_check →
// qc_review → (revising → qc_review)* → approved.
// errored from drafting (generation failure), qc_review (unrecoverable
// review failure), or pending (upstream dependency never approved).
var validTaskTransitions = map[TaskState]map[TaskState]bool{
	TaskPending: {
		TaskPreConsult: true,
		TaskErrored:    true,
	},
	TaskPreConsult: {
		TaskDrafting: true,
	},
	TaskDrafting: {
		TaskLengthCheck: true,
		TaskErrored:     true,
	},
	TaskLengthCheck: {
		TaskReview: true,
	},
	TaskReview: {
		TaskApproved: true,
		TaskRevising: true,
		TaskErrored:  true,
	},
	TaskRevising: {
		TaskReview: true,
	},
}

func IsSessionTerminal(s SessionStatus) bool {
	return terminalSessionStatuses[s]
}

func IsTaskTerminal(s TaskState) bool {
	return terminalTaskStates[s]
}

func ValidateSessionTransition(from, to SessionStatus) error {
	if IsSessionTerminal(from) {
		return fmt.Errorf("cannot transition from terminal session status %q", from)
	}
	allowed, ok := validSessionTransitions[from]
	if !ok {
		return fmt.Errorf("unknown session status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid session transition: %q → %q", from, to)
	}
	return nil
}

func ValidateTaskTransition(from, to TaskState) error {
	if IsTaskTerminal(from) {
		return fmt.Errorf("cannot transition from terminal task state %q", from)
	}
	allowed, ok := validTaskTransitions[from]
	if !ok {
		return fmt.Errorf("unknown task state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid task transition: %q → %q", from, to)
	}
	return nil
}
