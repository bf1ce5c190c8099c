// Package models defines the core domain types for lewis.
package models

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusCreated   TaskStatus = "created"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSuspended TaskStatus = "suspended"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ErrorKind classifies loop-level and step-level failures so the gateway
// never has to parse log text.
type ErrorKind string

const (
	ErrKindPlanningFailure        ErrorKind = "planning_failure"
	ErrKindStepFailure            ErrorKind = "step_failure"
	ErrKindIterationLimitExceeded ErrorKind = "iteration_limit_exceeded"
	ErrKindPersistenceConflict    ErrorKind = "persistence_conflict"
	ErrKindCancelled              ErrorKind = "cancelled"
)

// TaskError is the structured last-error field surfaced on terminal states.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Step is one planned unit of work bound to a specific agent variant.
// Steps are created by the Planner (or appended via replanning hints) and
// never mutated afterwards.
type Step struct {
	Agent          string                 `json:"agent"`
	Description    string                 `json:"description"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	RequiresReview bool                   `json:"requires_review,omitempty"`
}

// EventKind categorizes event log entries.
type EventKind string

const (
	EventInfo    EventKind = "info"
	EventWarning EventKind = "warning"
	EventError   EventKind = "error"
	EventResult  EventKind = "result"
)

// Event is an immutable entry in a task's append-only log. Total order is
// append order, carried by Seq.
type Event struct {
	Seq       int             `json:"seq"`
	Source    string          `json:"source"`
	Kind      EventKind       `json:"kind"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Digest    string          `json:"digest"`
	CreatedAt time.Time       `json:"created_at"`
}

// TaskState is the durable record of one goal's end-to-end execution.
// It is mutated exclusively by the execution engine and persisted after
// every mutation; Version supports optimistic-concurrency checkpoints.
type TaskState struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Goal     string                 `json:"goal"`
	Status   TaskStatus             `json:"status"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Plan        []Step                 `json:"plan,omitempty"`
	Cursor      int                    `json:"cursor"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
	FailedSteps []int                  `json:"failed_steps,omitempty"`
	Iterations  int                    `json:"iterations"`

	// RecursionLimit overrides the configured iteration ceiling when
	// positive. CaseReuse gates plan adaptation from stored cases. Both are
	// fixed at submission and survive suspension.
	RecursionLimit int  `json:"recursion_limit,omitempty"`
	CaseReuse      bool `json:"case_reuse"`

	Artifact  string     `json:"artifact,omitempty"`
	Score     *float64   `json:"score,omitempty"`
	LastError *TaskError `json:"last_error,omitempty"`

	CancelRequested bool `json:"cancel_requested,omitempty"`

	Version    int        `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Case is a stored CBR unit: the fingerprint of a goal, the plan that
// succeeded for it and its score. Cases are written once and never mutated;
// adaptation copies a retrieved case into a fresh plan.
type Case struct {
	ID          string    `json:"id"`
	ReferenceID string    `json:"reference_id"`
	Title       string    `json:"title"`
	Fingerprint []float32 `json:"fingerprint"`
	PlanHash    string    `json:"plan_hash"`
	Plan        []Step    `json:"plan"`
	Score       float64   `json:"score"`
	CreatedAt   time.Time `json:"created_at"`
}

// Artifact records metadata for a blob stored in object storage and
// referenced from a task rather than inlined.
type Artifact struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	URI         string    `json:"uri"`
	MediaType   string    `json:"media_type"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// QueueEntry is one pending unit of asynchronous work: a task id awaiting a
// worker, with at-least-once delivery bookkeeping.
type QueueEntry struct {
	TaskID       string     `json:"task_id"`
	Deliveries   int        `json:"deliveries"`
	LeasedBy     string     `json:"leased_by,omitempty"`
	LeaseExpires *time.Time `json:"lease_expires,omitempty"`
	Dead         bool       `json:"dead"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
}

// DriverLease is the at-most-one-driver-per-task guard acquired before the
// execution loop runs and released on suspension or a terminal state.
type DriverLease struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
