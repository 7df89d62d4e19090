package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskKind identifies the background job a ledger record tracks.
type TaskKind string

// Known task kinds.
const (
	TaskKindGeneration TaskKind = "question_generation"
	TaskKindGrading    TaskKind = "auto_grading"
)

// TaskStatus is the lifecycle state of a ledger record.
type TaskStatus string

// Task statuses. Done and Failed are terminal.
const (
	TaskStatusInit    TaskStatus = "init"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// CanTransitionTo reports whether next is reachable from s.
// Init may finish directly when a job fails before it starts.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusInit:
		return next == TaskStatusRunning || next.IsTerminal()
	case TaskStatusRunning:
		return next.IsTerminal()
	}
	return false
}

// Task is a durable progress record for a background job.
type Task struct {
	ID          uuid.UUID       `json:"id"`
	Kind        TaskKind        `json:"kind"`
	RequesterID uuid.UUID       `json:"requester_id"`
	SubjectID   uuid.UUID       `json:"subject_id"`
	Target      int             `json:"target"`
	Completed   int             `json:"completed"`
	Status      TaskStatus      `json:"status"`
	Detail      string          `json:"detail,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// Remaining returns how many units are still to be produced.
func (t *Task) Remaining() int {
	if t.Completed >= t.Target {
		return 0
	}
	return t.Target - t.Completed
}

// Progress is the externally visible view of a ledger record.
type Progress struct {
	TaskID    uuid.UUID  `json:"task_id"`
	Kind      TaskKind   `json:"kind"`
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
	Status    TaskStatus `json:"status"`
	Detail    string     `json:"detail,omitempty"`
}

// Progress returns the externally visible view of the record.
func (t *Task) Progress() Progress {
	return Progress{
		TaskID:    t.ID,
		Kind:      t.Kind,
		Completed: t.Completed,
		Total:     t.Target,
		Status:    t.Status,
		Detail:    t.Detail,
	}
}
