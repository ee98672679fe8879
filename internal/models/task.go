package models

import "time"

// TaskStatus is the outcome status of a task record
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal returns true when the task will not change again
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// TaskRecord is the audit trail of one queue traversal. It carries no content payload
// and is never used to replay a request.
type TaskRecord struct {
	ID           string       `json:"id" badgerhold:"key"`
	Account      string       `json:"account"`
	Title        string       `json:"title"`
	Status       TaskStatus   `json:"status" badgerhold:"index"`
	LastState    PublishState `json:"last_state,omitempty"`
	ErrorKind    string       `json:"error_kind,omitempty"`
	Error        string       `json:"error,omitempty"`
	Position     int          `json:"position"`
	Sequence     uint64       `json:"sequence"`
	EnqueuedAt   time.Time    `json:"enqueued_at"`
	StartedAt    time.Time    `json:"started_at,omitempty"`
	FinishedAt   time.Time    `json:"finished_at,omitempty"`
	ScheduledFor string       `json:"scheduled_for,omitempty"`
}

// WorkerState is the last-known state of the single publish worker
type WorkerState string

const (
	WorkerStopped       WorkerState = "stopped"
	WorkerIdle          WorkerState = "idle"
	WorkerPublishing    WorkerState = "publishing"
	WorkerAwaitingLogin WorkerState = "awaiting_login"
)

// QueueSnapshot is a point-in-time view of the queue for the status surface
type QueueSnapshot struct {
	Depth   int           `json:"depth"`
	Active  *TaskRecord   `json:"active,omitempty"`
	Pending []*TaskRecord `json:"pending"`
	Running bool          `json:"running"`
}
