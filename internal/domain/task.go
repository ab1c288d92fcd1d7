package domain

import (
	"context"
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a Task. Transitions are monotonic
// except queued<->running, which cycles on lease timeout.
type TaskStatus string

const (
	TaskQueued   TaskStatus = "queued"
	TaskRunning  TaskStatus = "running"
	TaskDone     TaskStatus = "done"
	TaskFailed   TaskStatus = "failed"
	TaskCanceled TaskStatus = "canceled"
)

// TaskType is a tag from the closed set of task types this orchestrator
// knows how to dispatch. New types require a registered Handler.
type TaskType string

const (
	TaskTypeCodePR           TaskType = "code_pr"
	TaskTypeCenterpointSync  TaskType = "centerpoint_sync"
	TaskTypeMrgDeploy        TaskType = "mrg_deploy"
	TaskTypeGenContent       TaskType = "gen_content"
	TaskTypeAureaAction      TaskType = "aurea_action"
)

// Task is the unit of work flowing through admission, the queue broker, and
// the dispatcher. Lower Priority values dispatch first.
type Task struct {
	ID             ID
	Type           TaskType
	Payload        json.RawMessage
	Priority       int
	Status         TaskStatus
	RetryCount     int
	MaxRetries     int
	IdempotencyKey string // empty means unset; unique only when non-empty
	TraceID        string
	Provider       string // dependency/provider this task bills against, if any
	EnqueuedAt     time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	LastError      string
	LeaseDeadline  *time.Time
}

// CanRetry reports whether the task has retry budget remaining.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// TaskRepository persists and retrieves Task rows. Implementations live in
// internal/infra/postgres; this interface is the only contract the domain
// and use-case layers depend on.
type TaskRepository interface {
	Create(ctx context.Context, q Querier, t *Task) error
	GetByID(ctx context.Context, q Querier, id ID) (*Task, error)
	GetByIdempotencyKey(ctx context.Context, q Querier, key string) (*Task, error)
	UpdateStatus(ctx context.Context, q Querier, id ID, status TaskStatus, fields TaskStatusUpdate) error
	List(ctx context.Context, q Querier, filter TaskFilter, p ListParams) ([]*Task, int, error)
}

// TaskStatusUpdate carries the optional fields a status transition may set.
// Nil pointers mean "leave unchanged", except LeaseDeadline, which is always
// written (nil clears it).
type TaskStatusUpdate struct {
	RetryCount    *int
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastError     *string
	LeaseDeadline *time.Time
}

// TaskFilter narrows List queries, e.g. for the DLQ admin endpoint
// (status=failed, type=<t>).
type TaskFilter struct {
	Status *TaskStatus
	Type   *TaskType
}
