package domain

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a single dispatch attempt.
type RunStatus string

const (
	RunStarted  RunStatus = "started"
	RunSuccess  RunStatus = "success"
	RunFailed   RunStatus = "failed"
	RunTimeout  RunStatus = "timeout"
	RunCanceled RunStatus = "canceled"
)

// Run records one attempt at executing a Task. Attempt numbers strictly
// increase per task; at most one Run per task may be in RunStarted at a time.
type Run struct {
	ID           ID
	TaskID       ID
	Attempt      int
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       RunStatus
	Metrics      map[string]any
	ErrorDetails string
	ModelUsed    string
	Tokens       int
	CostUSD      *float64
}

// RunRepository persists Run rows. Every Task status mutation must be
// accompanied by a Run insert or update in the same logical transaction.
type RunRepository interface {
	Create(ctx context.Context, q Querier, r *Run) error
	Finalize(ctx context.Context, q Querier, id ID, status RunStatus, fields RunFinalize) error
	LatestForTask(ctx context.Context, q Querier, taskID ID) (*Run, error)
	NextAttempt(ctx context.Context, q Querier, taskID ID) (int, error)
}

// RunFinalize carries the terminal fields set when a Run ends.
type RunFinalize struct {
	EndedAt      time.Time
	ErrorDetails string
	ModelUsed    string
	Tokens       int
	CostUSD      *float64
}
