// Package persistence provides the data storage abstraction layer for
// workflows and execution records.
package persistence

import (
	"context"

	"github.com/formbot/formbot/pkg/models"
)

// WorkflowRepository stores workflow definitions and their step/field drafts.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// ExecutionRepository stores execution records. Records for executions paused
// in waiting_manual survive restarts so they can be resumed.
type ExecutionRepository interface {
	Executions(ctx context.Context, workflowID string) ([]*models.ExecutionRecord, error)
	ExecutionByID(ctx context.Context, id string) (*models.ExecutionRecord, error)
	SaveExecution(ctx context.Context, record *models.ExecutionRecord) error
	// PendingExecutions returns records whose status is not terminal.
	PendingExecutions(ctx context.Context) ([]*models.ExecutionRecord, error)
}

type Persistence interface {
	WorkflowRepository
	ExecutionRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
