package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/formbot/formbot/pkg/models"
	"github.com/formbot/formbot/pkg/persistence"
)

// ExecutionRepository handles execution-record database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution record repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , workflow_id
  , status
  , is_dry_run
  , retry_count
  , started_at
  , completed_at
  , error_message
  , screenshot_path
  , step_log
  , display_session_id
  , pending_step_order
  , created_at
`

// Executions returns all execution records for a workflow, newest first.
func (r *ExecutionRepository) Executions(ctx context.Context, workflowID string) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC
	`

	return r.queryExecutions(ctx, query, workflowID)
}

// ExecutionByID returns an execution record by its ID.
func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE id = $1
	`

	record, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return record, nil
}

// SaveExecution upserts an execution record. The step log is serialized into
// the JSONB step_log column.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, record *models.ExecutionRecord) error {
	stepLogJSON, err := json.Marshal(record.StepLog)
	if err != nil {
		return fmt.Errorf("failed to marshal step log for execution %s: %w", record.ID, err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, status, is_dry_run, retry_count, started_at,
			completed_at, error_message, screenshot_path, step_log,
			display_session_id, pending_step_order, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message,
			screenshot_path = EXCLUDED.screenshot_path,
			step_log = EXCLUDED.step_log,
			display_session_id = EXCLUDED.display_session_id,
			pending_step_order = EXCLUDED.pending_step_order
	`

	_, err = r.db.ExecContext(ctx, query,
		record.ID,
		record.WorkflowID,
		string(record.Status),
		record.IsDryRun,
		record.RetryCount,
		record.StartedAt,
		record.CompletedAt,
		nullString(record.ErrorMessage),
		nullString(record.ScreenshotPath),
		stepLogJSON,
		nullString(record.DisplaySessionID),
		record.PendingStepOrder,
		record.CreatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", record.ID, err)
	}

	return nil
}

// PendingExecutions returns records whose status is not terminal, oldest first.
func (r *ExecutionRepository) PendingExecutions(ctx context.Context) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE status IN ('queued', 'running', 'waiting_manual')
		ORDER BY created_at ASC
	`

	return r.queryExecutions(ctx, query)
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.ExecutionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.ExecutionRecord, 0)

	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return records, nil
}

func scanExecution(row rowScanner) (*models.ExecutionRecord, error) {
	var (
		record         models.ExecutionRecord
		status         string
		errorMessage   sql.NullString
		screenshotPath sql.NullString
		displaySession sql.NullString
		stepLogJSON    []byte
	)

	err := row.Scan(
		&record.ID,
		&record.WorkflowID,
		&status,
		&record.IsDryRun,
		&record.RetryCount,
		&record.StartedAt,
		&record.CompletedAt,
		&errorMessage,
		&screenshotPath,
		&stepLogJSON,
		&displaySession,
		&record.PendingStepOrder,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Status = models.ExecutionStatus(status)
	record.ErrorMessage = errorMessage.String
	record.ScreenshotPath = screenshotPath.String
	record.DisplaySessionID = displaySession.String

	if len(stepLogJSON) > 0 {
		if err := json.Unmarshal(stepLogJSON, &record.StepLog); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step log: %w", err)
		}
	}

	return &record, nil
}
