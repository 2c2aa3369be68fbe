package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/formbot/formbot/pkg/models"
	"github.com/formbot/formbot/pkg/persistence"
)

// ExecutionRepository handles execution-record file operations.
type ExecutionRepository struct {
	root string
}

// NewExecutionRepository creates a new execution record repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

// Executions returns all execution records for a workflow, newest first.
func (er *ExecutionRepository) Executions(ctx context.Context, workflowID string) ([]*models.ExecutionRecord, error) {
	all, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*models.ExecutionRecord, 0)
	for _, record := range all {
		if record.WorkflowID == workflowID {
			records = append(records, record)
		}
	}

	return records, nil
}

// ExecutionByID retrieves an execution record by its ID.
func (er *ExecutionRepository) ExecutionByID(_ context.Context, id string) (*models.ExecutionRecord, error) {
	filePath := filepath.Clean(path.Join(er.root, "executions", id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", id, err)
	}

	var record models.ExecutionRecord

	err = json.Unmarshal(body, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	return &record, nil
}

// SaveExecution writes an execution record to the file system.
func (er *ExecutionRepository) SaveExecution(_ context.Context, record *models.ExecutionRecord) error {
	err := os.MkdirAll(path.Join(er.root, "executions"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", record.ID, err)
	}

	filePath := path.Join(er.root, "executions", record.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}

// PendingExecutions returns records whose status is not terminal, oldest
// first, so paused executions can be rehydrated after a restart.
func (er *ExecutionRepository) PendingExecutions(ctx context.Context) ([]*models.ExecutionRecord, error) {
	all, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]*models.ExecutionRecord, 0)
	for _, record := range all {
		if !record.Status.Terminal() {
			pending = append(pending, record)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	return pending, nil
}

func (er *ExecutionRepository) loadAll(ctx context.Context) ([]*models.ExecutionRecord, error) {
	dir := path.Join(er.root, "executions")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.ExecutionRecord{}, nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	records := make([]*models.ExecutionRecord, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id := file[:len(file)-5]

		record, err := er.ExecutionByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
		}

		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}

func (fp *Persistence) Executions(ctx context.Context, workflowID string) ([]*models.ExecutionRecord, error) {
	return fp.executionRepo.Executions(ctx, workflowID)
}

func (fp *Persistence) ExecutionByID(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	return fp.executionRepo.ExecutionByID(ctx, id)
}

func (fp *Persistence) SaveExecution(ctx context.Context, record *models.ExecutionRecord) error {
	return fp.executionRepo.SaveExecution(ctx, record)
}

func (fp *Persistence) PendingExecutions(ctx context.Context) ([]*models.ExecutionRecord, error) {
	return fp.executionRepo.PendingExecutions(ctx)
}
