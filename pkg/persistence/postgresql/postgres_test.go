package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/formbot/formbot/pkg/models"
	"github.com/formbot/formbot/pkg/persistence"
	"github.com/formbot/formbot/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"executions", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("formbot_test"),
			postgres.WithUsername("formbot"),
			postgres.WithPassword("formbot"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx
}

func testWorkflow() *models.Workflow {
	dependsOn := 1

	return &models.Workflow{
		ID:            uuid.New().String(),
		Name:          "Quote Request",
		TargetURL:     "https://example.test/quote",
		RequiresLogin: true,
		Status:        models.WorkflowStatusDraft,
		MaxRetries:    2,
		ActionDelayMs: 250,
		Owner:         "ops",
		Steps: []*models.Step{
			{
				ID:             uuid.New().String(),
				StepOrder:      1,
				PageURL:        "https://example.test/login",
				FormType:       models.FormTypeLogin,
				FormSelector:   "#login-form",
				SubmitSelector: "#login-form button[type=submit]",
				Fields: []*models.Field{
					{ID: uuid.New().String(), Name: "username", Type: models.FieldTypeText, Selector: "#user", Purpose: models.PurposeUsername},
					{ID: uuid.New().String(), Name: "password", Type: models.FieldTypePassword, Selector: "#pass", Purpose: models.PurposePassword, IsSensitive: true},
				},
			},
			{
				ID:                 uuid.New().String(),
				StepOrder:          2,
				PageURL:            "https://example.test/quote",
				FormType:           models.FormTypeTarget,
				FormSelector:       "#quote-form",
				DependsOnStepOrder: &dependsOn,
				BreakBeforeSubmit:  true,
			},
		},
	}
}

func TestWorkflowRoundTrip(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	loaded, err := p.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)

	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Equal(t, workflow.TargetURL, loaded.TargetURL)
	assert.True(t, loaded.RequiresLogin)
	require.Len(t, loaded.Steps, 2)
	assert.Equal(t, models.FormTypeLogin, loaded.Steps[0].FormType)
	require.Len(t, loaded.Steps[0].Fields, 2)
	assert.True(t, loaded.Steps[0].Fields[1].IsSensitive)
	require.NotNil(t, loaded.Steps[1].DependsOnStepOrder)
	assert.Equal(t, 1, *loaded.Steps[1].DependsOnStepOrder)
	assert.True(t, loaded.Steps[1].BreakBeforeSubmit)
}

func TestWorkflowUpsert(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	workflow.Status = models.WorkflowStatusConfirmed
	workflow.Name = "Quote Request v2"
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	loaded, err := p.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusConfirmed, loaded.Status)
	assert.Equal(t, "Quote Request v2", loaded.Name)

	all, err := p.Workflows(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWorkflowNotFound(t *testing.T) {
	p, ctx := setupTestDB(t)

	_, err := p.WorkflowByID(ctx, uuid.New().String())
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestDeleteWorkflowIsSoft(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))
	require.NoError(t, p.DeleteWorkflow(ctx, workflow.ID))

	_, err := p.WorkflowByID(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = p.DeleteWorkflow(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecutionRoundTripAndPending(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.SaveWorkflow(ctx, workflow))

	started := time.Now().UTC().Truncate(time.Millisecond)
	pendingStep := 2
	record := &models.ExecutionRecord{
		ID:               uuid.New().String(),
		WorkflowID:       workflow.ID,
		Status:           models.ExecutionStatusWaitingManual,
		StartedAt:        &started,
		DisplaySessionID: "disp-1",
		PendingStepOrder: &pendingStep,
		CreatedAt:        started,
	}
	record.AppendLog(models.StepLogEntry{Step: 1, Action: "fill", Outcome: "ok", Field: "#user"})

	require.NoError(t, p.SaveExecution(ctx, record))

	loaded, err := p.ExecutionByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaitingManual, loaded.Status)
	require.NotNil(t, loaded.PendingStepOrder)
	assert.Equal(t, 2, *loaded.PendingStepOrder)
	require.Len(t, loaded.StepLog, 1)
	assert.Equal(t, "fill", loaded.StepLog[0].Action)

	pending, err := p.PendingExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, record.ID, pending[0].ID)

	completed := time.Now().UTC()
	record.Status = models.ExecutionStatusSuccess
	record.CompletedAt = &completed
	require.NoError(t, p.SaveExecution(ctx, record))

	pending, err = p.PendingExecutions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	byWorkflow, err := p.Executions(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 1)
}

func TestHealthCheck(t *testing.T) {
	p, ctx := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))
}
