package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbot/formbot/pkg/browser"
	"github.com/formbot/formbot/pkg/drafts"
	"github.com/formbot/formbot/pkg/editing"
	"github.com/formbot/formbot/pkg/eventbus"
	"github.com/formbot/formbot/pkg/execution"
	"github.com/formbot/formbot/pkg/models"
	"github.com/formbot/formbot/pkg/persistence"
	"github.com/formbot/formbot/pkg/persistence/file"
	"github.com/formbot/formbot/pkg/registry"
	"github.com/formbot/formbot/pkg/web"
)

type stubPage struct{ mu sync.Mutex }

func (p *stubPage) Goto(string, time.Duration) error            { return nil }
func (p *stubPage) WaitForSelector(string, time.Duration) error { return nil }
func (p *stubPage) WaitForLoad(time.Duration) error             { return nil }
func (p *stubPage) Click(string) error                          { return nil }
func (p *stubPage) Fill(string, string) error                   { return nil }
func (p *stubPage) Check(string) error                          { return nil }
func (p *stubPage) Uncheck(string) error                        { return nil }
func (p *stubPage) SelectOption(string, string) error           { return nil }
func (p *stubPage) SetInputFiles(string, string) error          { return nil }
func (p *stubPage) SetValueDirect(string, string) error         { return nil }
func (p *stubPage) Evaluate(string) (any, error)                { return nil, nil }
func (p *stubPage) ExposeFunction(string, func(...any) any) error {
	return nil
}
func (p *stubPage) OnLoad(func())                  {}
func (p *stubPage) MatchCount(string) (int, error) { return 0, nil }
func (p *stubPage) Content() (string, error)       { return "", nil }
func (p *stubPage) URL() string                    { return "https://example.test" }
func (p *stubPage) Title() (string, error)         { return "", nil }
func (p *stubPage) Screenshot(string) error        { return nil }

type stubContext struct{ page *stubPage }

func (c *stubContext) Page() browser.Page { return c.page }
func (c *stubContext) Close() error       { return nil }

type stubBrowsers struct{}

func (b *stubBrowsers) Open(string, browser.LaunchOptions) (browser.Context, error) {
	return &stubContext{page: &stubPage{}}, nil
}

func (b *stubBrowsers) Close(string) error { return nil }

type stubDisplays struct {
	mu   sync.Mutex
	next int
}

func (d *stubDisplays) Allocate(_ context.Context, workflowID string) (*models.DisplaySession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++

	return &models.DisplaySession{
		ID:         fmt.Sprintf("disp-%d", d.next),
		WorkflowID: workflowID,
		Display:    ":99",
	}, nil
}

func (d *stubDisplays) ActivateRelay(_ context.Context, sessionID string) (string, error) {
	return "wss://relay.test/" + sessionID, nil
}

func (d *stubDisplays) Touch(string) {}

func (d *stubDisplays) WaitForResume(ctx context.Context, _ string) bool {
	<-ctx.Done()

	return false
}

func (d *stubDisplays) Resume(string) error  { return nil }
func (d *stubDisplays) Release(string) error { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, eventbus.Event) error { return nil }

type testServer struct {
	app   *fiber.App
	store persistence.Persistence
}

func setupTestApp(t *testing.T) *testServer {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(5)
	displays := &stubDisplays{}
	browsers := &stubBrowsers{}
	logger := slog.Default()

	editingManager := editing.NewManager(
		logger, noopPublisher{}, store, drafts.NewMemoryStore(),
		displays, browsers, reg, nil)
	executor := execution.NewExecutor(
		logger, noopPublisher{}, store, displays, browsers, reg, nil, t.TempDir())

	handlers := web.NewAPIHandlers(
		editingManager, executor, store,
		validator.New(validator.WithRequiredStructEnabled()), logger)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return &testServer{app: app, store: store}
}

func (s *testServer) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	var value T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&value))

	return value
}

func seedWorkflow(t *testing.T, server *testServer, status models.WorkflowStatus) *models.Workflow {
	t.Helper()

	username := "alice"
	workflow := &models.Workflow{
		ID:            "wf-1",
		Name:          "Portal Quote",
		TargetURL:     "https://example.test/quote",
		RequiresLogin: false,
		Status:        status,
		Steps: []*models.Step{
			{
				ID:             "step-target",
				StepOrder:      1,
				PageURL:        "https://example.test/quote",
				FormType:       models.FormTypeTarget,
				FormSelector:   "#quote",
				SubmitSelector: "#quote button",
				Fields: []*models.Field{
					{ID: "f-user", Name: "username", Type: models.FieldTypeText, Selector: "#user", PresetValue: &username},
				},
			},
		},
	}
	require.NoError(t, server.store.SaveWorkflow(context.Background(), workflow))

	return workflow
}

func TestCreateWorkflow(t *testing.T) {
	server := setupTestApp(t)

	resp := server.request(t, http.MethodPost, "/workflows/", web.CreateWorkflowRequest{
		Name:          "Portal Quote",
		TargetURL:     "https://example.test/quote",
		RequiresLogin: true,
		MaxRetries:    2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeBody[models.Workflow](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
	assert.True(t, created.RequiresLogin)
	assert.Empty(t, created.Steps)
}

func TestCreateWorkflowValidation(t *testing.T) {
	server := setupTestApp(t)

	tests := []struct {
		name string
		body web.CreateWorkflowRequest
	}{
		{"missing name", web.CreateWorkflowRequest{TargetURL: "https://example.test"}},
		{"name too short", web.CreateWorkflowRequest{Name: "ab", TargetURL: "https://example.test"}},
		{"missing target url", web.CreateWorkflowRequest{Name: "Portal Quote"}},
		{"bad target url", web.CreateWorkflowRequest{Name: "Portal Quote", TargetURL: "not-a-url"}},
		{"retries out of range", web.CreateWorkflowRequest{Name: "Portal Quote", TargetURL: "https://example.test", MaxRetries: 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := server.request(t, http.MethodPost, "/workflows/", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	server := setupTestApp(t)

	resp := server.request(t, http.MethodGet, "/workflows/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	problem := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "not_found", problem["type"])
}

func TestUpdateWorkflowPartial(t *testing.T) {
	server := setupTestApp(t)
	seedWorkflow(t, server, models.WorkflowStatusDraft)

	name := "Portal Quote v2"
	delay := 250
	resp := server.request(t, http.MethodPatch, "/workflows/wf-1", web.UpdateWorkflowRequest{
		Name:          &name,
		ActionDelayMs: &delay,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeBody[models.Workflow](t, resp)
	assert.Equal(t, "Portal Quote v2", updated.Name)
	assert.Equal(t, 250, updated.ActionDelayMs)
	// untouched fields survive
	assert.Equal(t, "https://example.test/quote", updated.TargetURL)
}

func TestDeleteWorkflow(t *testing.T) {
	server := setupTestApp(t)
	seedWorkflow(t, server, models.WorkflowStatusDraft)

	resp := server.request(t, http.MethodDelete, "/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = server.request(t, http.MethodGet, "/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEditingSessionLifecycle(t *testing.T) {
	server := setupTestApp(t)
	seedWorkflow(t, server, models.WorkflowStatusDraft)

	resp := server.request(t, http.MethodPost, "/workflows/wf-1/editing/", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	sess := decodeBody[web.SessionResponse](t, resp)
	assert.Equal(t, "wf-1", sess.WorkflowID)
	assert.Equal(t, string(models.EditingStatusActive), sess.Status)
	assert.Equal(t, string(models.PhaseTarget), sess.Phase)
	assert.Equal(t, 1, sess.CurrentStep)
	require.NotNil(t, sess.Draft)
	require.Len(t, sess.Draft.Steps, 1)

	// one session per workflow
	resp = server.request(t, http.MethodPost, "/workflows/wf-1/editing/", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = server.request(t, http.MethodPost, "/workflows/wf-1/editing/mode", web.SetModeRequest{Mode: "eraser"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = server.request(t, http.MethodPost, "/workflows/wf-1/editing/mode", web.SetModeRequest{Mode: "remove"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = server.request(t, http.MethodGet, "/workflows/wf-1/editing/relay", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	relay := decodeBody[web.RelayResponse](t, resp)
	assert.Contains(t, relay.RelayURL, "wss://relay.test/")

	resp = server.request(t, http.MethodDelete, "/workflows/wf-1/editing/", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = server.request(t, http.MethodDelete, "/workflows/wf-1/editing/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNavigateToRootStep(t *testing.T) {
	server := setupTestApp(t)
	workflow := seedWorkflow(t, server, models.WorkflowStatusDraft)
	workflow.Steps[0].StepOrder = 0
	require.NoError(t, server.store.SaveWorkflow(context.Background(), workflow))

	resp := server.request(t, http.MethodPost, "/workflows/wf-1/editing/", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// step orders are zero-based; the root step is navigable
	zero := 0
	resp = server.request(t, http.MethodPost, "/workflows/wf-1/editing/navigate",
		web.NavigateStepRequest{StepOrder: &zero})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// a body without step_order is still rejected
	resp = server.request(t, http.MethodPost, "/workflows/wf-1/editing/navigate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfirmEditingSession(t *testing.T) {
	server := setupTestApp(t)
	seedWorkflow(t, server, models.WorkflowStatusDraft)

	resp := server.request(t, http.MethodPost, "/workflows/wf-1/editing/", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = server.request(t, http.MethodPost, "/workflows/wf-1/editing/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	confirmed := decodeBody[models.Workflow](t, resp)
	assert.Equal(t, models.WorkflowStatusConfirmed, confirmed.Status)
}

func TestStartExecution(t *testing.T) {
	server := setupTestApp(t)
	seedWorkflow(t, server, models.WorkflowStatusConfirmed)

	resp := server.request(t, http.MethodPost, "/workflows/wf-1/executions", web.StartExecutionRequest{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	record := decodeBody[web.ExecutionResponse](t, resp)
	assert.Equal(t, "wf-1", record.WorkflowID)

	require.Eventually(t, func() bool {
		stored, err := server.store.ExecutionByID(context.Background(), record.ID)

		return err == nil && stored.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := server.store.ExecutionByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
}

func TestStartExecutionRequiresConfirmed(t *testing.T) {
	server := setupTestApp(t)
	seedWorkflow(t, server, models.WorkflowStatusDraft)

	resp := server.request(t, http.MethodPost, "/workflows/wf-1/executions", web.StartExecutionRequest{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = server.request(t, http.MethodPost, "/workflows/wf-1/executions", web.StartExecutionRequest{DryRun: true})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestExecutionCommandsForUnknownExecution(t *testing.T) {
	server := setupTestApp(t)

	resp := server.request(t, http.MethodPost, "/executions/missing/resume", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = server.request(t, http.MethodPost, "/executions/missing/abort", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = server.request(t, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	server := setupTestApp(t)

	resp := server.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	health := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "healthy", health["status"])
}
