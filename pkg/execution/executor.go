// Package execution runs confirmed workflows unattended. A run walks the
// step dependency graph, fills preset fields, and submits forms; captcha and
// one-time-code challenges pause the run on a remote-viewable display until a
// human resumes it.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/formbot/formbot/pkg/browser"
	"github.com/formbot/formbot/pkg/display"
	"github.com/formbot/formbot/pkg/eventbus"
	"github.com/formbot/formbot/pkg/events"
	"github.com/formbot/formbot/pkg/log"
	"github.com/formbot/formbot/pkg/models"
	"github.com/formbot/formbot/pkg/persistence"
	"github.com/formbot/formbot/pkg/registry"
	"github.com/formbot/formbot/pkg/secrets"
)

var (
	// ErrNotConfirmed is returned when a real run is requested for a workflow
	// that has not been confirmed. Dry runs are allowed on drafts.
	ErrNotConfirmed = errors.New("workflow is not confirmed")

	// ErrNotWaiting is returned when resume is called for an execution that is
	// not paused.
	ErrNotWaiting = errors.New("execution is not waiting for manual action")

	// ErrNotLive is returned for commands against an execution this process
	// is not running.
	ErrNotLive = errors.New("execution is not live in this process")

	// ErrManualTimeout is returned when an execution paused for manual action
	// loses its display before anyone resumes it. Not retryable: the human
	// never showed up, a fresh browser context will not change that.
	ErrManualTimeout = errors.New("manual intervention window expired")
)

// DefaultRetryBackoff is the base delay between attempts; attempt n waits
// n times this.
const DefaultRetryBackoff = 2 * time.Second

// DisplaySessions is the slice of the display manager an execution needs.
type DisplaySessions interface {
	Allocate(ctx context.Context, workflowID string) (*models.DisplaySession, error)
	ActivateRelay(ctx context.Context, sessionID string) (string, error)
	WaitForResume(ctx context.Context, sessionID string) bool
	Resume(sessionID string) error
	Release(sessionID string) error
}

// BrowserPool is the slice of the browser manager an execution needs.
type BrowserPool interface {
	Open(workflowID string, opts browser.LaunchOptions) (browser.Context, error)
	Close(workflowID string) error
}

// Executor runs workflow executions and tracks which are live in this process.
type Executor struct {
	logger        *slog.Logger
	publisher     eventbus.EventPublisher
	store         persistence.Persistence
	displays      DisplaySessions
	browsers      BrowserPool
	registry      *registry.Registry
	cipher        secrets.Cipher
	screenshotDir string
	retryBackoff  time.Duration

	mu   sync.Mutex
	live map[string]*liveExecution
}

type liveExecution struct {
	workflowID string
	displayID  string
	waiting    bool
}

// NewExecutor wires an executor. A nil cipher reads presets as-is.
func NewExecutor(
	logger *slog.Logger,
	publisher eventbus.EventPublisher,
	store persistence.Persistence,
	displays DisplaySessions,
	browsers BrowserPool,
	reg *registry.Registry,
	cipher secrets.Cipher,
	screenshotDir string,
) *Executor {
	if cipher == nil {
		cipher = secrets.Plaintext{}
	}

	return &Executor{
		logger:        log.WithModule(logger, "execution"),
		publisher:     publisher,
		store:         store,
		displays:      displays,
		browsers:      browsers,
		registry:      reg,
		cipher:        cipher,
		screenshotDir: screenshotDir,
		retryBackoff:  DefaultRetryBackoff,
		live:          make(map[string]*liveExecution),
	}
}

// Enqueue validates the workflow and persists a queued execution record. A
// worker picks it up via PendingExecutions, or the caller passes it straight
// to Run.
func (e *Executor) Enqueue(ctx context.Context, workflowID string, dryRun bool) (*models.ExecutionRecord, error) {
	workflow, err := e.store.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !dryRun && workflow.Status != models.WorkflowStatusConfirmed {
		return nil, fmt.Errorf("%w: %s", ErrNotConfirmed, workflow.Status)
	}

	record := &models.ExecutionRecord{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Status:     models.ExecutionStatusQueued,
		IsDryRun:   dryRun,
		CreatedAt:  time.Now().UTC(),
	}

	if err := e.store.SaveExecution(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// Run executes a queued (or rehydrated) record to completion. It is
// synchronous; the final status lands in the record and the store. The
// returned error mirrors a failed run's last error.
func (e *Executor) Run(ctx context.Context, record *models.ExecutionRecord) error {
	workflow, err := e.store.WorkflowByID(ctx, record.WorkflowID)
	if err != nil {
		return e.finishWithError(ctx, record, err)
	}

	handle, err := e.registry.Acquire(ctx, record.WorkflowID, registry.KindExecution)
	if err != nil {
		return e.finishWithError(ctx, record, err)
	}
	defer handle.Release()

	runCtx := handle.Context()

	disp, err := e.displays.Allocate(runCtx, record.WorkflowID)
	if err != nil {
		return e.finishWithError(ctx, record, fmt.Errorf("allocating display: %w", err))
	}
	defer func() { _ = e.displays.Release(disp.ID) }()

	record.DisplaySessionID = disp.ID

	e.mu.Lock()
	e.live[record.ID] = &liveExecution{workflowID: record.WorkflowID, displayID: disp.ID}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.live, record.ID)
		e.mu.Unlock()
	}()

	now := time.Now().UTC()
	record.Status = models.ExecutionStatusRunning
	record.StartedAt = &now
	e.save(ctx, record)

	e.publish(ctx, record, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, record.WorkflowID),
		ExecutionID: record.ID,
		IsDryRun:    record.IsDryRun,
	})

	var lastErr error

	for attempt := 0; attempt <= workflow.MaxRetries; attempt++ {
		if attempt > 0 {
			record.RetryCount = attempt
			e.save(ctx, record)
			e.logger.Warn("Retrying execution",
				"execution_id", record.ID, "attempt", attempt, "error", lastErr)

			select {
			case <-time.After(time.Duration(attempt) * e.retryBackoff):
			case <-runCtx.Done():
				lastErr = runCtx.Err()

				return e.finishWithError(ctx, record, lastErr)
			}
		}

		browserCtx, err := e.browsers.Open(record.WorkflowID, browser.LaunchOptions{
			Headed:    true,
			Display:   disp.Display,
			UserAgent: workflow.CustomUserAgent,
			Stealth:   workflow.StealthEnabled,
		})
		if err != nil {
			lastErr = fmt.Errorf("opening browser: %w", err)

			continue
		}

		lastErr = e.runAttempt(runCtx, workflow, record, browserCtx.Page())

		// a fresh context every attempt, stale state never leaks across retries
		if err := e.browsers.Close(record.WorkflowID); err != nil {
			e.logger.Warn("Failed to close browser context",
				"execution_id", record.ID, "error", err)
		}

		if lastErr == nil || errors.Is(lastErr, context.Canceled) ||
			errors.Is(lastErr, ErrManualTimeout) {
			break
		}
	}

	if lastErr != nil {
		return e.finishWithError(ctx, record, lastErr)
	}

	record.Status = models.ExecutionStatusSuccess
	if record.IsDryRun {
		record.Status = models.ExecutionStatusDryRunOK
	}

	completed := time.Now().UTC()
	record.CompletedAt = &completed
	record.PendingStepOrder = nil
	e.save(ctx, record)

	e.publish(ctx, record, events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, record.WorkflowID),
		ExecutionID: record.ID,
		Status:      string(record.Status),
		Screenshot:  record.ScreenshotPath,
	})

	e.logger.Info("Execution completed",
		"execution_id", record.ID, "status", record.Status, "retries", record.RetryCount)

	return nil
}

// Resume releases an execution paused in waiting_manual.
func (e *Executor) Resume(executionID string) error {
	e.mu.Lock()
	live, ok := e.live[executionID]
	e.mu.Unlock()

	if !ok {
		return ErrNotLive
	}

	if !live.waiting {
		return ErrNotWaiting
	}

	return e.displays.Resume(live.displayID)
}

// Abort cooperatively cancels a live execution. A paused execution unblocks
// and fails; a running one stops at the next step boundary.
func (e *Executor) Abort(executionID string) error {
	e.mu.Lock()
	live, ok := e.live[executionID]
	e.mu.Unlock()

	if !ok {
		return ErrNotLive
	}

	e.registry.Cancel(live.workflowID)

	return nil
}

// LiveCount returns the number of executions running in this process.
func (e *Executor) LiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.live)
}

func (e *Executor) runAttempt(ctx context.Context, workflow *models.Workflow, record *models.ExecutionRecord, page browser.Page) error {
	steps := OrderSteps(workflow.Steps)
	total := len(steps)

	// a retried or rehydrated record resumes at its pending step; forms it
	// already submitted successfully are never posted again
	startIdx := 0

	if record.PendingStepOrder != nil {
		for i, step := range steps {
			if step.StepOrder == *record.PendingStepOrder {
				startIdx = i

				break
			}
		}
	}

	// the fresh browser context has no session cookie; replay the login steps
	// that precede the resume point to rebuild it
	for i := 0; i < startIdx; i++ {
		step := steps[i]
		if step.FormType != models.FormTypeLogin {
			continue
		}

		if err := e.runStep(ctx, workflow, record, page, step, false); err != nil {
			return fmt.Errorf("rebuilding session at step %d: %w", step.StepOrder, err)
		}

		record.AppendLog(models.StepLogEntry{Step: step.StepOrder, Action: "replay", Outcome: "ok"})
	}

	for i := startIdx; i < total; i++ {
		step := steps[i]

		select {
		case <-ctx.Done():
			return fmt.Errorf("execution aborted: %w", ctx.Err())
		default:
		}

		e.publish(ctx, record, events.ExecutionStepStarted{
			BaseEvent:   events.NewBaseEvent(events.ExecutionStepStartedEvent, record.WorkflowID),
			ExecutionID: record.ID,
			Step:        step.StepOrder,
			TotalSteps:  total,
			PageURL:     step.PageURL,
			FormType:    string(step.FormType),
		})

		if err := e.runStep(ctx, workflow, record, page, step, i == total-1); err != nil {
			stepOrder := step.StepOrder
			record.PendingStepOrder = &stepOrder
			record.AppendLog(models.StepLogEntry{
				Step: step.StepOrder, Action: "step", Outcome: "failed", Error: err.Error(),
			})
			e.save(ctx, record)

			return fmt.Errorf("step %d: %w", step.StepOrder, err)
		}

		if record.IsDryRun && i == total-1 {
			// runStep stopped before the final submit
			return nil
		}

		record.AppendLog(models.StepLogEntry{Step: step.StepOrder, Action: "step", Outcome: "ok"})
		e.save(ctx, record)

		e.publish(ctx, record, events.ExecutionStepCompleted{
			BaseEvent:   events.NewBaseEvent(events.ExecutionStepCompletedEvent, record.WorkflowID),
			ExecutionID: record.ID,
			Step:        step.StepOrder,
			TotalSteps:  total,
			Outcome:     "ok",
		})
	}

	if path, err := e.screenshot(page, record); err == nil {
		record.ScreenshotPath = path
	}

	return nil
}

func (e *Executor) runStep(ctx context.Context, workflow *models.Workflow, record *models.ExecutionRecord, page browser.Page, step *models.Step, isFinal bool) error {
	if err := page.Goto(step.PageURL, browser.DefaultNavigateTimeout); err != nil {
		return fmt.Errorf("navigating to %s: %w", step.PageURL, err)
	}

	if err := page.WaitForLoad(browser.DefaultNavigateTimeout); err != nil {
		return fmt.Errorf("waiting for page load: %w", err)
	}

	if step.FormSelector != "" {
		if err := page.WaitForSelector(step.FormSelector, browser.DefaultSelectorTimeout); err != nil {
			return fmt.Errorf("form %s never appeared: %w", step.FormSelector, err)
		}
	}

	e.fillStepFields(ctx, workflow, record, page, step)

	if browser.DetectCaptcha(page) {
		err := e.pause(ctx, record, step, "captcha challenge before submit",
			func() bool { return !browser.DetectCaptcha(page) })
		if err != nil {
			return err
		}
	} else if step.BreakBeforeSubmit {
		if err := e.pause(ctx, record, step, "configured breakpoint before submit", nil); err != nil {
			return err
		}
	}

	if record.IsDryRun && isFinal {
		if path, err := e.screenshot(page, record); err == nil {
			record.ScreenshotPath = path
		}

		record.AppendLog(models.StepLogEntry{
			Step: step.StepOrder, Action: "submit", Outcome: "skipped_dry_run",
		})
		e.save(ctx, record)

		return nil
	}

	if step.SubmitSelector != "" {
		if err := page.Click(step.SubmitSelector); err != nil {
			return fmt.Errorf("clicking submit %s: %w", step.SubmitSelector, err)
		}

		if err := page.WaitForLoad(browser.DefaultNavigateTimeout); err != nil {
			return fmt.Errorf("waiting after submit: %w", err)
		}
	}

	if browser.DetectTwoFactor(page) {
		err := e.pause(ctx, record, step, "verification challenge after submit",
			func() bool { return !browser.DetectTwoFactor(page) })
		if err != nil {
			return err
		}
	} else if step.BreakAfterSubmit {
		if err := e.pause(ctx, record, step, "configured breakpoint after submit", nil); err != nil {
			return err
		}
	}

	return nil
}

// fillStepFields fills every preset field. A single field failure is logged
// and tolerated; the step carries on.
func (e *Executor) fillStepFields(ctx context.Context, workflow *models.Workflow, record *models.ExecutionRecord, page browser.Page, step *models.Step) {
	fields := make([]*models.Field, len(step.Fields))
	copy(fields, step.Fields)
	sortFields(fields)

	for _, field := range fields {
		if !field.HasPreset() {
			record.AppendLog(models.StepLogEntry{
				Step: step.StepOrder, Action: "fill", Outcome: "skipped_no_preset", Field: field.Selector,
			})

			continue
		}

		if workflow.ActionDelayMs > 0 {
			time.Sleep(time.Duration(workflow.ActionDelayMs) * time.Millisecond)
		}

		if err := e.fillField(page, field); err != nil {
			record.AppendLog(models.StepLogEntry{
				Step: step.StepOrder, Action: "fill", Outcome: "failed",
				Field: field.Selector, Error: err.Error(),
			})
			e.logger.Warn("Field fill failed",
				"execution_id", record.ID, "field", field.Selector, "error", err)

			continue
		}

		record.AppendLog(models.StepLogEntry{
			Step: step.StepOrder, Action: "fill", Outcome: "ok", Field: field.Selector,
		})

		e.publish(ctx, record, events.ExecutionFieldFilled{
			BaseEvent:   events.NewBaseEvent(events.ExecutionFieldFilledEvent, record.WorkflowID),
			ExecutionID: record.ID,
			Step:        step.StepOrder,
			FieldName:   field.Name,
			FieldType:   string(field.Type),
		})
	}
}

func (e *Executor) fillField(page browser.Page, field *models.Field) error {
	value := *field.PresetValue

	if field.IsSensitive {
		plain, err := e.cipher.Decrypt(value)
		if err != nil {
			return fmt.Errorf("unsealing preset: %w", err)
		}

		value = plain
	}

	switch field.Type {
	case models.FieldTypeCheckbox:
		if value == "true" || value == "1" || value == "on" {
			return page.Check(field.Selector)
		}

		return page.Uncheck(field.Selector)
	case models.FieldTypeRadio:
		return page.Check(field.Selector)
	case models.FieldTypeSelect:
		return page.SelectOption(field.Selector, value)
	case models.FieldTypeFile:
		return page.SetInputFiles(field.Selector, value)
	case models.FieldTypeHidden:
		return page.SetValueDirect(field.Selector, value)
	default:
		return page.Fill(field.Selector, value)
	}
}

// pause parks the execution in waiting_manual on its display until a human
// resumes it. After resume the blocking condition is re-verified; a challenge
// still on the page parks the run again.
func (e *Executor) pause(ctx context.Context, record *models.ExecutionRecord, step *models.Step, reason string, cleared func() bool) error {
	e.mu.Lock()
	if live, ok := e.live[record.ID]; ok {
		live.waiting = true
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if live, ok := e.live[record.ID]; ok {
			live.waiting = false
		}
		e.mu.Unlock()
	}()

	for {
		relayURL, err := e.displays.ActivateRelay(ctx, record.DisplaySessionID)
		if err != nil {
			if errors.Is(err, display.ErrSessionNotFound) {
				return fmt.Errorf("%w: display session %s is gone", ErrManualTimeout, record.DisplaySessionID)
			}

			return fmt.Errorf("activating relay: %w", err)
		}

		stepOrder := step.StepOrder
		record.Status = models.ExecutionStatusWaitingManual
		record.PendingStepOrder = &stepOrder
		e.save(ctx, record)

		e.publish(ctx, record, events.ExecutionWaitingManual{
			BaseEvent:        events.NewBaseEvent(events.ExecutionWaitingManualEvent, record.WorkflowID),
			ExecutionID:      record.ID,
			Step:             step.StepOrder,
			Reason:           reason,
			DisplaySessionID: record.DisplaySessionID,
			RelayURL:         relayURL,
		})

		e.logger.Info("Execution waiting for manual action",
			"execution_id", record.ID, "step", step.StepOrder, "reason", reason)

		if !e.displays.WaitForResume(ctx, record.DisplaySessionID) {
			if ctx.Err() != nil {
				return fmt.Errorf("execution aborted while waiting for manual action: %w", ctx.Err())
			}

			// the display lease ran out from under the pause
			return fmt.Errorf("%w: %s", ErrManualTimeout, reason)
		}

		if cleared != nil && !cleared() {
			e.logger.Warn("Challenge still present after resume, waiting again",
				"execution_id", record.ID, "step", step.StepOrder)

			continue
		}

		record.Status = models.ExecutionStatusRunning
		record.PendingStepOrder = nil
		e.save(ctx, record)

		e.publish(ctx, record, events.ExecutionResumed{
			BaseEvent:   events.NewBaseEvent(events.ExecutionResumedEvent, record.WorkflowID),
			ExecutionID: record.ID,
			Step:        step.StepOrder,
			Reason:      reason,
		})

		return nil
	}
}

func (e *Executor) screenshot(page browser.Page, record *models.ExecutionRecord) (string, error) {
	if e.screenshotDir == "" {
		return "", errors.New("screenshots disabled")
	}

	path := filepath.Join(e.screenshotDir, record.ID+".png")
	if err := page.Screenshot(path); err != nil {
		return "", fmt.Errorf("capturing screenshot: %w", err)
	}

	return path, nil
}

func (e *Executor) finishWithError(ctx context.Context, record *models.ExecutionRecord, runErr error) error {
	record.Status = models.ExecutionStatusFailed
	record.ErrorMessage = runErr.Error()
	completed := time.Now().UTC()
	record.CompletedAt = &completed
	e.save(ctx, record)

	e.publish(ctx, record, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, record.WorkflowID),
		ExecutionID: record.ID,
		Error:       runErr.Error(),
	})

	e.logger.Error("Execution failed", "execution_id", record.ID, "error", runErr)

	return runErr
}

func (e *Executor) save(ctx context.Context, record *models.ExecutionRecord) {
	if err := e.store.SaveExecution(ctx, record); err != nil {
		e.logger.Error("Failed to persist execution record",
			"execution_id", record.ID, "error", err)
	}
}

func (e *Executor) publish(ctx context.Context, record *models.ExecutionRecord, event eventbus.Event) {
	if err := e.publisher.Publish(ctx, events.ExecutionKey(record.ID), event); err != nil {
		e.logger.Warn("Failed to publish event",
			"execution_id", record.ID, "event_type", event.GetType(), "error", err)
	}
}

func sortFields(fields []*models.Field) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].SortOrder < fields[j].SortOrder })
}
