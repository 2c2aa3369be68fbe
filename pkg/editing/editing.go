// Package editing runs supervised editing sessions: a live headed browser on
// a virtual display, the in-page overlay, and the draft the overlay mutates.
// One workflow has at most one live session; the registry arbitrates.
package editing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/formbot/formbot/pkg/browser"
	"github.com/formbot/formbot/pkg/drafts"
	"github.com/formbot/formbot/pkg/eventbus"
	"github.com/formbot/formbot/pkg/log"
	"github.com/formbot/formbot/pkg/models"
	"github.com/formbot/formbot/pkg/overlay"
	"github.com/formbot/formbot/pkg/persistence"
	"github.com/formbot/formbot/pkg/registry"
	"github.com/formbot/formbot/pkg/secrets"
)

var (
	// ErrNoActiveSession is returned for commands against a workflow without a
	// live editing session.
	ErrNoActiveSession = errors.New("no active editing session for workflow")

	// ErrInvalidMode is returned for an unknown interaction mode.
	ErrInvalidMode = errors.New("invalid editing mode")

	// ErrWrongPhase is returned when a login command does not match the
	// session's current phase.
	ErrWrongPhase = errors.New("operation not valid in current login phase")

	// ErrStepNotFound is returned when a navigation target step does not exist.
	ErrStepNotFound = errors.New("step not found in draft")
)

// DisplaySessions is the slice of the display manager the editing flow needs.
type DisplaySessions interface {
	Allocate(ctx context.Context, workflowID string) (*models.DisplaySession, error)
	ActivateRelay(ctx context.Context, sessionID string) (string, error)
	Touch(sessionID string)
	WaitForResume(ctx context.Context, sessionID string) bool
	Resume(sessionID string) error
	Release(sessionID string) error
}

// BrowserPool is the slice of the browser manager the editing flow needs.
type BrowserPool interface {
	Open(workflowID string, opts browser.LaunchOptions) (browser.Context, error)
	Close(workflowID string) error
}

// overlayBridge abstracts the in-page overlay for tests.
type overlayBridge interface {
	Install(fields []models.Field) error
	UpdateFields(fields []models.Field) error
	SetMode(mode models.EditingMode) error
	FocusField(index int) error
	TestSelector(selector string) (overlay.SelectorResult, error)
	FillField(index int, value string) error
	ReadFieldValue(index int) (string, error)
	Cleanup() error
}

// Session is one live (or recently finished) editing session.
type Session struct {
	ID         string
	WorkflowID string
	Status     models.EditingStatus
	Phase      models.LoginPhase
	Mode       models.EditingMode
	Draft      *models.Draft
	// CurrentStep is the step_order of the step the overlay is attached to.
	CurrentStep int
	Display     *models.DisplaySession

	workflow     *models.Workflow
	browserCtx   browser.Context
	bridge       overlayBridge
	handle       *registry.Handle
	navSeq       int64
	savedVersion int64
	released     bool
}

// Manager owns all editing sessions in the process.
type Manager struct {
	logger    *slog.Logger
	publisher eventbus.EventPublisher
	workflows persistence.WorkflowRepository
	drafts    drafts.Store
	displays  DisplaySessions
	browsers  BrowserPool
	registry  *registry.Registry
	cipher    secrets.Cipher

	// swappable for tests
	newBridge func(page browser.Page, sink overlay.EventSink, logger *slog.Logger) overlayBridge

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wires an editing manager. A nil cipher stores presets as-is.
func NewManager(
	logger *slog.Logger,
	publisher eventbus.EventPublisher,
	workflows persistence.WorkflowRepository,
	draftStore drafts.Store,
	displays DisplaySessions,
	browsers BrowserPool,
	reg *registry.Registry,
	cipher secrets.Cipher,
) *Manager {
	if cipher == nil {
		cipher = secrets.Plaintext{}
	}

	return &Manager{
		logger:    log.WithModule(logger, "editing"),
		publisher: publisher,
		workflows: workflows,
		drafts:    draftStore,
		displays:  displays,
		browsers:  browsers,
		registry:  reg,
		cipher:    cipher,
		newBridge: func(page browser.Page, sink overlay.EventSink, logger *slog.Logger) overlayBridge {
			return overlay.NewBridge(page, sink, logger)
		},
		sessions: make(map[string]*Session),
	}
}

// Start begins an editing session for the workflow: claims the workflow slot,
// reserves a virtual display, opens a headed browser on it, navigates to the
// entry step and installs the overlay. The relay stays inactive until someone
// asks to view the session.
func (m *Manager) Start(ctx context.Context, workflowID string) (*Session, error) {
	workflow, err := m.workflows.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	handle, err := m.registry.Acquire(ctx, workflowID, registry.KindEditing)
	if err != nil {
		return nil, err
	}

	disp, err := m.displays.Allocate(ctx, workflowID)
	if err != nil {
		handle.Release()

		return nil, fmt.Errorf("allocating display: %w", err)
	}

	browserCtx, err := m.browsers.Open(workflowID, browser.LaunchOptions{
		Headed:    true,
		Display:   disp.Display,
		UserAgent: workflow.CustomUserAgent,
		Stealth:   workflow.StealthEnabled,
	})
	if err != nil {
		_ = m.displays.Release(disp.ID)
		handle.Release()

		return nil, fmt.Errorf("opening browser: %w", err)
	}

	draft := m.loadOrCreateDraft(ctx, workflow)
	if len(draft.Steps) == 0 {
		draft.Steps = append(draft.Steps, seedDraftStep(workflow))
	}

	sess := &Session{
		ID:           uuid.New().String(),
		WorkflowID:   workflowID,
		Status:       models.EditingStatusActive,
		Phase:        entryPhase(workflow),
		Mode:         models.ModeSelect,
		Draft:        draft,
		Display:      disp,
		workflow:     workflow,
		browserCtx:   browserCtx,
		handle:       handle,
		savedVersion: draft.Version,
	}

	entryStep := entryDraftStep(workflow, draft)
	if entryStep != nil {
		sess.CurrentStep = entryStep.StepOrder
	}

	page := browserCtx.Page()
	sess.bridge = m.newBridge(page, m.sinkFor(workflowID), m.logger)

	m.mu.Lock()
	m.sessions[workflowID] = sess
	m.mu.Unlock()

	entryURL := workflow.TargetURL
	if entryStep != nil && entryStep.PageURL != "" {
		entryURL = entryStep.PageURL
	}

	if err := m.attachToPage(sess, page, entryURL, entryStep); err != nil {
		m.teardown(ctx, sess, models.EditingStatusCancelled, false)

		return nil, err
	}

	m.logger.Info("Editing session started",
		"workflow_id", workflowID, "session_id", sess.ID, "phase", sess.Phase)

	return sess, nil
}

func (m *Manager) attachToPage(sess *Session, page browser.Page, url string, step *models.DraftStep) error {
	if err := page.Goto(url, browser.DefaultNavigateTimeout); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}

	if err := page.WaitForLoad(browser.DefaultNavigateTimeout); err != nil {
		return fmt.Errorf("waiting for load of %s: %w", url, err)
	}

	var fields []models.Field
	if step != nil {
		fields = stepFields(step)
	}

	if err := sess.bridge.Install(fields); err != nil {
		return fmt.Errorf("installing overlay: %w", err)
	}

	return nil
}

// Get returns the session for a workflow, live or terminal.
func (m *Manager) Get(workflowID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[workflowID]

	return sess, ok
}

// SetMode switches how overlay clicks are interpreted.
func (m *Manager) SetMode(workflowID string, mode models.EditingMode) error {
	if !models.ValidEditingMode(mode) {
		return fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.activeLocked(workflowID)
	if err != nil {
		return err
	}

	sess.Mode = mode
	m.displays.Touch(sess.Display.ID)

	return sess.bridge.SetMode(mode)
}

// FocusField scrolls a tracked field of the current step into view.
func (m *Manager) FocusField(workflowID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.activeLocked(workflowID)
	if err != nil {
		return err
	}

	m.displays.Touch(sess.Display.ID)

	return sess.bridge.FocusField(index)
}

// TestSelector probes a CSS selector against the live page.
func (m *Manager) TestSelector(workflowID, selector string) (overlay.SelectorResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.activeLocked(workflowID)
	if err != nil {
		return overlay.SelectorResult{}, err
	}

	m.displays.Touch(sess.Display.ID)

	return sess.bridge.TestSelector(selector)
}

// FillField writes a value into a tracked field on the live page.
func (m *Manager) FillField(workflowID string, index int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.activeLocked(workflowID)
	if err != nil {
		return err
	}

	m.displays.Touch(sess.Display.ID)

	return sess.bridge.FillField(index, value)
}

// ReadFieldValue reads the live value of a tracked field.
func (m *Manager) ReadFieldValue(workflowID string, index int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.activeLocked(workflowID)
	if err != nil {
		return "", err
	}

	return sess.bridge.ReadFieldValue(index)
}

// RelayURL lazily activates the remote-viewing relay for the session and
// returns the URL a supervisor can open.
func (m *Manager) RelayURL(ctx context.Context, workflowID string) (string, error) {
	m.mu.Lock()
	sess, err := m.activeLocked(workflowID)
	m.mu.Unlock()

	if err != nil {
		return "", err
	}

	m.displays.Touch(sess.Display.ID)

	return m.displays.ActivateRelay(ctx, sess.Display.ID)
}

// SaveDraft persists the draft if it changed since the last save.
func (m *Manager) SaveDraft(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.activeLocked(workflowID)
	if err != nil {
		return err
	}

	if sess.Draft.Version == sess.savedVersion {
		return nil
	}

	if err := m.drafts.Save(ctx, workflowID, sess.Draft); err != nil {
		return err
	}

	sess.savedVersion = sess.Draft.Version

	return nil
}

// NavigateStep moves the session's browser to another draft step and attaches
// the overlay there. Navigation requests carry a monotonic id; if a newer
// request started while this one was in flight, its completion is discarded.
func (m *Manager) NavigateStep(ctx context.Context, workflowID string, stepOrder int) error {
	m.mu.Lock()

	sess, err := m.activeLocked(workflowID)
	if err != nil {
		m.mu.Unlock()

		return err
	}

	step := draftStepByOrder(sess.Draft, stepOrder)
	if step == nil {
		m.mu.Unlock()

		return fmt.Errorf("%w: step_order %d", ErrStepNotFound, stepOrder)
	}

	sess.navSeq++
	seq := sess.navSeq
	page := sess.browserCtx.Page()
	m.displays.Touch(sess.Display.ID)
	m.mu.Unlock()

	if err := page.Goto(step.PageURL, browser.DefaultNavigateTimeout); err != nil {
		return fmt.Errorf("navigating to step %d: %w", stepOrder, err)
	}

	if err := page.WaitForLoad(browser.DefaultNavigateTimeout); err != nil {
		return fmt.Errorf("waiting for step %d load: %w", stepOrder, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.navSeq != seq || sess.Status != models.EditingStatusActive {
		// a newer navigation superseded this one
		return nil
	}

	sess.CurrentStep = stepOrder

	return sess.bridge.Install(stepFields(step))
}

// ConfirmAll materializes the draft into the workflow definition, marks the
// workflow confirmed and winds the session down. Confirming an already
// confirmed session is a no-op.
func (m *Manager) ConfirmAll(ctx context.Context, workflowID string) error {
	m.mu.Lock()

	sess, ok := m.sessions[workflowID]
	if !ok {
		m.mu.Unlock()

		return ErrNoActiveSession
	}

	if sess.Status == models.EditingStatusConfirmed {
		m.mu.Unlock()

		return nil
	}

	if sess.Status != models.EditingStatusActive {
		m.mu.Unlock()

		return ErrNoActiveSession
	}

	steps, err := materializeSteps(sess.Draft, m.cipher)
	if err != nil {
		m.mu.Unlock()

		return fmt.Errorf("materializing draft: %w", err)
	}

	workflow := sess.workflow
	workflow.Steps = steps
	workflow.Status = models.WorkflowStatusConfirmed
	m.mu.Unlock()

	if err := m.workflows.SaveWorkflow(ctx, workflow); err != nil {
		return fmt.Errorf("saving confirmed workflow: %w", err)
	}

	if err := m.drafts.Delete(ctx, workflowID); err != nil {
		m.logger.Warn("Failed to delete confirmed draft", "workflow_id", workflowID, "error", err)
	}

	m.teardown(ctx, sess, models.EditingStatusConfirmed, false)

	m.logger.Info("Editing session confirmed", "workflow_id", workflowID, "steps", len(steps))

	return nil
}

// Cancel winds the session down without confirming. The draft is kept so a
// later session can pick up where this one left off.
func (m *Manager) Cancel(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	sess, err := m.activeLocked(workflowID)
	m.mu.Unlock()

	if err != nil {
		return err
	}

	m.teardown(ctx, sess, models.EditingStatusCancelled, true)

	m.logger.Info("Editing session cancelled", "workflow_id", workflowID)

	return nil
}

// Expire winds down a session whose display lease ran out.
func (m *Manager) Expire(ctx context.Context, workflowID string) {
	m.mu.Lock()
	sess, err := m.activeLocked(workflowID)
	m.mu.Unlock()

	if err != nil {
		return
	}

	m.teardown(ctx, sess, models.EditingStatusExpired, true)

	m.logger.Info("Editing session expired", "workflow_id", workflowID)
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0

	for _, sess := range m.sessions {
		if sess.Status == models.EditingStatusActive {
			count++
		}
	}

	return count
}

// Shutdown cancels every live session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()

	live := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess.Status == models.EditingStatusActive {
			live = append(live, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range live {
		m.teardown(ctx, sess, models.EditingStatusCancelled, true)
	}
}

func (m *Manager) activeLocked(workflowID string) (*Session, error) {
	sess, ok := m.sessions[workflowID]
	if !ok || sess.Status != models.EditingStatusActive {
		return nil, ErrNoActiveSession
	}

	return sess, nil
}

// teardown releases everything a session holds, exactly once, and leaves the
// session in the map with its terminal status.
func (m *Manager) teardown(ctx context.Context, sess *Session, status models.EditingStatus, keepDraft bool) {
	m.mu.Lock()

	if sess.released {
		m.mu.Unlock()

		return
	}

	sess.released = true
	sess.Status = status
	draft := sess.Draft
	m.mu.Unlock()

	if keepDraft && draft != nil {
		if err := m.drafts.Save(ctx, sess.WorkflowID, draft); err != nil {
			m.logger.Warn("Failed to retain draft on teardown",
				"workflow_id", sess.WorkflowID, "error", err)
		}
	}

	if sess.bridge != nil {
		if err := sess.bridge.Cleanup(); err != nil {
			m.logger.Debug("Overlay cleanup failed", "workflow_id", sess.WorkflowID, "error", err)
		}
	}

	if err := m.browsers.Close(sess.WorkflowID); err != nil {
		m.logger.Warn("Failed to close browser context", "workflow_id", sess.WorkflowID, "error", err)
	}

	if err := m.displays.Release(sess.Display.ID); err != nil {
		m.logger.Debug("Display release on teardown", "workflow_id", sess.WorkflowID, "error", err)
	}

	sess.handle.Release()
}

func entryPhase(workflow *models.Workflow) models.LoginPhase {
	if workflow.RequiresLogin {
		return models.PhaseLogin
	}

	return models.PhaseTarget
}

// entryDraftStep picks where an editing session lands: the first login step
// when the workflow needs one, the target step otherwise.
func entryDraftStep(workflow *models.Workflow, draft *models.Draft) *models.DraftStep {
	if len(draft.Steps) == 0 {
		return nil
	}

	steps := make([]*models.DraftStep, len(draft.Steps))
	copy(steps, draft.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })

	if workflow.RequiresLogin {
		for _, step := range steps {
			if step.FormType == models.FormTypeLogin {
				return step
			}
		}
	}

	for _, step := range steps {
		if step.FormType == models.FormTypeTarget {
			return step
		}
	}

	return steps[0]
}

func (m *Manager) loadOrCreateDraft(ctx context.Context, workflow *models.Workflow) *models.Draft {
	existing, err := m.drafts.Get(ctx, workflow.ID)
	if err == nil {
		return existing
	}

	if !errors.Is(err, drafts.ErrDraftNotFound) {
		m.logger.Warn("Failed to load draft, starting fresh",
			"workflow_id", workflow.ID, "error", err)
	}

	return draftFromWorkflow(workflow)
}
