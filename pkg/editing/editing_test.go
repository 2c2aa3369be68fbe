package editing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbot/formbot/pkg/browser"
	"github.com/formbot/formbot/pkg/drafts"
	"github.com/formbot/formbot/pkg/eventbus"
	"github.com/formbot/formbot/pkg/events"
	"github.com/formbot/formbot/pkg/models"
	"github.com/formbot/formbot/pkg/overlay"
	"github.com/formbot/formbot/pkg/persistence/file"
	"github.com/formbot/formbot/pkg/registry"
)

type fakePage struct {
	mu       sync.Mutex
	gotoURLs []string
	filled   map[string]string
	clicked  []string
	matches  map[string]int
	content  string
	onGoto   func(url string)
}

func newFakePage() *fakePage {
	return &fakePage{filled: map[string]string{}, matches: map[string]int{}}
}

func (p *fakePage) Goto(url string, _ time.Duration) error {
	p.mu.Lock()
	p.gotoURLs = append(p.gotoURLs, url)
	hook := p.onGoto
	p.mu.Unlock()

	if hook != nil {
		hook(url)
	}

	return nil
}

func (p *fakePage) WaitForSelector(string, time.Duration) error { return nil }
func (p *fakePage) WaitForLoad(time.Duration) error             { return nil }

func (p *fakePage) Click(selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicked = append(p.clicked, selector)

	return nil
}

func (p *fakePage) Fill(selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filled[selector] = value

	return nil
}

func (p *fakePage) Check(selector string) error {
	return p.Fill(selector, "checked")
}

func (p *fakePage) Uncheck(selector string) error {
	return p.Fill(selector, "unchecked")
}

func (p *fakePage) SelectOption(selector, value string) error {
	return p.Fill(selector, value)
}

func (p *fakePage) SetInputFiles(selector, path string) error {
	return p.Fill(selector, path)
}

func (p *fakePage) SetValueDirect(selector, value string) error {
	return p.Fill(selector, value)
}

func (p *fakePage) Evaluate(string) (any, error)                  { return nil, nil }
func (p *fakePage) ExposeFunction(string, func(...any) any) error { return nil }
func (p *fakePage) OnLoad(func())                                 {}
func (p *fakePage) MatchCount(selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.matches[selector], nil
}
func (p *fakePage) Content() (string, error) { return p.content, nil }
func (p *fakePage) URL() string              { return "https://example.test" }
func (p *fakePage) Title() (string, error)   { return "", nil }
func (p *fakePage) Screenshot(string) error  { return nil }

type fakeContext struct{ page *fakePage }

func (c *fakeContext) Page() browser.Page { return c.page }
func (c *fakeContext) Close() error       { return nil }

type fakeBrowsers struct {
	mu     sync.Mutex
	page   *fakePage
	opened int
	closed int
}

func (b *fakeBrowsers) Open(string, browser.LaunchOptions) (browser.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened++

	return &fakeContext{page: b.page}, nil
}

func (b *fakeBrowsers) Close(string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++

	return nil
}

type fakeDisplays struct {
	mu        sync.Mutex
	next      int
	released  map[string]int
	activated map[string]bool
	resume    map[string]chan struct{}
}

func newFakeDisplays() *fakeDisplays {
	return &fakeDisplays{
		released:  map[string]int{},
		activated: map[string]bool{},
		resume:    map[string]chan struct{}{},
	}
}

func (d *fakeDisplays) Allocate(_ context.Context, workflowID string) (*models.DisplaySession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	id := fmt.Sprintf("disp-%d", d.next)
	d.resume[id] = make(chan struct{}, 1)

	return &models.DisplaySession{ID: id, WorkflowID: workflowID, Display: ":99"}, nil
}

func (d *fakeDisplays) ActivateRelay(_ context.Context, sessionID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activated[sessionID] = true

	return "wss://relay.test/" + sessionID, nil
}

func (d *fakeDisplays) Touch(string) {}

func (d *fakeDisplays) WaitForResume(ctx context.Context, sessionID string) bool {
	d.mu.Lock()
	ch := d.resume[sessionID]
	d.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *fakeDisplays) Resume(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resume[sessionID] <- struct{}{}

	return nil
}

func (d *fakeDisplays) Release(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released[sessionID]++

	return nil
}

type fakeBridge struct {
	mu        sync.Mutex
	installs  [][]models.Field
	updates   [][]models.Field
	mode      models.EditingMode
	cleanedUp int
}

func (b *fakeBridge) Install(fields []models.Field) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.installs = append(b.installs, fields)

	return nil
}

func (b *fakeBridge) UpdateFields(fields []models.Field) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, fields)

	return nil
}

func (b *fakeBridge) SetMode(mode models.EditingMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = mode

	return nil
}

func (b *fakeBridge) FocusField(int) error { return nil }

func (b *fakeBridge) TestSelector(string) (overlay.SelectorResult, error) {
	return overlay.SelectorResult{Found: true, MatchCount: 1}, nil
}

func (b *fakeBridge) FillField(int, string) error        { return nil }
func (b *fakeBridge) ReadFieldValue(int) (string, error) { return "", nil }

func (b *fakeBridge) Cleanup() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanedUp++

	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
	keys   []string
}

func (p *capturePublisher) Publish(_ context.Context, key string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.keys = append(p.keys, key)

	return nil
}

func (p *capturePublisher) byType(eventType events.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var matched []eventbus.Event
	for _, event := range p.events {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

func loginWorkflow() *models.Workflow {
	password := "hunter2"
	username := "alice"

	return &models.Workflow{
		ID:            "wf-1",
		Name:          "Portal Quote",
		TargetURL:     "https://example.test/quote",
		RequiresLogin: true,
		Status:        models.WorkflowStatusDraft,
		Steps: []*models.Step{
			{
				ID:             "step-login",
				StepOrder:      1,
				PageURL:        "https://example.test/login",
				FormType:       models.FormTypeLogin,
				FormSelector:   "#login",
				SubmitSelector: "#login button",
				Fields: []*models.Field{
					{ID: "f-user", Name: "username", Type: models.FieldTypeText, Selector: "#user", PresetValue: &username},
					{ID: "f-pass", Name: "password", Type: models.FieldTypePassword, Selector: "#pass", PresetValue: &password, IsSensitive: true},
				},
			},
			{
				ID:           "step-target",
				StepOrder:    2,
				PageURL:      "https://example.test/quote",
				FormType:     models.FormTypeTarget,
				FormSelector: "#quote",
				Fields: []*models.Field{
					{ID: "f-email", Name: "email", Type: models.FieldTypeEmail, Selector: "#email"},
				},
			},
		},
	}
}

// blankWorkflow is what workflow creation produces: no steps yet, they are
// captured through an editing session.
func blankWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:        "wf-new",
		Name:      "Blank Quote",
		TargetURL: "https://example.test/quote",
		Status:    models.WorkflowStatusDraft,
	}
}

type testEnv struct {
	manager   *Manager
	page      *fakePage
	displays  *fakeDisplays
	browsers  *fakeBrowsers
	bridge    *fakeBridge
	publisher *capturePublisher
	drafts    *drafts.MemoryStore
	registry  *registry.Registry
	sink      overlay.EventSink
}

func newTestEnv(t *testing.T, workflow *models.Workflow) *testEnv {
	t.Helper()

	env := &testEnv{
		page:      newFakePage(),
		displays:  newFakeDisplays(),
		bridge:    &fakeBridge{},
		publisher: &capturePublisher{},
		drafts:    drafts.NewMemoryStore(),
		registry:  registry.NewRegistry(5),
	}
	env.browsers = &fakeBrowsers{page: env.page}

	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.SaveWorkflow(context.Background(), workflow))

	env.manager = NewManager(
		slog.Default(), env.publisher, store, env.drafts,
		env.displays, env.browsers, env.registry, nil)
	env.manager.newBridge = func(_ browser.Page, sink overlay.EventSink, _ *slog.Logger) overlayBridge {
		env.sink = sink

		return env.bridge
	}

	return env
}

func TestStartLoginWorkflow(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())

	sess, err := env.manager.Start(context.Background(), "wf-1")
	require.NoError(t, err)

	assert.Equal(t, models.EditingStatusActive, sess.Status)
	assert.Equal(t, models.PhaseLogin, sess.Phase)
	assert.Equal(t, 1, sess.CurrentStep)

	// lands on the login page with the login fields highlighted
	require.NotEmpty(t, env.page.gotoURLs)
	assert.Equal(t, "https://example.test/login", env.page.gotoURLs[0])
	require.Len(t, env.bridge.installs, 1)
	assert.Len(t, env.bridge.installs[0], 2)

	// relay stays inactive until requested
	assert.Empty(t, env.displays.activated)

	_, err = env.manager.Start(context.Background(), "wf-1")
	assert.ErrorIs(t, err, registry.ErrAlreadyActive)
}

func TestStartWithoutLoginLandsOnTarget(t *testing.T) {
	workflow := loginWorkflow()
	workflow.RequiresLogin = false
	env := newTestEnv(t, workflow)

	sess, err := env.manager.Start(context.Background(), "wf-1")
	require.NoError(t, err)

	assert.Equal(t, models.PhaseTarget, sess.Phase)
	assert.Equal(t, 2, sess.CurrentStep)
	assert.Equal(t, "https://example.test/quote", env.page.gotoURLs[0])
}

func TestStartSeedsStepForNewWorkflow(t *testing.T) {
	env := newTestEnv(t, blankWorkflow())
	ctx := context.Background()

	sess, err := env.manager.Start(ctx, "wf-new")
	require.NoError(t, err)

	require.Len(t, sess.Draft.Steps, 1)
	seeded := sess.Draft.Steps[0]
	assert.Equal(t, 0, seeded.StepOrder)
	assert.Equal(t, models.FormTypeTarget, seeded.FormType)
	assert.Equal(t, "https://example.test/quote", seeded.PageURL)
	assert.Equal(t, 0, sess.CurrentStep)

	// the first added field lands on the seeded step
	env.sink(&overlay.InboundEvent{Kind: overlay.InboundAdded, Added: &overlay.AddedPayload{
		Selector:       "#email",
		FieldName:      "email",
		FieldType:      "email",
		FormSelector:   "#quote",
		SubmitSelector: "#quote button",
	}})

	require.Len(t, seeded.Fields, 1)
	assert.Equal(t, "#quote", seeded.FormSelector)
	require.Len(t, env.publisher.byType(events.FieldAddedEvent), 1)

	// confirming materializes the captured step
	require.NoError(t, env.manager.ConfirmAll(ctx, "wf-new"))
	confirmed := sess.workflow
	require.Len(t, confirmed.Steps, 1)
	require.Len(t, confirmed.Steps[0].Fields, 1)
	assert.Equal(t, "#email", confirmed.Steps[0].Fields[0].Selector)
}

func TestStartSeedsLoginStepWhenLoginRequired(t *testing.T) {
	workflow := blankWorkflow()
	workflow.RequiresLogin = true
	env := newTestEnv(t, workflow)

	sess, err := env.manager.Start(context.Background(), "wf-new")
	require.NoError(t, err)

	assert.Equal(t, models.PhaseLogin, sess.Phase)
	require.Len(t, sess.Draft.Steps, 1)
	assert.Equal(t, models.FormTypeLogin, sess.Draft.Steps[0].FormType)
}

func TestExecuteLoginSeedsTargetStep(t *testing.T) {
	workflow := loginWorkflow()
	workflow.Steps = workflow.Steps[:1] // only the login step captured so far
	env := newTestEnv(t, workflow)
	ctx := context.Background()

	sess, err := env.manager.Start(ctx, "wf-1")
	require.NoError(t, err)

	require.NoError(t, env.manager.ExecuteLogin(ctx, "wf-1"))

	assert.Equal(t, models.PhaseTarget, sess.Phase)
	target := targetDraftStep(sess.Draft)
	require.NotNil(t, target)
	assert.Equal(t, 2, target.StepOrder)
	require.NotNil(t, target.DependsOnStepOrder)
	assert.Equal(t, 1, *target.DependsOnStepOrder)
	assert.Equal(t, "https://example.test/quote", target.PageURL)
	assert.Equal(t, 2, sess.CurrentStep)
}

func TestOverlayAddSelectRemoveValueFlow(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())

	sess, err := env.manager.Start(context.Background(), "wf-1")
	require.NoError(t, err)
	require.NotNil(t, env.sink)

	env.sink(&overlay.InboundEvent{Kind: overlay.InboundAdded, Added: &overlay.AddedPayload{
		Selector:  "#remember",
		FieldName: "remember",
		FieldType: "checkbox",
	}})

	step := draftStepByOrder(sess.Draft, 1)
	require.Len(t, step.Fields, 3)
	assert.NotEmpty(t, step.Fields[2].TempID)
	assert.Equal(t, int64(1), sess.Draft.Version)
	require.Len(t, env.publisher.byType(events.FieldAddedEvent), 1)
	require.Len(t, env.bridge.updates, 1)
	assert.Len(t, env.bridge.updates[0], 3)

	// same selector again is ignored with a warning
	env.sink(&overlay.InboundEvent{Kind: overlay.InboundAdded, Added: &overlay.AddedPayload{
		Selector: "#remember", FieldType: "checkbox",
	}})
	assert.Len(t, step.Fields, 3)
	assert.Equal(t, int64(1), sess.Draft.Version)

	env.sink(&overlay.InboundEvent{Kind: overlay.InboundSelected, Selected: &overlay.SelectedPayload{
		FieldIndex: 0, Selector: "#user", FieldType: "text",
	}})
	require.Len(t, env.publisher.byType(events.FieldSelectedEvent), 1)

	env.sink(&overlay.InboundEvent{Kind: overlay.InboundValueChanged, ValueChanged: &overlay.ValueChangedPayload{
		FieldIndex: 0, Selector: "#user", Value: "bob",
	}})
	require.NotNil(t, step.Fields[0].PresetValue)
	assert.Equal(t, "bob", *step.Fields[0].PresetValue)

	env.sink(&overlay.InboundEvent{Kind: overlay.InboundRemoved, Removed: &overlay.RemovedPayload{
		FieldIndex: 2, Selector: "#remember",
	}})
	assert.Len(t, step.Fields, 2)
	require.Len(t, env.publisher.byType(events.FieldRemovedEvent), 1)
}

func TestAmbiguousClickRecoveredServerSide(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())

	sess, err := env.manager.Start(context.Background(), "wf-1")
	require.NoError(t, err)

	// only the form-scoped candidate resolves uniquely on the live page
	env.page.matches[`#login input[name="otp"]`] = 1

	env.sink(&overlay.InboundEvent{Kind: overlay.InboundAmbiguous, Ambiguous: &overlay.AmbiguousPayload{
		Tag:          "input",
		Attributes:   map[string]string{"name": "otp"},
		FormSelector: "#login",
		FieldName:    "otp",
		FieldType:    "text",
	}})

	step := draftStepByOrder(sess.Draft, 1)
	require.Len(t, step.Fields, 3)
	assert.Equal(t, `#login input[name="otp"]`, step.Fields[2].Selector)
	require.Len(t, env.publisher.byType(events.FieldAddedEvent), 1)
}

func TestAmbiguousClickWithoutUniqueSelectorIgnored(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())

	sess, err := env.manager.Start(context.Background(), "wf-1")
	require.NoError(t, err)

	env.sink(&overlay.InboundEvent{Kind: overlay.InboundAmbiguous, Ambiguous: &overlay.AmbiguousPayload{
		Tag: "input", Attributes: map[string]string{"name": "q"}, FieldType: "text",
	}})

	step := draftStepByOrder(sess.Draft, 1)
	assert.Len(t, step.Fields, 2)
	assert.Empty(t, env.publisher.byType(events.FieldAddedEvent))
}

func TestAddedPasswordMarkedSensitive(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())

	sess, err := env.manager.Start(context.Background(), "wf-1")
	require.NoError(t, err)

	env.sink(&overlay.InboundEvent{Kind: overlay.InboundAdded, Added: &overlay.AddedPayload{
		Selector: "#pin", FieldType: "password", FieldPurpose: "password",
	}})

	step := draftStepByOrder(sess.Draft, 1)
	added := step.Fields[len(step.Fields)-1]
	assert.True(t, added.IsSensitive)
}

func TestSaveDraftSkipsUnchanged(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())
	ctx := context.Background()

	_, err := env.manager.Start(ctx, "wf-1")
	require.NoError(t, err)

	// nothing changed yet
	require.NoError(t, env.manager.SaveDraft(ctx, "wf-1"))
	_, err = env.drafts.Get(ctx, "wf-1")
	assert.ErrorIs(t, err, drafts.ErrDraftNotFound)

	env.sink(&overlay.InboundEvent{Kind: overlay.InboundValueChanged, ValueChanged: &overlay.ValueChangedPayload{
		FieldIndex: 0, Selector: "#user", Value: "bob",
	}})

	require.NoError(t, env.manager.SaveDraft(ctx, "wf-1"))
	saved, err := env.drafts.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)
}

func TestSetModeValidation(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())

	_, err := env.manager.Start(context.Background(), "wf-1")
	require.NoError(t, err)

	require.NoError(t, env.manager.SetMode("wf-1", models.ModeRemove))
	assert.Equal(t, models.ModeRemove, env.bridge.mode)

	err = env.manager.SetMode("wf-1", models.EditingMode("inspect"))
	assert.ErrorIs(t, err, ErrInvalidMode)

	err = env.manager.SetMode("wf-other", models.ModeAdd)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestNavigateStep(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())
	ctx := context.Background()

	sess, err := env.manager.Start(ctx, "wf-1")
	require.NoError(t, err)

	require.NoError(t, env.manager.NavigateStep(ctx, "wf-1", 2))
	assert.Equal(t, 2, sess.CurrentStep)
	require.Len(t, env.bridge.installs, 2)
	assert.Len(t, env.bridge.installs[1], 1) // target step has one field

	err = env.manager.NavigateStep(ctx, "wf-1", 9)
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestNavigateStepStaleCompletionDiscarded(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())
	ctx := context.Background()

	sess, err := env.manager.Start(ctx, "wf-1")
	require.NoError(t, err)

	installsBefore := len(env.bridge.installs)

	// a newer navigation starts while this one is in flight
	env.page.onGoto = func(string) {
		env.manager.mu.Lock()
		sess.navSeq++
		env.manager.mu.Unlock()
	}

	require.NoError(t, env.manager.NavigateStep(ctx, "wf-1", 2))
	assert.Equal(t, 1, sess.CurrentStep)
	assert.Len(t, env.bridge.installs, installsBefore)
}

func TestConfirmAll(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())
	ctx := context.Background()

	sess, err := env.manager.Start(ctx, "wf-1")
	require.NoError(t, err)

	env.sink(&overlay.InboundEvent{Kind: overlay.InboundAdded, Added: &overlay.AddedPayload{
		Selector: "#remember", FieldName: "remember", FieldType: "checkbox",
	}})

	require.NoError(t, env.manager.ConfirmAll(ctx, "wf-1"))
	assert.Equal(t, models.EditingStatusConfirmed, sess.Status)

	// confirmed steps carry real IDs for the added field
	confirmed := sess.workflow
	assert.Equal(t, models.WorkflowStatusConfirmed, confirmed.Status)
	loginStep := confirmed.Steps[0]
	require.Len(t, loginStep.Fields, 3)
	assert.NotEmpty(t, loginStep.Fields[2].ID)

	// draft is gone, resources released exactly once
	_, err = env.drafts.Get(ctx, "wf-1")
	assert.ErrorIs(t, err, drafts.ErrDraftNotFound)
	assert.Equal(t, 1, env.displays.released[sess.Display.ID])
	assert.Equal(t, 1, env.browsers.closed)
	assert.Equal(t, 0, env.registry.Count())

	// double confirm is a no-op
	require.NoError(t, env.manager.ConfirmAll(ctx, "wf-1"))
	assert.Equal(t, 1, env.displays.released[sess.Display.ID])
	assert.Equal(t, 1, env.bridge.cleanedUp)
}

func TestCancelRetainsDraft(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())
	ctx := context.Background()

	sess, err := env.manager.Start(ctx, "wf-1")
	require.NoError(t, err)

	env.sink(&overlay.InboundEvent{Kind: overlay.InboundValueChanged, ValueChanged: &overlay.ValueChangedPayload{
		FieldIndex: 0, Selector: "#user", Value: "bob",
	}})

	require.NoError(t, env.manager.Cancel(ctx, "wf-1"))
	assert.Equal(t, models.EditingStatusCancelled, sess.Status)

	saved, err := env.drafts.Get(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, saved.Steps[0].Fields[0].PresetValue)
	assert.Equal(t, "bob", *saved.Steps[0].Fields[0].PresetValue)

	// slot is free for a new session which picks the draft up
	sess2, err := env.manager.Start(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", *sess2.Draft.Steps[0].Fields[0].PresetValue)
}

func TestExecuteLoginHappyPath(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())
	ctx := context.Background()

	sess, err := env.manager.Start(ctx, "wf-1")
	require.NoError(t, err)

	require.NoError(t, env.manager.ExecuteLogin(ctx, "wf-1"))

	assert.Equal(t, models.PhaseTarget, sess.Phase)
	assert.Equal(t, 2, sess.CurrentStep)
	assert.Equal(t, "alice", env.page.filled["#user"])
	assert.Equal(t, "hunter2", env.page.filled["#pass"])
	assert.Contains(t, env.page.clicked, "#login button")

	completes := env.publisher.byType(events.LoginExecutionCompleteEvent)
	require.Len(t, completes, 1)
	complete := completes[0].(events.LoginExecutionComplete)
	assert.True(t, complete.Success)
	assert.Equal(t, "https://example.test/quote", complete.TargetURL)

	// overlay re-attached on the target page
	last := env.bridge.installs[len(env.bridge.installs)-1]
	require.Len(t, last, 1)
	assert.Equal(t, "#email", last[0].Selector)
}

func TestExecuteLoginPausesOnCaptcha(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())
	ctx := context.Background()

	sess, err := env.manager.Start(ctx, "wf-1")
	require.NoError(t, err)

	env.page.matches[`iframe[src*="recaptcha"]`] = 1

	done := make(chan error, 1)
	go func() { done <- env.manager.ExecuteLogin(ctx, "wf-1") }()

	// wait for the pause announcement carrying the relay URL
	require.Eventually(t, func() bool {
		for _, event := range env.publisher.byType(events.LoginExecutionProgressEvent) {
			progress := event.(events.LoginExecutionProgress)
			if progress.NeedsVNC && progress.RelayURL != "" {
				return true
			}
		}

		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, env.displays.activated[sess.Display.ID])

	require.NoError(t, env.manager.ResumeLogin("wf-1"))
	require.NoError(t, <-done)
	assert.Equal(t, models.PhaseTarget, sess.Phase)
}

func TestExecuteLoginWrongPhase(t *testing.T) {
	workflow := loginWorkflow()
	workflow.RequiresLogin = false
	env := newTestEnv(t, workflow)

	_, err := env.manager.Start(context.Background(), "wf-1")
	require.NoError(t, err)

	err = env.manager.ExecuteLogin(context.Background(), "wf-1")
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestExpire(t *testing.T) {
	env := newTestEnv(t, loginWorkflow())
	ctx := context.Background()

	sess, err := env.manager.Start(ctx, "wf-1")
	require.NoError(t, err)

	env.manager.Expire(ctx, "wf-1")
	assert.Equal(t, models.EditingStatusExpired, sess.Status)
	assert.Equal(t, 0, env.registry.Count())

	// draft survives expiry
	_, err = env.drafts.Get(ctx, "wf-1")
	assert.NoError(t, err)
}
