package editing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/formbot/formbot/pkg/browser"
	"github.com/formbot/formbot/pkg/events"
	"github.com/formbot/formbot/pkg/models"
)

// ExecuteLogin runs the workflow's login (and intermediate) steps inside the
// live editing session, so the human ends up on the target page with a valid
// session cookie. Captcha challenges pause before submit, one-time-code
// challenges pause after; both surface the relay URL and block until resumed.
// The call is synchronous; run it from its own goroutine when streaming
// progress elsewhere.
func (m *Manager) ExecuteLogin(ctx context.Context, workflowID string) error {
	m.mu.Lock()

	sess, err := m.activeLocked(workflowID)
	if err != nil {
		m.mu.Unlock()

		return err
	}

	if sess.Phase != models.PhaseLogin {
		m.mu.Unlock()

		return fmt.Errorf("%w: phase %s", ErrWrongPhase, sess.Phase)
	}

	sess.Phase = models.PhaseLoginExecuting
	steps := loginSteps(sess.Draft)
	workflow := sess.workflow
	page := sess.browserCtx.Page()
	m.mu.Unlock()

	err = m.runLoginSteps(ctx, sess, workflow, page, steps)
	if err != nil {
		m.mu.Lock()
		sess.Phase = models.PhaseLogin
		m.mu.Unlock()

		m.publish(ctx, workflowID, events.LoginExecutionComplete{
			BaseEvent: events.NewBaseEvent(events.LoginExecutionCompleteEvent, workflowID),
			SessionID: sess.ID,
			Success:   false,
			Error:     err.Error(),
		})

		return err
	}

	// land on the target page and re-attach the overlay there
	targetStep := targetDraftStep(sess.Draft)
	targetURL := workflow.TargetURL
	if targetStep != nil && targetStep.PageURL != "" {
		targetURL = targetStep.PageURL
	}

	if targetStep == nil {
		// the draft only has the login chain so far; the target form is
		// captured on the page we are about to land on
		m.mu.Lock()
		targetStep = appendTargetStep(sess.Draft, targetURL)
		m.mu.Unlock()
	}

	if err := m.attachToPage(sess, page, targetURL, targetStep); err != nil {
		m.mu.Lock()
		sess.Phase = models.PhaseLogin
		m.mu.Unlock()

		m.publish(ctx, workflowID, events.LoginExecutionComplete{
			BaseEvent: events.NewBaseEvent(events.LoginExecutionCompleteEvent, workflowID),
			SessionID: sess.ID,
			Success:   false,
			Error:     err.Error(),
		})

		return err
	}

	m.mu.Lock()
	sess.Phase = models.PhaseTarget
	if targetStep != nil {
		sess.CurrentStep = targetStep.StepOrder
	}
	m.mu.Unlock()

	m.publish(ctx, workflowID, events.LoginExecutionComplete{
		BaseEvent: events.NewBaseEvent(events.LoginExecutionCompleteEvent, workflowID),
		SessionID: sess.ID,
		Success:   true,
		TargetURL: targetURL,
	})

	m.logger.Info("Login executed in session", "workflow_id", workflowID, "target_url", targetURL)

	return nil
}

// ResumeLogin releases a pause that is waiting on manual intervention.
func (m *Manager) ResumeLogin(workflowID string) error {
	m.mu.Lock()
	sess, err := m.activeLocked(workflowID)
	m.mu.Unlock()

	if err != nil {
		return err
	}

	return m.displays.Resume(sess.Display.ID)
}

func (m *Manager) runLoginSteps(ctx context.Context, sess *Session, workflow *models.Workflow, page browser.Page, steps []*models.DraftStep) error {
	for _, step := range steps {
		m.progress(ctx, sess, fmt.Sprintf("running step %d (%s)", step.StepOrder, step.FormType), false, "")

		if err := page.Goto(step.PageURL, browser.DefaultNavigateTimeout); err != nil {
			return fmt.Errorf("navigating to step %d: %w", step.StepOrder, err)
		}

		if err := page.WaitForLoad(browser.DefaultNavigateTimeout); err != nil {
			return fmt.Errorf("waiting for step %d load: %w", step.StepOrder, err)
		}

		if step.FormSelector != "" {
			if err := page.WaitForSelector(step.FormSelector, browser.DefaultSelectorTimeout); err != nil {
				return fmt.Errorf("form for step %d never appeared: %w", step.StepOrder, err)
			}
		}

		for _, field := range step.Fields {
			if err := m.fillLoginField(page, workflow, &field.Field); err != nil {
				return fmt.Errorf("filling %s: %w", field.Selector, err)
			}
		}

		// captcha blocks the submit; hand over to the human first
		if browser.DetectCaptcha(page) || step.BreakBeforeSubmit {
			if err := m.pauseForHuman(ctx, sess, "manual action required before submit"); err != nil {
				return err
			}
		}

		if step.SubmitSelector != "" {
			if err := page.Click(step.SubmitSelector); err != nil {
				return fmt.Errorf("submitting step %d: %w", step.StepOrder, err)
			}

			if err := page.WaitForLoad(browser.DefaultNavigateTimeout); err != nil {
				return fmt.Errorf("waiting after submit of step %d: %w", step.StepOrder, err)
			}
		}

		if browser.DetectTwoFactor(page) || step.BreakAfterSubmit {
			if err := m.pauseForHuman(ctx, sess, "verification required after submit"); err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *Manager) fillLoginField(page browser.Page, workflow *models.Workflow, field *models.Field) error {
	if !field.HasPreset() {
		return nil
	}

	value := *field.PresetValue
	if field.IsSensitive {
		plain, err := m.cipher.Decrypt(value)
		if err != nil {
			return fmt.Errorf("unsealing preset: %w", err)
		}

		value = plain
	}

	if workflow.ActionDelayMs > 0 {
		time.Sleep(time.Duration(workflow.ActionDelayMs) * time.Millisecond)
	}

	switch field.Type {
	case models.FieldTypeCheckbox:
		if value == "true" || value == "1" || value == "on" {
			return page.Check(field.Selector)
		}

		return page.Uncheck(field.Selector)
	case models.FieldTypeSelect:
		return page.SelectOption(field.Selector, value)
	case models.FieldTypeHidden:
		return page.SetValueDirect(field.Selector, value)
	default:
		return page.Fill(field.Selector, value)
	}
}

// pauseForHuman activates the relay, announces it, and blocks until the
// session is resumed or torn down.
func (m *Manager) pauseForHuman(ctx context.Context, sess *Session, reason string) error {
	relayURL, err := m.displays.ActivateRelay(ctx, sess.Display.ID)
	if err != nil {
		return fmt.Errorf("activating relay for manual action: %w", err)
	}

	m.progress(ctx, sess, reason, true, relayURL)

	if !m.displays.WaitForResume(ctx, sess.Display.ID) {
		return fmt.Errorf("session ended while waiting for manual action: %s", reason)
	}

	m.progress(ctx, sess, "resumed", false, "")

	return nil
}

func (m *Manager) progress(ctx context.Context, sess *Session, message string, needsVNC bool, relayURL string) {
	m.publish(ctx, sess.WorkflowID, events.LoginExecutionProgress{
		BaseEvent: events.NewBaseEvent(events.LoginExecutionProgressEvent, sess.WorkflowID),
		SessionID: sess.ID,
		Phase:     string(models.PhaseLoginExecuting),
		Message:   message,
		NeedsVNC:  needsVNC,
		RelayURL:  relayURL,
	})
}

// loginSteps returns the non-target steps in execution order.
func loginSteps(draft *models.Draft) []*models.DraftStep {
	steps := make([]*models.DraftStep, 0)

	for _, step := range draft.Steps {
		if step.FormType != models.FormTypeTarget {
			steps = append(steps, step)
		}
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })

	return steps
}

func targetDraftStep(draft *models.Draft) *models.DraftStep {
	for _, step := range draft.Steps {
		if step.FormType == models.FormTypeTarget {
			return step
		}
	}

	return nil
}
