package editing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/formbot/formbot/pkg/events"
	"github.com/formbot/formbot/pkg/models"
	"github.com/formbot/formbot/pkg/overlay"
	"github.com/formbot/formbot/pkg/secrets"
	"github.com/formbot/formbot/pkg/selector"
)

// draftFromWorkflow seeds a fresh draft from the persisted step definitions.
func draftFromWorkflow(workflow *models.Workflow) *models.Draft {
	draft := &models.Draft{Version: 0}

	for _, step := range workflow.Steps {
		draftStep := &models.DraftStep{Step: *step}
		draftStep.Step.Fields = nil

		for _, field := range step.Fields {
			draftStep.Fields = append(draftStep.Fields, &models.DraftField{Field: *field})
		}

		draft.Steps = append(draft.Steps, draftStep)
	}

	return draft
}

// seedDraftStep creates the first step of a draft for a workflow that has
// none yet: freshly created workflows carry no steps, so the page the session
// opens on becomes the step the overlay edits. The form selectors arrive with
// the first added field.
func seedDraftStep(workflow *models.Workflow) *models.DraftStep {
	formType := models.FormTypeTarget
	if workflow.RequiresLogin {
		formType = models.FormTypeLogin
	}

	return &models.DraftStep{Step: models.Step{
		StepOrder: 0,
		FormType:  formType,
		PageURL:   workflow.TargetURL,
	}}
}

// appendTargetStep adds a target step behind the existing chain, depending on
// the last step so execution orders it after the login path.
func appendTargetStep(draft *models.Draft, pageURL string) *models.DraftStep {
	order := 0
	last := -1

	for _, step := range draft.Steps {
		if step.StepOrder >= order {
			order = step.StepOrder + 1
		}

		if step.StepOrder > last {
			last = step.StepOrder
		}
	}

	step := &models.DraftStep{Step: models.Step{
		StepOrder: order,
		FormType:  models.FormTypeTarget,
		PageURL:   pageURL,
	}}
	if last >= 0 {
		dependsOn := last
		step.DependsOnStepOrder = &dependsOn
	}

	draft.Steps = append(draft.Steps, step)
	draft.Version++

	return step
}

func draftStepByOrder(draft *models.Draft, stepOrder int) *models.DraftStep {
	for _, step := range draft.Steps {
		if step.StepOrder == stepOrder {
			return step
		}
	}

	return nil
}

// stepFields flattens a draft step's fields into the shape the overlay renders.
func stepFields(step *models.DraftStep) []models.Field {
	fields := make([]models.Field, 0, len(step.Fields))
	for _, draftField := range step.Fields {
		fields = append(fields, draftField.Field)
	}

	return fields
}

// materializeSteps converts a confirmed draft back into persisted steps.
// Fields added during the session get real IDs here; sensitive preset values
// are sealed before they reach a store.
func materializeSteps(draft *models.Draft, cipher secrets.Cipher) ([]*models.Step, error) {
	steps := make([]*models.Step, 0, len(draft.Steps))

	for _, draftStep := range draft.Steps {
		step := draftStep.Step
		step.Fields = make([]*models.Field, 0, len(draftStep.Fields))

		for order, draftField := range draftStep.Fields {
			field := draftField.Field
			if field.ID == "" {
				field.ID = uuid.New().String()
			}

			field.SortOrder = order

			if field.IsSensitive && field.PresetValue != nil {
				sealed, err := cipher.Encrypt(*field.PresetValue)
				if err != nil {
					return nil, fmt.Errorf("sealing preset for field %s: %w", field.Selector, err)
				}

				field.PresetValue = &sealed
			}

			step.Fields = append(step.Fields, &field)
		}

		steps = append(steps, &step)
	}

	return steps, nil
}

// sinkFor routes validated overlay payloads for one workflow into the draft.
func (m *Manager) sinkFor(workflowID string) overlay.EventSink {
	return func(event *overlay.InboundEvent) {
		m.applyOverlayEvent(context.Background(), workflowID, event)
	}
}

func (m *Manager) applyOverlayEvent(ctx context.Context, workflowID string, event *overlay.InboundEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.activeLocked(workflowID)
	if err != nil {
		m.logger.Debug("Dropping overlay event for inactive session",
			"workflow_id", workflowID, "kind", event.Kind)

		return
	}

	m.displays.Touch(sess.Display.ID)

	step := draftStepByOrder(sess.Draft, sess.CurrentStep)
	if step == nil && event.Kind != overlay.InboundReady {
		m.logger.Warn("Overlay event with no current step",
			"workflow_id", workflowID, "kind", event.Kind)

		return
	}

	switch event.Kind {
	case overlay.InboundReady:
		m.publish(ctx, workflowID, events.HighlightingReady{
			BaseEvent:  events.NewBaseEvent(events.HighlightingReadyEvent, workflowID),
			SessionID:  sess.ID,
			PageURL:    event.Ready.PageURL,
			FieldCount: event.Ready.FieldCount,
		})

	case overlay.InboundSelected:
		payload := event.Selected
		m.publish(ctx, workflowID, events.FieldSelected{
			BaseEvent:    events.NewBaseEvent(events.FieldSelectedEvent, workflowID),
			SessionID:    sess.ID,
			FieldIndex:   payload.FieldIndex,
			Selector:     payload.Selector,
			FieldName:    payload.FieldName,
			FieldType:    models.FieldType(payload.FieldType),
			FieldPurpose: models.FieldPurpose(payload.FieldPurpose),
			CurrentValue: payload.CurrentValue,
		})

	case overlay.InboundAdded:
		m.applyFieldAdded(ctx, sess, step, event.Added)

	case overlay.InboundRemoved:
		m.applyFieldRemoved(ctx, sess, step, event.Removed)

	case overlay.InboundValueChanged:
		m.applyValueChanged(ctx, sess, step, event.ValueChanged)

	case overlay.InboundAmbiguous:
		m.recoverAmbiguousAdd(ctx, sess, step, event.Ambiguous)
	}
}

// recoverAmbiguousAdd retries selector generation host-side when the overlay
// could not find a unique selector. Candidates are re-verified against the
// live page; a recovered selector is tracked like any other added field.
func (m *Manager) recoverAmbiguousAdd(ctx context.Context, sess *Session, step *models.DraftStep, payload *overlay.AmbiguousPayload) {
	if payload.FieldType == "" {
		m.logger.Warn("No unique selector for clicked element",
			"workflow_id", sess.WorkflowID, "tag", payload.Tag)

		return
	}

	page := sess.browserCtx.Page()

	recovered, err := selector.Generate(selector.ElementInfo{
		Tag:          payload.Tag,
		ID:           payload.ID,
		Attributes:   payload.Attributes,
		FormSelector: payload.FormSelector,
		Path:         payload.Path,
	}, page.MatchCount)
	if err != nil {
		m.logger.Warn("No unique selector for clicked element",
			"workflow_id", sess.WorkflowID, "tag", payload.Tag, "error", err)

		return
	}

	m.logger.Info("Recovered selector for ambiguous element",
		"workflow_id", sess.WorkflowID, "selector", recovered)

	m.applyFieldAdded(ctx, sess, step, &overlay.AddedPayload{
		Selector:       recovered,
		FieldName:      payload.FieldName,
		FieldType:      payload.FieldType,
		FieldPurpose:   payload.FieldPurpose,
		Options:        payload.Options,
		FormSelector:   payload.FormSelector,
		SubmitSelector: payload.SubmitSelector,
	})
}

func (m *Manager) applyFieldAdded(ctx context.Context, sess *Session, step *models.DraftStep, payload *overlay.AddedPayload) {
	// identity is (step, selector); a duplicate is a warning, not a new field
	for _, existing := range step.Fields {
		if existing.Selector == payload.Selector {
			m.logger.Warn("Duplicate selector ignored",
				"workflow_id", sess.WorkflowID, "selector", payload.Selector)

			return
		}
	}

	draftField := &models.DraftField{
		TempID: "tmp-" + uuid.New().String(),
		Field: models.Field{
			Name:     payload.FieldName,
			Type:     models.FieldType(payload.FieldType),
			Selector: payload.Selector,
			Purpose:  models.FieldPurpose(payload.FieldPurpose),
			Options:  payload.Options,
			IsSensitive: models.FieldType(payload.FieldType) == models.FieldTypePassword ||
				models.FieldPurpose(payload.FieldPurpose) == models.PurposePassword,
			IsFileUpload: models.FieldType(payload.FieldType) == models.FieldTypeFile,
			SortOrder:    len(step.Fields),
		},
	}
	step.Fields = append(step.Fields, draftField)

	if step.FormSelector == "" && payload.FormSelector != "" {
		step.FormSelector = payload.FormSelector
	}

	if step.SubmitSelector == "" && payload.SubmitSelector != "" {
		step.SubmitSelector = payload.SubmitSelector
	}

	sess.Draft.Version++

	m.publish(ctx, sess.WorkflowID, events.FieldAdded{
		BaseEvent:      events.NewBaseEvent(events.FieldAddedEvent, sess.WorkflowID),
		SessionID:      sess.ID,
		TempID:         draftField.TempID,
		Selector:       draftField.Selector,
		FieldName:      draftField.Name,
		FieldType:      draftField.Type,
		FieldPurpose:   draftField.Purpose,
		Options:        draftField.Options,
		FormSelector:   step.FormSelector,
		SubmitSelector: step.SubmitSelector,
	})

	if err := sess.bridge.UpdateFields(stepFields(step)); err != nil {
		m.logger.Warn("Failed to refresh overlay after add",
			"workflow_id", sess.WorkflowID, "error", err)
	}
}

func (m *Manager) applyFieldRemoved(ctx context.Context, sess *Session, step *models.DraftStep, payload *overlay.RemovedPayload) {
	if payload.FieldIndex >= len(step.Fields) {
		m.logger.Warn("Remove for unknown field index",
			"workflow_id", sess.WorkflowID, "index", payload.FieldIndex)

		return
	}

	removed := step.Fields[payload.FieldIndex]
	step.Fields = append(step.Fields[:payload.FieldIndex], step.Fields[payload.FieldIndex+1:]...)
	sess.Draft.Version++

	m.publish(ctx, sess.WorkflowID, events.FieldRemoved{
		BaseEvent:  events.NewBaseEvent(events.FieldRemovedEvent, sess.WorkflowID),
		SessionID:  sess.ID,
		FieldIndex: payload.FieldIndex,
		Selector:   removed.Selector,
	})

	if err := sess.bridge.UpdateFields(stepFields(step)); err != nil {
		m.logger.Warn("Failed to refresh overlay after remove",
			"workflow_id", sess.WorkflowID, "error", err)
	}
}

func (m *Manager) applyValueChanged(ctx context.Context, sess *Session, step *models.DraftStep, payload *overlay.ValueChangedPayload) {
	if payload.FieldIndex >= len(step.Fields) {
		m.logger.Warn("Value change for unknown field index",
			"workflow_id", sess.WorkflowID, "index", payload.FieldIndex)

		return
	}

	value := payload.Value
	step.Fields[payload.FieldIndex].PresetValue = &value
	sess.Draft.Version++

	m.publish(ctx, sess.WorkflowID, events.FieldValueChanged{
		BaseEvent:  events.NewBaseEvent(events.FieldValueChangedEvent, sess.WorkflowID),
		SessionID:  sess.ID,
		FieldIndex: payload.FieldIndex,
		Selector:   payload.Selector,
		Value:      value,
	})
}

func (m *Manager) publish(ctx context.Context, workflowID string, event interface {
	GetType() events.EventType
},
) {
	if err := m.publisher.Publish(ctx, events.EditingKey(workflowID), event); err != nil {
		m.logger.Warn("Failed to publish event",
			"workflow_id", workflowID, "event_type", event.GetType(), "error", err)
	}
}
