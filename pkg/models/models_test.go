package models

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requiredTag = "required"

func TestWorkflow_Validation_Valid(t *testing.T) {
	workflow := &Workflow{
		ID:        "wf-123",
		Name:      "Vendor portal submission",
		TargetURL: "https://portal.example.com/form",
		Status:    WorkflowStatusDraft,
		Steps: []*Step{
			{
				ID:           "step-1",
				StepOrder:    0,
				PageURL:      "https://portal.example.com/form",
				FormType:     FormTypeTarget,
				FormSelector: "#application-form",
			},
		},
	}

	validate := validator.New()
	err := validate.Struct(workflow)
	assert.NoError(t, err)
}

func TestWorkflow_Validation_MissingName(t *testing.T) {
	workflow := &Workflow{
		ID:        "wf-123",
		TargetURL: "https://portal.example.com/form",
		Status:    WorkflowStatusDraft,
	}

	validate := validator.New()
	err := validate.Struct(workflow)
	require.Error(t, err)

	var validationErrors validator.ValidationErrors

	require.True(t, errors.As(err, &validationErrors))

	found := false

	for _, fieldErr := range validationErrors {
		if fieldErr.Field() == "Name" && fieldErr.Tag() == requiredTag {
			found = true

			break
		}
	}

	assert.True(t, found, "Should have validation error for required Name field")
}

func TestStep_Validation_InvalidFormType(t *testing.T) {
	step := &Step{
		ID:           "step-1",
		PageURL:      "https://portal.example.com/form",
		FormType:     FormType("popup"),
		FormSelector: "form",
	}

	validate := validator.New()
	err := validate.Struct(step)
	assert.Error(t, err)
}

func TestStep_FieldBySelector(t *testing.T) {
	step := &Step{
		Fields: []*Field{
			{Name: "email", Type: FieldTypeEmail, Selector: "#email"},
			{Name: "company", Type: FieldTypeText, Selector: "input[name=company]"},
		},
	}

	field, ok := step.FieldBySelector("input[name=company]")
	require.True(t, ok)
	assert.Equal(t, "company", field.Name)

	_, ok = step.FieldBySelector("#missing")
	assert.False(t, ok)
}

func TestField_HasPreset(t *testing.T) {
	value := "hello"

	assert.True(t, (&Field{PresetValue: &value}).HasPreset())
	assert.False(t, (&Field{}).HasPreset())
}

func TestEditingStatus_Terminal(t *testing.T) {
	assert.False(t, EditingStatusIdle.Terminal())
	assert.False(t, EditingStatusActive.Terminal())
	assert.True(t, EditingStatusConfirmed.Terminal())
	assert.True(t, EditingStatusCancelled.Terminal())
	assert.True(t, EditingStatusExpired.Terminal())
}

func TestValidEditingMode(t *testing.T) {
	for _, mode := range []EditingMode{ModeView, ModeSelect, ModeAdd, ModeRemove} {
		assert.True(t, ValidEditingMode(mode))
	}

	assert.False(t, ValidEditingMode(EditingMode("inspect")))
}

func TestExecutionRecord_AppendLog_StampsTimestamp(t *testing.T) {
	record := &ExecutionRecord{ID: "ex-1", WorkflowID: "wf-1"}

	record.AppendLog(StepLogEntry{Step: 0, Action: "navigate", Outcome: "ok"})

	require.Len(t, record.StepLog, 1)
	assert.False(t, record.StepLog[0].Timestamp.IsZero())
}

func TestExecutionStatus_Terminal(t *testing.T) {
	assert.True(t, ExecutionStatusSuccess.Terminal())
	assert.True(t, ExecutionStatusFailed.Terminal())
	assert.True(t, ExecutionStatusDryRunOK.Terminal())
	assert.False(t, ExecutionStatusWaitingManual.Terminal())
	assert.False(t, ExecutionStatusRunning.Terminal())
}
