// Package web provides HTTP request and response types for the automation API.
package web

import (
	"time"

	"github.com/formbot/formbot/pkg/editing"
	"github.com/formbot/formbot/pkg/models"
)

// CreateWorkflowRequest represents the request body for creating a new workflow.
// Steps are not accepted here; they are captured through an editing session.
type CreateWorkflowRequest struct {
	Name            string `json:"name"              validate:"required,min=3"`
	TargetURL       string `json:"target_url"        validate:"required,url"`
	RequiresLogin   bool   `json:"requires_login"`
	StealthEnabled  bool   `json:"stealth_enabled"`
	CustomUserAgent string `json:"custom_user_agent" validate:"omitempty,max=512"`
	ActionDelayMs   int    `json:"action_delay_ms"   validate:"gte=0,lte=10000"`
	MaxRetries      int    `json:"max_retries"       validate:"gte=0,lte=10"`
	Owner           string `json:"owner"`
}

// UpdateWorkflowRequest represents the request body for updating workflow
// settings. All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name            *string `json:"name,omitempty"              validate:"omitempty,min=3"`
	TargetURL       *string `json:"target_url,omitempty"        validate:"omitempty,url"`
	RequiresLogin   *bool   `json:"requires_login,omitempty"`
	StealthEnabled  *bool   `json:"stealth_enabled,omitempty"`
	CustomUserAgent *string `json:"custom_user_agent,omitempty" validate:"omitempty,max=512"`
	ActionDelayMs   *int    `json:"action_delay_ms,omitempty"   validate:"omitempty,gte=0,lte=10000"`
	MaxRetries      *int    `json:"max_retries,omitempty"       validate:"omitempty,gte=0,lte=10"`
}

// SetModeRequest switches the overlay interaction mode.
type SetModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=view select add remove"`
}

// FocusFieldRequest scrolls a tracked field into view.
type FocusFieldRequest struct {
	FieldIndex int `json:"field_index" validate:"gte=0"`
}

// TestSelectorRequest probes a CSS selector against the live page.
type TestSelectorRequest struct {
	Selector string `json:"selector" validate:"required"`
}

// FillFieldRequest writes a value into a tracked field on the live page.
type FillFieldRequest struct {
	FieldIndex int    `json:"field_index" validate:"gte=0"`
	Value      string `json:"value"`
}

// NavigateStepRequest moves the editing session to another step's page.
// Step orders are zero-based, so the field is a pointer: required checks
// presence, not the value.
type NavigateStepRequest struct {
	StepOrder *int `json:"step_order" validate:"required,gte=0"`
}

// StartExecutionRequest starts a run of a workflow.
type StartExecutionRequest struct {
	DryRun bool `json:"dry_run"`
}

// SessionResponse is the API view of an editing session.
type SessionResponse struct {
	SessionID    string        `json:"session_id"`
	WorkflowID   string        `json:"workflow_id"`
	Status       string        `json:"status"`
	Phase        string        `json:"phase"`
	Mode         string        `json:"mode"`
	CurrentStep  int           `json:"current_step"`
	DraftVersion int64         `json:"draft_version"`
	Draft        *models.Draft `json:"draft,omitempty"`
	DisplayID    string        `json:"display_id,omitempty"`
}

// TransformSessionResponse builds the API view of a session, optionally
// embedding the full draft.
func TransformSessionResponse(sess *editing.Session, includeDraft bool) SessionResponse {
	response := SessionResponse{
		SessionID:   sess.ID,
		WorkflowID:  sess.WorkflowID,
		Status:      string(sess.Status),
		Phase:       string(sess.Phase),
		Mode:        string(sess.Mode),
		CurrentStep: sess.CurrentStep,
	}

	if sess.Draft != nil {
		response.DraftVersion = sess.Draft.Version
		if includeDraft {
			response.Draft = sess.Draft
		}
	}

	if sess.Display != nil {
		response.DisplayID = sess.Display.ID
	}

	return response
}

// RelayResponse carries the remote-viewing endpoint for a session's display.
type RelayResponse struct {
	RelayURL string `json:"relay_url"`
}

// SelectorTestResponse reports how a selector resolved on the live page.
type SelectorTestResponse struct {
	Found      bool `json:"found"`
	MatchCount int  `json:"match_count"`
}

// FieldValueResponse carries a live field value read from the page.
type FieldValueResponse struct {
	FieldIndex int    `json:"field_index"`
	Value      string `json:"value"`
}

// ExecutionResponse is the API view of an execution record.
type ExecutionResponse struct {
	ID               string                `json:"id"`
	WorkflowID       string                `json:"workflow_id"`
	Status           string                `json:"status"`
	IsDryRun         bool                  `json:"is_dry_run"`
	RetryCount       int                   `json:"retry_count"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
	ErrorMessage     string                `json:"error_message,omitempty"`
	ScreenshotPath   string                `json:"screenshot_path,omitempty"`
	PendingStepOrder *int                  `json:"pending_step_order,omitempty"`
	StepLog          []models.StepLogEntry `json:"step_log"`
}

// TransformExecutionResponse builds the API view of an execution record.
func TransformExecutionResponse(record *models.ExecutionRecord) ExecutionResponse {
	return ExecutionResponse{
		ID:               record.ID,
		WorkflowID:       record.WorkflowID,
		Status:           string(record.Status),
		IsDryRun:         record.IsDryRun,
		RetryCount:       record.RetryCount,
		StartedAt:        record.StartedAt,
		CompletedAt:      record.CompletedAt,
		ErrorMessage:     record.ErrorMessage,
		ScreenshotPath:   record.ScreenshotPath,
		PendingStepOrder: record.PendingStepOrder,
		StepLog:          record.StepLog,
	}
}
