// Package models defines the core domain models for supervised form automation.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Fields not yet confirmed by a human
	WorkflowStatusConfirmed WorkflowStatus = "confirmed" // Confirmed, executable
	WorkflowStatusArchived  WorkflowStatus = "archived"  // Historical, not executable
)

// FormType classifies what role a step's form plays in the flow.
type FormType string

const (
	FormTypeLogin        FormType = "login"
	FormTypeIntermediate FormType = "intermediate"
	FormTypeTarget       FormType = "target"
)

// Workflow is the full multi-step automation definition for one target form flow.
type Workflow struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"              validate:"required,min=3"`
	TargetURL       string         `json:"target_url"        validate:"required,url"`
	RequiresLogin   bool           `json:"requires_login"`
	Status          WorkflowStatus `json:"status"            validate:"required"`
	Steps           []*Step        `json:"steps"`
	MaxRetries      int            `json:"max_retries"`
	StealthEnabled  bool           `json:"stealth_enabled"`
	CustomUserAgent string         `json:"custom_user_agent,omitempty"`
	ActionDelayMs   int            `json:"action_delay_ms"`
	Owner           string         `json:"owner"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Step is one page/form within a workflow. Steps are ordered by a dependency
// graph over DependsOnStepOrder rather than a flat sequence; a nil dependency
// marks a root step.
type Step struct {
	ID                 string   `json:"id"`
	StepOrder          int      `json:"step_order"`
	PageURL            string   `json:"page_url"       validate:"required,url"`
	FormType           FormType `json:"form_type"      validate:"required,oneof=login intermediate target"`
	FormSelector       string   `json:"form_selector"  validate:"required"`
	SubmitSelector     string   `json:"submit_selector"`
	DependsOnStepOrder *int     `json:"depends_on_step_order,omitempty"`
	// Human breakpoints: pause for manual intervention before the fields are
	// filled (CAPTCHA) or after the form is submitted (2FA / OTP).
	BreakBeforeSubmit bool     `json:"break_before_submit"`
	BreakAfterSubmit  bool     `json:"break_after_submit"`
	Fields            []*Field `json:"fields"`
}

// FieldBySelector returns the field with the given selector, if tracked.
// Identity for deduplication is the (step, field_selector) pair.
func (s *Step) FieldBySelector(selector string) (*Field, bool) {
	for _, f := range s.Fields {
		if f.Selector == selector {
			return f, true
		}
	}

	return nil, false
}
