package models

import "time"

// ExecutionStatus is the lifecycle state of one run of a confirmed workflow.
type ExecutionStatus string

const (
	ExecutionStatusQueued        ExecutionStatus = "queued"
	ExecutionStatusRunning       ExecutionStatus = "running"
	ExecutionStatusWaitingManual ExecutionStatus = "waiting_manual"
	ExecutionStatusSuccess       ExecutionStatus = "success"
	ExecutionStatusFailed        ExecutionStatus = "failed"
	ExecutionStatusDryRunOK      ExecutionStatus = "dry_run_ok"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed || s == ExecutionStatusDryRunOK
}

// StepLogEntry is one append-only entry in an execution's step log.
type StepLogEntry struct {
	Step      int       `json:"step"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Field     string    `json:"field,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionRecord tracks one unattended (or semi-attended) run of a workflow.
// The record is persisted by id so a process restart can rehydrate a
// waiting_manual execution and still honor a later resume call.
type ExecutionRecord struct {
	ID               string          `json:"id"`
	WorkflowID       string          `json:"workflow_id" validate:"required"`
	Status           ExecutionStatus `json:"status"`
	IsDryRun         bool            `json:"is_dry_run"`
	RetryCount       int             `json:"retry_count"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	ScreenshotPath   string          `json:"screenshot_path,omitempty"`
	StepLog          []StepLogEntry  `json:"step_log"`
	DisplaySessionID string          `json:"display_session_id,omitempty"`
	// PendingStepOrder is the next step to run after a waiting_manual resume.
	PendingStepOrder *int      `json:"pending_step_order,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// AppendLog appends an entry to the step log, stamping it with the current time.
func (r *ExecutionRecord) AppendLog(entry StepLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	r.StepLog = append(r.StepLog, entry)
}
