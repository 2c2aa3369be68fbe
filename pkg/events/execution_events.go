package events

// ExecutionStarted marks the beginning of one run of a confirmed workflow.
type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	IsDryRun    bool   `json:"is_dry_run"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionStepStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Step        int    `json:"step"`
	TotalSteps  int    `json:"total_steps"`
	PageURL     string `json:"page_url"`
	FormType    string `json:"form_type"`
}

func (e ExecutionStepStarted) GetType() EventType { return ExecutionStepStartedEvent }

type ExecutionStepCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Step        int    `json:"step"`
	TotalSteps  int    `json:"total_steps"`
	Outcome     string `json:"outcome"`
}

func (e ExecutionStepCompleted) GetType() EventType { return ExecutionStepCompletedEvent }

type ExecutionFieldFilled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Step        int    `json:"step"`
	FieldName   string `json:"field_name"`
	FieldType   string `json:"field_type"`
}

func (e ExecutionFieldFilled) GetType() EventType { return ExecutionFieldFilledEvent }

// ExecutionWaitingManual is published when a CAPTCHA/2FA heuristic or an
// explicit human breakpoint pauses the run. The relay URL lets a remote
// viewer take over the live browser.
type ExecutionWaitingManual struct {
	BaseEvent

	ExecutionID      string `json:"execution_id"`
	Step             int    `json:"step"`
	Reason           string `json:"reason"`
	DisplaySessionID string `json:"display_session_id"`
	RelayURL         string `json:"relay_url"`
}

func (e ExecutionWaitingManual) GetType() EventType { return ExecutionWaitingManualEvent }

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Step        int    `json:"step"`
	Reason      string `json:"reason"`
}

func (e ExecutionResumed) GetType() EventType { return ExecutionResumedEvent }

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Screenshot  string `json:"screenshot,omitempty"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

// ExecutionFailed carries the last error so a disconnected viewer can learn
// the outcome asynchronously.
type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }
