package events

import "github.com/formbot/formbot/pkg/models"

// FieldSelected is emitted when the user clicks an already-tracked field in
// the live page. Clicking a tracked field always selects it, never adds a
// duplicate, regardless of the current mode.
type FieldSelected struct {
	BaseEvent

	SessionID    string              `json:"session_id"`
	FieldIndex   int                 `json:"field_index"`
	Selector     string              `json:"selector"`
	FieldName    string              `json:"field_name"`
	FieldType    models.FieldType    `json:"field_type"`
	FieldPurpose models.FieldPurpose `json:"field_purpose,omitempty"`
	CurrentValue string              `json:"current_value,omitempty"`
}

func (e FieldSelected) GetType() EventType { return FieldSelectedEvent }

// FieldAdded is emitted when the user clicks an untracked interactive element
// and a unique selector could be generated for it.
type FieldAdded struct {
	BaseEvent

	SessionID      string               `json:"session_id"`
	TempID         string               `json:"temp_id"`
	Selector       string               `json:"selector"`
	FieldName      string               `json:"field_name"`
	FieldType      models.FieldType     `json:"field_type"`
	FieldPurpose   models.FieldPurpose  `json:"field_purpose,omitempty"`
	Options        []models.FieldOption `json:"options,omitempty"`
	FormSelector   string               `json:"form_selector,omitempty"`
	SubmitSelector string               `json:"submit_selector,omitempty"`
}

func (e FieldAdded) GetType() EventType { return FieldAddedEvent }

// FieldRemoved is emitted when the user clicks a tracked field in remove mode.
type FieldRemoved struct {
	BaseEvent

	SessionID  string `json:"session_id"`
	FieldIndex int    `json:"field_index"`
	Selector   string `json:"selector"`
}

func (e FieldRemoved) GetType() EventType { return FieldRemovedEvent }

// FieldValueChanged is emitted when the user edits a tracked field directly
// in the live page, keeping the draft synced without polling.
type FieldValueChanged struct {
	BaseEvent

	SessionID  string `json:"session_id"`
	FieldIndex int    `json:"field_index"`
	Selector   string `json:"selector"`
	Value      string `json:"value"`
}

func (e FieldValueChanged) GetType() EventType { return FieldValueChangedEvent }

// HighlightingReady is emitted once the overlay has been installed on a page
// and all tracked fields are rendered.
type HighlightingReady struct {
	BaseEvent

	SessionID  string `json:"session_id"`
	PageURL    string `json:"page_url"`
	FieldCount int    `json:"field_count"`
}

func (e HighlightingReady) GetType() EventType { return HighlightingReadyEvent }

// LoginExecutionProgress streams phase updates while a login is executed
// inside an editing session.
type LoginExecutionProgress struct {
	BaseEvent

	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
	Message   string `json:"message,omitempty"`
	NeedsVNC  bool   `json:"needs_vnc,omitempty"`
	RelayURL  string `json:"relay_url,omitempty"`
}

func (e LoginExecutionProgress) GetType() EventType { return LoginExecutionProgressEvent }

// LoginExecutionComplete signals that the login finished and the target page
// is loaded with the overlay re-attached.
type LoginExecutionComplete struct {
	BaseEvent

	SessionID string `json:"session_id"`
	Success   bool   `json:"success"`
	TargetURL string `json:"target_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (e LoginExecutionComplete) GetType() EventType { return LoginExecutionCompleteEvent }
