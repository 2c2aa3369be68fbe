package models

import "time"

// EditingStatus is the lifecycle state of an editing session.
type EditingStatus string

const (
	EditingStatusIdle      EditingStatus = "idle"
	EditingStatusActive    EditingStatus = "active"
	EditingStatusConfirmed EditingStatus = "confirmed"
	EditingStatusCancelled EditingStatus = "cancelled"
	EditingStatusExpired   EditingStatus = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s EditingStatus) Terminal() bool {
	return s == EditingStatusConfirmed || s == EditingStatusCancelled || s == EditingStatusExpired
}

// EditingMode controls how overlay clicks are interpreted.
type EditingMode string

const (
	ModeView   EditingMode = "view"
	ModeSelect EditingMode = "select"
	ModeAdd    EditingMode = "add"
	ModeRemove EditingMode = "remove"
)

// ValidEditingMode reports whether m is one of the accepted interaction modes.
func ValidEditingMode(m EditingMode) bool {
	switch m {
	case ModeView, ModeSelect, ModeAdd, ModeRemove:
		return true
	default:
		return false
	}
}

// LoginPhase is the sub-phase of an active editing session on a
// login-required workflow.
type LoginPhase string

const (
	PhaseLogin          LoginPhase = "login"
	PhaseLoginExecuting LoginPhase = "login-executing"
	PhaseTarget         LoginPhase = "target"
)

// DraftField is an unconfirmed field edit. TempID stays distinct from any
// persisted field ID until the draft is confirmed.
type DraftField struct {
	TempID string `json:"temp_id"`
	Field
}

// DraftStep is one step inside a draft.
type DraftStep struct {
	Step
	Fields []*DraftField `json:"fields"`
}

// Draft is the in-progress, unconfirmed edit of a workflow's steps/fields.
// Version is a per-session counter; stale writes are discarded on ingest.
type Draft struct {
	Version int64        `json:"version"`
	Steps   []*DraftStep `json:"steps"`
}

// DisplaySession is an isolated virtual-display plus remote-viewing session
// bound to one browser context. At any instant a DisplaySession is owned by
// exactly one editing session or one paused execution.
type DisplaySession struct {
	ID             string    `json:"session_id"`
	WorkflowID     string    `json:"workflow_id"`
	Display        string    `json:"display"` // X display handle, e.g. ":99"
	RelayToken     string    `json:"relay_token"`
	RelayURL       string    `json:"relay_url"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}
