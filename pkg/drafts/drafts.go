// Package drafts stores in-progress workflow edits. Drafts live outside the
// workflow store so an interrupted editing session can be resumed without
// touching confirmed definitions. Writes are last-write-wins; the editing
// session's version counter handles staleness before a draft ever gets here.
package drafts

import (
	"context"
	"errors"
	"time"

	"github.com/formbot/formbot/pkg/models"
)

// ErrDraftNotFound indicates no draft is stored for the workflow.
var ErrDraftNotFound = errors.New("draft not found")

// DefaultTTL is how long an untouched draft survives.
const DefaultTTL = 24 * time.Hour

// Store persists one draft per workflow.
type Store interface {
	Get(ctx context.Context, workflowID string) (*models.Draft, error)
	Save(ctx context.Context, workflowID string, draft *models.Draft) error
	Delete(ctx context.Context, workflowID string) error

	Close() error
}
