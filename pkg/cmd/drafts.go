package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/formbot/formbot/pkg/drafts"
)

// NewDraftStore creates a draft store. A redis:// or rediss:// URL uses
// Redis; an empty URL falls back to in-process memory, which does not survive
// restarts.
func NewDraftStore(ctx context.Context, redisURL string) (drafts.Store, error) {
	if redisURL == "" {
		return drafts.NewMemoryStore(), nil
	}

	if !strings.HasPrefix(redisURL, "redis://") && !strings.HasPrefix(redisURL, "rediss://") {
		return nil, fmt.Errorf("unsupported draft store url: %s", redisURL)
	}

	return drafts.NewRedisStore(ctx, redisURL, drafts.DefaultTTL)
}
