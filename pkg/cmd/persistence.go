package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/formbot/formbot/pkg/persistence"
	"github.com/formbot/formbot/pkg/persistence/file"
	"github.com/formbot/formbot/pkg/persistence/postgresql"
)

// NewPersistence creates a store based on the database URL scheme.
// postgres:// and postgresql:// use PostgreSQL; anything else is treated as a
// directory path for file-based storage.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	if provider == "postgres" || provider == "postgresql" {
		return "postgresql"
	}

	return "file"
}
