package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/dukex/calcflow/pkg/persistence/file"
	"github.com/dukex/calcflow/pkg/persistence/postgresql"
)

var ErrUnsupportedPersistence = errors.New("unsupported persistence provider")

// NewPersistence opens the store named by databaseURL: postgres:// or
// postgresql:// for PostgreSQL, file://<dir> or a bare directory path for
// the JSON file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, location := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}

		return store, nil
	case "file":
		if location == "" {
			return nil, fmt.Errorf("%w: empty file path", ErrUnsupportedPersistence)
		}

		if err := os.MkdirAll(location, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}

		logger.InfoContext(ctx, "Using file persistence", "path", location)

		return file.NewPersistence(location), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPersistence, provider)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
