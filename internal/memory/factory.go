package memory

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// StoreOptions selects the turn store backend.
type StoreOptions struct {
	DatabaseURL string
	SQLitePath  string
	Logger      zerolog.Logger
}

// NewStore creates a postgres-backed store when DatabaseURL is set, a SQLite store when
// SQLitePath is set, otherwise an in-memory store.
func NewStore(ctx context.Context, opts StoreOptions) (Store, error) {
	if strings.TrimSpace(opts.DatabaseURL) != "" {
		return NewPostgresStore(ctx, opts.DatabaseURL)
	}
	if strings.TrimSpace(opts.SQLitePath) != "" {
		return NewSQLiteStore(ctx, opts.SQLitePath, opts.Logger)
	}
	return NewInMemoryStore(), nil
}
