package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lifelensai/lifelens/internal/vectorindex"
)

// Target is the part of the vector index the importer writes to.
type Target interface {
	Count(collection string) (int, error)
	AddBatch(ctx context.Context, collection string, entries []vectorindex.Entry, concurrency int) (int, error)
}

// Result summarises one import.
type Result struct {
	Added   int
	Skipped int
	// AlreadyLoaded is set when the collection had documents and nothing was imported.
	AlreadyLoaded bool
}

// Bootstrap loads the dataset at path into the knowledge base collection, but
// only when that collection is empty.
func Bootstrap(ctx context.Context, target Target, path string, concurrency int, logger zerolog.Logger) (Result, error) {
	n, err := target.Count(vectorindex.KnowledgeCollection)
	if err != nil {
		return Result{}, err
	}
	if n > 0 {
		logger.Info().Int("documents", n).Msg("knowledge base already loaded; skipping import")
		return Result{AlreadyLoaded: true}, nil
	}
	return Import(ctx, target, path, concurrency, logger)
}

// Import loads the dataset at path regardless of what the collection holds.
// Entries whose ids are already present are left untouched.
func Import(ctx context.Context, target Target, path string, concurrency int, logger zerolog.Logger) (Result, error) {
	started := time.Now()
	ds, err := LoadFile(path)
	if err != nil {
		return Result{}, err
	}
	added, err := target.AddBatch(ctx, vectorindex.KnowledgeCollection, ds.Entries, concurrency)
	if err != nil {
		return Result{Added: added, Skipped: ds.Skipped}, fmt.Errorf("import knowledge base: %w", err)
	}
	logger.Info().
		Str("path", path).
		Int("added", added).
		Int("skipped", ds.Skipped).
		Dur("took", time.Since(started)).
		Msg("knowledge base imported")
	return Result{Added: added, Skipped: ds.Skipped}, nil
}
