package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/lifelensai/lifelens/internal/observability"
	"github.com/lifelensai/lifelens/internal/policy"
	"github.com/lifelensai/lifelens/internal/vectorindex"
)

// DefaultTopK is used when a caller passes a non-positive topK.
const DefaultTopK = 5

// Source labels used for metrics and logs.
const (
	SourceKnowledge    = "knowledge"
	SourceConversation = "conversation"
)

// Searcher is the slice of the vector index retrieval depends on.
type Searcher interface {
	SearchKnowledge(ctx context.Context, query string, topK int) ([]vectorindex.Match, error)
	RecallUser(ctx context.Context, userID, query string, topK int) ([]vectorindex.Match, error)
}

// Engine pulls context snippets from the knowledge base and the user's own history.
type Engine struct {
	index   Searcher
	timeout time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewEngine(index Searcher, timeout time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		index:   index,
		timeout: timeout,
		metrics: metrics,
		logger:  observability.Component(logger, "retrieval"),
	}
}

// Retrieve queries both sources concurrently, each under its own timeout. A source
// that fails or times out contributes an empty slice; the request never fails.
func (e *Engine) Retrieve(ctx context.Context, userID, query string, topK int) (knowledge []string, user []string) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		knowledge = e.fetch(ctx, SourceKnowledge, userID, func(ctx context.Context) ([]vectorindex.Match, error) {
			return e.index.SearchKnowledge(ctx, query, topK)
		})
	})
	wg.Go(func() {
		user = e.fetch(ctx, SourceConversation, userID, func(ctx context.Context) ([]vectorindex.Match, error) {
			matches, err := e.index.RecallUser(ctx, userID, query, topK)
			if err != nil {
				return nil, err
			}
			// The index filters by owner already; never let a stray match through.
			owned := matches[:0]
			for _, m := range matches {
				if m.Metadata[vectorindex.MetaUser] == userID {
					owned = append(owned, m)
				}
			}
			return owned, nil
		})
	})
	wg.Wait()

	e.logger.Debug().
		Str("user", userID).
		Str("query", policy.LogSafe(query, 60)).
		Int("knowledge", len(knowledge)).
		Int("user_snippets", len(user)).
		Msg("retrieved context")
	return knowledge, user
}

func (e *Engine) fetch(ctx context.Context, source, userID string, query func(context.Context) ([]vectorindex.Match, error)) []string {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	matches, err := query(ctx)
	if err != nil {
		e.metrics.CountRetrievalError(source)
		e.logger.Warn().Err(err).Str("source", source).Str("user", userID).Msg("retrieval degraded to empty context")
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Content)
	}
	return out
}

// Joined renders knowledge snippets followed by user snippets, one per line.
func Joined(knowledge, user []string) string {
	parts := make([]string, 0, len(knowledge)+len(user))
	parts = append(parts, knowledge...)
	parts = append(parts, user...)
	return strings.Join(parts, "\n")
}
