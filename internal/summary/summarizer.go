package summary

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"

	"github.com/lifelensai/lifelens/internal/generation"
	"github.com/lifelensai/lifelens/internal/memory"
	"github.com/lifelensai/lifelens/internal/observability"
)

// Outcomes counted per Summarize call.
const (
	OutcomeCached    = "cached"
	OutcomeGenerated = "generated"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

const promptTemplate = `You are a helpful AI assistant summarizer.

Here is the full conversation history:
%s

Summarize this conversation into 5-7 lines, focusing on main topics discussed, emotions shared, and overall progress made.
Be concise but empathetic.`

// TurnReader is the read side of the turn store.
type TurnReader interface {
	Turns(ctx context.Context, userID string) ([]memory.Turn, error)
}

// Summarizer condenses a user's turn history into a short narrative. Results are
// cached per user until the user's turns change.
type Summarizer struct {
	turns   TurnReader
	gen     generation.Generator
	cache   *ristretto.Cache
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu   sync.Mutex
	gens map[string]uint64
}

func NewSummarizer(turns TurnReader, gen generation.Generator, cacheSize int, metrics *observability.Metrics, logger zerolog.Logger) (*Summarizer, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(cacheSize) * 10,
		MaxCost:            int64(cacheSize),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create summary cache: %w", err)
	}
	return &Summarizer{
		turns:   turns,
		gen:     gen,
		cache:   cache,
		metrics: metrics,
		logger:  observability.Component(logger, "summary"),
		gens:    make(map[string]uint64),
	}, nil
}

// Invalidate drops any cached summary for userID. Summaries being computed
// concurrently are keyed by the old generation and never served afterwards.
func (s *Summarizer) Invalidate(userID string) {
	s.mu.Lock()
	old := s.gens[userID]
	s.gens[userID] = old + 1
	s.mu.Unlock()
	s.cache.Del(cacheKey(userID, old))
}

func (s *Summarizer) generation(userID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[userID]
}

func cacheKey(userID string, gen uint64) string {
	return fmt.Sprintf("%d|%s", gen, userID)
}

// Summarize returns a 5-7 line summary of the user's history, or "" when the
// user has fewer than two turns or anything fails.
func (s *Summarizer) Summarize(ctx context.Context, userID string) string {
	gen := s.generation(userID)
	key := cacheKey(userID, gen)
	if v, ok := s.cache.Get(key); ok {
		if text, ok := v.(string); ok {
			s.metrics.CountSummary(OutcomeCached)
			return text
		}
	}

	turns, err := s.turns.Turns(ctx, userID)
	if err != nil {
		s.metrics.CountSummary(OutcomeFailed)
		s.logger.Warn().Err(err).Str("user", userID).Msg("read history failed")
		return ""
	}
	if len(turns) < 2 {
		s.metrics.CountSummary(OutcomeSkipped)
		return ""
	}

	text, err := s.gen.Generate(ctx, fmt.Sprintf(promptTemplate, Transcript(turns)))
	if err != nil {
		s.metrics.CountSummary(OutcomeFailed)
		s.logger.Warn().Err(err).Str("user", userID).Int("turns", len(turns)).Msg("summary generation failed")
		return ""
	}
	text = strings.TrimSpace(text)
	s.metrics.CountSummary(OutcomeGenerated)

	if text != "" && s.generation(userID) == gen {
		s.cache.Set(key, text, 1)
		s.cache.Wait()
	}
	return text
}

// Transcript renders turns in the order given as "[ts] You:" and "[ts] Coach:" lines.
func Transcript(turns []memory.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		ts := t.Timestamp()
		fmt.Fprintf(&b, "[%s] You: %s\n[%s] Coach: %s\n", ts, t.Utterance, ts, t.Response)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Summarizer) Close() {
	s.cache.Close()
}
