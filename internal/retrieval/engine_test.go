package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelensai/lifelens/internal/memory"
	"github.com/lifelensai/lifelens/internal/vectorindex"
)

type stubSearcher struct {
	knowledge    []vectorindex.Match
	knowledgeErr error
	user         []vectorindex.Match
	delay        time.Duration
}

func (s stubSearcher) SearchKnowledge(ctx context.Context, _ string, _ int) ([]vectorindex.Match, error) {
	return s.knowledge, s.knowledgeErr
}

func (s stubSearcher) RecallUser(ctx context.Context, _, _ string, _ int) ([]vectorindex.Match, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.user, nil
}

func TestRetrieveDegradesPerSource(t *testing.T) {
	e := NewEngine(stubSearcher{
		knowledgeErr: errors.New("index down"),
		user:         []vectorindex.Match{{Content: "I lost my job", Metadata: map[string]string{vectorindex.MetaUser: "alex"}}},
	}, time.Second, nil, zerolog.Nop())

	kb, user := e.Retrieve(context.Background(), "alex", "work stress", 5)
	assert.Empty(t, kb)
	assert.Equal(t, []string{"I lost my job"}, user)
}

func TestRetrieveTimesOutSlowSource(t *testing.T) {
	e := NewEngine(stubSearcher{
		knowledge: []vectorindex.Match{{Content: "Q: a\nA: b"}},
		delay:     time.Second,
	}, 20*time.Millisecond, nil, zerolog.Nop())

	start := time.Now()
	kb, user := e.Retrieve(context.Background(), "alex", "anything", 5)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []string{"Q: a\nA: b"}, kb)
	assert.Empty(t, user)
}

func TestRetrieveDropsForeignMatches(t *testing.T) {
	e := NewEngine(stubSearcher{
		user: []vectorindex.Match{
			{Content: "mine", Metadata: map[string]string{vectorindex.MetaUser: "alex"}},
			{Content: "theirs", Metadata: map[string]string{vectorindex.MetaUser: "sam"}},
		},
	}, time.Second, nil, zerolog.Nop())

	_, user := e.Retrieve(context.Background(), "alex", "q", 5)
	assert.Equal(t, []string{"mine"}, user)
}

func TestPersistThenRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	idx, err := vectorindex.Open(vectorindex.Options{Embed: vectorindex.NewHashEmbedder(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	log, err := memory.NewTranscriptLog(t.TempDir())
	require.NoError(t, err)
	writer := memory.NewWriter(memory.NewInMemoryStore(), log, idx, nil, zerolog.Nop())

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err = writer.Commit(ctx, "alex", "my cat Milo passed away", "I'm so sorry.", memory.KindGenerated, now)
	require.NoError(t, err)
	_, err = writer.Commit(ctx, "sam", "my cat Milo is great", "Lovely!", memory.KindGenerated, now)
	require.NoError(t, err)

	e := NewEngine(idx, time.Second, nil, zerolog.Nop())
	_, user := e.Retrieve(ctx, "alex", "Milo cat", 5)
	assert.Equal(t, []string{"my cat Milo passed away"}, user)

	_, none := e.Retrieve(ctx, "nobody", "Milo cat", 5)
	assert.Empty(t, none)
}

func TestJoined(t *testing.T) {
	assert.Equal(t, "k1\nk2\nu1", Joined([]string{"k1", "k2"}, []string{"u1"}))
	assert.Equal(t, "", Joined(nil, nil))
}
