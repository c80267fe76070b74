package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelensai/lifelens/internal/vectorindex"
)

const sample = `[
  {"question": "How do I handle work stress?", "answer": "Break tasks into small steps."},
  {"question": "", "answer": "orphan answer"},
  {"question": "Why can't I sleep?", "answer": "Try a wind-down routine."},
  {"answer": "missing question"}
]`

func writeDataset(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseSkipsIncompleteItems(t *testing.T) {
	ds, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 2, ds.Skipped)
	require.Len(t, ds.Entries, 2)
	assert.Equal(t, "therapist_0", ds.Entries[0].ID)
	assert.Equal(t, "Q: How do I handle work stress?\nA: Break tasks into small steps.", ds.Entries[0].Content)
	assert.Equal(t, SourceTag, ds.Entries[0].Metadata[vectorindex.MetaSource])
	assert.Equal(t, "therapist_2", ds.Entries[1].ID)
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	for name, raw := range map[string]string{
		"object root":     `{"question": "q", "answer": "a"}`,
		"numeric answer":  `[{"question": "q", "answer": 4}]`,
		"non-object item": `["just text"]`,
		"not json":        `[{`,
	} {
		_, err := Parse([]byte(raw))
		assert.Error(t, err, name)
	}
}

func newIndex(t *testing.T) *vectorindex.Index {
	t.Helper()
	idx, err := vectorindex.Open(vectorindex.Options{Embed: vectorindex.NewHashEmbedder(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	return idx
}

func TestBootstrapOnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	path := writeDataset(t, sample)

	res, err := Bootstrap(ctx, idx, path, 2, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, Result{Added: 2, Skipped: 2}, res)

	res, err = Bootstrap(ctx, idx, path, 2, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, res.AlreadyLoaded)

	n, err := idx.Count(vectorindex.KnowledgeCollection)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	matches, err := idx.SearchKnowledge(ctx, "work stress", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "therapist_0", matches[0].ID)
}

func TestImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	path := writeDataset(t, sample)

	_, err := Import(ctx, idx, path, 1, zerolog.Nop())
	require.NoError(t, err)
	res, err := Import(ctx, idx, path, 1, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, res.Added)
}

func TestBootstrapMissingFile(t *testing.T) {
	_, err := Bootstrap(context.Background(), newIndex(t), filepath.Join(t.TempDir(), "nope.json"), 1, zerolog.Nop())
	require.Error(t, err)
}
