package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptAppendAndRead(t *testing.T) {
	log, err := NewTranscriptLog(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, log.Append(Turn{UserID: "Alex", Utterance: "hi", Response: "hello", CreatedAt: at(1)}))
	require.NoError(t, log.Append(Turn{UserID: "Alex", Utterance: "again", Response: "sure", CreatedAt: at(2)}))

	got, err := log.Read("Alex")
	require.NoError(t, err)
	want := "[2025-03-01 10:00:01] You: hi\n[2025-03-01 10:00:01] Coach: hello\n\n" +
		"[2025-03-01 10:00:02] You: again\n[2025-03-01 10:00:02] Coach: sure\n\n"
	assert.Equal(t, want, got)
	assert.Equal(t, filepath.Join(log.Dir(), "Alex", "chat_log.txt"), log.Path("Alex"))
}

func TestTranscriptRewriteAndRemove(t *testing.T) {
	log, err := NewTranscriptLog(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, log.Append(Turn{UserID: "alex", Utterance: "stale", Response: "x", CreatedAt: at(9)}))
	require.NoError(t, log.Rewrite("alex", []Turn{{UserID: "alex", Utterance: "a", Response: "b", CreatedAt: at(1)}}))

	got, err := log.Read("alex")
	require.NoError(t, err)
	assert.Equal(t, "[2025-03-01 10:00:01] You: a\n[2025-03-01 10:00:01] Coach: b\n\n", got)

	entries, err := os.ReadDir(filepath.Dir(log.Path("alex")))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, log.Remove("alex"))
	require.NoError(t, log.Remove("alex"))
	got, err = log.Read("alex")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTranscriptUserDirStaysInsideRoot(t *testing.T) {
	log, err := NewTranscriptLog(t.TempDir())
	require.NoError(t, err)

	for _, user := range []string{"..", ".", "../etc", "a/b", ""} {
		path := log.Path(user)
		assert.Equal(t, "chat_log.txt", filepath.Base(path))
		assert.Equal(t, log.Dir(), filepath.Dir(filepath.Dir(path)), "user %q escaped to %s", user, path)
	}
}
