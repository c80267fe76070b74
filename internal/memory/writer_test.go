package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelensai/lifelens/internal/reliability"
)

type fakeIndex struct {
	mu        sync.Mutex
	entries   map[string]string // id -> user
	addErr    error
	deleteErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]string)}
}

func (f *fakeIndex) AddUtterance(_ context.Context, id, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	if _, ok := f.entries[id]; ok {
		return errors.New("duplicate id")
	}
	f.entries[id] = userID
	return nil
}

func (f *fakeIndex) HasUtterance(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	return ok, nil
}

func (f *fakeIndex) DeleteUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, u := range f.entries {
		if u == userID {
			delete(f.entries, id)
		}
	}
	return nil
}

func (f *fakeIndex) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.entries {
		if u == userID {
			n++
		}
	}
	return n
}

func (f *fakeIndex) setAddErr(err error) {
	f.mu.Lock()
	f.addErr = err
	f.mu.Unlock()
}

func newTestWriter(t *testing.T) (*Writer, *InMemoryStore, *fakeIndex) {
	t.Helper()
	store := NewInMemoryStore()
	log, err := NewTranscriptLog(t.TempDir())
	require.NoError(t, err)
	index := newFakeIndex()
	w := NewWriter(store, log, index, nil, zerolog.Nop())
	w.SetRetryPolicy(reliability.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	return w, store, index
}

func TestWriterPersistWritesAllStores(t *testing.T) {
	w, store, index := newTestWriter(t)
	ctx := context.Background()

	var changed []string
	w.OnChange(func(user string) { changed = append(changed, user) })

	turn := Turn{UserID: "alex", Utterance: "I feel stuck", Response: "Tell me more.", CreatedAt: at(3)}
	require.NoError(t, w.Persist(ctx, turn))

	turns, err := store.Turns(ctx, "alex")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "I feel stuck", turns[0].Utterance)
	assert.Equal(t, "Tell me more.", turns[0].Response)

	logText, err := w.Log().Read("alex")
	require.NoError(t, err)
	assert.Equal(t, "[2025-03-01 10:00:03] You: I feel stuck\n[2025-03-01 10:00:03] Coach: Tell me more.\n\n", logText)

	ok, err := index.HasUtterance(ctx, "alex_2025-03-01 10:00:03")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"alex"}, changed)
}

func TestWriterPersistDuplicateTurn(t *testing.T) {
	w, _, index := newTestWriter(t)
	ctx := context.Background()

	turn := Turn{UserID: "alex", Utterance: "hi", Response: "hey", CreatedAt: at(1)}
	require.NoError(t, w.Persist(ctx, turn))

	err := w.Persist(ctx, turn)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateTurn), "Persist() error = %v", err)

	logText, err := w.Log().Read("alex")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(logText, "You: hi"))
	assert.Equal(t, 1, index.count("alex"))
}

func TestWriterCommitAllocatesDistinctTimestamps(t *testing.T) {
	w, store, _ := newTestWriter(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 400_000_000, time.UTC)

	first, err := w.Commit(ctx, "alex", "one", "r1", KindGenerated, now)
	require.NoError(t, err)
	second, err := w.Commit(ctx, "alex", "two", "r2", KindFarewell, now)
	require.NoError(t, err)

	assert.Equal(t, "2025-03-01 10:00:00", first.Timestamp())
	assert.Equal(t, "2025-03-01 10:00:01", second.Timestamp())

	turns, err := store.Turns(ctx, "alex")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, KindFarewell, turns[1].Kind)
}

func TestWriterPartialFailureIsRepairedOnNextPersist(t *testing.T) {
	w, store, index := newTestWriter(t)
	ctx := context.Background()

	index.setAddErr(errors.New("embedding service down"))
	err := w.Persist(ctx, Turn{UserID: "alex", Utterance: "first", Response: "r1", CreatedAt: at(1)})

	var perr *PersistError
	require.True(t, errors.As(err, &perr), "Persist() error = %v", err)
	assert.Equal(t, []string{StoreIndex}, perr.Failed)
	assert.True(t, w.NeedsRepair("alex"))

	turns, err := store.Turns(ctx, "alex")
	require.NoError(t, err)
	assert.Len(t, turns, 1, "the store row is the source of truth and must stay")

	index.setAddErr(nil)
	require.NoError(t, w.Persist(ctx, Turn{UserID: "alex", Utterance: "second", Response: "r2", CreatedAt: at(2)}))

	assert.False(t, w.NeedsRepair("alex"))
	assert.Equal(t, 2, index.count("alex"))
	logText, err := w.Log().Read("alex")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(logText, "You: first"))
	assert.Equal(t, 1, strings.Count(logText, "You: second"))
}

func TestWriterRepairRebuildsLog(t *testing.T) {
	w, store, index := newTestWriter(t)
	ctx := context.Background()

	require.NoError(t, store.InsertTurn(ctx, Turn{UserID: "alex", Utterance: "imported", Response: "ok", CreatedAt: at(4)}))
	require.NoError(t, w.Repair(ctx, "alex"))

	logText, err := w.Log().Read("alex")
	require.NoError(t, err)
	assert.Equal(t, "[2025-03-01 10:00:04] You: imported\n[2025-03-01 10:00:04] Coach: ok\n\n", logText)
	assert.Equal(t, 1, index.count("alex"))
}

func TestWriterEraseRemovesEverything(t *testing.T) {
	w, store, index := newTestWriter(t)
	ctx := context.Background()

	require.NoError(t, w.Persist(ctx, Turn{UserID: "alex", Utterance: "a", Response: "b", CreatedAt: at(1)}))
	require.NoError(t, w.Persist(ctx, Turn{UserID: "sam", Utterance: "c", Response: "d", CreatedAt: at(1)}))

	var changed []string
	w.OnChange(func(user string) { changed = append(changed, user) })

	require.NoError(t, w.Erase(ctx, "alex"))

	turns, err := store.Turns(ctx, "alex")
	require.NoError(t, err)
	assert.Empty(t, turns)
	logText, err := w.Log().Read("alex")
	require.NoError(t, err)
	assert.Empty(t, logText)
	assert.Zero(t, index.count("alex"))
	assert.Equal(t, 1, index.count("sam"))
	assert.Equal(t, []string{"alex"}, changed)

	// Erasing an unknown user is a no-op.
	require.NoError(t, w.Erase(ctx, "nobody"))
}

func TestWriterEraseReportsIncompleteStores(t *testing.T) {
	w, store, index := newTestWriter(t)
	ctx := context.Background()

	require.NoError(t, w.Persist(ctx, Turn{UserID: "alex", Utterance: "a", Response: "b", CreatedAt: at(1)}))
	index.deleteErr = errors.New("index unavailable")

	err := w.Erase(ctx, "alex")
	var eerr *EraseError
	require.True(t, errors.As(err, &eerr), "Erase() error = %v", err)
	assert.Equal(t, []string{StoreIndex, StoreLog, StoreTurns}, eerr.Incomplete)

	turns, err := store.Turns(ctx, "alex")
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	index.deleteErr = nil
	require.NoError(t, w.Erase(ctx, "alex"))
	turns, err = store.Turns(ctx, "alex")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestUserLocksReleaseEntries(t *testing.T) {
	locks := newUserLocks()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("alex")
			unlock()
		}()
	}
	wg.Wait()
	assert.Zero(t, locks.size())
}
