package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelensai/lifelens/internal/generation"
	"github.com/lifelensai/lifelens/internal/memory"
	"github.com/lifelensai/lifelens/internal/policy"
	"github.com/lifelensai/lifelens/internal/reliability"
	"github.com/lifelensai/lifelens/internal/retrieval"
	"github.com/lifelensai/lifelens/internal/session"
	"github.com/lifelensai/lifelens/internal/summary"
	"github.com/lifelensai/lifelens/internal/vectorindex"
)

type harness struct {
	engine   *Engine
	store    *memory.InMemoryStore
	writer   *memory.Writer
	index    *vectorindex.Index
	gen      *generation.MockGenerator
	sessions *session.Manager
}

func newHarness(t *testing.T, mode string) *harness {
	t.Helper()
	store := memory.NewInMemoryStore()
	log, err := memory.NewTranscriptLog(t.TempDir())
	require.NoError(t, err)
	index, err := vectorindex.Open(vectorindex.Options{Embed: vectorindex.NewHashEmbedder(), Logger: zerolog.Nop()})
	require.NoError(t, err)

	writer := memory.NewWriter(store, log, index, nil, zerolog.Nop())
	writer.SetRetryPolicy(reliability.Policy{MaxAttempts: 1})

	gen := generation.NewMockGenerator()
	gen.Reply = func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, "You are a helpful AI assistant summarizer.") {
			return "Alex has been stressed about work.", nil
		}
		return "That sounds hard. What part weighs on you most?", nil
	}
	summarizer, err := summary.NewSummarizer(store, gen, 64, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(summarizer.Close)

	sessions := session.NewManager(time.Minute)
	engine, err := NewEngine(Deps{
		Crisis:      policy.NewCrisisFilter([]string{"suicide", "hurt myself"}, policy.DefaultEscalationContact),
		Farewell:    policy.NewFarewellDetector(policy.DefaultFarewellTerms),
		Retriever:   retrieval.NewEngine(index, time.Second, nil, zerolog.Nop()),
		Summarizer:  summarizer,
		Writer:      writer,
		Generator:   gen,
		Sessions:    sessions,
		Logger:      zerolog.Nop(),
		HistoryMode: mode,
	})
	require.NoError(t, err)
	return &harness{engine: engine, store: store, writer: writer, index: index, gen: gen, sessions: sessions}
}

func (h *harness) turns(t *testing.T, user string) []memory.Turn {
	t.Helper()
	turns, err := h.store.Turns(context.Background(), user)
	require.NoError(t, err)
	return turns
}

func TestHandleMessageFirstMeeting(t *testing.T) {
	h := newHarness(t, HistorySummary)
	s := h.sessions.Create("Alex")

	reply, err := h.engine.HandleMessage(context.Background(), s.ID, "  I've been stressed about work  ")
	require.NoError(t, err)

	assert.Equal(t, PathGenerated, reply.Path)
	assert.Equal(t, "WARMED", reply.Phase)
	assert.True(t, reply.MemorySaved)
	assert.Empty(t, reply.MemoryError)
	assert.True(t, strings.HasPrefix(reply.Text, "Hey, looks like we are meeting for the first time"), reply.Text)
	assert.True(t, strings.HasSuffix(reply.Text, "What part weighs on you most?"), reply.Text)

	turns := h.turns(t, "Alex")
	require.Len(t, turns, 1)
	assert.Equal(t, "I've been stressed about work", turns[0].Utterance)
	assert.Equal(t, reply.Text, turns[0].Response)
	assert.Equal(t, memory.KindGenerated, turns[0].Kind)
	assert.Equal(t, turns[0].ID(), reply.TurnID)

	got, err := h.sessions.Get(s.ID)
	require.NoError(t, err)
	require.Len(t, got.State.Messages, 2)
	assert.Equal(t, session.RoleUser, got.State.Messages[0].Role)
	assert.Equal(t, session.RoleAssistant, got.State.Messages[1].Role)
	assert.True(t, got.State.FirstResponseDone)

	prompts := h.gen.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "This is the user's first message.")
}

func TestHandleMessageWarmedUsesSummary(t *testing.T) {
	h := newHarness(t, HistorySummary)
	s := h.sessions.Create("Alex")
	ctx := context.Background()

	for _, msg := range []string{"work is heavy", "my manager keeps adding tasks", "I can't switch off at night"} {
		reply, err := h.engine.HandleMessage(ctx, s.ID, msg)
		require.NoError(t, err)
		require.True(t, reply.MemorySaved, reply.MemoryError)
	}

	turns := h.turns(t, "Alex")
	require.Len(t, turns, 3)
	for i := 1; i < len(turns); i++ {
		assert.True(t, turns[i].CreatedAt.After(turns[i-1].CreatedAt), "turn timestamps must be distinct")
	}
	assert.False(t, strings.HasPrefix(turns[2].Response, "Hi"), turns[2].Response)

	prompts := h.gen.Prompts()
	last := prompts[len(prompts)-1]
	assert.Contains(t, last, noGreetingInstruction)
	assert.Contains(t, last, "Conversation Summary:\nAlex has been stressed about work.")
}

func TestHandleMessageRecallMode(t *testing.T) {
	h := newHarness(t, HistoryRecall)
	s := h.sessions.Create("Alex")
	ctx := context.Background()

	_, err := h.engine.HandleMessage(ctx, s.ID, "work stress keeps me awake")
	require.NoError(t, err)
	_, err = h.engine.HandleMessage(ctx, s.ID, "work stress again today")
	require.NoError(t, err)

	prompts := h.gen.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "Conversation Summary:\nwork stress keeps me awake")
	for _, p := range prompts {
		assert.False(t, strings.HasPrefix(p, "You are a helpful AI assistant summarizer."))
	}
}

func TestHandleMessageFarewell(t *testing.T) {
	h := newHarness(t, HistorySummary)
	s := h.sessions.Create("Alex")

	reply, err := h.engine.HandleMessage(context.Background(), s.ID, "ok bye")
	require.NoError(t, err)
	assert.Equal(t, PathFarewell, reply.Path)
	assert.Equal(t, policy.ClosingText, reply.Text)
	assert.Equal(t, "FRESH", reply.Phase)
	assert.Empty(t, h.gen.Prompts())

	turns := h.turns(t, "Alex")
	require.Len(t, turns, 1)
	assert.Equal(t, memory.KindFarewell, turns[0].Kind)
}

func TestHandleMessageCrisisWinsOverFarewell(t *testing.T) {
	h := newHarness(t, HistorySummary)
	s := h.sessions.Create("Alex")

	reply, err := h.engine.HandleMessage(context.Background(), s.ID, "I want to hurt myself, goodbye")
	require.NoError(t, err)
	assert.Equal(t, PathCrisis, reply.Path)
	assert.Contains(t, reply.Text, policy.DefaultEscalationContact)
	assert.Empty(t, h.gen.Prompts())

	turns := h.turns(t, "Alex")
	require.Len(t, turns, 1)
	assert.Equal(t, memory.KindCrisis, turns[0].Kind)
	assert.Equal(t, reply.Text, turns[0].Response)
}

func TestHandleMessageGenerationFailureKeepsFresh(t *testing.T) {
	h := newHarness(t, HistorySummary)
	h.gen.Reply = func(string) (string, error) { return "", errors.New("model offline") }
	s := h.sessions.Create("Alex")

	reply, err := h.engine.HandleMessage(context.Background(), s.ID, "hello there")
	require.NoError(t, err)
	assert.Equal(t, PathFallback, reply.Path)
	assert.Equal(t, "FRESH", reply.Phase)
	assert.True(t, strings.HasSuffix(reply.Text, generation.FallbackReply), reply.Text)

	turns := h.turns(t, "Alex")
	require.Len(t, turns, 1)
	assert.Equal(t, memory.KindFallback, turns[0].Kind)
}

func TestHandleMessageEmptyPersistsNothing(t *testing.T) {
	h := newHarness(t, HistorySummary)
	s := h.sessions.Create("Alex")

	reply, err := h.engine.HandleMessage(context.Background(), s.ID, "   ")
	require.NoError(t, err)
	assert.Equal(t, generation.EmptyReply, reply.Text)
	assert.Equal(t, PathEmpty, reply.Path)
	assert.False(t, reply.MemorySaved)
	assert.Empty(t, h.turns(t, "Alex"))
	assert.Empty(t, h.gen.Prompts())
}

func TestHandleMessageUnknownSession(t *testing.T) {
	h := newHarness(t, HistorySummary)
	_, err := h.engine.HandleMessage(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestForgetReturnsUserToFresh(t *testing.T) {
	h := newHarness(t, HistorySummary)
	ctx := context.Background()
	s := h.sessions.Create("Alex")
	other := h.sessions.Create("Alex")

	_, err := h.engine.HandleMessage(ctx, s.ID, "work is heavy")
	require.NoError(t, err)
	_, err = h.engine.HandleMessage(ctx, other.ID, "and sleep is bad")
	require.NoError(t, err)

	require.NoError(t, h.engine.Forget(ctx, s.ID))

	assert.Empty(t, h.turns(t, "Alex"))
	logText, err := h.writer.Log().Read("Alex")
	require.NoError(t, err)
	assert.Empty(t, logText)
	recalled, err := h.index.RecallUser(ctx, "Alex", "work", 5)
	require.NoError(t, err)
	assert.Empty(t, recalled)

	for _, id := range []string{s.ID, other.ID} {
		got, err := h.sessions.Get(id)
		require.NoError(t, err)
		assert.False(t, got.State.FirstResponseDone)
		assert.Empty(t, got.State.Messages)
	}

	reply, err := h.engine.HandleMessage(ctx, s.ID, "starting over")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply.Text, "Hey, looks like we are meeting for the first time"), reply.Text)
	last := h.gen.Prompts()[len(h.gen.Prompts())-1]
	assert.Contains(t, last, "This is the user's first message.")
}

func TestNewEngineRequiresScreens(t *testing.T) {
	_, err := NewEngine(Deps{
		Crisis:   policy.NewCrisisFilter(nil, ""),
		Farewell: policy.NewFarewellDetector(policy.DefaultFarewellTerms),
	})
	require.Error(t, err)
}
