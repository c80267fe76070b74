package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lifelensai/lifelens/internal/generation"
	"github.com/lifelensai/lifelens/internal/memory"
	"github.com/lifelensai/lifelens/internal/observability"
	"github.com/lifelensai/lifelens/internal/policy"
	"github.com/lifelensai/lifelens/internal/retrieval"
	"github.com/lifelensai/lifelens/internal/session"
	"github.com/lifelensai/lifelens/internal/summary"
	"github.com/lifelensai/lifelens/internal/voice"
)

// History modes.
const (
	HistorySummary = "summary"
	HistoryRecall  = "recall"
)

// Reply paths, also used as metric labels.
const (
	PathGenerated = "generated"
	PathFallback  = "fallback"
	PathCrisis    = "crisis"
	PathFarewell  = "farewell"
	PathEmpty     = "empty"
)

const persistTimeout = 10 * time.Second

// Reply is the outcome of one handled message.
type Reply struct {
	Text        string `json:"text"`
	Path        string `json:"path"`
	Phase       string `json:"phase"`
	TurnID      string `json:"turn_id,omitempty"`
	MemorySaved bool   `json:"memory_saved"`
	MemoryError string `json:"memory_error,omitempty"`
}

// Deps are the collaborators an Engine needs. Voice and Metrics may be nil.
type Deps struct {
	Crisis     *policy.CrisisFilter
	Farewell   *policy.FarewellDetector
	Retriever  *retrieval.Engine
	Summarizer *summary.Summarizer
	Writer     *memory.Writer
	Generator  generation.Generator
	Sessions   *session.Manager
	Voice      *voice.Voice
	Metrics    *observability.Metrics
	Logger     zerolog.Logger

	HistoryMode string
	TopK        int
}

// Engine runs the per-message pipeline: screen, retrieve, compose, generate,
// persist, then speak.
type Engine struct {
	crisis      *policy.CrisisFilter
	farewell    *policy.FarewellDetector
	retriever   *retrieval.Engine
	summarizer  *summary.Summarizer
	writer      *memory.Writer
	gen         generation.Generator
	sessions    *session.Manager
	voice       *voice.Voice
	metrics     *observability.Metrics
	logger      zerolog.Logger
	historyMode string
	topK        int

	now func() time.Time
}

func NewEngine(d Deps) (*Engine, error) {
	switch {
	case d.Crisis == nil || d.Crisis.Len() == 0:
		return nil, errors.New("conversation engine requires a non-empty crisis list")
	case d.Farewell == nil || d.Farewell.Len() == 0:
		return nil, errors.New("conversation engine requires a non-empty farewell list")
	case d.Retriever == nil, d.Writer == nil, d.Generator == nil, d.Sessions == nil:
		return nil, errors.New("conversation engine requires retriever, writer, generator and sessions")
	}
	mode := strings.ToLower(strings.TrimSpace(d.HistoryMode))
	if mode == "" {
		mode = HistorySummary
	}
	if mode == HistorySummary && d.Summarizer == nil {
		return nil, errors.New("summary history mode requires a summarizer")
	}
	if mode != HistorySummary && mode != HistoryRecall {
		return nil, errors.New("unknown history mode " + d.HistoryMode)
	}
	topK := d.TopK
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}

	e := &Engine{
		crisis:      d.Crisis,
		farewell:    d.Farewell,
		retriever:   d.Retriever,
		summarizer:  d.Summarizer,
		writer:      d.Writer,
		gen:         d.Generator,
		sessions:    d.Sessions,
		voice:       d.Voice,
		metrics:     d.Metrics,
		logger:      observability.Component(d.Logger, "conversation"),
		historyMode: mode,
		topK:        topK,
		now:         time.Now,
	}
	if e.summarizer != nil {
		e.writer.OnChange(e.summarizer.Invalidate)
	}
	return e, nil
}

// HandleMessage processes one user message for the session. Only session
// lookup errors are returned; every other failure degrades into the reply.
func (e *Engine) HandleMessage(ctx context.Context, sessionID, text string) (Reply, error) {
	var reply Reply
	err := e.sessions.Do(sessionID, func(s *session.Session) error {
		reply = e.handle(ctx, s.UserID, &s.State, text)
		return nil
	})
	return reply, err
}

func (e *Engine) handle(ctx context.Context, userID string, st *session.State, text string) Reply {
	started := e.now()
	text = strings.TrimSpace(text)
	if text == "" {
		e.metrics.ObserveTurn(PathEmpty)
		return Reply{Text: generation.EmptyReply, Path: PathEmpty, Phase: PhaseOf(*st).String()}
	}
	st.Messages = append(st.Messages, session.Message{Role: session.RoleUser, Content: text, At: started.UTC()})

	var (
		response string
		kind     memory.TurnKind
		path     string
	)
	screenStart := e.now()
	isCrisis := e.crisis.IsCrisis(text)
	isFarewell := !isCrisis && e.farewell.IsFarewell(text)
	e.metrics.ObserveStage(observability.StageScreen, e.now().Sub(screenStart))

	switch {
	case isCrisis:
		response, kind, path = e.crisis.EscalationText(), memory.KindCrisis, PathCrisis
		e.logger.Warn().Str("user", userID).Msg("crisis language detected; escalating")
	case isFarewell:
		response, kind, path = e.farewell.ClosingText(), memory.KindFarewell, PathFarewell
	default:
		response, kind, path = e.generate(ctx, userID, st, text)
	}

	reply := Reply{Text: response, Path: path}

	persistStart := e.now()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	turn, err := e.writer.Commit(pctx, userID, text, response, kind, e.now())
	cancel()
	e.metrics.ObserveStage(observability.StagePersist, e.now().Sub(persistStart))
	if err != nil {
		reply.MemoryError = err.Error()
		e.logger.Error().Err(err).Str("user", userID).Str("path", path).Msg("turn not fully persisted")
	} else {
		reply.MemorySaved = true
	}
	if turn.UserID != "" {
		reply.TurnID = turn.ID()
	}

	st.Messages = append(st.Messages, session.Message{Role: session.RoleAssistant, Content: response, At: e.now().UTC()})
	if kind == memory.KindGenerated {
		st.FirstResponseDone = true
	}
	reply.Phase = PhaseOf(*st).String()

	e.voice.SpeakAsync(response)
	e.metrics.ObserveTurn(path)
	e.metrics.ObserveStage(observability.StageTurnTotal, e.now().Sub(started))
	e.logger.Info().
		Str("user", userID).
		Str("path", path).
		Str("phase", reply.Phase).
		Str("message", policy.LogSafe(text, 80)).
		Bool("memory_saved", reply.MemorySaved).
		Dur("took", e.now().Sub(started)).
		Msg("message handled")
	return reply
}

func (e *Engine) generate(ctx context.Context, userID string, st *session.State, text string) (string, memory.TurnKind, string) {
	retrieveStart := e.now()
	knowledge, recalled := e.retriever.Retrieve(ctx, userID, text, e.topK)
	e.metrics.ObserveStage(observability.StageRetrieve, e.now().Sub(retrieveStart))

	var history string
	if e.historyMode == HistoryRecall {
		history = strings.Join(recalled, "\n")
	} else {
		summarizeStart := e.now()
		history = e.summarizer.Summarize(ctx, userID)
		e.metrics.ObserveStage(observability.StageSummarize, e.now().Sub(summarizeStart))
	}

	payload := Compose(text, history, strings.Join(knowledge, "\n"), st.UserName, PhaseOf(*st))

	generateStart := e.now()
	out, err := e.gen.Generate(ctx, payload.Prompt)
	e.metrics.ObserveStage(observability.StageGenerate, e.now().Sub(generateStart))
	if err != nil {
		e.metrics.CountGenerationFailure()
		e.logger.Warn().Err(err).Str("user", userID).Msg("generation failed; using fallback reply")
		return payload.GreetingPrefix + generation.FallbackReply, memory.KindFallback, PathFallback
	}
	out = strings.TrimSpace(out)
	if out == "" {
		out = generation.EmptyReply
	}
	return payload.GreetingPrefix + out, memory.KindGenerated, PathGenerated
}

// Forget erases everything stored for the session's user and resets every live
// session of that user. On failure the session state is left as it was.
func (e *Engine) Forget(ctx context.Context, sessionID string) error {
	return e.sessions.Do(sessionID, func(s *session.Session) error {
		if err := e.writer.Erase(ctx, s.UserID); err != nil {
			return err
		}
		n := e.sessions.ResetUser(s.UserID)
		s.State.Reset()
		e.logger.Info().Str("user", s.UserID).Int("sessions_reset", n).Msg("user memory forgotten")
		return nil
	})
}

// Repair rebuilds the user's transcript log and index entries from the store.
func (e *Engine) Repair(ctx context.Context, userID string) error {
	return e.writer.Repair(ctx, userID)
}
