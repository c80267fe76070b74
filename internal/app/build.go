package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lifelensai/lifelens/internal/config"
	"github.com/lifelensai/lifelens/internal/conversation"
	"github.com/lifelensai/lifelens/internal/generation"
	"github.com/lifelensai/lifelens/internal/httpapi"
	"github.com/lifelensai/lifelens/internal/knowledge"
	"github.com/lifelensai/lifelens/internal/memory"
	"github.com/lifelensai/lifelens/internal/observability"
	"github.com/lifelensai/lifelens/internal/policy"
	"github.com/lifelensai/lifelens/internal/retrieval"
	"github.com/lifelensai/lifelens/internal/session"
	"github.com/lifelensai/lifelens/internal/summary"
	"github.com/lifelensai/lifelens/internal/vectorindex"
	"github.com/lifelensai/lifelens/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Conversation *conversation.Engine
	Index        *vectorindex.Index
	Store        memory.Store
	Voice        *voice.Voice
	Metrics      *observability.Metrics
	VoiceDetail  string

	// Cleanup should be called on shutdown to release external resources (DB, caches, pending speech).
	Cleanup func() error
}

// NewEmbedder picks the embedding function for cfg.
func NewEmbedder(cfg config.Config) vectorindex.EmbeddingFunc {
	if cfg.EmbeddingProvider == "hash" {
		return vectorindex.NewHashEmbedder()
	}
	return vectorindex.NewOllamaEmbedder(cfg.EmbeddingURL, cfg.EmbeddingModel, cfg.EmbeddingTimeout)
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := memory.NewStore(ctx, memory.StoreOptions{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("turn store init failed: %w", err)
	}
	logger.Info().Str("backend", store.Backend()).Msg("turn store ready")

	closers := []func() error{store.Close}
	fail := func(err error) (*BuildResult, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	transcripts, err := memory.NewTranscriptLog(cfg.ConversationLogDir)
	if err != nil {
		return fail(fmt.Errorf("transcript log init failed: %w", err))
	}

	index, err := vectorindex.Open(vectorindex.Options{
		Dir:    cfg.VectorDir,
		Embed:  NewEmbedder(cfg),
		Logger: logger,
	})
	if err != nil {
		return fail(fmt.Errorf("vector index init failed: %w", err))
	}

	if cfg.KBDatasetPath != "" {
		if _, err := knowledge.Bootstrap(ctx, index, cfg.KBDatasetPath, 4, observability.Component(logger, "knowledge")); err != nil {
			// Retrieval degrades to empty knowledge context; the service still answers.
			logger.Error().Err(err).Str("path", cfg.KBDatasetPath).Msg("knowledge base bootstrap failed")
		}
	}

	gen, err := generation.NewGenerator(generation.Config{
		Provider: cfg.GenerationProvider,
		URL:      cfg.OllamaURL,
		Model:    cfg.OllamaModel,
		Timeout:  cfg.GenerationTimeout,
	})
	if err != nil {
		return fail(fmt.Errorf("generator init failed: %w", err))
	}

	summarizer, err := summary.NewSummarizer(store, gen, cfg.SummaryCacheSize, metrics, logger)
	if err != nil {
		return fail(fmt.Errorf("summarizer init failed: %w", err))
	}
	closers = append(closers, func() error { summarizer.Close(); return nil })

	writer := memory.NewWriter(store, transcripts, index, metrics, logger)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	speech := resolveVoice(cfg, logger)
	closers = append(closers, func() error { speech.voice.Wait(); return nil })

	engine, err := conversation.NewEngine(conversation.Deps{
		Crisis:      policy.NewCrisisFilter(cfg.CrisisTerms, cfg.EscalationContact),
		Farewell:    policy.NewFarewellDetector(cfg.FarewellTerms),
		Retriever:   retrieval.NewEngine(index, cfg.RetrievalTimeout, metrics, logger),
		Summarizer:  summarizer,
		Writer:      writer,
		Generator:   gen,
		Sessions:    sessions,
		Voice:       speech.voice,
		Metrics:     metrics,
		Logger:      logger,
		HistoryMode: cfg.HistoryMode,
		TopK:        cfg.RetrievalTopK,
	})
	if err != nil {
		return fail(fmt.Errorf("conversation engine init failed: %w", err))
	}

	var recognizer httpapi.Recognizer
	if speech.recognizer != nil {
		recognizer = speech.recognizer
	}
	api := httpapi.New(cfg, sessions, engine, recognizer, metrics, logger)

	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Conversation: engine,
		Index:        index,
		Store:        store,
		Voice:        speech.voice,
		Metrics:      metrics,
		VoiceDetail:  speech.detail,
		Cleanup:      cleanup,
	}, nil
}
