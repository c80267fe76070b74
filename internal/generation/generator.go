package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Replies substituted by the conversation engine.
const (
	FallbackReply = "I'm here for you whenever you're ready to chat."
	EmptyReply    = "I'm here to listen. Could you tell me more?"
)

// Generator produces a completion for a fully composed prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config controls generator construction.
type Config struct {
	Provider string
	URL      string
	Model    string
	Timeout  time.Duration
}

func NewGenerator(cfg Config) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "ollama"
	}

	switch provider {
	case "ollama":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("ollama url is required")
		}
		if strings.TrimSpace(cfg.Model) == "" {
			return nil, errors.New("ollama model is required")
		}
		return NewOllamaClient(cfg.URL, cfg.Model, cfg.Timeout), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider %q", cfg.Provider)
	}
}
