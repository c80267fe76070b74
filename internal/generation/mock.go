package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const newMessageMarker = "User's New Message:\n"

// MockGenerator provides deterministic local replies when no model is available.
// Reply, when set, overrides the default echo.
type MockGenerator struct {
	Reply func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.Reply != nil {
		return g.Reply(prompt)
	}
	return buildMockReply(prompt), nil
}

// Prompts returns every prompt received so far.
func (g *MockGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

func buildMockReply(prompt string) string {
	msg := prompt
	if i := strings.LastIndex(prompt, newMessageMarker); i >= 0 {
		msg = prompt[i+len(newMessageMarker):]
		if j := strings.Index(msg, "\n"); j >= 0 {
			msg = msg[:j]
		}
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "I am listening."
	}
	return fmt.Sprintf("I hear you: %s", msg)
}
