package voice

import (
	"context"
	"sync"
)

// MockTranscriber returns a fixed transcript or error.
type MockTranscriber struct {
	Text string
	Err  error
}

func (m MockTranscriber) Transcribe(ctx context.Context, _ []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Text, m.Err
}

// RecordingSpeaker keeps everything it is asked to say.
type RecordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
	Err    error
}

func (s *RecordingSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return s.Err
}

func (s *RecordingSpeaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}
