package voice

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lifelensai/lifelens/internal/observability"
)

// Recognizer wraps a Transcriber so callers always get text back.
type Recognizer struct {
	transcriber Transcriber
	timeout     time.Duration
	logger      zerolog.Logger
}

func NewRecognizer(t Transcriber, timeout time.Duration, logger zerolog.Logger) *Recognizer {
	return &Recognizer{
		transcriber: t,
		timeout:     timeout,
		logger:      observability.Component(logger, "recognizer"),
	}
}

// Recognize returns the transcript, or UnrecognizedAudio when transcription
// fails, times out or yields nothing.
func (r *Recognizer) Recognize(ctx context.Context, wav []byte) string {
	if r == nil || r.transcriber == nil {
		return UnrecognizedAudio
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	text, err := r.transcriber.Transcribe(ctx, wav)
	if err != nil {
		r.logger.Warn().Err(err).Int("bytes", len(wav)).Msg("transcription failed")
		return UnrecognizedAudio
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return UnrecognizedAudio
	}
	return text
}
