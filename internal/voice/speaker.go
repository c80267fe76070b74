package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lifelensai/lifelens/internal/observability"
)

// CommandSpeaker speaks through an external TTS program such as espeak or say.
// The text is passed as the final argument.
type CommandSpeaker struct {
	path string
	args []string
}

// NewCommandSpeaker parses command ("espeak -s 150") and resolves the binary.
func NewCommandSpeaker(command string) (*CommandSpeaker, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("tts command is empty")
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("tts command not found (%s)", fields[0])
	}
	return &CommandSpeaker{path: path, args: fields[1:]}, nil
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	args := append(append([]string(nil), s.args...), text)
	cmd := exec.CommandContext(ctx, s.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("tts command failed: %s", detail)
	}
	return nil
}

// NoopSpeaker discards speech.
type NoopSpeaker struct{}

func (NoopSpeaker) Speak(context.Context, string) error { return nil }

// Voice speaks replies in the background. Speak never blocks the caller.
type Voice struct {
	speaker Speaker
	timeout time.Duration
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

func NewVoice(speaker Speaker, timeout time.Duration, logger zerolog.Logger) *Voice {
	if speaker == nil {
		speaker = NoopSpeaker{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Voice{speaker: speaker, timeout: timeout, logger: observability.Component(logger, "voice")}
}

// SpeakAsync sanitises text and hands it to the speaker on its own goroutine
// with its own timeout.
func (v *Voice) SpeakAsync(text string) {
	if v == nil {
		return
	}
	if _, ok := v.speaker.(NoopSpeaker); ok {
		return
	}
	spoken := sanitizeSpeechText(text)
	if spoken == "" {
		return
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
		defer cancel()
		if err := v.speaker.Speak(ctx, spoken); err != nil {
			v.logger.Warn().Err(err).Msg("speech output failed")
		}
	}()
}

// Wait blocks until in-flight speech finishes.
func (v *Voice) Wait() {
	if v == nil {
		return
	}
	v.wg.Wait()
}
