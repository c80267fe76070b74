package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// WhisperCLI transcribes recordings with the whisper.cpp command line tool.
type WhisperCLI struct {
	cliPath   string
	modelPath string
	language  string
	threads   int
}

func NewWhisperCLI(cli, modelPath, language string) (*WhisperCLI, error) {
	cli = strings.TrimSpace(cli)
	if cli == "" {
		cli = "whisper-cli"
	}
	cliPath, err := exec.LookPath(cli)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp CLI not found (%s)", cli)
	}
	modelPath = strings.TrimSpace(modelPath)
	if modelPath == "" {
		return nil, errors.New("WHISPER_MODEL_PATH is required")
	}
	if !filepath.IsAbs(modelPath) {
		if wd, err := os.Getwd(); err == nil {
			modelPath = filepath.Join(wd, modelPath)
		}
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper.cpp model not found: %s", modelPath)
	}
	language = strings.TrimSpace(language)
	if language == "" {
		language = "en"
	}

	threads := runtime.NumCPU()
	if threads > 8 {
		threads = 8
	}
	if threads < 2 {
		threads = 2
	}

	return &WhisperCLI{
		cliPath:   cliPath,
		modelPath: modelPath,
		language:  language,
		threads:   threads,
	}, nil
}

func (w *WhisperCLI) Transcribe(ctx context.Context, wav []byte) (string, error) {
	pcm, sampleRate, err := DecodeWAV(wav)
	if err != nil {
		return "", fmt.Errorf("decode upload: %w", err)
	}
	if len(pcm) == 0 {
		return "", nil
	}

	tmpDir, err := os.MkdirTemp("", "lifelens-whisper-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	// Re-encode as mono so multi-channel uploads are accepted.
	mono, err := EncodeWAV(pcm, sampleRate)
	if err != nil {
		return "", err
	}
	wavPath := filepath.Join(tmpDir, "audio.wav")
	if err := os.WriteFile(wavPath, mono, 0o600); err != nil {
		return "", err
	}
	outPrefix := filepath.Join(tmpDir, "out")

	args := []string{
		"-m", w.modelPath,
		"-f", wavPath,
		"-l", w.language,
		"-otxt",
		"-of", outPrefix,
		"-nt",
		"-t", strconv.Itoa(w.threads),
	}

	cmd := exec.CommandContext(ctx, w.cliPath, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", context.Canceled
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errors.New("whisper.cpp timed out; use a smaller model or a shorter recording")
		}
		detail := strings.TrimSpace(stderr.String())
		// whisper.cpp is chatty; keep the tail.
		if len(detail) > 8<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(8<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("whisper.cpp failed: %s", detail)
	}

	b, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
