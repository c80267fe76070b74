package memory

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const transcriptFileName = "chat_log.txt"

// TranscriptLog is the append-only per-user text log rooted at a directory.
// Each user gets <dir>/<escaped user>/chat_log.txt.
type TranscriptLog struct {
	dir string
}

func NewTranscriptLog(dir string) (*TranscriptLog, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("transcript directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	return &TranscriptLog{dir: dir}, nil
}

// Dir returns the log root.
func (l *TranscriptLog) Dir() string { return l.dir }

// Path returns the log file for userID.
func (l *TranscriptLog) Path(userID string) string {
	return filepath.Join(l.userDir(userID), transcriptFileName)
}

func (l *TranscriptLog) userDir(userID string) string {
	return filepath.Join(l.dir, escapeUserDir(userID))
}

func escapeUserDir(userID string) string {
	switch userID {
	case "":
		return "%00"
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(userID)
}

// FormatTurn renders the two log lines for a turn followed by a blank line.
func FormatTurn(t Turn) string {
	ts := t.Timestamp()
	return fmt.Sprintf("[%s] You: %s\n[%s] Coach: %s\n\n", ts, t.Utterance, ts, t.Response)
}

// Append writes one turn at the end of the user's log.
func (l *TranscriptLog) Append(t Turn) error {
	if err := os.MkdirAll(l.userDir(t.UserID), 0o755); err != nil {
		return fmt.Errorf("create user log directory: %w", err)
	}
	f, err := os.OpenFile(l.Path(t.UserID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open user log: %w", err)
	}
	if _, err := f.WriteString(FormatTurn(t)); err != nil {
		f.Close()
		return fmt.Errorf("append user log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close user log: %w", err)
	}
	return nil
}

// Rewrite replaces the user's log with the given turns. The new file is
// renamed into place so readers never observe a half-written log.
func (l *TranscriptLog) Rewrite(userID string, turns []Turn) error {
	dir := l.userDir(userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create user log directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, transcriptFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var b strings.Builder
	for _, t := range turns {
		b.WriteString(FormatTurn(t))
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp log: %w", err)
	}
	if err := os.Rename(tmpPath, l.Path(userID)); err != nil {
		return fmt.Errorf("replace user log: %w", err)
	}
	return nil
}

// Read returns the user's log contents, or "" when none exists.
func (l *TranscriptLog) Read(userID string) (string, error) {
	raw, err := os.ReadFile(l.Path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read user log: %w", err)
	}
	return string(raw), nil
}

// Remove deletes the user's log directory. Missing directories are not an error.
func (l *TranscriptLog) Remove(userID string) error {
	if err := os.RemoveAll(l.userDir(userID)); err != nil {
		return fmt.Errorf("remove user log: %w", err)
	}
	return nil
}
