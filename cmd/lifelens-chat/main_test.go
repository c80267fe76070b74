package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/lifelensai/lifelens/internal/voice"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line string
		want command
	}{
		{"", command{kind: "skip"}},
		{"  /quit ", command{kind: "quit"}},
		{"/exit", command{kind: "quit"}},
		{"/forget", command{kind: "forget"}},
		{"/audio  clip.wav", command{kind: "audio", arg: "clip.wav"}},
		{"I had a rough day", command{kind: "say", arg: "I had a rough day"}},
	}
	for _, tc := range cases {
		if got := parseCommand(tc.line); got != tc.want {
			t.Fatalf("parseCommand(%q) = %+v, want %+v", tc.line, got, tc.want)
		}
	}
}

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://coach.example.com/base/", "abc")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	if want := "wss://coach.example.com/base/v1/sessions/ws?session_id=abc"; got != want {
		t.Fatalf("wsURLForSession() = %q, want %q", got, want)
	}
	if _, err := wsURLForSession("ftp://x", "abc"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestSendAudioValidatesAndUploads(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xE8, 0x03, 0x18, 0xFC}
	wav, err := voice.EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	dir := t.TempDir()
	good := filepath.Join(dir, "clip.wav")
	if err := os.WriteFile(good, wav, 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	bad := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(bad, []byte("not audio"), 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}

	var uploaded int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/s1/audio" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		uploaded = len(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"transcript":"hello","reply":{"text":"hi","path":"generated","phase":"WARMED","memory_saved":true}}`)
	}))
	defer ts.Close()

	if err := sendAudio(context.Background(), ts.Client(), ts.URL, "s1", bad); err == nil {
		t.Fatalf("sendAudio() with a non-WAV file should fail")
	}
	if uploaded != 0 {
		t.Fatalf("invalid file was uploaded")
	}
	if err := sendAudio(context.Background(), ts.Client(), ts.URL, "s1", good); err != nil {
		t.Fatalf("sendAudio() error = %v", err)
	}
	if uploaded != len(wav) {
		t.Fatalf("uploaded %d bytes, want %d", uploaded, len(wav))
	}
}
