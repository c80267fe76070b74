package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lifelensai/lifelens/internal/protocol"
	"github.com/lifelensai/lifelens/internal/voice"
)

type options struct {
	baseURL     string
	userName    string
	audioPath   string
	turnTimeout time.Duration
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type        string `json:"type"`
	Code        string `json:"code,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Text        string `json:"text,omitempty"`
	Phase       string `json:"phase,omitempty"`
	MemorySaved bool   `json:"memory_saved,omitempty"`
	MemoryError string `json:"memory_error,omitempty"`
}

// command is one parsed line of user input.
type command struct {
	kind string // "say", "forget", "audio", "quit", "skip"
	arg  string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lifelens-chat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "lifelens-chat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "LifeLens base URL")
	flag.StringVar(&cfg.userName, "user", "", "your name (asked interactively when empty)")
	flag.StringVar(&cfg.audioPath, "audio", "", "send this WAV recording as the first message")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 120000, "timeout waiting for a reply in milliseconds")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	in := bufio.NewScanner(os.Stdin)
	if strings.TrimSpace(cfg.userName) == "" {
		fmt.Print("Enter your name to begin: ")
		if !in.Scan() {
			return fmt.Errorf("no name given")
		}
		cfg.userName = strings.TrimSpace(in.Text())
		if cfg.userName == "" {
			return fmt.Errorf("a name is required")
		}
	}

	ctx := context.Background()
	httpClient := &http.Client{Timeout: cfg.turnTimeout}
	sessionID, err := createSession(ctx, httpClient, cfg.baseURL, cfg.userName)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	frames := make(chan wsEnvelope, 16)
	readErrCh := make(chan error, 1)
	go readLoop(conn, frames, readErrCh)

	if _, err := await(frames, readErrCh, cfg.turnTimeout, "session_ready"); err != nil {
		return err
	}
	fmt.Printf("Welcome, %s. Type a message, /audio <file.wav>, /forget to erase your memory, or /quit.\n", cfg.userName)

	if cfg.audioPath != "" {
		if err := sendAudio(ctx, httpClient, cfg.baseURL, sessionID, cfg.audioPath); err != nil {
			fmt.Fprintf(os.Stderr, "audio: %v\n", err)
		}
	}

	for {
		fmt.Print("You: ")
		if !in.Scan() {
			break
		}
		cmd := parseCommand(in.Text())
		switch cmd.kind {
		case "skip":
			continue
		case "quit":
			_ = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: sessionID, Action: protocol.ActionEnd})
			_, _ = await(frames, readErrCh, 5*time.Second, "session_ended")
			fmt.Println("Goodbye.")
			return nil
		case "audio":
			if err := sendAudio(ctx, httpClient, cfg.baseURL, sessionID, cmd.arg); err != nil {
				fmt.Fprintf(os.Stderr, "audio: %v\n", err)
			}
		case "forget":
			if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: sessionID, Action: protocol.ActionForget}); err != nil {
				return fmt.Errorf("send forget: %w", err)
			}
			frame, err := await(frames, readErrCh, cfg.turnTimeout, "memory_forgotten")
			if err != nil {
				return err
			}
			if frame.Type == string(protocol.TypeErrorEvent) {
				fmt.Printf("Could not erase everything yet (%s). Try /forget again.\n", frame.Detail)
			} else {
				fmt.Println("Your conversation memory has been erased.")
			}
		case "say":
			if err := conn.WriteJSON(protocol.UserMessage{Type: protocol.TypeUserMessage, SessionID: sessionID, Text: cmd.arg}); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
			frame, err := await(frames, readErrCh, cfg.turnTimeout, "")
			if err != nil {
				return err
			}
			printReply(frame)
		}
	}
	return in.Err()
}

func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return command{kind: "skip"}
	case line == "/quit" || line == "/exit":
		return command{kind: "quit"}
	case line == "/forget":
		return command{kind: "forget"}
	case strings.HasPrefix(line, "/audio"):
		return command{kind: "audio", arg: strings.TrimSpace(strings.TrimPrefix(line, "/audio"))}
	default:
		return command{kind: "say", arg: line}
	}
}

func printReply(frame wsEnvelope) {
	if frame.Type == string(protocol.TypeErrorEvent) {
		fmt.Printf("[error %s] %s\n", frame.Code, frame.Detail)
		return
	}
	fmt.Printf("Coach: %s\n", frame.Text)
	if frame.MemoryError != "" {
		fmt.Printf("[memory not fully saved: %s]\n", frame.MemoryError)
	}
}

// await returns the next assistant_message, error_event or system_event with
// the wanted code. An empty code waits for an assistant_message.
func await(frames <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration, code string) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case f := <-frames:
			switch f.Type {
			case string(protocol.TypeErrorEvent):
				return f, nil
			case string(protocol.TypeAssistantMessage):
				if code == "" {
					return f, nil
				}
			case string(protocol.TypeSystemEvent):
				if f.Code == code {
					return f, nil
				}
			}
		case err := <-readErrCh:
			return wsEnvelope{}, fmt.Errorf("ws read: %w", err)
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timed out waiting for reply")
		}
	}
}

func readLoop(conn *websocket.Conn, frames chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErrCh <- err
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		frames <- env
	}
}

func createSession(ctx context.Context, client *http.Client, baseURL, userName string) (string, error) {
	payload, err := json.Marshal(map[string]string{"user_name": userName})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

// sendAudio uploads a WAV file and prints the transcript and reply. The file
// is checked locally first so a wrong format fails before the round trip.
func sendAudio(ctx context.Context, client *http.Client, baseURL, sessionID, path string) error {
	if path == "" {
		return fmt.Errorf("usage: /audio <file.wav>")
	}
	wav, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, _, err := voice.DecodeWAV(wav); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/audio", bytes.NewReader(wav))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "audio/wav")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Transcript string     `json:"transcript"`
		Reply      wsEnvelope `json:"reply"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	fmt.Printf("You (audio): %s\n", out.Transcript)
	printReply(out.Reply)
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/sessions/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
