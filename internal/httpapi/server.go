package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lifelensai/lifelens/internal/config"
	"github.com/lifelensai/lifelens/internal/conversation"
	"github.com/lifelensai/lifelens/internal/observability"
	"github.com/lifelensai/lifelens/internal/protocol"
	"github.com/lifelensai/lifelens/internal/session"
)

// Conversation is the message pipeline behind the API.
type Conversation interface {
	HandleMessage(ctx context.Context, sessionID, text string) (conversation.Reply, error)
	Forget(ctx context.Context, sessionID string) error
	Repair(ctx context.Context, userID string) error
}

// Recognizer turns an uploaded WAV into text. It never fails; unusable audio
// yields a fixed apology string.
type Recognizer interface {
	Recognize(ctx context.Context, wav []byte) string
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	conversation Conversation
	recognizer   Recognizer
	metrics      *observability.Metrics
	logger       zerolog.Logger
	upgrader     websocket.Upgrader
	ready        func() error
}

func New(cfg config.Config, sessions *session.Manager, conv Conversation, recognizer Recognizer, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		conversation: conv,
		recognizer:   recognizer,
		metrics:      metrics,
		logger:       observability.Component(logger, "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// SetReadyCheck installs the probe behind /readyz.
func (s *Server) SetReadyCheck(fn func() error) {
	s.ready = fn
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/ws", s.handleSessionWS)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/messages", s.handleMessage)
	r.Post("/v1/sessions/{id}/audio", s.handleAudio)
	r.Post("/v1/sessions/{id}/forget", s.handleForget)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Post("/v1/users/{user}/memory/repair", s.handleRepair)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
		"history_mode":    s.cfg.HistoryMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.conversation == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "conversation engine not configured")
		return
	}
	if s.ready != nil {
		if err := s.ready(); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.conversation == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.countSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 64)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer close(outbound)
		s.runConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug().Err(err).Str("session_id", sessionID).Msg("websocket write failed")
				cancel()
				// Drain so runConnection never blocks on a dead socket.
				for range outbound {
				}
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.CountWSMessage("outbound", string(t))
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		// Unblocks the read loop when the server side ended the conversation.
		_ = conn.Close()
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			parsed = protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			}
		} else if t, ok := messageTypeOf(parsed); ok {
			s.metrics.CountWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case <-runDone:
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.countSessionEvent("ws_disconnected")
}

// runConnection handles inbound frames one at a time. It returns when inbound
// closes or the client ends the session.
func (s *Server) runConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) {
	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}

	if !send(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sess.ID,
		Code:      "session_ready",
		Detail:    conversation.PhaseOf(sess.State).String(),
	}) {
		return
	}

	for raw := range inbound {
		switch msg := raw.(type) {
		case protocol.ErrorEvent:
			if !send(msg) {
				return
			}
		case protocol.UserMessage:
			reply, err := s.conversation.HandleMessage(ctx, sess.ID, msg.Text)
			if err != nil {
				send(sessionErrorEvent(sess.ID, err))
				return
			}
			if !send(protocol.AssistantMessage{
				Type:        protocol.TypeAssistantMessage,
				SessionID:   sess.ID,
				TurnID:      reply.TurnID,
				Text:        reply.Text,
				Path:        reply.Path,
				Phase:       reply.Phase,
				MemorySaved: reply.MemorySaved,
				MemoryError: reply.MemoryError,
			}) {
				return
			}
		case protocol.ClientControl:
			switch msg.Action {
			case protocol.ActionForget:
				if err := s.conversation.Forget(ctx, sess.ID); err != nil {
					if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrEnded) {
						send(sessionErrorEvent(sess.ID, err))
						return
					}
					if !send(protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: sess.ID,
						Code:      "erase_incomplete",
						Source:    "memory",
						Retryable: true,
						Detail:    err.Error(),
					}) {
						return
					}
					continue
				}
				if !send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sess.ID, Code: "memory_forgotten"}) {
					return
				}
			case protocol.ActionEnd:
				if _, err := s.sessions.End(sess.ID); err == nil {
					s.countSessionEvent("ended")
				}
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sess.ID, Code: "session_ended"})
				return
			}
		}
	}
}

func sessionErrorEvent(sessionID string, err error) protocol.ErrorEvent {
	code := "session_error"
	switch {
	case errors.Is(err, session.ErrNotFound):
		code = "session_not_found"
	case errors.Is(err, session.ErrEnded):
		code = "session_ended"
	}
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "session",
		Detail:    err.Error(),
	}
}

func (s *Server) countSessionEvent(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantMessage:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
