package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lifelensai/lifelens/internal/conversation"
	"github.com/lifelensai/lifelens/internal/memory"
	"github.com/lifelensai/lifelens/internal/session"
)

const maxAudioBytes = 25 << 20

type messageRequest struct {
	Text string `json:"text"`
}

type audioResponse struct {
	Transcript string             `json:"transcript"`
	Reply      conversation.Reply `json:"reply"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserName = strings.TrimSpace(req.UserName)
	if req.UserName == "" {
		respondError(w, http.StatusBadRequest, "missing_user_name", "user_name is required")
		return
	}

	sess := s.sessions.Create(req.UserName)
	s.countSessionEvent("created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserName:        sess.State.UserName,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session": sess,
		"phase":   conversation.PhaseOf(sess.State).String(),
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.conversation == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reply, err := s.conversation.HandleMessage(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.conversation == nil || s.recognizer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "audio input not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		respondSessionError(w, err)
		return
	}
	if r.Body == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "audio body is required")
		return
	}
	defer r.Body.Close()
	wav, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "audio_too_large", err.Error())
		return
	}

	transcript := s.recognizer.Recognize(r.Context(), wav)
	reply, err := s.conversation.HandleMessage(r.Context(), id, transcript)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, audioResponse{Transcript: transcript, Reply: reply})
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	if s.conversation == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	err := s.conversation.Forget(r.Context(), chi.URLParam(r, "id"))
	var eraseErr *memory.EraseError
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"status": "forgotten"})
	case errors.As(err, &eraseErr):
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":      err.Error(),
			"code":       "erase_incomplete",
			"incomplete": eraseErr.Incomplete,
		})
	default:
		respondSessionError(w, err)
	}
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.countSessionEvent("ended")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	if s.conversation == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	user := strings.TrimSpace(chi.URLParam(r, "user"))
	if user == "" {
		respondError(w, http.StatusBadRequest, "invalid_user", "missing user")
		return
	}
	if err := s.conversation.Repair(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "repair_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "repaired", "user": user})
}

func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusConflict, "session_ended", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
