package session

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one line displayed in a conversation.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// State is the per-session conversation state. It lives only as long as the process.
type State struct {
	UserName          string    `json:"user_name"`
	Messages          []Message `json:"messages"`
	FirstResponseDone bool      `json:"first_response_done"`
}

// Reset clears the conversation back to a fresh start, keeping the user name.
func (s *State) Reset() {
	s.Messages = nil
	s.FirstResponseDone = false
}

func (s State) clone() State {
	c := s
	if s.Messages != nil {
		c.Messages = make([]Message, len(s.Messages))
		copy(c.Messages, s.Messages)
	}
	return c
}

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	UserName string `json:"user_name"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserName        string    `json:"user_name"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
