package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("Alex")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "Alex" || got.State.UserName != "Alex" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}
	if got.State.FirstResponseDone || len(got.State.Messages) != 0 {
		t.Fatalf("new session should start fresh: %+v", got.State)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if err := m.Do(s.ID, func(*Session) error { return nil }); !errors.Is(err, ErrEnded) {
		t.Fatalf("Do() on ended session error = %v, want ErrEnded", err)
	}
}

func TestManagerDoStoresState(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("Alex")

	err := m.Do(s.ID, func(s *Session) error {
		s.State.Messages = append(s.State.Messages, Message{Role: RoleUser, Content: "hi"})
		s.State.FirstResponseDone = true
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	got, _ := m.Get(s.ID)
	if !got.State.FirstResponseDone || len(got.State.Messages) != 1 {
		t.Fatalf("state not stored: %+v", got.State)
	}

	// Callers get copies.
	got.State.Messages[0].Content = "mutated"
	again, _ := m.Get(s.ID)
	if again.State.Messages[0].Content != "hi" {
		t.Fatalf("Get() leaked internal state")
	}
}

func TestManagerDoSerialisesPerSession(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("Alex")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do(s.ID, func(s *Session) error {
				s.State.Messages = append(s.State.Messages, Message{Role: RoleUser, Content: "x"})
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := m.Get(s.ID)
	if len(got.State.Messages) != 20 {
		t.Fatalf("Messages = %d, want 20", len(got.State.Messages))
	}
}

func TestManagerResetUserWinsOverInFlightTurn(t *testing.T) {
	m := NewManager(time.Minute)
	a := m.Create("Alex")
	other := m.Create("Alex")
	sam := m.Create("Sam")

	for _, id := range []string{a.ID, other.ID, sam.ID} {
		_ = m.Do(id, func(s *Session) error {
			s.State.FirstResponseDone = true
			s.State.Messages = []Message{{Role: RoleAssistant, Content: "hello"}}
			return nil
		})
	}

	err := m.Do(a.ID, func(s *Session) error {
		if n := m.ResetUser("Alex"); n != 2 {
			t.Errorf("ResetUser() = %d, want 2", n)
		}
		s.State.Messages = append(s.State.Messages, Message{Role: RoleUser, Content: "late"})
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	for _, id := range []string{a.ID, other.ID} {
		got, _ := m.Get(id)
		if got.State.FirstResponseDone || len(got.State.Messages) != 0 {
			t.Fatalf("session %s not reset: %+v", id, got.State)
		}
		if got.State.UserName != "Alex" {
			t.Fatalf("UserName = %q, want Alex", got.State.UserName)
		}
	}
	got, _ := m.Get(sam.ID)
	if !got.State.FirstResponseDone {
		t.Fatalf("other user's session must not be reset")
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("u1")

	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired %q, want %q", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("session was not expired")
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerUnknownSession(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if err := m.Do("missing", func(*Session) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Do() error = %v, want ErrNotFound", err)
	}
}
