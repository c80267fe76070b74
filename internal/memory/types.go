package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the second-resolution layout used for turn timestamps,
// log lines and turn identifiers.
const TimestampLayout = "2006-01-02 15:04:05"

// TurnKind records which path produced the response.
type TurnKind string

const (
	KindGenerated TurnKind = "generated"
	KindFallback  TurnKind = "fallback"
	KindCrisis    TurnKind = "crisis"
	KindFarewell  TurnKind = "farewell"
)

// Names of the three surfaces a turn is written to.
const (
	StoreTurns = "turns"
	StoreLog   = "log"
	StoreIndex = "index"
)

// ErrDuplicateTurn is returned when a turn with the same user and timestamp already exists.
var ErrDuplicateTurn = errors.New("duplicate turn")

// Turn is one user utterance and the agent's response.
type Turn struct {
	UserID    string    `json:"user_id"`
	Utterance string    `json:"utterance"`
	Response  string    `json:"response"`
	Kind      TurnKind  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Timestamp formats CreatedAt with TimestampLayout.
func (t Turn) Timestamp() string {
	return t.CreatedAt.UTC().Format(TimestampLayout)
}

// ID is the user id joined with the timestamp. It keys both the turn row and the index entry.
func (t Turn) ID() string {
	return t.UserID + "_" + t.Timestamp()
}

func (t Turn) validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return errors.New("turn user id is empty")
	}
	if t.CreatedAt.IsZero() {
		return errors.New("turn timestamp is zero")
	}
	return nil
}

func normalize(t Turn) Turn {
	t.CreatedAt = t.CreatedAt.UTC().Truncate(time.Second)
	if t.Kind == "" {
		t.Kind = KindGenerated
	}
	return t
}

// Store persists structured turns. It is the source of truth for a user's history.
type Store interface {
	InsertTurn(ctx context.Context, turn Turn) error
	// Turns returns every turn for the user ordered by timestamp ascending.
	Turns(ctx context.Context, userID string) ([]Turn, error)
	LastTurnAt(ctx context.Context, userID string) (time.Time, bool, error)
	DeleteUser(ctx context.Context, userID string) (int64, error)
	Backend() string
	Close() error
}

// Index is the conversation side of the semantic index as seen by the writer.
type Index interface {
	AddUtterance(ctx context.Context, id, userID, text string) error
	HasUtterance(ctx context.Context, id string) (bool, error)
	DeleteUser(ctx context.Context, userID string) error
}

// PersistError reports which surfaces did not receive a turn.
type PersistError struct {
	UserID string
	TurnID string
	Failed []string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist turn %s: %s failed: %v", e.TurnID, strings.Join(e.Failed, ", "), e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// EraseError reports the surfaces that still hold data after an erase.
type EraseError struct {
	UserID     string
	Incomplete []string
	Err        error
}

func (e *EraseError) Error() string {
	return fmt.Sprintf("erase user %q: incomplete %s: %v", e.UserID, strings.Join(e.Incomplete, ", "), e.Err)
}

func (e *EraseError) Unwrap() error { return e.Err }

func parseTimestamp(v string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse turn timestamp %q: %w", v, err)
	}
	return t, nil
}
