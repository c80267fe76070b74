package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lifelensai/lifelens/internal/observability"
	"github.com/lifelensai/lifelens/internal/policy"
	"github.com/lifelensai/lifelens/internal/reliability"
)

// Writer persists completed exchanges. The structured store is written first and
// is the source of truth; the transcript log and the conversation index are
// projections that Repair can rebuild from it.
type Writer struct {
	store   Store
	log     *TranscriptLog
	index   Index
	metrics *observability.Metrics
	logger  zerolog.Logger

	locks *userLocks
	retry reliability.Policy

	mu        sync.Mutex
	dirty     map[string]struct{}
	listeners []func(userID string)
}

func NewWriter(store Store, log *TranscriptLog, index Index, metrics *observability.Metrics, logger zerolog.Logger) *Writer {
	return &Writer{
		store:   store,
		log:     log,
		index:   index,
		metrics: metrics,
		logger:  observability.Component(logger, "memory_writer"),
		locks:   newUserLocks(),
		retry: reliability.Policy{
			MaxAttempts: 4,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
		dirty: make(map[string]struct{}),
	}
}

// SetRetryPolicy replaces the policy used by Erase steps.
func (w *Writer) SetRetryPolicy(p reliability.Policy) {
	w.retry = p
}

// OnChange registers fn to run after a user's turns change (append or erase).
func (w *Writer) OnChange(fn func(userID string)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Store exposes the structured store for readers.
func (w *Writer) Store() Store { return w.store }

// Log exposes the transcript log for readers.
func (w *Writer) Log() *TranscriptLog { return w.log }

// NeedsRepair reports whether a projection write failed for userID and has not been repaired yet.
func (w *Writer) NeedsRepair(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.dirty[userID]
	return ok
}

// Persist writes turn to the store, the transcript log and the conversation index.
func (w *Writer) Persist(ctx context.Context, turn Turn) error {
	if err := turn.validate(); err != nil {
		return err
	}
	unlock := w.locks.lock(turn.UserID)
	defer unlock()
	return w.persistLocked(ctx, normalize(turn))
}

// Commit allocates the next timestamp for the user and persists the exchange.
// Timestamps are max(now, last+1s) so two turns in one second never collide.
func (w *Writer) Commit(ctx context.Context, userID, utterance, response string, kind TurnKind, now time.Time) (Turn, error) {
	if strings.TrimSpace(userID) == "" {
		return Turn{}, errors.New("turn user id is empty")
	}
	unlock := w.locks.lock(userID)
	defer unlock()

	ts := now.UTC().Truncate(time.Second)
	last, ok, err := w.store.LastTurnAt(ctx, userID)
	if err != nil {
		w.metrics.CountPersistFailure(StoreTurns)
		return Turn{}, &PersistError{UserID: userID, Failed: []string{StoreTurns}, Err: err}
	}
	if ok && !ts.After(last) {
		ts = last.Add(time.Second)
	}

	turn := normalize(Turn{
		UserID:    userID,
		Utterance: utterance,
		Response:  response,
		Kind:      kind,
		CreatedAt: ts,
	})
	return turn, w.persistLocked(ctx, turn)
}

func (w *Writer) persistLocked(ctx context.Context, turn Turn) error {
	if w.NeedsRepair(turn.UserID) {
		if err := w.repairLocked(ctx, turn.UserID); err != nil {
			w.logger.Warn().Err(err).Str("user", turn.UserID).Msg("repair before persist failed")
		}
	}

	if err := w.store.InsertTurn(ctx, turn); err != nil {
		if errors.Is(err, ErrDuplicateTurn) {
			return fmt.Errorf("persist turn %s: %w", turn.ID(), err)
		}
		w.metrics.CountPersistFailure(StoreTurns)
		w.logger.Error().Err(err).Str("turn_id", turn.ID()).Msg("store insert failed")
		return &PersistError{UserID: turn.UserID, TurnID: turn.ID(), Failed: []string{StoreTurns}, Err: err}
	}
	defer w.notify(turn.UserID)

	var (
		failed []string
		errs   []error
	)
	if err := w.log.Append(turn); err != nil {
		failed = append(failed, StoreLog)
		errs = append(errs, err)
	}
	if err := w.index.AddUtterance(ctx, turn.ID(), turn.UserID, turn.Utterance); err != nil {
		failed = append(failed, StoreIndex)
		errs = append(errs, fmt.Errorf("index utterance: %w", err))
	}
	if len(failed) == 0 {
		w.logger.Debug().
			Str("turn_id", turn.ID()).
			Str("kind", string(turn.Kind)).
			Str("utterance", policy.LogSafe(turn.Utterance, 80)).
			Msg("turn persisted")
		return nil
	}

	w.markDirty(turn.UserID)
	for _, store := range failed {
		w.metrics.CountPersistFailure(store)
	}
	perr := &PersistError{UserID: turn.UserID, TurnID: turn.ID(), Failed: failed, Err: errors.Join(errs...)}
	w.logger.Error().Err(perr).Str("turn_id", turn.ID()).Strs("failed", failed).Msg("projection write failed; marked for repair")
	return perr
}

// Repair rebuilds the user's transcript log from the store and re-adds any
// conversation index entries that are missing.
func (w *Writer) Repair(ctx context.Context, userID string) error {
	unlock := w.locks.lock(userID)
	defer unlock()
	return w.repairLocked(ctx, userID)
}

func (w *Writer) repairLocked(ctx context.Context, userID string) error {
	turns, err := w.store.Turns(ctx, userID)
	if err != nil {
		return fmt.Errorf("read turns: %w", err)
	}

	var errs []error
	if len(turns) == 0 {
		if err := w.log.Remove(userID); err != nil {
			errs = append(errs, err)
		}
	} else if err := w.log.Rewrite(userID, turns); err != nil {
		errs = append(errs, err)
	}

	added := 0
	for _, t := range turns {
		ok, err := w.index.HasUtterance(ctx, t.ID())
		if err != nil {
			errs = append(errs, fmt.Errorf("check index entry %s: %w", t.ID(), err))
			continue
		}
		if ok {
			continue
		}
		if err := w.index.AddUtterance(ctx, t.ID(), t.UserID, t.Utterance); err != nil {
			errs = append(errs, fmt.Errorf("re-index %s: %w", t.ID(), err))
			continue
		}
		added++
	}
	if err := errors.Join(errs...); err != nil {
		w.markDirty(userID)
		return fmt.Errorf("repair user %q: %w", userID, err)
	}

	w.mu.Lock()
	delete(w.dirty, userID)
	w.mu.Unlock()
	w.logger.Info().Str("user", userID).Int("turns", len(turns)).Int("reindexed", added).Msg("projections repaired")
	return nil
}

// Erase removes every trace of userID: index entries, then the log directory,
// then the store rows. Each step is idempotent and retried; the first step
// that keeps failing stops the erase and is reported with the steps after it.
func (w *Writer) Erase(ctx context.Context, userID string) error {
	unlock := w.locks.lock(userID)
	defer unlock()

	steps := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{StoreIndex, func(ctx context.Context) error { return w.index.DeleteUser(ctx, userID) }},
		{StoreLog, func(context.Context) error { return w.log.Remove(userID) }},
		{StoreTurns, func(ctx context.Context) error {
			_, err := w.store.DeleteUser(ctx, userID)
			return err
		}},
	}

	for i, step := range steps {
		if err := reliability.Do(ctx, w.retry, step.run); err != nil {
			incomplete := make([]string, 0, len(steps)-i)
			for _, rest := range steps[i:] {
				incomplete = append(incomplete, rest.name)
			}
			w.metrics.CountErasure("incomplete")
			w.logger.Error().Err(err).Str("user", userID).Strs("incomplete", incomplete).Msg("memory erase incomplete")
			return &EraseError{UserID: userID, Incomplete: incomplete, Err: err}
		}
	}

	w.mu.Lock()
	delete(w.dirty, userID)
	w.mu.Unlock()
	w.notify(userID)
	w.metrics.CountErasure("ok")
	w.logger.Info().Str("user", userID).Msg("memory erased")
	return nil
}

func (w *Writer) markDirty(userID string) {
	w.mu.Lock()
	w.dirty[userID] = struct{}{}
	w.mu.Unlock()
}

func (w *Writer) notify(userID string) {
	w.mu.Lock()
	listeners := append([]func(string){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(userID)
	}
}
