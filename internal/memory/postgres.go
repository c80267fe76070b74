package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			utterance TEXT NOT NULL,
			response TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'generated',
			PRIMARY KEY (user_id, created_at)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) InsertTurn(ctx context.Context, turn Turn) error {
	if err := turn.validate(); err != nil {
		return err
	}
	turn = normalize(turn)

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO turns (user_id, created_at, utterance, response, kind)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, created_at) DO NOTHING`,
		turn.UserID,
		turn.CreatedAt,
		turn.Utterance,
		turn.Response,
		string(turn.Kind),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateTurn
	}
	return nil
}

func (s *PostgresStore) Turns(ctx context.Context, userID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, created_at, utterance, response, kind
		 FROM turns WHERE user_id=$1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var items []Turn
	for rows.Next() {
		var (
			t    Turn
			kind string
		)
		if err := rows.Scan(&t.UserID, &t.CreatedAt, &t.Utterance, &t.Response, &kind); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		t.Kind = TurnKind(kind)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) LastTurnAt(ctx context.Context, userID string) (time.Time, bool, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(created_at) FROM turns WHERE user_id=$1`, userID).Scan(&last)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, fmt.Errorf("query last turn: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return last.UTC(), true, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM turns WHERE user_id=$1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete turns: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
