package memory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists turns in an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// pending migrations. path may be ":memory:".
func NewSQLiteStore(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteStore, error) {
	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite serialises writers anyway, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if !inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Info().
			Int64("version", r.Source.Version).
			Str("path", r.Source.Path).
			Dur("took", r.Duration).
			Msg("applied migration")
	}
	return nil
}

func (s *SQLiteStore) InsertTurn(ctx context.Context, turn Turn) error {
	if err := turn.validate(); err != nil {
		return err
	}
	turn = normalize(turn)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (user_id, created_at, utterance, response, kind)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, created_at) DO NOTHING`,
		turn.UserID, turn.Timestamp(), turn.Utterance, turn.Response, string(turn.Kind),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	if n == 0 {
		return ErrDuplicateTurn
	}
	return nil
}

func (s *SQLiteStore) Turns(ctx context.Context, userID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, created_at, utterance, response, kind
		 FROM turns WHERE user_id = ? ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t    Turn
			ts   string
			kind string
		)
		if err := rows.Scan(&t.UserID, &ts, &t.Utterance, &t.Response, &kind); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if t.CreatedAt, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		t.Kind = TurnKind(kind)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) LastTurnAt(ctx context.Context, userID string) (time.Time, bool, error) {
	var ts sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM turns WHERE user_id = ?`, userID).Scan(&ts)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, fmt.Errorf("query last turn: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	t, err := parseTimestamp(ts.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete turns: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) Backend() string { return "sqlite" }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
