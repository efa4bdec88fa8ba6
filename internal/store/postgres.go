package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelinehq/careline/internal/consult"
)

// PostgresStore persists consultation sessions in PostgreSQL. Turns are kept
// as a JSONB document alongside the session row: the turn log is append-only
// and always read whole, so there is nothing to gain from a separate table.
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
		`CREATE TABLE IF NOT EXISTS consultations (
			id TEXT PRIMARY KEY,
			specialty TEXT NOT NULL,
			status TEXT NOT NULL,
			turns JSONB NOT NULL DEFAULT '[]'::jsonb,
			started_at TIMESTAMPTZ NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_consultations_status ON consultations (status, last_activity_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess consult.Session) error {
	turns, err := json.Marshal(sess.Turns)
	if err != nil {
		return fmt.Errorf("encode turns: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO consultations (id, specialty, status, turns, started_at, last_activity_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			turns = EXCLUDED.turns,
			last_activity_at = EXCLUDED.last_activity_at`,
		sess.ID,
		sess.Specialty,
		string(sess.Status),
		turns,
		sess.StartedAt,
		sess.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (consult.Session, error) {
	var (
		sess   consult.Session
		status string
		turns  []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, specialty, status, turns, started_at, last_activity_at
		 FROM consultations WHERE id=$1`,
		id,
	).Scan(&sess.ID, &sess.Specialty, &status, &turns, &sess.StartedAt, &sess.LastActivityAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return consult.Session{}, consult.ErrNotFound
		}
		return consult.Session{}, fmt.Errorf("query session: %w", err)
	}

	sess.Status = consult.Status(status)
	if err := json.Unmarshal(turns, &sess.Turns); err != nil {
		return consult.Session{}, fmt.Errorf("decode turns: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
