package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pneumoai/backend/internal/models"
)

// sqlRunner is the part of *pgxpool.Pool the store uses.
type sqlRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS analyses (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	file_name  TEXT NOT NULL,
	format     TEXT,
	label      TEXT NOT NULL,
	diagnosis  TEXT NOT NULL,
	confidence INTEGER NOT NULL,
	insights   TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps the archive in PostgreSQL.
type PostgresStore struct {
	db    sqlRunner
	close func()
}

// NewPostgresStore connects to dbURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("postgres history requires a database URL")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s, err := newPostgresStore(ctx, pool, pool.Close)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(ctx context.Context, db sqlRunner, closeFn func()) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("creating analyses table: %w", err)
	}
	return &PostgresStore{db: db, close: closeFn}, nil
}

// Record inserts one entry.
func (s *PostgresStore) Record(ctx context.Context, e models.HistoryEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO analyses (id, session_id, file_name, format, label, diagnosis, confidence, insights, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.SessionID, e.FileName, e.Format, e.Label, e.Diagnosis, e.Confidence, nonNil(e.Insights), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, file_name, COALESCE(format, ''), label, diagnosis, confidence, insights, created_at
		FROM analyses
		ORDER BY created_at DESC, id
		LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.FileName, &e.Format, &e.Label, &e.Diagnosis, &e.Confidence, &e.Insights, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Insights = nonNil(e.Insights)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary counts entries per label, most frequent first.
func (s *PostgresStore) Summary(ctx context.Context) ([]models.LabelCount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT label, COUNT(*), AVG(confidence)::float8
		FROM analyses
		GROUP BY label
		ORDER BY COUNT(*) DESC, label`)
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}
	defer rows.Close()

	out := []models.LabelCount{}
	for rows.Next() {
		var (
			lc models.LabelCount
			n  int64
		)
		if err := rows.Scan(&lc.Label, &n, &lc.AvgConfidence); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		lc.Count = int(n)
		out = append(out, lc)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

var _ Recorder = (*PostgresStore)(nil)
