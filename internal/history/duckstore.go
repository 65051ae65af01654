package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/pneumoai/backend/internal/models"
)

// DuckStore keeps the archive in an embedded DuckDB file.
type DuckStore struct {
	db     *sql.DB
	dbPath string
}

// NewDuckStore opens (or creates) the database at dbPath.
// An empty path keeps the archive in memory.
func NewDuckStore(dbPath string) (*DuckStore, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS analyses (
			id         VARCHAR PRIMARY KEY,
			session_id VARCHAR NOT NULL,
			file_name  VARCHAR NOT NULL,
			format     VARCHAR,
			label      VARCHAR NOT NULL,
			diagnosis  VARCHAR NOT NULL,
			confidence INTEGER NOT NULL,
			insights   VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &DuckStore{db: db, dbPath: dbPath}, nil
}

// Record inserts one entry.
func (s *DuckStore) Record(ctx context.Context, e models.HistoryEntry) error {
	insights, err := json.Marshal(nonNil(e.Insights))
	if err != nil {
		return fmt.Errorf("encoding insights: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, session_id, file_name, format, label, diagnosis, confidence, insights, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.FileName, e.Format, e.Label, e.Diagnosis, e.Confidence, string(insights), e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (s *DuckStore) Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, file_name, format, label, diagnosis, confidence, insights, created_at
		FROM analyses
		ORDER BY created_at DESC, id
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var (
			e        models.HistoryEntry
			format   sql.NullString
			insights string
			created  time.Time
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.FileName, &format, &e.Label, &e.Diagnosis, &e.Confidence, &insights, &created); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Format = format.String
		e.CreatedAt = created.UTC()
		if err := json.Unmarshal([]byte(insights), &e.Insights); err != nil {
			return nil, fmt.Errorf("decoding insights: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary counts entries per label, most frequent first.
func (s *DuckStore) Summary(ctx context.Context) ([]models.LabelCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, COUNT(*) AS n, AVG(confidence) AS avg_conf
		FROM analyses
		GROUP BY label
		ORDER BY n DESC, label`)
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

// Close closes the database.
func (s *DuckStore) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Recorder = (*DuckStore)(nil)
