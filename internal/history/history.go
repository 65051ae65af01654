// Package history archives completed analyses.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pneumoai/backend/internal/models"
)

// Drivers accepted by Open.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// DefaultRecentLimit caps Recent when no limit is given.
const DefaultRecentLimit = 50

// Recorder stores and summarizes completed analyses.
type Recorder interface {
	Record(ctx context.Context, entry models.HistoryEntry) error
	Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	Summary(ctx context.Context) ([]models.LabelCount, error)
	Close() error
}

// Config selects and locates the history backend.
type Config struct {
	Driver      string
	DuckDBPath  string
	PostgresURL string
}

// Open returns the Recorder for cfg.Driver.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (Recorder, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverDuckDB, "":
		logger.Info().Str("path", cfg.DuckDBPath).Msg("history: using duckdb")
		return NewDuckStore(cfg.DuckDBPath)
	case DriverPostgres:
		logger.Info().Msg("history: using postgres")
		return NewPostgresStore(ctx, cfg.PostgresURL)
	case DriverNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// NewEntry builds an archive entry for a result.
func NewEntry(sessionID string, format models.ImageFormat, result *models.AnalysisResult) models.HistoryEntry {
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return models.HistoryEntry{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		FileName:   result.Image.FileName,
		Format:     string(format),
		Label:      result.Label,
		Diagnosis:  result.Diagnosis,
		Confidence: result.Confidence,
		Insights:   append([]string{}, result.Insights...),
		CreatedAt:  createdAt.UTC(),
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultRecentLimit
	}
	return limit
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, models.HistoryEntry) error { return nil }

func (Nop) Recent(context.Context, int) ([]models.HistoryEntry, error) {
	return []models.HistoryEntry{}, nil
}

func (Nop) Summary(context.Context) ([]models.LabelCount, error) {
	return []models.LabelCount{}, nil
}

func (Nop) Close() error { return nil }
