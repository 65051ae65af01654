// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/pneumoai/backend/internal/inference"
	"github.com/pneumoai/backend/internal/models"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionHandler handles session lifecycle and workflow navigation
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandleNavigate(c echo.Context) error
}

// CandidateHandler handles file selection and preview
type CandidateHandler interface {
	HandleUploadCandidate(c echo.Context) error
	HandleClearCandidate(c echo.Context) error
	HandleGetPreview(c echo.Context) error
}

// AnalysisHandler handles submission, progress and results
type AnalysisHandler interface {
	HandleStartAnalysis(c echo.Context) error
	HandleProgressStream(c echo.Context) error
	HandleGetResult(c echo.Context) error
	HandleGetResultMsgpack(c echo.Context) error
	HandleGetResultImage(c echo.Context) error
	HandleExport(c echo.Context) error
}

// HistoryHandler handles the analysis archive
type HistoryHandler interface {
	HandleRecentAnalyses(c echo.Context) error
	HandleHistorySummary(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	CreateSession() (*models.ScanSession, error)
	GetSession(id string) (*models.ScanSession, error)
	TouchSession(id string) bool
	DeleteSession(id string) error
	SessionCount() int

	SetCandidate(ctx context.Context, id, fileName, contentType string, data []byte) (*models.UploadCandidate, error)
	ClearCandidate(id string) error
	OpenPreview(ctx context.Context, id string) (io.ReadCloser, *models.FileInfo, error)

	Analyze(id string) (*models.ScanSession, error)
	Result(id string) (*models.AnalysisResult, error)
	OpenResultImage(ctx context.Context, id string) (io.ReadCloser, *models.FileInfo, error)
	Navigate(id string, step models.WorkflowStep) (*models.ScanSession, error)
	Export(ctx context.Context, id string, format models.ExportFormat) (*inference.ExportFile, error)
}

// HistoryReader exposes the archived analyses
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	Summary(ctx context.Context) ([]models.LabelCount, error)
}
