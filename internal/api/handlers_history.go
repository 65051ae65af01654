// handlers_history.go - Analysis archive handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pneumoai/backend/internal/models"
)

// HistoryHandlerImpl implements the HistoryHandler interface
type HistoryHandlerImpl struct {
	history HistoryReader
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(history HistoryReader) HistoryHandler {
	return &HistoryHandlerImpl{history: history}
}

// HandleRecentAnalyses returns the most recent archived analyses
func (h *HistoryHandlerImpl) HandleRecentAnalyses(c echo.Context) error {
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	entries, err := h.history.Recent(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read history", err)
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleHistorySummary returns analysis counts per label
func (h *HistoryHandlerImpl) HandleHistorySummary(c echo.Context) error {
	counts, err := h.history.Summary(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to summarize history", err)
	}
	if counts == nil {
		counts = []models.LabelCount{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"labels": counts,
	})
}
