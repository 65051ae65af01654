// handlers_analysis.go - Analysis submission, progress, result and export handlers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pneumoai/backend/internal/models"
)

// Progress stream cadence and lifetime.
const (
	progressInterval  = 100 * time.Millisecond
	progressStreamTTL = 5 * time.Minute
)

// progressEvent is pushed over SSE and WebSocket while a session is observed.
type progressEvent struct {
	SessionID string                 `json:"sessionId"`
	Step      models.WorkflowStep    `json:"step"`
	Status    models.AnalysisStatus  `json:"status"`
	Progress  float64                `json:"progress"`
	Error     string                 `json:"error,omitempty"`
	Result    *models.AnalysisResult `json:"result,omitempty"`
}

func newProgressEvent(sess *models.ScanSession) progressEvent {
	return progressEvent{
		SessionID: sess.ID,
		Step:      sess.Step,
		Status:    sess.Status,
		Progress:  sess.Progress,
		Error:     sess.Error,
		Result:    sess.Result,
	}
}

// settled reports whether no further progress updates will follow.
func (e progressEvent) settled() bool {
	return e.Status != models.AnalysisRunning
}

// AnalysisHandlerImpl implements the AnalysisHandler interface
type AnalysisHandlerImpl struct {
	sessionMgr SessionManager
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(sessionMgr SessionManager) AnalysisHandler {
	return &AnalysisHandlerImpl{sessionMgr: sessionMgr}
}

// HandleStartAnalysis submits the accepted candidate; progress is observed
// through the session, SSE or WebSocket endpoints
func (h *AnalysisHandlerImpl) HandleStartAnalysis(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	sess, err := h.sessionMgr.Analyze(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, sess)
}

// HandleProgressStream streams progress updates via Server-Sent Events
func (h *AnalysisHandlerImpl) HandleProgressStream(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	// Get initial session state
	sess, err := h.sessionMgr.GetSession(id)
	if err != nil {
		return err
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	// Send initial status
	event := newProgressEvent(sess)
	sendSSEData(c, event)
	if event.settled() {
		return nil
	}

	// Stream updates until complete or error
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(progressStreamTTL)
	defer timeout.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			sess, err := h.sessionMgr.GetSession(id)
			if err != nil {
				sendSSEError(c, "session not found")
				return nil
			}

			event := newProgressEvent(sess)
			sendSSEData(c, event)
			if event.settled() {
				return nil
			}

		case <-timeout.C:
			sendSSEError(c, "stream timeout")
			return nil
		}
	}
}

// HandleGetResult returns the live result as JSON
func (h *AnalysisHandlerImpl) HandleGetResult(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	res, err := h.sessionMgr.Result(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// HandleGetResultMsgpack returns the live result in MessagePack format
func (h *AnalysisHandlerImpl) HandleGetResultMsgpack(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	res, err := h.sessionMgr.Result(id)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(res)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleGetResultImage streams the image the result was computed on
func (h *AnalysisHandlerImpl) HandleGetResultImage(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	rc, info, err := h.sessionMgr.OpenResultImage(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return streamImage(c, rc, info)
}

// HandleExport renders the result through the export service and returns
// the document as a download
func (h *AnalysisHandlerImpl) HandleExport(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	format, ok := models.ParseExportFormat(c.Param("format"))
	if !ok {
		return NewValidationError("format")
	}

	file, err := h.sessionMgr.Export(c.Request().Context(), id, format)
	if err != nil {
		return err
	}

	name := file.FileName
	if name == "" {
		name = format.FileName()
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, contentType, file.Data)
}

func sendSSEData(c echo.Context, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func sendSSEError(c echo.Context, message string) {
	sendSSEData(c, map[string]string{"error": message})
}
