// handlers_session.go - Session lifecycle and workflow step handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pneumoai/backend/internal/models"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessionMgr SessionManager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionMgr SessionManager) SessionHandler {
	return &SessionHandlerImpl{sessionMgr: sessionMgr}
}

// HandleCreateSession starts a new workflow at the scan step
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	sess, err := h.sessionMgr.CreateSession()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sess)
}

// HandleGetSession returns the session snapshot including live progress
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	sess, err := h.sessionMgr.GetSession(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleDeleteSession discards a session and its files
func (h *SessionHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	if err := h.sessionMgr.DeleteSession(id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSessionKeepAlive extends the session lifetime
func (h *SessionHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	if !h.sessionMgr.TouchSession(id) {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type navigateRequest struct {
	Step string `json:"step"`
}

// HandleNavigate moves the workflow to the requested step
func (h *SessionHandlerImpl) HandleNavigate(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	var req navigateRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	step, ok := models.ParseWorkflowStep(req.Step)
	if !ok {
		return NewValidationError("step")
	}

	sess, err := h.sessionMgr.Navigate(id, step)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func sessionID(c echo.Context) (string, error) {
	id := c.Param("id")
	if id == "" {
		return "", NewValidationError("id")
	}
	return id, nil
}
