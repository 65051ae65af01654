// handlers_candidate.go - File selection and preview handlers
package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pneumoai/backend/internal/inference"
	"github.com/pneumoai/backend/internal/models"
)

// candidateResponse carries the candidate on success and, for a rejected
// file, the rejection next to the structured error.
type candidateResponse struct {
	Candidate *models.UploadCandidate `json:"candidate"`
	Error     *APIError               `json:"error,omitempty"`
}

// CandidateHandlerImpl implements the CandidateHandler interface
type CandidateHandlerImpl struct {
	sessionMgr     SessionManager
	maxUploadBytes int64
}

// NewCandidateHandler creates a new candidate handler. maxUploadBytes bounds
// how much of an upload is read before it is rejected as too large.
func NewCandidateHandler(sessionMgr SessionManager, maxUploadBytes int64) CandidateHandler {
	return &CandidateHandlerImpl{
		sessionMgr:     sessionMgr,
		maxUploadBytes: maxUploadBytes,
	}
}

// HandleUploadCandidate accepts a multipart file and validates it as the
// session's candidate
func (h *CandidateHandlerImpl) HandleUploadCandidate(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	file, err := c.FormFile(inference.UploadField)
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	// One byte past the limit is enough for intake to reject the file.
	var r io.Reader = src
	if h.maxUploadBytes > 0 {
		r = io.LimitReader(src, h.maxUploadBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return NewBadRequestError("failed to read uploaded file", err)
	}

	cand, err := h.sessionMgr.SetCandidate(c.Request().Context(), id, file.Filename, file.Header.Get(echo.HeaderContentType), data)
	if err != nil {
		apiErr := mapDomainError(err)
		if cand == nil || apiErr == nil {
			return err
		}
		return c.JSON(apiErr.Status, candidateResponse{Candidate: cand, Error: apiErr})
	}
	return c.JSON(http.StatusCreated, candidateResponse{Candidate: cand})
}

// HandleClearCandidate drops the current candidate
func (h *CandidateHandlerImpl) HandleClearCandidate(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	if err := h.sessionMgr.ClearCandidate(id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleGetPreview streams the candidate preview image
func (h *CandidateHandlerImpl) HandleGetPreview(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	rc, info, err := h.sessionMgr.OpenPreview(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return streamImage(c, rc, info)
}

// streamImage writes a stored image and closes it.
func streamImage(c echo.Context, rc io.ReadCloser, info *models.FileInfo) error {
	defer rc.Close()

	contentType := "application/octet-stream"
	if info != nil && info.ContentType != "" {
		contentType = info.ContentType
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	if info != nil && info.Size > 0 {
		c.Response().Header().Set(echo.HeaderContentLength, fmt.Sprint(info.Size))
	}
	return c.Stream(http.StatusOK, contentType, rc)
}
