// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pneumoai/backend/internal/intake"
	"github.com/pneumoai/backend/internal/models"
	"github.com/pneumoai/backend/internal/session"
	"github.com/pneumoai/backend/internal/workflow"
)

// Error codes returned in APIError.Code.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeUnsupportedFormat  = "UNSUPPORTED_FORMAT"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeEmptyFile          = "EMPTY_FILE"
	CodeDICOMTagMissing    = "DICOM_TAG_MISSING"
	CodeDecodeError        = "DECODE_ERROR"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeAnalysisInProgress = "ANALYSIS_IN_PROGRESS"
	CodeNoCandidate        = "NO_CANDIDATE"
	CodeNoResult           = "NO_RESULT"
	CodeExportFailed       = "EXPORT_FAILED"
	CodeTooManySessions    = "TOO_MANY_SESSIONS"
	CodeInternal           = "INTERNAL_ERROR"
	CodeUnknown            = "UNKNOWN_ERROR"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeBadRequest,
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(code, message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(code, message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    code,
		Message: message,
	}
}

// mapDomainError translates errors from the intake, workflow and session
// packages. Messages are safe to show to the user; technical causes go to
// Details. Unknown errors map to nil.
func mapDomainError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var missing *intake.MissingTagError
	var decode *intake.DecodeError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "Session not found."}
	case errors.Is(err, intake.ErrUnsupportedFormat):
		return intakeError(http.StatusUnsupportedMediaType, CodeUnsupportedFormat, err)
	case errors.Is(err, intake.ErrFileTooLarge):
		return intakeError(http.StatusRequestEntityTooLarge, CodeFileTooLarge, err)
	case errors.Is(err, intake.ErrEmptyFile):
		return intakeError(http.StatusBadRequest, CodeEmptyFile, err)
	case errors.As(err, &missing):
		return intakeError(http.StatusUnprocessableEntity, CodeDICOMTagMissing, err)
	case errors.As(err, &decode):
		return intakeError(http.StatusUnprocessableEntity, CodeDecodeError, err)
	case errors.Is(err, session.ErrExportFailed):
		return &APIError{Status: http.StatusBadGateway, Code: CodeExportFailed, Message: models.MsgExportFailed}
	case errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, session.ErrWrongStep):
		return withDetails(NewConflictError(CodeInvalidTransition, "This step is not available right now."), err)
	case errors.Is(err, session.ErrAnalysisInProgress):
		return NewConflictError(CodeAnalysisInProgress, "An analysis is already running.")
	case errors.Is(err, session.ErrNoCandidate):
		return NewConflictError(CodeNoCandidate, "Select a valid image before starting the analysis.")
	case errors.Is(err, session.ErrNoResult):
		return NewConflictError(CodeNoResult, "No analysis result is available.")
	case errors.Is(err, session.ErrTooManySessions):
		return NewServiceUnavailableError(CodeTooManySessions, "Too many active sessions. Please try again later.")
	}
	return nil
}

func intakeError(status int, code string, err error) *APIError {
	return withDetails(&APIError{Status: status, Code: code, Message: intake.UserMessage(err)}, err)
}

func withDetails(e *APIError, cause error) *APIError {
	e.Details = cause.Error()
	return e
}

// NewErrorHandler returns an echo error handler. When showDetails is false,
// unexpected errors are reported without their cause.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(logger, false)
func NewErrorHandler(logger zerolog.Logger, showDetails bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr := mapDomainError(err)
		if apiErr == nil {
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				apiErr = &APIError{
					Status:  httpErr.Code,
					Code:    "HTTP_ERROR",
					Message: fmt.Sprintf("%v", httpErr.Message),
				}
			} else {
				apiErr = &APIError{
					Status:  http.StatusInternalServerError,
					Code:    CodeUnknown,
					Message: "An unexpected error occurred",
				}
				if showDetails {
					apiErr.Details = err.Error()
				}
			}
		}

		if apiErr.Status >= http.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Str("code", apiErr.Code).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(apiErr.Status)
			return
		}
		_ = c.JSON(apiErr.Status, apiErr)
	}
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
