// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Sessions       SessionManager
	History        HistoryReader
	MaxUploadBytes int64
	InferenceURL   string
	Version        string
	Logger         zerolog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Session   SessionHandler
	Candidate CandidateHandler
	Analysis  AnalysisHandler
	History   HistoryHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.InferenceURL, deps.Sessions),
		Session:   NewSessionHandler(deps.Sessions),
		Candidate: NewCandidateHandler(deps.Sessions, deps.MaxUploadBytes),
		Analysis:  NewAnalysisHandler(deps.Sessions),
		History:   NewHistoryHandler(deps.History),
		WebSocket: NewWebSocketHandler(deps.Sessions, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Session lifecycle
	sessions := apiGroup.Group("/sessions")
	sessions.POST("", handlers.Session.HandleCreateSession)
	sessions.GET("/:id", handlers.Session.HandleGetSession)
	sessions.DELETE("/:id", handlers.Session.HandleDeleteSession)
	sessions.POST("/:id/keepalive", handlers.Session.HandleSessionKeepAlive)
	sessions.POST("/:id/step", handlers.Session.HandleNavigate)

	// File selection
	sessions.POST("/:id/candidate", handlers.Candidate.HandleUploadCandidate)
	sessions.DELETE("/:id/candidate", handlers.Candidate.HandleClearCandidate)
	sessions.GET("/:id/preview", handlers.Candidate.HandleGetPreview)

	// Analysis and results
	sessions.POST("/:id/analyze", handlers.Analysis.HandleStartAnalysis)
	sessions.GET("/:id/progress", handlers.Analysis.HandleProgressStream)
	sessions.GET("/:id/result", handlers.Analysis.HandleGetResult)
	sessions.GET("/:id/result/msgpack", handlers.Analysis.HandleGetResultMsgpack)
	sessions.GET("/:id/result/image", handlers.Analysis.HandleGetResultImage)
	sessions.POST("/:id/export/:format", handlers.Analysis.HandleExport)

	// History
	apiGroup.GET("/history", handlers.History.HandleRecentAnalyses)
	apiGroup.GET("/history/summary", handlers.History.HandleHistorySummary)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/ws/sessions/:id", handlers.WebSocket.HandleWebSocket)
}

// MiddlewareConfig selects the optional middleware.
type MiddlewareConfig struct {
	EnableCORS     bool
	AllowOrigins   []string
	BodyLimit      string
	RequestTimeout time.Duration
	RequestLogging bool
	ShowDetails    bool
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig, logger zerolog.Logger) {
	// Use custom error handler
	e.HTTPErrorHandler = NewErrorHandler(logger, cfg.ShowDetails)

	if cfg.RequestLogging {
		e.Use(requestLogger(logger))
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error().Err(err).Bytes("stack", stack).Str("path", c.Path()).Msg("panic recovered")
			return err
		},
	}))

	if cfg.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout:      cfg.RequestTimeout,
			Skipper:      isStreaming,
			ErrorMessage: "Request timeout",
		}))
	}

	// Compression middleware
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			// Images are already compressed; streams must not be buffered
			return isStreaming(c) || strings.HasSuffix(c.Request().URL.Path, "/preview") ||
				strings.HasSuffix(c.Request().URL.Path, "/image")
		},
	}))

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  origins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
			ExposeHeaders: []string{echo.HeaderContentDisposition},
		}))
	}
}

// requestLogger feeds echo's request logger into zerolog. Progress polling
// and health checks are skipped.
func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	log := logger.With().Str("component", "http").Logger()
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/progress") || path == "/api/health"
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}

func isStreaming(c echo.Context) bool {
	path := c.Request().URL.Path
	return strings.HasSuffix(path, "/progress") ||
		strings.HasPrefix(path, "/api/ws/") ||
		c.Request().Header.Get("Accept") == "text/event-stream"
}
