package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pneumoai/backend/internal/api"
	"github.com/pneumoai/backend/internal/config"
	"github.com/pneumoai/backend/internal/history"
	"github.com/pneumoai/backend/internal/inference"
	"github.com/pneumoai/backend/internal/intake"
	"github.com/pneumoai/backend/internal/logging"
	"github.com/pneumoai/backend/internal/progress"
	"github.com/pneumoai/backend/internal/session"
	"github.com/pneumoai/backend/internal/storage"
	"github.com/pneumoai/backend/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", envOr("PNEUMOAI_CONFIG", config.DefaultPath), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.AppConfig, configPath string, logger zerolog.Logger) error {
	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	recorder, err := history.Open(ctx, history.Config{
		Driver:      cfg.History.Driver,
		DuckDBPath:  cfg.History.DuckDBPath,
		PostgresURL: cfg.History.PostgresURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing history: %w", err)
	}
	defer recorder.Close()

	client, err := inference.NewClient(inference.Config{
		BaseURL: cfg.Inference.BaseURL,
		Timeout: cfg.InferenceTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing inference client: %w", err)
	}

	reporters, err := progress.NewFactory(progress.Mode(cfg.Progress.Mode), simulatedConfig(cfg))
	if err != nil {
		return err
	}

	// Initialize session manager
	sessionMgr := session.NewManager(session.Options{
		Store:           store,
		Inspector:       intake.NewInspector(nil, intake.Options{MaxSize: cfg.MaxUploadBytes()}),
		Predictor:       client,
		Exporter:        client,
		History:         recorder,
		Progress:        reporters,
		MaxSessions:     cfg.Session.MaxSessions,
		AnalysisTimeout: cfg.AnalysisTimeout(),
		Logger:          logger,
	})
	defer sessionMgr.Close()

	// Start background session cleanup
	go cleanupLoop(ctx, sessionMgr, cfg.CleanupInterval(), cfg.SessionTimeout(), logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareConfig{
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   splitOrigins(cfg.Server.AllowOrigins),
		BodyLimit:      cfg.Server.BodyLimit,
		RequestTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		RequestLogging: cfg.Logging.EnableRequestLogs,
		ShowDetails:    strings.EqualFold(cfg.Logging.Level, "debug"),
	}, logger)

	handlers := api.NewHandlers(&api.Dependencies{
		Sessions:       sessionMgr,
		History:        recorder,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		InferenceURL:   client.BaseURL(),
		Version:        Version,
		Logger:         logger,
	})
	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)

	// Register embedded frontend if available
	embeddedMode := web.HasEmbeddedFiles()
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warn().Err(err).Msg("failed to register static routes")
			embeddedMode = false
		}
	}

	// Configure server with settings from the config file
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      e,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, configPath, client.BaseURL(), embeddedMode)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.Addr).Msg("listening")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// openStore selects the image store configured by storage.backend.
func openStore(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (storage.Store, error) {
	if strings.EqualFold(cfg.Storage.Backend, "minio") {
		m := cfg.Storage.Minio
		logger.Info().Str("endpoint", m.Endpoint).Str("bucket", m.Bucket).Msg("storage: using minio")
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  m.Endpoint,
			Region:    m.Region,
			Bucket:    m.Bucket,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
			Prefix:    m.Prefix,
		})
	}
	logger.Info().Str("dir", cfg.Storage.UploadsDirectory).Msg("storage: using local filesystem")
	return storage.NewLocalStore(cfg.Storage.UploadsDirectory)
}

func simulatedConfig(cfg *config.AppConfig) progress.SimulatedConfig {
	p := cfg.Progress
	return progress.SimulatedConfig{
		Expected:       time.Duration(p.ExpectedMillis) * time.Millisecond,
		Tick:           time.Duration(p.TickMillis) * time.Millisecond,
		Cap:            p.Cap,
		FinishStep:     p.FinishStep,
		FinishInterval: time.Duration(p.FinishIntervalMs) * time.Millisecond,
	}
}

func cleanupLoop(ctx context.Context, mgr *session.Manager, interval, maxAge time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mgr.CleanupOldSessions(maxAge); n > 0 {
				logger.Info().Int("removed", n).Int("active", mgr.SessionCount()).Msg("expired sessions cleaned up")
			}
		}
	}
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printBanner(cfg *config.AppConfig, configPath, inferenceURL string, embedded bool) {
	mode := "API only"
	if embedded {
		mode = "Embedded frontend"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           PneumoAI Gateway                                ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Inference: %-46s║\n", inferenceURL)
	fmt.Printf("║  Storage:   %-46s║\n", cfg.Storage.Backend)
	fmt.Printf("║  History:   %-46s║\n", cfg.History.Driver)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
