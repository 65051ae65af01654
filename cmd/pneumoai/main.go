// Command pneumoai runs one scan → results → export workflow from the
// terminal against the configured inference service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pneumoai/backend/internal/config"
	"github.com/pneumoai/backend/internal/history"
	"github.com/pneumoai/backend/internal/inference"
	"github.com/pneumoai/backend/internal/intake"
	"github.com/pneumoai/backend/internal/logging"
	"github.com/pneumoai/backend/internal/models"
	"github.com/pneumoai/backend/internal/progress"
	"github.com/pneumoai/backend/internal/session"
	"github.com/pneumoai/backend/internal/storage"
)

const pollInterval = 100 * time.Millisecond

type options struct {
	configPath string
	file       string
	baseURL    string
	export     string
	outDir     string
	archive    bool
	verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", config.DefaultPath, "path to the YAML configuration file")
	flag.StringVar(&opts.file, "file", "", "chest X-ray to analyze (JPEG, PNG or DICOM)")
	flag.StringVar(&opts.baseURL, "url", "", "inference service base URL (overrides the config file)")
	flag.StringVar(&opts.export, "export", "", "export the result as pdf, docx or html")
	flag.StringVar(&opts.outDir, "out", ".", "directory for the exported report")
	flag.BoolVar(&opts.archive, "archive", false, "record the result in the configured history store")
	flag.BoolVar(&opts.verbose, "v", false, "log to stderr")
	flag.Parse()

	if opts.file == "" && flag.NArg() > 0 {
		opts.file = flag.Arg(0)
	}
	if opts.file == "" {
		fmt.Fprintln(os.Stderr, "usage: pneumoai [flags] <image>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	cfg, err := config.ReadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.baseURL != "" {
		cfg.Inference.BaseURL = opts.baseURL
	}

	logger := zerolog.Nop()
	if opts.verbose {
		logger = logging.NewWithWriter(stderr, cfg.Logging.Level, "console")
	}

	var format models.ExportFormat
	if opts.export != "" {
		f, ok := models.ParseExportFormat(opts.export)
		if !ok {
			return fmt.Errorf("unknown export format %q", opts.export)
		}
		format = f
	}

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "pneumoai-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	store, err := storage.NewLocalStore(workDir)
	if err != nil {
		return err
	}

	var recorder history.Recorder = history.Nop{}
	if opts.archive {
		recorder, err = history.Open(ctx, history.Config{
			Driver:      cfg.History.Driver,
			DuckDBPath:  cfg.History.DuckDBPath,
			PostgresURL: cfg.History.PostgresURL,
		}, logger)
		if err != nil {
			return err
		}
		defer recorder.Close()
	}

	client, err := inference.NewClient(inference.Config{
		BaseURL: cfg.Inference.BaseURL,
		Timeout: cfg.InferenceTimeout(),
	}, logger)
	if err != nil {
		return err
	}

	reporters, err := progress.NewFactory(progress.Mode(cfg.Progress.Mode), progress.SimulatedConfig{
		Expected:       time.Duration(cfg.Progress.ExpectedMillis) * time.Millisecond,
		Tick:           time.Duration(cfg.Progress.TickMillis) * time.Millisecond,
		Cap:            cfg.Progress.Cap,
		FinishStep:     cfg.Progress.FinishStep,
		FinishInterval: time.Duration(cfg.Progress.FinishIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	mgr := session.NewManager(session.Options{
		Store:           store,
		Inspector:       intake.NewInspector(nil, intake.Options{MaxSize: cfg.MaxUploadBytes()}),
		Predictor:       client,
		Exporter:        client,
		History:         recorder,
		Progress:        reporters,
		MaxSessions:     1,
		AnalysisTimeout: cfg.AnalysisTimeout(),
		Logger:          logger,
	})
	defer mgr.Close()

	return scan(ctx, mgr, opts, format, data, stdout, stderr)
}

// scan drives one session through the workflow.
func scan(ctx context.Context, mgr *session.Manager, opts options, format models.ExportFormat, data []byte, stdout, stderr io.Writer) error {
	sess, err := mgr.CreateSession()
	if err != nil {
		return err
	}

	name := filepath.Base(opts.file)
	cand, err := mgr.SetCandidate(ctx, sess.ID, name, mime.TypeByExtension(filepath.Ext(name)), data)
	if err != nil {
		if cand != nil && cand.Message != "" {
			return errors.New(cand.Message)
		}
		return err
	}
	fmt.Fprintf(stdout, "%s: %s %dx%d\n", cand.FileName, strings.ToUpper(string(cand.Format)), cand.Width, cand.Height)
	for _, w := range cand.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}

	if _, err := mgr.Analyze(sess.ID); err != nil {
		return err
	}
	sess, err = waitForAnalysis(ctx, mgr, sess.ID, stderr)
	if err != nil {
		return err
	}
	if sess.Status == models.AnalysisError {
		return errors.New(sess.Error)
	}

	printResult(stdout, sess.Result)

	if format == "" {
		return nil
	}
	if _, err := mgr.Navigate(sess.ID, models.StepExport); err != nil {
		return err
	}
	file, err := mgr.Export(ctx, sess.ID, format)
	if err != nil {
		return err
	}
	path := filepath.Join(opts.outDir, format.FileName())
	if err := os.WriteFile(path, file.Data, 0644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Report saved to %s\n", path)
	return nil
}

// waitForAnalysis renders the progress bar until the analysis settles.
func waitForAnalysis(ctx context.Context, mgr *session.Manager, id string, w io.Writer) (*models.ScanSession, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		sess, err := mgr.GetSession(id)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "\r%s", progressBar(sess.Progress, 30))
		if sess.Status != models.AnalysisRunning {
			fmt.Fprintln(w)
			return sess, nil
		}

		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// progressBar renders value (0-100) as a fixed-width bar.
func progressBar(value float64, width int) string {
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	filled := int(value / 100 * float64(width))
	return fmt.Sprintf("Analyzing [%s%s] %3.0f%%", strings.Repeat("#", filled), strings.Repeat(".", width-filled), value)
}

func printResult(w io.Writer, res *models.AnalysisResult) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "\n%s\n", res.Diagnosis)
	fmt.Fprintf(w, "Confidence: %d%%\n", res.Confidence)
	if len(res.Insights) > 0 {
		fmt.Fprintln(w, "Insights:")
		for _, in := range res.Insights {
			fmt.Fprintf(w, "  - %s\n", in)
		}
	}
}
