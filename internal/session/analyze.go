package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pneumoai/backend/internal/analysis"
	"github.com/pneumoai/backend/internal/history"
	"github.com/pneumoai/backend/internal/inference"
	"github.com/pneumoai/backend/internal/logging"
	"github.com/pneumoai/backend/internal/models"
	"github.com/pneumoai/backend/internal/progress"
	"github.com/pneumoai/backend/internal/storage"
)

// historyTimeout bounds archiving a finished analysis.
const historyTimeout = 5 * time.Second

// Analyze submits the accepted candidate. The request runs in the
// background; progress and the outcome are read through GetSession.
func (m *Manager) Analyze(id string) (*models.ScanSession, error) {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if state.analyzing() {
		m.mu.Unlock()
		return nil, ErrAnalysisInProgress
	}
	if state.machine.Step() != models.StepScan {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: analysis starts from the scan step", ErrWrongStep)
	}
	if !state.candidate.Accepted() {
		m.mu.Unlock()
		return nil, ErrNoCandidate
	}

	now := m.now()
	state.generation++
	gen := state.generation
	state.session.Status = models.AnalysisRunning
	state.session.Error = ""
	state.session.StartedAt = &now
	state.session.CompletedAt = nil
	state.session.LastAccessed = now

	if state.reporter != nil {
		state.reporter.Reset()
	}
	reporter := m.progress()
	state.reporter = reporter

	ctx, cancel := context.WithTimeout(state.ctx, m.analysisTimeout)
	state.analysisCancel = cancel
	cand := state.candidate.Clone()
	snap := m.snapshotLocked(state)
	m.mu.Unlock()

	reporter.Start(ctx)

	m.wg.Add(1)
	go m.runAnalysis(ctx, id, gen, cand)

	m.log.Info().
		Str("session", logging.ShortID(id)).
		Str("file", cand.FileName).
		Msg("analysis started")
	return snap, nil
}

func (m *Manager) runAnalysis(ctx context.Context, id string, gen int, cand *models.UploadCandidate) {
	defer m.wg.Done()
	// Recover from panics to prevent backend crash
	defer func() {
		if r := recover(); r != nil {
			m.failAnalysis(id, gen, fmt.Errorf("analysis panicked: %v", r))
		}
	}()

	start := time.Now()

	rc, info, err := m.store.Open(ctx, cand.FileID)
	if err != nil {
		m.failAnalysis(id, gen, fmt.Errorf("opening candidate: %w", err))
		return
	}
	defer rc.Close()

	reporter := m.reporterFor(id, gen)
	if reporter == nil {
		return
	}

	resp, err := m.predictor.Predict(ctx, inference.Upload{
		FileName:    cand.FileName,
		ContentType: cand.ContentType,
		Body:        reporter.Track(rc, info.Size),
		Size:        info.Size,
	})
	if err != nil {
		m.failAnalysis(id, gen, err)
		return
	}

	image := models.ImageRef{
		FileID:      displayFile(cand),
		FileName:    cand.FileName,
		ContentType: cand.ContentType,
		URL:         ResultImageURL(id),
	}
	if cand.PreviewFileID != "" {
		image.ContentType = "image/png"
	}
	result := analysis.Normalize(*resp, image, m.now())

	reporter.Finish(ctx)
	m.completeAnalysis(id, gen, cand, &result, time.Since(start))
}

// reporterFor returns the reporter of the analysis generation, or nil when
// the analysis was superseded or the session is gone.
func (m *Manager) reporterFor(id string, gen int) progress.Reporter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.sessions[id]
	if !ok || state.generation != gen {
		return nil
	}
	return state.reporter
}

func (m *Manager) completeAnalysis(id string, gen int, cand *models.UploadCandidate, result *models.AnalysisResult, elapsed time.Duration) {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok || state.generation != gen {
		m.mu.Unlock()
		return
	}
	if err := state.machine.Complete(result); err != nil {
		m.mu.Unlock()
		m.failAnalysis(id, gen, err)
		return
	}

	now := m.now()
	state.session.Status = models.AnalysisComplete
	state.session.CompletedAt = &now
	state.session.Error = ""
	state.analysisCancel()
	state.analysisCancel = nil
	// The image now belongs to the result; the candidate is gone.
	state.candidate = nil
	m.mu.Unlock()

	// A DICOM original is not needed once its preview became the result image.
	if cand.PreviewFileID != "" {
		m.releaseFiles([]string{cand.FileID})
	}

	m.log.Info().
		Str("session", logging.ShortID(id)).
		Str("label", result.Label).
		Int("confidence", result.Confidence).
		Dur("elapsed", elapsed).
		Msg("analysis complete")

	hctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := m.history.Record(hctx, history.NewEntry(id, cand.Format, result)); err != nil {
		m.log.Warn().Str("session", logging.ShortID(id)).Err(err).Msg("failed to archive analysis")
	}
}

// failAnalysis puts the session back to scan with the generic message. The
// candidate is kept so the user can retry.
func (m *Manager) failAnalysis(id string, gen int, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok || state.generation != gen {
		return
	}

	if state.reporter != nil {
		state.reporter.Reset()
	}
	if state.analysisCancel != nil {
		state.analysisCancel()
		state.analysisCancel = nil
	}
	state.session.Status = models.AnalysisError
	state.session.Error = models.MsgAnalysisFailed

	m.log.Error().Str("session", logging.ShortID(id)).Err(cause).Msg("analysis failed")
}

// Result returns the session's live result.
func (m *Manager) Result(id string) (*models.AnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	res := state.machine.Result()
	if res == nil {
		return nil, ErrNoResult
	}
	return res.Clone(), nil
}

// OpenResultImage streams the analyzed image.
func (m *Manager) OpenResultImage(ctx context.Context, id string) (io.ReadCloser, *models.FileInfo, error) {
	res, err := m.Result(id)
	if err != nil {
		return nil, nil, err
	}
	return m.store.Open(ctx, res.Image.FileID)
}

// Navigate moves the workflow to step. Returning to scan discards the
// result and releases its image.
func (m *Manager) Navigate(id string, step models.WorkflowStep) (*models.ScanSession, error) {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if state.analyzing() {
		m.mu.Unlock()
		return nil, ErrAnalysisInProgress
	}

	discarded, err := state.machine.Navigate(step)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	state.session.LastAccessed = m.now()
	if discarded != nil {
		state.session.Status = models.AnalysisIdle
		state.session.CompletedAt = nil
		if state.reporter != nil {
			state.reporter.Reset()
		}
	}
	snap := m.snapshotLocked(state)
	m.mu.Unlock()

	if discarded != nil {
		m.releaseFiles([]string{discarded.Image.FileID})
	}
	return snap, nil
}

// Export renders the live result through the export service. It is only
// available at the export step and never changes session state.
func (m *Manager) Export(ctx context.Context, id string, format models.ExportFormat) (*inference.ExportFile, error) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.RUnlock()
		return nil, ErrSessionNotFound
	}
	if state.machine.Step() != models.StepExport {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: open the export step first", ErrWrongStep)
	}
	res := state.machine.Result().Clone()
	m.mu.RUnlock()
	if res == nil {
		return nil, ErrNoResult
	}

	data, info, err := storage.ReadAll(ctx, m.store, res.Image.FileID)
	if err != nil {
		m.log.Error().Str("session", logging.ShortID(id)).Err(err).Msg("export: reading image")
		return nil, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}

	payload := models.ExportPayload{
		Diagnosis:   res.Diagnosis,
		Confidence:  res.Confidence,
		Insights:    res.Insights,
		ImageBase64: DataURL(contentTypeOf(info, res), data),
	}

	file, err := m.exporter.Export(ctx, format, payload)
	if err != nil {
		m.log.Error().
			Str("session", logging.ShortID(id)).
			Str("format", string(format)).
			Err(err).
			Msg("export failed")
		return nil, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}

	m.log.Info().
		Str("session", logging.ShortID(id)).
		Str("format", string(format)).
		Int("bytes", len(file.Data)).
		Msg("export complete")
	return file, nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func contentTypeOf(info *models.FileInfo, res *models.AnalysisResult) string {
	if info != nil && info.ContentType != "" {
		return info.ContentType
	}
	if res.Image.ContentType != "" {
		return res.Image.ContentType
	}
	return "application/octet-stream"
}
