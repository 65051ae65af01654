package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pneumoai/backend/internal/history"
	"github.com/pneumoai/backend/internal/inference"
	"github.com/pneumoai/backend/internal/intake"
	"github.com/pneumoai/backend/internal/logging"
	"github.com/pneumoai/backend/internal/models"
	"github.com/pneumoai/backend/internal/progress"
	"github.com/pneumoai/backend/internal/storage"
	"github.com/pneumoai/backend/internal/workflow"
)

// DefaultMaxSessions limits concurrent sessions to bound memory and storage.
const DefaultMaxSessions = 100

// SessionMaxAge is how long an idle session is kept before cleanup.
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long to keep sessions that are actively being used
const SessionKeepAliveWindow = 5 * time.Minute

// DefaultAnalysisTimeout bounds one predict request.
const DefaultAnalysisTimeout = 2 * time.Minute

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrTooManySessions    = errors.New("too many active sessions")
	ErrAnalysisInProgress = errors.New("analysis in progress")
	ErrNoCandidate        = errors.New("no accepted file selected")
	ErrNoResult           = errors.New("no analysis result")
	ErrWrongStep          = errors.New("operation not available at the current step")
	ErrExportFailed       = errors.New(models.MsgExportFailed)
)

// Predictor submits an image for analysis.
type Predictor interface {
	Predict(ctx context.Context, up inference.Upload) (*models.PredictResponse, error)
}

// Exporter renders a report for a result.
type Exporter interface {
	Export(ctx context.Context, format models.ExportFormat, payload models.ExportPayload) (*inference.ExportFile, error)
}

// Options wires a Manager.
type Options struct {
	Store     storage.Store
	Inspector *intake.Inspector
	Predictor Predictor
	Exporter  Exporter
	History   history.Recorder
	Progress  progress.Factory

	MaxSessions     int
	AnalysisTimeout time.Duration

	Logger zerolog.Logger
	Now    func() time.Time
}

// Manager owns the workflow state of every session: the current candidate,
// the step machine with its single live result, and the progress reporter.
type Manager struct {
	sessions map[string]*sessionState
	mu       sync.RWMutex

	store     storage.Store
	inspector *intake.Inspector
	predictor Predictor
	exporter  Exporter
	history   history.Recorder
	progress  progress.Factory

	maxSessions     int
	analysisTimeout time.Duration

	log zerolog.Logger
	now func() time.Time
	wg  sync.WaitGroup
}

type sessionState struct {
	session   *models.ScanSession
	candidate *models.UploadCandidate
	machine   *workflow.Machine
	reporter  progress.Reporter

	ctx    context.Context // cancelled when the session goes away
	cancel context.CancelFunc

	analysisCancel context.CancelFunc
	generation     int // increments per analysis; stale completions are dropped
}

func (s *sessionState) analyzing() bool {
	return s.session.Status == models.AnalysisRunning
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.Inspector == nil {
		opts.Inspector = intake.NewInspector(nil, intake.Options{})
	}
	if opts.History == nil {
		opts.History = history.Nop{}
	}
	if opts.Progress == nil {
		opts.Progress = func() progress.Reporter { return progress.NewSimulated(progress.DefaultSimulatedConfig()) }
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		sessions:        make(map[string]*sessionState),
		store:           opts.Store,
		inspector:       opts.Inspector,
		predictor:       opts.Predictor,
		exporter:        opts.Exporter,
		history:         opts.History,
		progress:        opts.Progress,
		maxSessions:     opts.MaxSessions,
		analysisTimeout: opts.AnalysisTimeout,
		log:             logging.Component(opts.Logger, "session"),
		now:             opts.Now,
	}
}

// PreviewURL is where a session's candidate preview is served.
func PreviewURL(sessionID string) string {
	return fmt.Sprintf("/api/sessions/%s/preview", sessionID)
}

// ResultImageURL is where a session's analyzed image is served.
func ResultImageURL(sessionID string) string {
	return fmt.Sprintf("/api/sessions/%s/result/image", sessionID)
}

// CreateSession starts a new workflow at the scan step.
func (m *Manager) CreateSession() (*models.ScanSession, error) {
	var released []string

	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		evicted, files := m.evictOldestIdleLocked()
		if !evicted {
			m.mu.Unlock()
			return nil, ErrTooManySessions
		}
		released = files
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	state := &sessionState{
		session: models.NewScanSession(id, m.now()),
		machine: workflow.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
	m.sessions[id] = state
	snap := m.snapshotLocked(state)
	m.mu.Unlock()

	m.releaseFiles(released)
	m.log.Info().Str("session", logging.ShortID(id)).Msg("session created")
	return snap, nil
}

// evictOldestIdleLocked drops the least recently used session that is not
// analyzing. It returns the files to release.
func (m *Manager) evictOldestIdleLocked() (bool, []string) {
	var candidates []*sessionState
	for _, state := range m.sessions {
		if !state.analyzing() {
			candidates = append(candidates, state)
		}
	}
	if len(candidates) == 0 {
		return false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].session.LastAccessed.Before(candidates[j].session.LastAccessed)
	})

	victim := candidates[0]
	files := m.teardownLocked(victim)
	m.log.Info().Str("session", logging.ShortID(victim.session.ID)).Msg("evicted idle session to make room")
	return true, files
}

// teardownLocked removes a session from the map and stops its work.
func (m *Manager) teardownLocked(state *sessionState) []string {
	delete(m.sessions, state.session.ID)
	state.cancel()
	if state.analysisCancel != nil {
		state.analysisCancel()
	}
	if state.reporter != nil {
		state.reporter.Reset()
	}

	files := candidateFiles(state.candidate)
	if res := state.machine.Result(); res != nil {
		files = append(files, res.Image.FileID)
	}
	state.candidate = nil
	return files
}

// GetSession returns a snapshot of a session, including live progress.
func (m *Manager) GetSession(id string) (*models.ScanSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return m.snapshotLocked(state), nil
}

// TouchSession updates the LastAccessed timestamp for a session.
// This should be called whenever a session is actively being used
// to prevent it from being cleaned up.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.session.LastAccessed = m.now()
	return true
}

// DeleteSession stops any work for a session and releases its files.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	files := m.teardownLocked(state)
	m.mu.Unlock()

	m.releaseFiles(files)
	m.log.Info().Str("session", logging.ShortID(id)).Msg("session deleted")
	return nil
}

// CleanupOldSessions removes idle sessions not accessed within maxAge,
// but keeps sessions that have been accessed within SessionKeepAliveWindow.
// It returns the number of sessions removed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	now := m.now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-SessionKeepAliveWindow)

	var files []string
	removed := 0

	m.mu.Lock()
	for _, state := range m.sessions {
		// A request in flight is bounded by its own timeout.
		if state.analyzing() {
			continue
		}
		last := state.session.LastAccessed
		if last.After(keepAliveCutoff) || !last.Before(cutoff) {
			continue
		}
		files = append(files, m.teardownLocked(state)...)
		removed++
		m.log.Info().
			Str("session", logging.ShortID(state.session.ID)).
			Dur("idle", now.Sub(last).Round(time.Second)).
			Msg("cleaned up aged session")
	}
	m.mu.Unlock()

	m.releaseFiles(files)
	return removed
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops every session and waits for running analyses to return.
// Stored files are left in place.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, state := range m.sessions {
		m.teardownLocked(state)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// SetCandidate validates a selected file and makes it the session's
// candidate. A rejected file leaves the previous candidate in place and
// returns the rejected candidate alongside the validation error.
func (m *Manager) SetCandidate(ctx context.Context, id, fileName, contentType string, data []byte) (*models.UploadCandidate, error) {
	if err := m.checkEditable(id); err != nil {
		return nil, err
	}

	cand := models.NewUploadCandidate(fileName, contentType, int64(len(data)))
	ins, err := m.inspector.Inspect(fileName, contentType, data)
	if err != nil {
		cand.Reject(intake.UserMessage(err))
		m.log.Info().
			Str("session", logging.ShortID(id)).
			Str("file", fileName).
			Err(err).
			Msg("file rejected")
		return cand, err
	}
	cand.Accept(ins.Format, ins.Width, ins.Height)
	cand.ContentType = ins.ContentType
	cand.Warnings = ins.Warnings

	stored, err := m.store.SaveBytes(ctx, fileName, ins.ContentType, data)
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", fileName, err)
	}
	cand.FileID = stored.ID

	if ins.Preview != nil {
		preview, err := m.store.SaveBytes(ctx, fileName+".png", ins.PreviewContentType, ins.Preview)
		if err != nil {
			m.releaseFiles([]string{stored.ID})
			return nil, fmt.Errorf("storing preview: %w", err)
		}
		cand.PreviewFileID = preview.ID
	}
	cand.PreviewURL = PreviewURL(id)

	m.mu.Lock()
	state, err := m.editableLocked(id)
	if err != nil {
		m.mu.Unlock()
		m.releaseFiles(candidateFiles(cand))
		return nil, err
	}
	previous := state.candidate
	state.candidate = cand
	state.session.Status = models.AnalysisIdle
	state.session.Error = ""
	state.session.LastAccessed = m.now()
	if state.reporter != nil {
		state.reporter.Reset()
	}
	out := cand.Clone()
	m.mu.Unlock()

	m.releaseFiles(candidateFiles(previous))
	m.log.Info().
		Str("session", logging.ShortID(id)).
		Str("file", fileName).
		Str("format", string(cand.Format)).
		Int("width", cand.Width).
		Int("height", cand.Height).
		Msg("candidate accepted")
	return out, nil
}

// ClearCandidate drops the current candidate.
func (m *Manager) ClearCandidate(id string) error {
	m.mu.Lock()
	state, err := m.editableLocked(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	files := candidateFiles(state.candidate)
	state.candidate = nil
	state.session.Status = models.AnalysisIdle
	state.session.Error = ""
	if state.reporter != nil {
		state.reporter.Reset()
	}
	m.mu.Unlock()

	m.releaseFiles(files)
	return nil
}

// OpenPreview streams the candidate's displayable image.
func (m *Manager) OpenPreview(ctx context.Context, id string) (io.ReadCloser, *models.FileInfo, error) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.RUnlock()
		return nil, nil, ErrSessionNotFound
	}
	if !state.candidate.Accepted() {
		m.mu.RUnlock()
		return nil, nil, ErrNoCandidate
	}
	fileID := displayFile(state.candidate)
	m.mu.RUnlock()

	return m.store.Open(ctx, fileID)
}

func (m *Manager) checkEditable(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.editableLocked(id)
	return err
}

// editableLocked returns the state when the candidate may change.
func (m *Manager) editableLocked(id string) (*sessionState, error) {
	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if state.analyzing() {
		return nil, ErrAnalysisInProgress
	}
	if state.machine.Step() != models.StepScan {
		return nil, fmt.Errorf("%w: files can only be selected at the scan step", ErrWrongStep)
	}
	return state, nil
}

func (m *Manager) snapshotLocked(state *sessionState) *models.ScanSession {
	snap := *state.session
	snap.Step = state.machine.Step()
	snap.Candidate = state.candidate.Clone()
	snap.Result = state.machine.Result().Clone()
	if state.reporter != nil {
		snap.Progress = state.reporter.Value()
	}
	return &snap
}

// releaseFiles deletes stored files that no longer belong to anything.
func (m *Manager) releaseFiles(ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := m.store.Delete(context.Background(), id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.log.Warn().Str("file", id).Err(err).Msg("failed to release file")
		}
	}
}

func candidateFiles(c *models.UploadCandidate) []string {
	if c == nil {
		return nil
	}
	return []string{c.FileID, c.PreviewFileID}
}

// displayFile is the stored image a browser can render for a candidate.
func displayFile(c *models.UploadCandidate) string {
	if c.PreviewFileID != "" {
		return c.PreviewFileID
	}
	return c.FileID
}
