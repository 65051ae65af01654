package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pneumoai/backend/internal/intake"
	"github.com/pneumoai/backend/internal/models"
	"github.com/pneumoai/backend/internal/progress"
	"github.com/pneumoai/backend/internal/session"
	"github.com/pneumoai/backend/internal/testutil"
)

const testMaxUpload = 64 * 1024

type fakeHistory struct {
	mu        sync.Mutex
	entries   []models.HistoryEntry
	counts    []models.LabelCount
	err       error
	lastLimit int
}

func (h *fakeHistory) Record(_ context.Context, e models.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return nil
}

func (h *fakeHistory) Recent(_ context.Context, limit int) ([]models.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastLimit = limit
	return append([]models.HistoryEntry(nil), h.entries...), h.err
}

func (h *fakeHistory) Summary(context.Context) ([]models.LabelCount, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts, h.err
}

func (h *fakeHistory) Close() error { return nil }

type apiFixture struct {
	e       *echo.Echo
	mgr     *session.Manager
	store   *testutil.MockStorage
	infer   *testutil.FakeInference
	history *fakeHistory
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store:   testutil.NewMockStorage(),
		infer:   testutil.NewFakeInference(models.PredictResponse{Result: "PNEUMONIA", Confidence: 0.87, Insights: []string{"Opacity in the lower right lobe"}}),
		history: &fakeHistory{},
	}
	f.mgr = session.NewManager(session.Options{
		Store:     f.store,
		Inspector: intake.NewInspector(nil, intake.Options{MaxSize: testMaxUpload}),
		Predictor: f.infer,
		Exporter:  f.infer,
		History:   f.history,
		Progress: func() progress.Reporter {
			return progress.NewSimulated(progress.SimulatedConfig{
				Expected:       50 * time.Millisecond,
				Tick:           time.Millisecond,
				FinishStep:     50,
				FinishInterval: time.Millisecond,
			})
		},
		Logger: zerolog.Nop(),
	})
	t.Cleanup(f.mgr.Close)

	f.e = echo.New()
	f.e.HTTPErrorHandler = NewErrorHandler(zerolog.Nop(), false)
	handlers := NewHandlers(&Dependencies{
		Sessions:       f.mgr,
		History:        f.history,
		MaxUploadBytes: testMaxUpload,
		InferenceURL:   "http://inference.test",
		Version:        "test",
		Logger:         zerolog.Nop(),
	})
	RegisterRoutes(f.e, handlers)
	RegisterWebSocketRoutes(f.e, handlers)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) doJSON(t *testing.T, method, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return f.do(t, method, path, bytes.NewReader(body), echo.MIMEApplicationJSON)
}

func (f *apiFixture) createSession(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var sess models.ScanSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	return sess.ID
}

func (f *apiFixture) upload(t *testing.T, id, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartFile(t, "file", name, data)
	return f.do(t, http.MethodPost, "/api/sessions/"+id+"/candidate", body, contentType)
}

func (f *apiFixture) waitStatus(t *testing.T, id string, want models.AnalysisStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := f.mgr.GetSession(id)
		return err == nil && s.Status == want
	}, 2*time.Second, time.Millisecond, "status never became %s", want)
}

// analyzed returns a session holding a completed analysis.
func (f *apiFixture) analyzed(t *testing.T) string {
	t.Helper()
	id := f.createSession(t)
	require.Equal(t, http.StatusCreated, f.upload(t, id, "xray.png", testutil.PNG(600, 600)).Code)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/sessions/"+id+"/analyze", nil, "").Code)
	f.waitStatus(t, id, models.AnalysisComplete)
	return id
}

func multipartFile(t *testing.T, field, name string, data []byte) (io.Reader, string) {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr), rec.Body.String())
	return apiErr
}
