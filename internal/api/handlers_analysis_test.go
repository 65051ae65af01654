package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pneumoai/backend/internal/models"
	"github.com/pneumoai/backend/internal/testutil"
)

func TestAnalysisHandler_StartRequiresCandidate(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/analyze", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeNoCandidate, decodeAPIError(t, rec).Code)
}

func TestAnalysisHandler_StartTwice(t *testing.T) {
	f := newAPIFixture(t)
	f.infer.Gate = make(chan struct{})
	id := f.createSession(t)
	require.Equal(t, http.StatusCreated, f.upload(t, id, "xray.png", testutil.PNG(600, 600)).Code)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/analyze", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var sess models.ScanSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, models.AnalysisRunning, sess.Status)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/analyze", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeAnalysisInProgress, decodeAPIError(t, rec).Code)

	close(f.infer.Gate)
	f.waitStatus(t, id, models.AnalysisComplete)
}

func TestAnalysisHandler_Result(t *testing.T) {
	f := newAPIFixture(t)
	id := f.analyzed(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+id+"/result", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res models.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "PNEUMONIA", res.Label)
	assert.Equal(t, 87, res.Confidence)
	assert.Equal(t, "Pneumonia detected (87% confidence)", res.Diagnosis)
	assert.Equal(t, []string{"Opacity in the lower right lobe"}, res.Insights)
	assert.Equal(t, "/api/sessions/"+id+"/result/image", res.Image.URL)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+id+"/result/msgpack", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))
	var packed models.AnalysisResult
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &packed))
	assert.Equal(t, res.Diagnosis, packed.Diagnosis)
	assert.Equal(t, res.Confidence, packed.Confidence)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+id+"/result/image", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestAnalysisHandler_FailureReportedThroughSession(t *testing.T) {
	f := newAPIFixture(t)
	f.infer.SetErr(errors.New("inference returned 500"))
	id := f.createSession(t)
	require.Equal(t, http.StatusCreated, f.upload(t, id, "xray.png", testutil.PNG(600, 600)).Code)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/sessions/"+id+"/analyze", nil, "").Code)
	f.waitStatus(t, id, models.AnalysisError)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sess models.ScanSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, models.MsgAnalysisFailed, sess.Error)
	assert.Equal(t, models.StepScan, sess.Step)
	require.NotNil(t, sess.Candidate, "candidate kept for retry")
	assert.NotContains(t, rec.Body.String(), "inference returned 500")
}

func TestAnalysisHandler_ProgressStream(t *testing.T) {
	t.Run("idle session sends one event", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.createSession(t)

		rec := f.do(t, http.MethodGet, "/api/sessions/"+id+"/progress", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		events := sseEvents(t, rec.Body.String())
		require.Len(t, events, 1)
		assert.Equal(t, models.AnalysisIdle, events[0].Status)
	})

	t.Run("streams until complete", func(t *testing.T) {
		f := newAPIFixture(t)
		f.infer.Gate = make(chan struct{})
		id := f.createSession(t)
		require.Equal(t, http.StatusCreated, f.upload(t, id, "xray.png", testutil.PNG(600, 600)).Code)
		require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/sessions/"+id+"/analyze", nil, "").Code)

		go func() {
			time.Sleep(300 * time.Millisecond)
			close(f.infer.Gate)
		}()

		rec := f.do(t, http.MethodGet, "/api/sessions/"+id+"/progress", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		events := sseEvents(t, rec.Body.String())
		require.GreaterOrEqual(t, len(events), 2)
		assert.Equal(t, models.AnalysisRunning, events[0].Status)

		last := events[len(events)-1]
		assert.Equal(t, models.AnalysisComplete, last.Status)
		assert.Equal(t, float64(100), last.Progress)
		assert.Equal(t, models.StepResults, last.Step)
		require.NotNil(t, last.Result)

		assert.LessOrEqual(t, events[0].Progress, float64(90))
		for i := 1; i < len(events); i++ {
			assert.GreaterOrEqual(t, events[i].Progress, events[i-1].Progress, "progress must not decrease")
		}
	})
}

func TestAnalysisHandler_Export(t *testing.T) {
	f := newAPIFixture(t)
	id := f.analyzed(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/export/pdf", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code, "export requires the export step")
	assert.Equal(t, CodeInvalidTransition, decodeAPIError(t, rec).Code)

	require.Equal(t, http.StatusOK, f.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/step", map[string]string{"step": "export"}).Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/export/PDF", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="nalaz.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "report:pdf", rec.Body.String())

	payloads := f.infer.Exports()
	require.Len(t, payloads, 1)
	assert.Equal(t, 87, payloads[0].Confidence)
	assert.True(t, strings.HasPrefix(payloads[0].ImageBase64, "data:image/png;base64,"))

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/export/odt", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, decodeAPIError(t, rec).Code)
}

func TestAnalysisHandler_ExportFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.infer.ExportErr = errors.New("connection refused")
	id := f.analyzed(t)
	require.Equal(t, http.StatusOK, f.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/step", map[string]string{"step": "export"}).Code)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/export/docx", nil, "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	apiErr := decodeAPIError(t, rec)
	assert.Equal(t, CodeExportFailed, apiErr.Code)
	assert.Equal(t, "Export failed. Please try again.", apiErr.Message)
	assert.Empty(t, apiErr.Details)

	sess, err := f.mgr.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, models.StepExport, sess.Step, "failed export leaves the step unchanged")
	assert.NotNil(t, sess.Result)
}

func sseEvents(t *testing.T, body string) []progressEvent {
	t.Helper()
	var events []progressEvent
	for _, line := range strings.Split(body, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var e progressEvent
		require.NoError(t, json.Unmarshal([]byte(payload), &e))
		events = append(events, e)
	}
	return events
}
