// fake_inference.go - Scriptable stand-in for the inference service
package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/pneumoai/backend/internal/inference"
	"github.com/pneumoai/backend/internal/models"
)

// PredictCall records one Predict invocation.
type PredictCall struct {
	FileName    string
	ContentType string
	Body        []byte
}

// FakeInference implements the predictor and exporter used by the session
// manager. Zero value answers PNEUMONIA/0.87.
type FakeInference struct {
	mu sync.Mutex

	// Response and Err script Predict; Err wins.
	Response *models.PredictResponse
	Err      error
	// Gate, when non-nil, blocks Predict until it is closed or receives.
	Gate chan struct{}
	// Started receives once per Predict call after the body was read.
	Started chan struct{}
	// Panic makes Predict panic.
	Panic bool

	ExportData []byte
	ExportErr  error

	predicts []PredictCall
	exports  []models.ExportPayload
}

// NewFakeInference creates a fake answering with resp.
func NewFakeInference(resp models.PredictResponse) *FakeInference {
	return &FakeInference{Response: &resp}
}

func (f *FakeInference) Predict(ctx context.Context, up inference.Upload) (*models.PredictResponse, error) {
	body, err := io.ReadAll(up.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.predicts = append(f.predicts, PredictCall{FileName: up.FileName, ContentType: up.ContentType, Body: body})
	gate, started, resp, perr, panics := f.Gate, f.Started, f.Response, f.Err, f.Panic
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panics {
		panic("fake inference panic")
	}
	if perr != nil {
		return nil, perr
	}
	if resp == nil {
		return &models.PredictResponse{Result: "PNEUMONIA", Confidence: 0.87}, nil
	}
	cp := *resp
	return &cp, nil
}

func (f *FakeInference) Export(_ context.Context, format models.ExportFormat, payload models.ExportPayload) (*inference.ExportFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.exports = append(f.exports, payload)
	if f.ExportErr != nil {
		return nil, f.ExportErr
	}
	data := f.ExportData
	if data == nil {
		data = []byte("report:" + string(format))
	}
	return &inference.ExportFile{
		Format:      format,
		FileName:    format.FileName(),
		ContentType: "application/octet-stream",
		Data:        data,
	}, nil
}

// Predicts returns the recorded Predict calls.
func (f *FakeInference) Predicts() []PredictCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PredictCall(nil), f.predicts...)
}

// Exports returns the recorded export payloads.
func (f *FakeInference) Exports() []models.ExportPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ExportPayload(nil), f.exports...)
}

// SetResponse replaces the scripted response and clears Err.
func (f *FakeInference) SetResponse(resp models.PredictResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Response = &resp
	f.Err = nil
}

// SetErr makes subsequent Predict calls fail.
func (f *FakeInference) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}
