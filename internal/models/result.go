package models

import "time"

// PredictResponse is the raw response body of the inference endpoint.
// Confidence is a fraction in [0,1].
type PredictResponse struct {
	Result     string   `json:"result"`
	Confidence float64  `json:"confidence"`
	Insights   []string `json:"insights,omitempty"`
}

// ImageRef points at the stored image an analysis was run on.
type ImageRef struct {
	FileID      string `json:"fileId" msgpack:"fileId"`
	FileName    string `json:"fileName" msgpack:"fileName"`
	ContentType string `json:"contentType" msgpack:"contentType"`
	URL         string `json:"url,omitempty" msgpack:"url,omitempty"`
}

// AnalysisResult is the normalized outcome of a completed prediction.
// It is never mutated after creation.
type AnalysisResult struct {
	Label      string    `json:"label" msgpack:"label"`
	Diagnosis  string    `json:"diagnosis" msgpack:"diagnosis"`
	Confidence int       `json:"confidence" msgpack:"confidence"` // 0-100
	Insights   []string  `json:"insights" msgpack:"insights"`
	Image      ImageRef  `json:"image" msgpack:"image"`
	CreatedAt  time.Time `json:"createdAt" msgpack:"createdAt"`
}

// Clone returns a deep copy of the result.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Insights = append(make([]string, 0, len(r.Insights)), r.Insights...)
	return &cp
}
