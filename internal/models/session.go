package models

import "time"

// AnalysisStatus represents the state of the session's submission.
type AnalysisStatus string

const (
	AnalysisIdle     AnalysisStatus = "idle"
	AnalysisRunning  AnalysisStatus = "analyzing"
	AnalysisComplete AnalysisStatus = "complete"
	AnalysisError    AnalysisStatus = "error"
)

// User-facing messages for transport failures. Details stay in the logs.
const (
	MsgAnalysisFailed = "Analysis failed. Please try again."
	MsgExportFailed   = "Export failed. Please try again."
)

// ScanSession is a snapshot of one user's workflow.
type ScanSession struct {
	ID           string           `json:"id"`
	Step         WorkflowStep     `json:"step"`
	Status       AnalysisStatus   `json:"status"`
	Progress     float64          `json:"progress"` // 0-100
	Candidate    *UploadCandidate `json:"candidate,omitempty"`
	Result       *AnalysisResult  `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	LastAccessed time.Time        `json:"lastAccessed"`
	StartedAt    *time.Time       `json:"startedAt,omitempty"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
}

// NewScanSession creates a session at the scan step.
func NewScanSession(id string, now time.Time) *ScanSession {
	return &ScanSession{
		ID:           id,
		Step:         StepScan,
		Status:       AnalysisIdle,
		CreatedAt:    now,
		LastAccessed: now,
	}
}
