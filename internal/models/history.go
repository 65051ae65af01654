package models

import "time"

// HistoryEntry is an archived completed analysis.
type HistoryEntry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	FileName   string    `json:"fileName"`
	Format     string    `json:"format"`
	Label      string    `json:"label"`
	Diagnosis  string    `json:"diagnosis"`
	Confidence int       `json:"confidence"`
	Insights   []string  `json:"insights"`
	CreatedAt  time.Time `json:"createdAt"`
}

// LabelCount is the number of archived analyses per label.
type LabelCount struct {
	Label         string  `json:"label"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avgConfidence"`
}
