// Package analysis turns raw inference responses into result records.
//
// Normalize is the only place that knows the shape of the predict response.
package analysis

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pneumoai/backend/internal/models"
)

// Labels returned by the pneumonia classifier.
const (
	LabelPneumonia = "PNEUMONIA"
	LabelNormal    = "NORMAL"
	LabelUnknown   = "UNKNOWN"
)

var (
	upper = cases.Upper(language.Und)
	title = cases.Title(language.Und)
)

// Normalize maps a predict response onto an AnalysisResult. It never fails:
// out of range or missing fields are clamped or defaulted.
func Normalize(resp models.PredictResponse, image models.ImageRef, now time.Time) models.AnalysisResult {
	label := NormalizeLabel(resp.Result)
	pct := Percent(resp.Confidence)

	return models.AnalysisResult{
		Label:      label,
		Diagnosis:  Diagnosis(label, pct),
		Confidence: pct,
		Insights:   cleanInsights(resp.Insights),
		Image:      image,
		CreatedAt:  now,
	}
}

// Percent converts a fractional confidence into a whole percentage in [0,100].
func Percent(confidence float64) int {
	if math.IsNaN(confidence) || confidence < 0 {
		return 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return int(math.Round(confidence * 100))
}

// NormalizeLabel trims and upper-cases a classifier label.
func NormalizeLabel(raw string) string {
	label := upper.String(strings.TrimSpace(raw))
	if label == "" {
		return LabelUnknown
	}
	return label
}

// Diagnosis renders the human-readable sentence for a label and percentage.
func Diagnosis(label string, pct int) string {
	var phrase string
	switch label {
	case LabelPneumonia:
		phrase = "Pneumonia detected"
	case LabelNormal:
		phrase = "No pneumonia detected"
	case LabelUnknown:
		phrase = "Inconclusive result"
	default:
		phrase = title.String(strings.ReplaceAll(label, "_", " "))
	}
	return fmt.Sprintf("%s (%d%% confidence)", phrase, pct)
}

func cleanInsights(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
