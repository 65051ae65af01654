package models

import "strings"

// ExportFormat is a report format offered by the export endpoints.
type ExportFormat string

const (
	ExportPDF  ExportFormat = "pdf"
	ExportDOCX ExportFormat = "docx"
	ExportHTML ExportFormat = "html"
)

// ExportFileBaseName is the download name used for every exported report.
const ExportFileBaseName = "nalaz"

// ParseExportFormat converts a client supplied format name.
func ParseExportFormat(s string) (ExportFormat, bool) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case ExportPDF, ExportDOCX, ExportHTML:
		return f, true
	}
	return "", false
}

// FileName returns the download file name, e.g. "nalaz.pdf".
func (f ExportFormat) FileName() string {
	return ExportFileBaseName + "." + string(f)
}

// ExportPayload is the JSON body sent to the export endpoints.
// Confidence is the integer percentage shown to the user.
type ExportPayload struct {
	Diagnosis   string   `json:"diagnosis"`
	Confidence  int      `json:"confidence"`
	Insights    []string `json:"insights"`
	ImageBase64 string   `json:"imageBase64"`
}
