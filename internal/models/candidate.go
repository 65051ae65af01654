// Package models contains domain types for the PneumoAI workflow gateway.
package models

// ImageFormat identifies an accepted upload format.
type ImageFormat string

const (
	FormatJPEG  ImageFormat = "jpeg"
	FormatPNG   ImageFormat = "png"
	FormatDICOM ImageFormat = "dicom"
)

// CandidateStatus represents the validation status of an upload candidate.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateAccepted CandidateStatus = "accepted"
	CandidateRejected CandidateStatus = "rejected"
)

// UploadCandidate is a locally selected file that has not been submitted yet.
type UploadCandidate struct {
	FileName      string          `json:"fileName"`
	Format        ImageFormat     `json:"format,omitempty"`
	ContentType   string          `json:"contentType,omitempty"`
	Size          int64           `json:"size"`
	Width         int             `json:"width,omitempty"`
	Height        int             `json:"height,omitempty"`
	FileID        string          `json:"fileId,omitempty"`
	PreviewFileID string          `json:"-"`
	PreviewURL    string          `json:"previewUrl,omitempty"`
	Status        CandidateStatus `json:"status"`
	Message       string          `json:"message,omitempty"` // Rejection reason shown to the user
	Warnings      []string        `json:"warnings,omitempty"`
}

// NewUploadCandidate creates a candidate in pending status.
func NewUploadCandidate(fileName, contentType string, size int64) *UploadCandidate {
	return &UploadCandidate{
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
		Status:      CandidatePending,
	}
}

// Accept marks the candidate as valid for submission.
func (c *UploadCandidate) Accept(format ImageFormat, width, height int) {
	c.Format = format
	c.Width = width
	c.Height = height
	c.Status = CandidateAccepted
	c.Message = ""
}

// Reject marks the candidate as invalid with a user-facing message.
func (c *UploadCandidate) Reject(message string) {
	c.Status = CandidateRejected
	c.Message = message
}

// Accepted reports whether the candidate passed validation.
func (c *UploadCandidate) Accepted() bool {
	return c != nil && c.Status == CandidateAccepted
}

// Clone returns a copy safe to hand out of a locked section.
func (c *UploadCandidate) Clone() *UploadCandidate {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Warnings != nil {
		cp.Warnings = append([]string(nil), c.Warnings...)
	}
	return &cp
}
