package intake

import (
	"errors"
	"fmt"

	"github.com/pneumoai/backend/internal/models"
)

var (
	ErrEmptyFile         = errors.New("file is empty")
	ErrFileTooLarge      = errors.New("file exceeds the upload size limit")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// MissingTagError reports a DICOM file without a tag needed for the preview.
type MissingTagError struct {
	Tag Tag
}

func (e *MissingTagError) Error() string {
	return fmt.Sprintf("DICOM file is missing required tag %s %s", e.Tag, e.Tag.Name())
}

// DecodeError reports a file whose format was accepted but whose content
// could not be decoded.
type DecodeError struct {
	Format models.ImageFormat
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding %s: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("decoding %s: %s", e.Format, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UserMessage converts an intake error into the inline message shown to the user.
func UserMessage(err error) string {
	var missing *MissingTagError
	var decode *DecodeError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedFormat):
		return "Unsupported file format. Please upload a JPEG, PNG or DICOM image."
	case errors.Is(err, ErrFileTooLarge):
		return "File is too large."
	case errors.Is(err, ErrEmptyFile):
		return "The selected file is empty."
	case errors.As(err, &missing):
		return fmt.Sprintf("Invalid DICOM file: missing %s %s.", missing.Tag.Name(), missing.Tag)
	case errors.As(err, &decode):
		if decode.Format == models.FormatDICOM {
			return "The DICOM file could not be read: " + decode.Reason + "."
		}
		return "The image could not be read."
	default:
		return "The file could not be processed."
	}
}
