package intake

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/pneumoai/backend/internal/models"
)

// Format describes an accepted upload format.
type Format struct {
	Name        models.ImageFormat
	ContentType string // Canonical content type used when storing the file
	MIMETypes   []string
	Extensions  []string
	Raster      bool // Decodable with the image package; DICOM is not
}

// Registry holds the accepted formats and detects which one a file claims to be.
type Registry struct {
	formats []Format
}

var defaultRegistry = NewRegistry()

// NewRegistry returns a registry with JPEG, PNG and DICOM.
func NewRegistry() *Registry {
	return &Registry{
		formats: []Format{
			{
				Name:        models.FormatJPEG,
				ContentType: "image/jpeg",
				MIMETypes:   []string{"image/jpeg", "image/jpg", "image/pjpeg"},
				Extensions:  []string{".jpg", ".jpeg"},
				Raster:      true,
			},
			{
				Name:        models.FormatPNG,
				ContentType: "image/png",
				MIMETypes:   []string{"image/png"},
				Extensions:  []string{".png"},
				Raster:      true,
			},
			{
				Name:        models.FormatDICOM,
				ContentType: "application/dicom",
				MIMETypes:   []string{"application/dicom"},
				Extensions:  []string{".dcm", ".dicom"},
			},
		},
	}
}

// DefaultRegistry returns the shared registry instance.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Detect finds the format for a file from its declared content type, falling
// back to the file extension when the content type is missing or generic.
func (r *Registry) Detect(fileName, contentType string) (Format, bool) {
	if mt := normalizeMediaType(contentType); mt != "" && mt != "application/octet-stream" {
		for _, f := range r.formats {
			for _, m := range f.MIMETypes {
				if m == mt {
					return f, true
				}
			}
		}
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return Format{}, false
	}
	for _, f := range r.formats {
		for _, e := range f.Extensions {
			if e == ext {
				return f, true
			}
		}
	}
	return Format{}, false
}

// Lookup returns the format registered under name.
func (r *Registry) Lookup(name models.ImageFormat) (Format, bool) {
	for _, f := range r.formats {
		if f.Name == name {
			return f, true
		}
	}
	return Format{}, false
}

// Extensions lists every accepted extension, in registration order.
func (r *Registry) Extensions() []string {
	var out []string
	for _, f := range r.formats {
		out = append(out, f.Extensions...)
	}
	return out
}

func normalizeMediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(contentType)
	}
	return strings.ToLower(mt)
}
