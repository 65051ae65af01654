// Package intake validates selected files and derives their previews.
package intake

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // Register decoders for DecodeConfig
	_ "image/png"
	"net/http"
	"strings"

	"github.com/pneumoai/backend/internal/models"
)

// DefaultMaxSize is the largest accepted upload.
const DefaultMaxSize = 20 * 1024 * 1024

// MinRecommendedDimension is the smallest edge recommended in the upload guidelines.
const MinRecommendedDimension = 512

// Options tunes an Inspector.
type Options struct {
	MaxSize        int64
	MinDimension   int
	PreviewMaxEdge int
}

// Inspector validates files against a Registry.
type Inspector struct {
	registry *Registry
	opts     Options
}

// Inspection is the outcome of a successful validation.
type Inspection struct {
	Format      models.ImageFormat
	ContentType string
	Width       int
	Height      int
	Warnings    []string

	// Preview holds a rendered PNG when the file itself cannot be displayed
	// (DICOM). Raster files are their own preview.
	Preview            []byte
	PreviewContentType string
}

// NewInspector creates an inspector. Zero options fall back to defaults.
func NewInspector(registry *Registry, opts Options) *Inspector {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MinDimension <= 0 {
		opts.MinDimension = MinRecommendedDimension
	}
	if opts.PreviewMaxEdge <= 0 {
		opts.PreviewMaxEdge = DefaultPreviewMaxEdge
	}
	return &Inspector{registry: registry, opts: opts}
}

// Inspect validates a file and derives its preview.
func (i *Inspector) Inspect(fileName, contentType string, data []byte) (*Inspection, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > i.opts.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(data), i.opts.MaxSize)
	}

	format, ok := i.registry.Detect(fileName, contentType)
	if !ok {
		return nil, fmt.Errorf("%w: %s (accepted: %s)", ErrUnsupportedFormat, fileName,
			strings.Join(i.registry.Extensions(), ", "))
	}

	var (
		ins *Inspection
		err error
	)
	if format.Raster {
		ins, err = i.inspectRaster(fileName, data)
	} else {
		ins, err = i.inspectDICOM(data)
	}
	if err != nil {
		return nil, err
	}

	if ins.Width < i.opts.MinDimension || ins.Height < i.opts.MinDimension {
		ins.Warnings = append(ins.Warnings, fmt.Sprintf(
			"resolution %dx%d is below the recommended %dx%d",
			ins.Width, ins.Height, i.opts.MinDimension, i.opts.MinDimension))
	}
	return ins, nil
}

func (i *Inspector) inspectRaster(fileName string, data []byte) (*Inspection, error) {
	// The content decides between JPEG and PNG; the name only has to claim one.
	var format Format
	switch http.DetectContentType(data) {
	case "image/jpeg":
		format, _ = i.registry.Lookup(models.FormatJPEG)
	case "image/png":
		format, _ = i.registry.Lookup(models.FormatPNG)
	default:
		return nil, fmt.Errorf("%w: %s content is not a JPEG or PNG image", ErrUnsupportedFormat, fileName)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Format: format.Name, Reason: "invalid image header", Err: err}
	}

	return &Inspection{
		Format:      format.Name,
		ContentType: format.ContentType,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}

func (i *Inspector) inspectDICOM(data []byte) (*Inspection, error) {
	img, err := DecodeDICOM(data)
	if err != nil {
		return nil, err
	}

	preview, err := RenderPreview(img.Image, i.opts.PreviewMaxEdge)
	if err != nil {
		return nil, &DecodeError{Format: models.FormatDICOM, Reason: "rendering preview", Err: err}
	}

	format, _ := i.registry.Lookup(models.FormatDICOM)
	return &Inspection{
		Format:             models.FormatDICOM,
		ContentType:        format.ContentType,
		Width:              img.Columns,
		Height:             img.Rows,
		Preview:            preview,
		PreviewContentType: "image/png",
	}, nil
}
