// Package inference talks to the remote prediction and report services.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/pneumoai/backend/internal/models"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8000"

// UploadField is the multipart field carrying the image.
const UploadField = "file"

const (
	predictPath      = "/api/predict"
	exportPathPrefix = "/api/export-"
)

// ErrInvalidBaseURL is returned for a base URL that is not an absolute origin.
var ErrInvalidBaseURL = errors.New("inference base URL must be absolute (scheme and host)")

// StatusError reports a non-2xx response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Upload is one image submitted for prediction.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
	Size        int64
}

// ExportFile is a rendered report.
type ExportFile struct {
	Format      models.ExportFormat
	FileName    string
	ContentType string
	Data        []byte
}

// Client calls the inference service. Requests are never retried.
type Client struct {
	http *resty.Client
	base string
	log  zerolog.Logger
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	base, err := NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	rc := resty.New().
		SetBaseURL(base).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}

	return &Client{
		http: rc,
		base: base,
		log:  logger.With().Str("component", "inference").Logger(),
	}, nil
}

// NormalizeBaseURL checks that raw is an absolute http(s) origin and strips
// any trailing slash. An empty value yields DefaultBaseURL.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultBaseURL, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", ErrInvalidBaseURL, raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.base }

// Predict uploads one image to /api/predict.
func (c *Client) Predict(ctx context.Context, up Upload) (*models.PredictResponse, error) {
	start := time.Now()
	body, contentType := streamMultipart(up)
	defer body.Close()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		Post(predictPath)
	if err != nil {
		return nil, fmt.Errorf("predict request: %w", err)
	}

	c.log.Debug().
		Int("status", resp.StatusCode()).
		Dur("elapsed", time.Since(start)).
		Str("file", up.FileName).
		Msg("predict response")

	if !resp.IsSuccess() {
		return nil, statusError(predictPath, resp)
	}

	var out models.PredictResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decoding predict response: %w", err)
	}
	return &out, nil
}

// streamMultipart encodes up as a multipart form through a pipe, so the
// upload body is read only as fast as the transport sends it.
func streamMultipart(up Upload) (*io.PipeReader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	contentType := mw.FormDataContentType()

	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			UploadField, quoteEscaper.Replace(up.FileName)))
		if up.ContentType != "" {
			h.Set("Content-Type", up.ContentType)
		} else {
			h.Set("Content-Type", "application/octet-stream")
		}
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, up.Body)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, contentType
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Export posts the payload to /api/export-{format} and returns the document.
func (c *Client) Export(ctx context.Context, format models.ExportFormat, payload models.ExportPayload) (*ExportFile, error) {
	path := exportPathPrefix + string(format)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		SetBody(payload).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("export request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, statusError(path, resp)
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &ExportFile{
		Format:      format,
		FileName:    format.FileName(),
		ContentType: contentType,
		Data:        resp.Body(),
	}, nil
}

func statusError(endpoint string, resp *resty.Response) error {
	body := strings.TrimSpace(string(resp.Body()))
	if len(body) > 512 {
		body = body[:512]
	}
	return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode(), Body: body}
}
