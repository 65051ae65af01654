package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pneumoai/backend/internal/models"
)

// MinioConfig locates an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
}

// MinioStore implements Store on top of an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

const metaName = "Name"

// NewMinioStore connects to the bucket, creating it when missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "uploads"
	}
	return &MinioStore{client: cli, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *MinioStore) key(id string) string {
	return path.Join(s.prefix, id)
}

// Save streams r into a new object.
func (s *MinioStore) Save(ctx context.Context, name, contentType string, r io.Reader) (*models.FileInfo, error) {
	return s.put(ctx, name, contentType, r, -1)
}

// SaveBytes stores an in-memory file.
func (s *MinioStore) SaveBytes(ctx context.Context, name, contentType string, data []byte) (*models.FileInfo, error) {
	return s.put(ctx, name, contentType, bytes.NewReader(data), int64(len(data)))
}

func (s *MinioStore) put(ctx context.Context, name, contentType string, r io.Reader, size int64) (*models.FileInfo, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	id := uuid.New().String()

	up, err := s.client.PutObject(ctx, s.bucket, s.key(id), r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{metaName: url.QueryEscape(name)},
	})
	if err != nil {
		return nil, fmt.Errorf("uploading object: %w", err)
	}

	return &models.FileInfo{
		ID:          id,
		Name:        name,
		ContentType: contentType,
		Size:        up.Size,
		UploadedAt:  up.LastModified,
	}, nil
}

// Get stats an object.
func (s *MinioStore) Get(ctx context.Context, id string) (*models.FileInfo, error) {
	obj, err := s.client.StatObject(ctx, s.bucket, s.key(id), minio.StatObjectOptions{})
	if err != nil {
		return nil, s.wrap(id, err)
	}
	return s.toFileInfo(id, obj), nil
}

// Open streams an object.
func (s *MinioStore) Open(ctx context.Context, id string) (io.ReadCloser, *models.FileInfo, error) {
	info, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, s.wrap(id, err)
	}
	return obj, info, nil
}

// Delete removes an object.
func (s *MinioStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(id), minio.RemoveObjectOptions{}); err != nil {
		return s.wrap(id, err)
	}
	return nil
}

func (s *MinioStore) toFileInfo(id string, obj minio.ObjectInfo) *models.FileInfo {
	return &models.FileInfo{
		ID:          id,
		Name:        objectName(obj),
		ContentType: obj.ContentType,
		Size:        obj.Size,
		UploadedAt:  obj.LastModified,
	}
}

// objectName recovers the original file name from user metadata.
func objectName(obj minio.ObjectInfo) string {
	for k, v := range obj.UserMetadata {
		k = strings.TrimPrefix(http.CanonicalHeaderKey(k), "X-Amz-Meta-")
		if strings.EqualFold(k, metaName) {
			if name, err := url.QueryUnescape(v); err == nil {
				return name
			}
			return v
		}
	}
	return path.Base(obj.Key)
}

func (s *MinioStore) wrap(id string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("object %s: %w", id, err)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

var _ Store = (*MinioStore)(nil)
