package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pneumoai/backend/internal/models"
)

// ErrNotFound is returned for unknown file IDs.
var ErrNotFound = errors.New("file not found")

// Store defines the interface for image storage.
type Store interface {
	Save(ctx context.Context, name, contentType string, r io.Reader) (*models.FileInfo, error)
	SaveBytes(ctx context.Context, name, contentType string, data []byte) (*models.FileInfo, error)
	Get(ctx context.Context, id string) (*models.FileInfo, error)
	Open(ctx context.Context, id string) (io.ReadCloser, *models.FileInfo, error)
	Delete(ctx context.Context, id string) error
}

// ReadAll loads a stored file into memory.
func ReadAll(ctx context.Context, s Store, id string) ([]byte, *models.FileInfo, error) {
	rc, info, err := s.Open(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("reading file %s: %w", id, err)
	}
	return data, info, nil
}

// LocalStore implements Store using the local filesystem.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.FileInfo
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
	}, nil
}

// Save saves a file to the local filesystem.
func (s *LocalStore) Save(_ context.Context, name, contentType string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.FileInfo{
		ID:          id,
		Name:        name,
		ContentType: contentType,
		Size:        size,
		UploadedAt:  time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = info

	cp := *info
	return &cp, nil
}

// SaveBytes saves an in-memory file.
func (s *LocalStore) SaveBytes(ctx context.Context, name, contentType string, data []byte) (*models.FileInfo, error) {
	return s.Save(ctx, name, contentType, bytes.NewReader(data))
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(_ context.Context, id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	cp := *info
	return &cp, nil
}

// Open returns a reader for the file content.
func (s *LocalStore) Open(ctx context.Context, id string) (io.ReadCloser, *models.FileInfo, error) {
	info, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(s.uploadDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	return f, info, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)
	return nil
}

// FilePath returns the on-disk path of a file.
func (s *LocalStore) FilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return filepath.Join(s.uploadDir, id), nil
}

var _ Store = (*LocalStore)(nil)
