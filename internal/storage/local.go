package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrS3NotConfigured is returned when S3 operations are attempted
// without proper configuration.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// LocalStorage implements the Storage interface using local disk.
// It stores blob files in a configurable directory and does not
// support S3 exports unless wrapped with S3Storage.
type LocalStorage struct {
	blobDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// The blobDir parameter specifies where blob files are stored.
// If blobDir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(blobDir string) (*LocalStorage, error) {
	if blobDir == "" {
		blobDir = filepath.Join(os.TempDir(), "sceneforge")
	}

	if err := os.MkdirAll(blobDir, 0750); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}

	return &LocalStorage{blobDir: blobDir}, nil
}

// BlobDir returns the blob directory path.
func (s *LocalStorage) BlobDir() string {
	return s.blobDir
}

// SaveBlob writes data to a new blob file and returns its path.
// The name is used as a base for the filename with a unique suffix.
func (s *LocalStorage) SaveBlob(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.blobDir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create blob file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write blob file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close blob file: %w", err)
	}

	return fileName, nil
}

// OpenBlob opens a previously saved blob for reading.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStorage) OpenBlob(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open blob file: %w", err)
	}

	return f, nil
}

// RemoveBlobs deletes the specified blob files.
// It continues even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStorage) RemoveBlobs(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove blob file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// UploadExport is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadExport(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}
