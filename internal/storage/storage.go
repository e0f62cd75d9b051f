// Package storage provides blob storage for downloaded media and
// exported preview frames. It defines the Storage interface (port)
// for hexagonal architecture and implementations for local disk and
// S3-backed exports.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for media blob storage.
// Implementations must handle locally addressable blob files for the
// download cache and optionally support S3 uploads for exported
// preview frames.
type Storage interface {
	// SaveBlob writes data to a new blob file and returns its path.
	// The name parameter is used as a hint for the filename.
	SaveBlob(ctx context.Context, name string, data io.Reader) (path string, err error)

	// OpenBlob opens a previously saved blob for reading.
	// The caller is responsible for closing the returned ReadCloser.
	OpenBlob(ctx context.Context, path string) (io.ReadCloser, error)

	// RemoveBlobs deletes the specified blob files.
	// It continues even if some files fail to delete.
	RemoveBlobs(ctx context.Context, paths []string) error

	// UploadExport uploads an exported frame to S3 and returns the
	// public URL. Returns ErrS3NotConfigured if S3 is not configured.
	UploadExport(ctx context.Context, key string, data io.Reader) (url string, err error)
}
