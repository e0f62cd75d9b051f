package mediacache

import (
	"errors"
	"fmt"
)

// ErrDownloadTimeout is returned when a download exceeds the
// configured timeout. Retryable.
var ErrDownloadTimeout = errors.New("mediacache: download timed out")

// DownloadError is returned when a download fails with a non-2xx
// response or a network failure. Retryable; Status is 0 when no HTTP
// response was received.
type DownloadError struct {
	// URL is the remote media URL.
	URL string
	// Status is the HTTP status code, if a response was received.
	Status int
	// Err is the underlying cause.
	Err error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("mediacache: download %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("mediacache: download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
