package mediacache

import (
	"sync/atomic"
	"time"
)

// Handle is a revocable local reference to a downloaded media
// resource. While valid, the underlying file is playable and seekable
// without further network access. Handles are exclusively owned by
// the cache: only the cache revokes them, exactly once.
type Handle struct {
	path    string
	revoked atomic.Bool
}

// Path returns the local file path of the downloaded media.
// The path must not be used after the handle has been revoked.
func (h *Handle) Path() string {
	return h.path
}

// Valid reports whether the handle has not been revoked.
func (h *Handle) Valid() bool {
	return !h.revoked.Load()
}

// revoke marks the handle invalid. Returns false if it was already
// revoked, so the caller can guarantee exactly-once file removal.
func (h *Handle) revoke() bool {
	return h.revoked.CompareAndSwap(false, true)
}

// CachedMedia describes one successfully downloaded media resource.
type CachedMedia struct {
	// SceneID is the owning scene.
	SceneID string
	// SourceURL is the remote URL the media was fetched from.
	SourceURL string
	// ProjectID is the owning project.
	ProjectID string
	// MimeType is the Content-Type reported by the origin.
	MimeType string
	// Size is the downloaded size in bytes.
	Size int64
	// DownloadedAt is when the download completed.
	DownloadedAt time.Time
}
