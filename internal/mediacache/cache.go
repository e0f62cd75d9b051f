// Package mediacache downloads remote scene media exactly once and
// keeps it available as a locally seekable resource for the lifetime
// of an editing session. Concurrent requests for the same
// (scene, url) pair are de-duplicated onto a single network transfer,
// and every local handle the cache creates is revoked exactly once.
//
// The cache is process-wide state with an explicit lifecycle: it is
// constructed once at application start, injected into consumers, and
// torn down via Cleanup on shutdown.
package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sceneforge/preview-api/internal/metrics"
	"github.com/sceneforge/preview-api/internal/scene"
	"github.com/sceneforge/preview-api/internal/storage"
)

// DefaultTimeout is the download timeout applied when Options.Timeout
// is zero.
const DefaultTimeout = 30 * time.Second

// Options configures a single download.
type Options struct {
	// Timeout bounds the whole transfer. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Progress, if set, receives a monotonically non-decreasing
	// fraction in [0,1]. It is only invoked when the origin reports a
	// Content-Length; progress is never fabricated.
	Progress func(fraction float64)
}

// Stats describes the cache's current occupancy.
type Stats struct {
	// Entries is the number of live cache entries.
	Entries int
	// InFlight is the number of downloads currently running.
	InFlight int
	// TotalBytes is the summed size of all cached media.
	TotalBytes int64
}

type cacheKey struct {
	sceneID string
	url     string
}

type cacheEntry struct {
	handle *Handle
	media  CachedMedia
}

// inflight represents a download that has started but not settled.
// All callers for the same key wait on done and observe the same
// handle/err pair.
type inflight struct {
	done   chan struct{}
	handle *Handle
	err    error
}

// Cache is the process-wide media download cache.
type Cache struct {
	store      storage.Storage
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	entries  map[cacheKey]*cacheEntry
	inflight map[cacheKey]*inflight
}

// CacheOption is a function that configures a Cache.
type CacheOption func(*Cache)

// WithHTTPClient sets a custom HTTP client for downloads.
func WithHTTPClient(c *http.Client) CacheOption {
	return func(mc *Cache) {
		mc.httpClient = c
	}
}

// New creates a new Cache backed by the given blob storage.
func New(store storage.Storage, logger *slog.Logger, opts ...CacheOption) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		store: store,
		// Per-download deadlines come from the request context, so the
		// client itself carries no timeout.
		httpClient: &http.Client{},
		logger:     logger,
		entries:    make(map[cacheKey]*cacheEntry),
		inflight:   make(map[cacheKey]*inflight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Download fetches the media at url for the given scene, or returns
// the existing local handle if the media is already cached. A second
// concurrent request for the same (sceneID, url) attaches to the
// in-flight transfer instead of re-fetching. On failure (including
// timeout) no cache entry is created and the error carries the
// underlying cause; partial data never silently succeeds.
func (c *Cache) Download(ctx context.Context, url, sceneID, projectID string, kind scene.MediaKind, opts Options) (*Handle, error) {
	k := cacheKey{sceneID: sceneID, url: url}

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		c.mu.Unlock()
		metrics.CacheHitsTotal.Inc()
		return e.handle, nil
	}
	if fl, ok := c.inflight[k]; ok {
		c.mu.Unlock()
		metrics.CacheAttachedTotal.Inc()
		select {
		case <-fl.done:
			return fl.handle, fl.err
		case <-ctx.Done():
			return nil, fmt.Errorf("await download: %w", ctx.Err())
		}
	}

	fl := &inflight{done: make(chan struct{})}
	c.inflight[k] = fl
	c.mu.Unlock()

	metrics.CacheMissesTotal.Inc()
	handle, media, err := c.fetch(ctx, url, sceneID, projectID, opts)

	c.mu.Lock()
	delete(c.inflight, k)
	if err == nil {
		c.entries[k] = &cacheEntry{handle: handle, media: media}
		metrics.CacheEntries.Set(float64(len(c.entries)))
	}
	c.mu.Unlock()

	if err != nil {
		metrics.CacheDownloadFailuresTotal.Inc()
	}

	fl.handle = handle
	fl.err = err
	close(fl.done)

	return handle, err
}

// fetch performs one network transfer and materializes the blob.
func (c *Cache) fetch(ctx context.Context, url, sceneID, projectID string, opts Options) (*Handle, CachedMedia, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, CachedMedia{}, &DownloadError{URL: url, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, CachedMedia{}, classifyFetchErr(url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, CachedMedia{}, &DownloadError{
			URL:    url,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body := &countingReader{r: resp.Body}
	var reader io.Reader = body
	if opts.Progress != nil && resp.ContentLength > 0 {
		reader = &progressReader{
			r:        body,
			total:    resp.ContentLength,
			progress: opts.Progress,
		}
	}

	path, err := c.store.SaveBlob(ctx, "media_"+sceneID, reader)
	if err != nil {
		return nil, CachedMedia{}, classifyFetchErr(url, err)
	}

	metrics.CacheDownloadBytesTotal.Add(float64(body.n))

	media := CachedMedia{
		SceneID:      sceneID,
		SourceURL:    url,
		ProjectID:    projectID,
		MimeType:     resp.Header.Get("Content-Type"),
		Size:         body.n,
		DownloadedAt: time.Now(),
	}
	return &Handle{path: path}, media, nil
}

// classifyFetchErr distinguishes timeouts from other network failures.
func classifyFetchErr(url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrDownloadTimeout, url)
	}
	return &DownloadError{URL: url, Err: err}
}

// DownloadProject fans out over all scenes that declare media. A
// single scene's failure is logged and excluded from the result map;
// it never aborts sibling downloads.
func (c *Cache) DownloadProject(ctx context.Context, scenes []scene.Scene, projectID string, opts Options) map[string]*Handle {
	result := make(map[string]*Handle)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, sc := range scenes {
		if !sc.HasMedia() {
			continue
		}
		wg.Add(1)
		go func(sc scene.Scene) {
			defer wg.Done()
			handle, err := c.Download(ctx, sc.MediaURL, sc.ID, projectID, sc.MediaKind, opts)
			if err != nil {
				c.logger.Warn("scene media download failed",
					slog.String("scene_id", sc.ID),
					slog.String("project_id", projectID),
					slog.String("url", sc.MediaURL),
					slog.String("error", err.Error()),
				)
				return
			}
			mu.Lock()
			result[sc.ID] = handle
			mu.Unlock()
		}(sc)
	}
	wg.Wait()

	return result
}

// IsCached reports whether media for (url, sceneID) is cached.
// Synchronous and side-effect free.
func (c *Cache) IsCached(url, sceneID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[cacheKey{sceneID: sceneID, url: url}]
	return ok
}

// HandleIfCached returns the local handle for (url, sceneID), or nil
// if the media is not cached. Synchronous and side-effect free.
func (c *Cache) HandleIfCached(url, sceneID string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[cacheKey{sceneID: sceneID, url: url}]; ok {
		return e.handle
	}
	return nil
}

// Info returns the metadata of a cached entry.
func (c *Cache) Info(url, sceneID string) (CachedMedia, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[cacheKey{sceneID: sceneID, url: url}]; ok {
		return e.media, true
	}
	return CachedMedia{}, false
}

// Release revokes the local handle for (url, sceneID) and removes the
// cache entry. Safe to call on a non-existent key (no-op).
func (c *Cache) Release(url, sceneID string) {
	k := cacheKey{sceneID: sceneID, url: url}

	c.mu.Lock()
	e, ok := c.entries[k]
	if ok {
		delete(c.entries, k)
		metrics.CacheEntries.Set(float64(len(c.entries)))
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	c.revokeEntry(e)
}

// Cleanup revokes all handles and clears all state. It is invoked on
// graceful shutdown and available for explicit invocation, e.g. when
// a project is closed or between tests.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	released := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		released = append(released, e)
	}
	c.entries = make(map[cacheKey]*cacheEntry)
	metrics.CacheEntries.Set(0)
	c.mu.Unlock()

	for _, e := range released {
		c.revokeEntry(e)
	}
}

// revokeEntry revokes the handle and deletes the blob, exactly once.
func (c *Cache) revokeEntry(e *cacheEntry) {
	if !e.handle.revoke() {
		return
	}
	if err := c.store.RemoveBlobs(context.Background(), []string{e.handle.path}); err != nil {
		c.logger.Warn("failed to remove cached media blob",
			slog.String("path", e.handle.path),
			slog.String("error", err.Error()),
		)
	}
}

// Stats returns the cache's current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, e := range c.entries {
		total += e.media.Size
	}
	return Stats{
		Entries:    len(c.entries),
		InFlight:   len(c.inflight),
		TotalBytes: total,
	}
}

// countingReader counts bytes read from the wrapped reader.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// progressReader reports download progress as a fraction of the known
// content length. Fractions are capped at 1 so a lying origin cannot
// produce values outside [0,1].
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress func(float64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.read += int64(n)
		fraction := float64(pr.read) / float64(pr.total)
		if fraction > 1 {
			fraction = 1
		}
		pr.progress(fraction)
	}
	return n, err
}
