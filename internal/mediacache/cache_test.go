package mediacache

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sceneforge/preview-api/internal/scene"
	"github.com/sceneforge/preview-api/internal/storage"
)

func setupCache(t *testing.T) *Cache {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	c := New(store, logger)
	t.Cleanup(c.Cleanup)
	return c
}

func TestCache_Download(t *testing.T) {
	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("fake mp4 bytes"))
	}))
	defer srv.Close()

	c := setupCache(t)
	ctx := context.Background()

	t.Run("downloads and caches", func(t *testing.T) {
		fetches.Store(0)
		url := srv.URL + "/video1.mp4"

		handle, err := c.Download(ctx, url, "scene-1", "proj-1", scene.KindVideo, Options{})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if !handle.Valid() {
			t.Error("expected valid handle")
		}
		content, err := os.ReadFile(handle.Path())
		if err != nil {
			t.Fatalf("read blob: %v", err)
		}
		if string(content) != "fake mp4 bytes" {
			t.Errorf("blob content = %q", content)
		}

		if !c.IsCached(url, "scene-1") {
			t.Error("IsCached() = false after download")
		}
		media, ok := c.Info(url, "scene-1")
		if !ok {
			t.Fatal("Info() missing entry")
		}
		if media.MimeType != "video/mp4" {
			t.Errorf("MimeType = %q, want video/mp4", media.MimeType)
		}
		if media.Size != int64(len("fake mp4 bytes")) {
			t.Errorf("Size = %d", media.Size)
		}

		// Second call resolves from cache without network access
		again, err := c.Download(ctx, url, "scene-1", "proj-1", scene.KindVideo, Options{})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if again != handle {
			t.Error("cached download returned a different handle")
		}
		if fetches.Load() != 1 {
			t.Errorf("fetch count = %d, want 1", fetches.Load())
		}
	})

	t.Run("same URL in different scenes is fetched per scene", func(t *testing.T) {
		fetches.Store(0)
		url := srv.URL + "/shared.mp4"

		h1, err := c.Download(ctx, url, "scene-a", "proj-1", scene.KindVideo, Options{})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		h2, err := c.Download(ctx, url, "scene-b", "proj-1", scene.KindVideo, Options{})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if h1 == h2 {
			t.Error("expected distinct handles per scene")
		}
		if fetches.Load() != 2 {
			t.Errorf("fetch count = %d, want 2", fetches.Load())
		}
	})
}

func TestCache_DownloadDeduplication(t *testing.T) {
	var fetches atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		<-release
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := setupCache(t)
	ctx := context.Background()
	url := srv.URL + "/video1.mp4"

	const callers = 8
	handles := make([]*Handle, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = c.Download(ctx, url, "scene-1", "proj-1", scene.KindVideo, Options{})
		}(i)
	}

	// Let all callers reach the cache before the origin responds
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := fetches.Load(); got != 1 {
		t.Errorf("fetch count = %d, want exactly 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if handles[i] != handles[0] {
			t.Errorf("caller %d received a different handle", i)
		}
	}
}

func TestCache_DownloadFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.mp4":
			w.WriteHeader(http.StatusNotFound)
		case "/slow.mp4":
			time.Sleep(500 * time.Millisecond)
			_, _ = w.Write([]byte("late"))
		}
	}))
	defer srv.Close()

	c := setupCache(t)
	ctx := context.Background()

	t.Run("non-2xx preserves status", func(t *testing.T) {
		url := srv.URL + "/missing.mp4"
		_, err := c.Download(ctx, url, "scene-1", "proj-1", scene.KindVideo, Options{})

		var dlErr *DownloadError
		if !errors.As(err, &dlErr) {
			t.Fatalf("Download() error = %v, want *DownloadError", err)
		}
		if dlErr.Status != http.StatusNotFound {
			t.Errorf("Status = %d, want 404", dlErr.Status)
		}
		if c.IsCached(url, "scene-1") {
			t.Error("failed download must not create a cache entry")
		}
	})

	t.Run("timeout surfaces distinctly", func(t *testing.T) {
		url := srv.URL + "/slow.mp4"
		_, err := c.Download(ctx, url, "scene-2", "proj-1", scene.KindVideo, Options{
			Timeout: 50 * time.Millisecond,
		})
		if !errors.Is(err, ErrDownloadTimeout) {
			t.Fatalf("Download() error = %v, want ErrDownloadTimeout", err)
		}
		if c.IsCached(url, "scene-2") {
			t.Error("timed-out download must not create a cache entry")
		}

		// In-flight entry must be cleared so a retry can start fresh
		if got := c.Stats().InFlight; got != 0 {
			t.Errorf("InFlight = %d, want 0 after failure", got)
		}
	})
}

func TestCache_Progress(t *testing.T) {
	payload := make([]byte, 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunked.mp4" {
			// No Content-Length: force chunked transfer
			w.WriteHeader(http.StatusOK)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			_, _ = w.Write(payload)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := setupCache(t)
	ctx := context.Background()

	t.Run("monotonic fractions when content length known", func(t *testing.T) {
		var fractions []float64
		_, err := c.Download(ctx, srv.URL+"/sized.mp4", "scene-1", "proj-1", scene.KindVideo, Options{
			Progress: func(f float64) { fractions = append(fractions, f) },
		})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if len(fractions) == 0 {
			t.Fatal("expected progress callbacks")
		}
		prev := 0.0
		for i, f := range fractions {
			if f < prev || f < 0 || f > 1 {
				t.Fatalf("fraction[%d] = %v not monotonic in [0,1] (prev %v)", i, f, prev)
			}
			prev = f
		}
		if fractions[len(fractions)-1] != 1 {
			t.Errorf("final fraction = %v, want 1", fractions[len(fractions)-1])
		}
	})

	t.Run("no progress without content length", func(t *testing.T) {
		calls := 0
		_, err := c.Download(ctx, srv.URL+"/chunked.mp4", "scene-2", "proj-1", scene.KindVideo, Options{
			Progress: func(float64) { calls++ },
		})
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if calls != 0 {
			t.Errorf("progress calls = %d, want 0 when content length unknown", calls)
		}
	})
}

func TestCache_DownloadProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.mp4" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := setupCache(t)

	scenes := []scene.Scene{
		{ID: "s1", ProjectID: "p1", MediaURL: srv.URL + "/a.mp4", MediaKind: scene.KindVideo},
		{ID: "s2", ProjectID: "p1", MediaURL: srv.URL + "/bad.mp4", MediaKind: scene.KindVideo},
		{ID: "s3", ProjectID: "p1", MediaURL: srv.URL + "/b.jpg", MediaKind: scene.KindImage},
		{ID: "s4", ProjectID: "p1"}, // text-only scene, no media
	}

	result := c.DownloadProject(context.Background(), scenes, "p1", Options{})

	if len(result) != 2 {
		t.Fatalf("result size = %d, want 2", len(result))
	}
	if result["s1"] == nil || result["s3"] == nil {
		t.Error("expected handles for s1 and s3")
	}
	if _, ok := result["s2"]; ok {
		t.Error("failed scene must be excluded from result")
	}
	if _, ok := result["s4"]; ok {
		t.Error("scene without media must be excluded from result")
	}
}

func TestCache_Release(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	c := setupCache(t)
	ctx := context.Background()
	url := srv.URL + "/video1.mp4"

	handle, err := c.Download(ctx, url, "scene-1", "proj-1", scene.KindVideo, Options{})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	path := handle.Path()

	c.Release(url, "scene-1")

	if c.IsCached(url, "scene-1") {
		t.Error("IsCached() = true after Release")
	}
	if handle.Valid() {
		t.Error("handle still valid after Release")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("blob file still exists after Release")
	}

	// Releasing a non-existent key is a no-op
	c.Release(url, "scene-1")
	c.Release("https://cdn.example/other.mp4", "scene-9")
}

func TestCache_Cleanup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	c := setupCache(t)
	ctx := context.Background()

	h1, err := c.Download(ctx, srv.URL+"/a.mp4", "s1", "p1", scene.KindVideo, Options{})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	h2, err := c.Download(ctx, srv.URL+"/b.mp4", "s2", "p1", scene.KindVideo, Options{})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	c.Cleanup()

	if got := c.Stats().Entries; got != 0 {
		t.Errorf("Entries = %d after Cleanup, want 0", got)
	}
	if h1.Valid() || h2.Valid() {
		t.Error("handles still valid after Cleanup")
	}

	// Cleanup twice must not double-revoke
	c.Cleanup()
}

func TestCache_HandleIfCached(t *testing.T) {
	c := setupCache(t)

	if h := c.HandleIfCached("https://cdn.example/x.mp4", "s1"); h != nil {
		t.Errorf("HandleIfCached() = %v for missing entry, want nil", h)
	}
}
