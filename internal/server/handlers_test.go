package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sceneforge/preview-api/internal/composer"
	"github.com/sceneforge/preview-api/internal/mediacache"
	"github.com/sceneforge/preview-api/internal/mediaprobe"
	"github.com/sceneforge/preview-api/internal/scene"
	"github.com/sceneforge/preview-api/internal/session"
)

// fakeStorage keeps blobs and exports in memory.
type fakeStorage struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	exports map[string][]byte
	seq     int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		blobs:   make(map[string][]byte),
		exports: make(map[string][]byte),
	}
}

func (m *fakeStorage) SaveBlob(_ context.Context, name string, data io.Reader) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	path := fmt.Sprintf("/blobs/%s_%d", name, m.seq)
	m.blobs[path] = b
	return path, nil
}

func (m *fakeStorage) OpenBlob(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[path]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *fakeStorage) RemoveBlobs(_ context.Context, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		delete(m.blobs, p)
	}
	return nil
}

func (m *fakeStorage) UploadExport(_ context.Context, key string, data io.Reader) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports[key] = b
	return "https://exports.example.com/" + key, nil
}

// fakeEngine completes loading synchronously so sessions are ready as
// soon as the create request returns.
type fakeEngine struct {
	mu       sync.Mutex
	playhead float64
	duration float64
}

type fakeSource struct {
	e *fakeEngine
}

func (s *fakeSource) Info() composer.SourceInfo {
	return composer.SourceInfo{Duration: s.e.duration}
}

func (s *fakeSource) Disconnect() error { return nil }

func (e *fakeEngine) CreateSource(_ context.Context, _ string, _ scene.MediaKind, _, _ float64, loaded composer.LoadedFunc) (composer.Source, error) {
	src := &fakeSource{e: e}
	loaded(composer.SourceInfo{Width: 1920, Height: 1080, Duration: e.duration}, nil)
	return src, nil
}

func (e *fakeEngine) Play() error  { return nil }
func (e *fakeEngine) Pause() error { return nil }

func (e *fakeEngine) Seek(t float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playhead = t
	return nil
}

func (e *fakeEngine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playhead
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) ExportFrame(_ context.Context, _ float64) ([]byte, error) {
	return []byte("png-frame"), nil
}

// asyncFakeEngine defers the loaded notification until released and
// honors its context the way a real engine binding does.
type asyncFakeEngine struct {
	fakeEngine
	release chan struct{}
}

func (e *asyncFakeEngine) CreateSource(ctx context.Context, _ string, _ scene.MediaKind, _, _ float64, loaded composer.LoadedFunc) (composer.Source, error) {
	src := &fakeSource{e: &e.fakeEngine}
	go func() {
		<-e.release
		if err := ctx.Err(); err != nil {
			loaded(composer.SourceInfo{}, err)
			return
		}
		loaded(composer.SourceInfo{Width: 1920, Height: 1080, Duration: e.duration}, nil)
	}()
	return src, nil
}

type fixture struct {
	handlers *Handlers
	origin   *httptest.Server
}

func newTestHandlers(t *testing.T) *fixture {
	t.Helper()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fake video payload"))
	}))
	t.Cleanup(origin.Close)

	store := newFakeStorage()
	cache := mediacache.New(store, nil)
	t.Cleanup(cache.Cleanup)

	factory := func(composer.Canvas) (composer.Engine, error) {
		return &fakeEngine{duration: 10}, nil
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := session.NewService(session.NewMemoryRepository(), cache, mediaprobe.NewAnalyzer(), factory, store, logger)

	return &fixture{
		handlers: NewHandlers(svc, logger),
		origin:   origin,
	}
}

func (f *fixture) router(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewRouter(f.handlers, logger, DefaultConfig())
}

func (f *fixture) createSessionBody() []byte {
	body, _ := json.Marshal(CreateSessionRequest{
		Scene: SceneRequest{
			ID:        "scene-1",
			ProjectID: "project-1",
			MediaURL:  f.origin.URL + "/clip.mp4",
			MediaKind: "video",
			Width:     1920,
			Height:    1080,
		},
		ProjectRatio: 16.0 / 9.0,
	})
	return body
}

func (f *fixture) createSession(t *testing.T, router http.Handler) SessionResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(f.createSessionBody()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "preview_")
}

func TestCreateSession(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	resp := f.createSession(t, router)

	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "scene-1", resp.SceneID)
	assert.Equal(t, string(composer.StateReady), resp.State)
	assert.True(t, resp.Ready)
	assert.Equal(t, 1080, resp.Canvas.Width)
	assert.Equal(t, 608, resp.Canvas.Height)
	assert.Equal(t, 10.0, resp.Duration)
	// 16:9 media in a 16:9 project fills the canvas on both axes
	assert.Equal(t, LayoutResponse{Width: "100%", Height: "100%", ObjectFit: "contain"}, resp.Layout)
}

func TestCreateSession_LetterboxingDisabled(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	letterboxing := false
	body, _ := json.Marshal(CreateSessionRequest{
		Scene: SceneRequest{
			ID:        "scene-1",
			MediaURL:  f.origin.URL + "/clip.mp4",
			MediaKind: "video",
			Width:     1920,
			Height:    1080,
		},
		ProjectRatio: 16.0 / 9.0,
		Letterboxing: &letterboxing,
	})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, LayoutResponse{Width: "100%", Height: "100%", ObjectFit: "cover"}, resp.Layout)

	// The choice persists on the stored session as well.
	getReq := httptest.NewRequest(http.MethodGet, "/sessions/"+resp.ID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	var got SessionResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &got))
	assert.Equal(t, "cover", got.Layout.ObjectFit)
}

func TestCreateSession_ReadyAfterRequestReturns(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fake video payload"))
	}))
	t.Cleanup(origin.Close)

	store := newFakeStorage()
	cache := mediacache.New(store, nil)
	t.Cleanup(cache.Cleanup)

	eng := &asyncFakeEngine{fakeEngine: fakeEngine{duration: 10}, release: make(chan struct{})}
	factory := func(composer.Canvas) (composer.Engine, error) { return eng, nil }
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := session.NewService(session.NewMemoryRepository(), cache, mediaprobe.NewAnalyzer(), factory, store, logger)
	router := NewRouter(NewHandlers(svc, logger), logger, DefaultConfig())

	body, _ := json.Marshal(CreateSessionRequest{
		Scene: SceneRequest{
			ID:        "scene-1",
			MediaURL:  origin.URL + "/clip.mp4",
			MediaKind: "video",
			Width:     1920,
			Height:    1080,
		},
		ProjectRatio: 16.0 / 9.0,
	})

	// The server cancels the request context the moment the handler
	// returns; the engine is still loading at that point.
	reqCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body)).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	cancel()
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, string(composer.StateSourceBound), created.State)

	close(eng.release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		getReq := httptest.NewRequest(http.MethodGet, "/sessions/"+created.ID, nil)
		getRec := httptest.NewRecorder()
		router.ServeHTTP(getRec, getReq)
		require.Equal(t, http.StatusOK, getRec.Code)

		var got SessionResponse
		require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &got))
		if got.State == string(composer.StateReady) {
			assert.True(t, got.Ready)
			assert.Equal(t, 10.0, got.Duration)
			break
		}
		require.NotEqual(t, string(composer.StateError), got.State,
			"session failed after request cancellation: %s", got.Error)
		if time.Now().After(deadline) {
			t.Fatalf("session never became ready, state = %s", got.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateSession_InvalidJSON(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_JSON")
}

func TestCreateSession_ValidationError(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	tests := []struct {
		name string
		body CreateSessionRequest
	}{
		{"missing scene id", CreateSessionRequest{
			Scene: SceneRequest{MediaURL: "https://cdn.example.com/a.mp4", MediaKind: "video"},
		}},
		{"missing media url", CreateSessionRequest{
			Scene: SceneRequest{ID: "s1", MediaKind: "video"},
		}},
		{"unknown media kind", CreateSessionRequest{
			Scene: SceneRequest{ID: "s1", MediaURL: "https://cdn.example.com/a.mp4", MediaKind: "audio"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
		})
	}
}

func TestCreateSession_DownloadFailure(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer origin.Close()

	body, _ := json.Marshal(CreateSessionRequest{
		Scene: SceneRequest{
			ID:        "scene-1",
			MediaURL:  origin.URL + "/missing.mp4",
			MediaKind: "video",
			Width:     1920,
			Height:    1080,
		},
		ProjectRatio: 16.0 / 9.0,
	})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "MEDIA_DOWNLOAD_FAILED")
}

func TestGetSession(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)
	created := f.createSession(t, router)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+created.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.ID)
}

func TestListSessions(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp)

	created := f.createSession(t, router)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, created.ID, resp[0].ID)
}

func TestGetSession_NotFound(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions/nonexistent", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SESSION_NOT_FOUND")
}

func TestTransportEndpoints(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)
	created := f.createSession(t, router)

	play := httptest.NewRequest(http.MethodPost, "/sessions/"+created.ID+"/play", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, play)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(composer.StatePlaying), resp.State)

	seekBody, _ := json.Marshal(SeekRequest{Time: 2.5})
	seek := httptest.NewRequest(http.MethodPost, "/sessions/"+created.ID+"/seek", bytes.NewReader(seekBody))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, seek)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2.5, resp.CurrentTime)

	pause := httptest.NewRequest(http.MethodPost, "/sessions/"+created.ID+"/pause", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, pause)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(composer.StatePaused), resp.State)
}

func TestSeek_InvalidJSON(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)
	created := f.createSession(t, router)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+created.ID+"/seek", strings.NewReader("nope"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportFrame(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)
	created := f.createSession(t, router)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+created.ID+"/export", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ExportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.URL, "exports/"+created.ID+"/")
}

func TestDeleteSession(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)
	created := f.createSession(t, router)

	req := httptest.NewRequest(http.MethodDelete, "/sessions/"+created.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Second delete is a 404
	req = httptest.NewRequest(http.MethodDelete, "/sessions/"+created.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrefetchProject(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	body, _ := json.Marshal(PrefetchRequest{
		Scenes: []SceneRequest{
			{ID: "scene-1", MediaURL: f.origin.URL + "/a.mp4", MediaKind: "video"},
			{ID: "scene-2", MediaURL: f.origin.URL + "/b.mp4", MediaKind: "video"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/projects/project-1/prefetch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp PrefetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.CachedScenes, 2)
}

func TestPrefetchProject_EmptyScenes(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	body, _ := json.Marshal(PrefetchRequest{Scenes: []SceneRequest{}})
	req := httptest.NewRequest(http.MethodPost, "/projects/project-1/prefetch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestCacheStats(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)
	f.createSession(t, router)

	req := httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CacheStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Entries)
	assert.Positive(t, resp.TotalBytes)
}

func TestCORSPreflight(t *testing.T) {
	f := newTestHandlers(t)
	router := f.router(t)

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	req.Header.Set("Origin", "https://editor.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://editor.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/health", "/health"},
		{"/sessions", "/sessions"},
		{"/sessions/sess-123/play", "/sessions/{id}/play"},
		{"/projects/p1/prefetch", "/projects/{id}/prefetch"},
		{"/cache/stats", "/cache/stats"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in))
	}
}
