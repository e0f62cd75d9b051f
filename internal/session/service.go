package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sceneforge/preview-api/internal/composer"
	"github.com/sceneforge/preview-api/internal/mediacache"
	"github.com/sceneforge/preview-api/internal/mediaprobe"
	"github.com/sceneforge/preview-api/internal/metrics"
	"github.com/sceneforge/preview-api/internal/scene"
	"github.com/sceneforge/preview-api/internal/storage"
)

// ErrInvalidScene is returned when a scene cannot back a preview.
var ErrInvalidScene = errors.New("session: invalid scene")

// Service orchestrates the preview session lifecycle: media analysis,
// canvas preparation, source binding, transport and export.
type Service struct {
	repo     Repository
	cache    *mediacache.Cache
	analyzer *mediaprobe.Analyzer
	factory  composer.EngineFactory
	store    storage.Storage
	logger   *slog.Logger

	baseWidth       int
	downloadTimeout time.Duration
}

// ServiceOption is a function that configures a Service.
type ServiceOption func(*Service)

// WithBaseWidth sets the canvas base width for new sessions.
func WithBaseWidth(w int) ServiceOption {
	return func(s *Service) {
		if w > 0 {
			s.baseWidth = w
		}
	}
}

// WithDownloadTimeout bounds each media download.
func WithDownloadTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.downloadTimeout = d
		}
	}
}

// CreateOption configures a single preview creation.
type CreateOption func(*Session)

// WithLetterboxing controls how the media fits the canvas: enabled
// preserves the whole frame behind bars, disabled crops to fill.
func WithLetterboxing(enabled bool) CreateOption {
	return func(s *Session) {
		s.letterboxing = enabled
	}
}

// NewService creates a new session Service.
func NewService(
	repo Repository,
	cache *mediacache.Cache,
	analyzer *mediaprobe.Analyzer,
	factory composer.EngineFactory,
	store storage.Storage,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:            repo,
		cache:           cache,
		analyzer:        analyzer,
		factory:         factory,
		store:           store,
		logger:          logger,
		baseWidth:       1080,
		downloadTimeout: mediacache.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePreview builds a new preview session for the scene: the canvas
// is sized from the best known aspect ratio, the engine prepared, and
// the media bound through the download cache. The session is persisted
// before the media finishes loading; readiness arrives asynchronously
// through the session view.
func (s *Service) CreatePreview(ctx context.Context, sc scene.Scene, projectRatio float64, opts ...CreateOption) (View, error) {
	if sc.ID == "" {
		return View{}, fmt.Errorf("%w: missing scene id", ErrInvalidScene)
	}
	if !sc.MediaKind.IsValid() {
		return View{}, fmt.Errorf("%w: unknown media kind %q", ErrInvalidScene, sc.MediaKind)
	}
	if !sc.HasMedia() {
		return View{}, fmt.Errorf("%w: scene has no media", ErrInvalidScene)
	}

	// Fill in intrinsic dimensions when the scene does not declare
	// them. Analysis failure is not fatal; the ratio resolution falls
	// back to the project ratio or the portrait default.
	if sc.DeclaredRatio() == 0 {
		dims, err := s.analyzer.Analyze(ctx, sc.MediaURL, sc.MediaKind)
		if err != nil {
			s.logger.Warn("media analysis failed, falling back to project ratio",
				slog.String("scene_id", sc.ID),
				slog.String("url", sc.MediaURL),
				slog.String("error", err.Error()),
			)
		} else {
			sc.Width = dims.Width
			sc.Height = dims.Height
		}
	}

	sess := New(sc, projectRatio)
	for _, opt := range opts {
		opt(sess)
	}
	bridge := composer.New(s.factory, s.cache, s.logger, composer.Callbacks{
		OnReady:          sess.markReady,
		OnDurationChange: sess.setDuration,
		OnError:          sess.setError,
		OnTimeUpdate:     sess.setLastTime,
	}, composer.WithDownloadOptions(mediacache.Options{Timeout: s.downloadTimeout}))
	sess.AttachBridge(bridge)

	if err := bridge.Prepare(ctx, sc, projectRatio, s.baseWidth); err != nil {
		bridge.Dispose()
		return View{}, fmt.Errorf("prepare session: %w", err)
	}
	if err := bridge.BindSource(ctx); err != nil {
		bridge.Dispose()
		return View{}, fmt.Errorf("bind source: %w", err)
	}

	if err := s.repo.Save(ctx, sess); err != nil {
		bridge.Dispose()
		return View{}, fmt.Errorf("save session: %w", err)
	}
	metrics.SessionsActive.Inc()

	s.logger.Info("preview session created",
		slog.String("session_id", sess.ID),
		slog.String("scene_id", sc.ID),
		slog.String("media_kind", string(sc.MediaKind)),
	)
	return sess.View(), nil
}

// GetSession returns a snapshot of the session.
func (s *Service) GetSession(ctx context.Context, id string) (View, error) {
	sess, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	return sess.View(), nil
}

// ListSessions returns snapshots of all live sessions.
func (s *Service) ListSessions(ctx context.Context) ([]View, error) {
	sessions, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sess.View())
	}
	return views, nil
}

// Play starts playback for the session.
func (s *Service) Play(ctx context.Context, id string) (View, error) {
	sess, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := sess.Bridge().Play(); err != nil {
		return View{}, fmt.Errorf("play: %w", err)
	}
	return sess.View(), nil
}

// Pause halts playback for the session.
func (s *Service) Pause(ctx context.Context, id string) (View, error) {
	sess, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := sess.Bridge().Pause(); err != nil {
		return View{}, fmt.Errorf("pause: %w", err)
	}
	return sess.View(), nil
}

// Seek moves the session playhead to t seconds. Seeks issued before
// the session is ready are queued, never dropped.
func (s *Service) Seek(ctx context.Context, id string, t float64) (View, error) {
	sess, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := sess.Bridge().Seek(t); err != nil {
		return View{}, fmt.Errorf("seek: %w", err)
	}
	return sess.View(), nil
}

// ExportFrame renders the composited frame at the current playhead and
// uploads it, returning the public URL.
func (s *Service) ExportFrame(ctx context.Context, id string) (string, error) {
	sess, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	frame, err := sess.Bridge().ExportFrame(ctx)
	if err != nil {
		return "", fmt.Errorf("export frame: %w", err)
	}

	key := fmt.Sprintf("exports/%s/%d.png", sess.ID, time.Now().Unix())
	url, err := s.store.UploadExport(ctx, key, bytes.NewReader(frame))
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}

	s.logger.Info("frame exported",
		slog.String("session_id", sess.ID),
		slog.String("key", key),
	)
	return url, nil
}

// CloseSession disposes the session's engine resources and removes it
// from the repository. Cached media is left in place so a follow-up
// session for the same scene re-attaches without re-downloading; blobs
// are reclaimed by cache cleanup.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	sess, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	sess.Bridge().Dispose()
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	metrics.SessionsActive.Dec()

	s.logger.Info("preview session closed", slog.String("session_id", id))
	return nil
}

// PrefetchProject downloads media for every scene in the project that
// declares one. Per-scene failures are logged and skipped; the result
// reports which scenes are now locally available.
func (s *Service) PrefetchProject(ctx context.Context, projectID string, scenes []scene.Scene) []string {
	handles := s.cache.DownloadProject(ctx, scenes, projectID, mediacache.Options{
		Timeout: s.downloadTimeout,
	})
	cached := make([]string, 0, len(handles))
	for sceneID := range handles {
		cached = append(cached, sceneID)
	}
	return cached
}

// CacheStats returns the media cache occupancy.
func (s *Service) CacheStats() mediacache.Stats {
	return s.cache.Stats()
}
