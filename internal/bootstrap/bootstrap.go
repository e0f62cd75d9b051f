// Package bootstrap provides dependency initialization for the preview API.
package bootstrap

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sceneforge/preview-api/internal/config"
	"github.com/sceneforge/preview-api/internal/engine"
	"github.com/sceneforge/preview-api/internal/mediacache"
	"github.com/sceneforge/preview-api/internal/mediaprobe"
	"github.com/sceneforge/preview-api/internal/session"
	"github.com/sceneforge/preview-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	SessionService *session.Service
	MediaCache     *mediacache.Cache
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize the media download cache
	cache := mediacache.New(store, logger)

	// Initialize the media analyzer and engine factory
	ffprobe := mediaprobe.NewFFprobe(cfg.FFprobePath)
	analyzer := mediaprobe.NewAnalyzer(mediaprobe.WithFFprobe(ffprobe))
	factory := engine.NewFactory(cfg.FFmpegPath, ffprobe, logger)

	// Initialize session repository and service
	repo := session.NewMemoryRepository()
	svc := session.NewService(
		repo,
		cache,
		analyzer,
		factory,
		store,
		logger,
		session.WithBaseWidth(cfg.BaseWidth),
		session.WithDownloadTimeout(time.Duration(cfg.DownloadTimeoutSec)*time.Second),
	)

	return &Dependencies{
		SessionService: svc,
		MediaCache:     cache,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.BlobDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("blob_dir", cfg.BlobDir),
	)
	return localStore, nil
}
