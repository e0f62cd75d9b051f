// Package mediaprobe determines intrinsic pixel dimensions and aspect
// ratios of remote media. Images are inspected by decoding only the
// header; videos are probed metadata-only via ffprobe. No playback is
// ever triggered and no handles are retained after a probe resolves.
package mediaprobe

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp" // WebP format support

	"github.com/sceneforge/preview-api/internal/scene"
)

// DecodeError is returned when media cannot be decoded (bad URL,
// unsupported format, corrupt data). It is not retryable without a
// different URL.
type DecodeError struct {
	// URL is the media URL that failed to decode.
	URL string
	// Err is the underlying decode failure.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("mediaprobe: decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Dimensions holds the result of analyzing a piece of media.
type Dimensions struct {
	// Width is the intrinsic pixel width.
	Width int
	// Height is the intrinsic pixel height.
	Height int
	// AspectRatio is Width/Height.
	AspectRatio float64
}

// Analyzer inspects remote media for intrinsic dimensions.
type Analyzer struct {
	httpClient *http.Client
	ffprobe    *FFprobe
}

// AnalyzerOption is a function that configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithHTTPClient sets a custom HTTP client for image fetches.
func WithHTTPClient(c *http.Client) AnalyzerOption {
	return func(a *Analyzer) {
		a.httpClient = c
	}
}

// WithFFprobe sets a custom ffprobe runner for video probes.
func WithFFprobe(p *FFprobe) AnalyzerOption {
	return func(a *Analyzer) {
		a.ffprobe = p
	}
}

// NewAnalyzer creates a new Analyzer.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		ffprobe:    NewFFprobe(""),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze determines the intrinsic dimensions and aspect ratio of the
// media at url. Galleries are sized by analyzing only their first
// item as an image; multi-item analysis is deliberately not performed.
// Failures are local and recoverable: callers decide whether to retry,
// fall back to a default ratio, or surface an error.
func (a *Analyzer) Analyze(ctx context.Context, url string, kind scene.MediaKind) (Dimensions, error) {
	switch kind {
	case scene.KindVideo:
		return a.analyzeVideo(ctx, url)
	case scene.KindImage, scene.KindGallery:
		return a.analyzeImage(ctx, url)
	default:
		return Dimensions{}, fmt.Errorf("mediaprobe: unsupported media kind %q", kind)
	}
}

// analyzeImage fetches the image and decodes only its header.
func (a *Analyzer) analyzeImage(ctx context.Context, url string) (Dimensions, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Dimensions{}, &DecodeError{URL: url, Err: err}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Dimensions{}, &DecodeError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Dimensions{}, &DecodeError{URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	cfg, _, err := image.DecodeConfig(resp.Body)
	if err != nil {
		return Dimensions{}, &DecodeError{URL: url, Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Dimensions{}, &DecodeError{URL: url, Err: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}

	return Dimensions{
		Width:       cfg.Width,
		Height:      cfg.Height,
		AspectRatio: float64(cfg.Width) / float64(cfg.Height),
	}, nil
}

// analyzeVideo probes the video metadata without decoding frames.
func (a *Analyzer) analyzeVideo(ctx context.Context, url string) (Dimensions, error) {
	result, err := a.ffprobe.Probe(ctx, url)
	if err != nil {
		return Dimensions{}, &DecodeError{URL: url, Err: err}
	}

	return Dimensions{
		Width:       result.Width,
		Height:      result.Height,
		AspectRatio: float64(result.Width) / float64(result.Height),
	}, nil
}
