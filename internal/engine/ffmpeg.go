// Package engine provides an ffmpeg-backed implementation of the
// composition engine port. Sources are probed metadata-only at bind
// time and the transport tracks a wall-clock playhead; composited
// frames are rendered on demand via the ffmpeg CLI.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/sceneforge/preview-api/internal/composer"
	"github.com/sceneforge/preview-api/internal/mediaprobe"
	"github.com/sceneforge/preview-api/internal/scene"
)

// Static errors for engine operations.
var (
	// ErrInvalidCanvas is returned when the canvas dimensions are not positive.
	ErrInvalidCanvas = errors.New("engine: canvas dimensions must be positive")
	// ErrEngineClosed is returned when an operation is attempted on a closed engine.
	ErrEngineClosed = errors.New("engine: engine is closed")
	// ErrSourceBound is returned when a second source is bound to the engine.
	ErrSourceBound = errors.New("engine: a source is already bound")
	// ErrNoSource is returned when transport is used without a bound source.
	ErrNoSource = errors.New("engine: no source bound")
	// ErrEmptyInput is returned when the source input is empty.
	ErrEmptyInput = errors.New("engine: source input is empty")
)

// prober resolves a source's intrinsic properties.
type prober interface {
	Probe(ctx context.Context, input string) (mediaprobe.ProbeResult, error)
}

var _ prober = (*mediaprobe.FFprobe)(nil)

// NewFactory returns a composer.EngineFactory backed by the ffmpeg
// and ffprobe CLIs. Empty paths default to the binaries on PATH.
func NewFactory(ffmpegPath string, probe *mediaprobe.FFprobe, logger *slog.Logger) composer.EngineFactory {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	var p prober = probe
	if probe == nil {
		p = mediaprobe.NewFFprobe("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(canvas composer.Canvas) (composer.Engine, error) {
		if canvas.Width <= 0 || canvas.Height <= 0 {
			return nil, fmt.Errorf("%w: %dx%d", ErrInvalidCanvas, canvas.Width, canvas.Height)
		}
		// Composition surfaces require even dimensions
		canvas.Width = (canvas.Width + 1) &^ 1
		canvas.Height = (canvas.Height + 1) &^ 1

		return &FFmpegEngine{
			canvas:     canvas,
			ffmpegPath: ffmpegPath,
			probe:      p,
			logger:     logger,
		}, nil
	}
}

// FFmpegEngine composites a single source onto a fixed-size canvas.
// One engine owns one canvas and at most one source at a time.
type FFmpegEngine struct {
	canvas     composer.Canvas
	ffmpegPath string
	probe      prober
	logger     *slog.Logger

	mu       sync.Mutex
	source   *ffmpegSource
	duration float64
	playhead float64
	playedAt time.Time
	playing  bool
	closed   bool
}

// Canvas returns the engine's canvas dimensions.
func (e *FFmpegEngine) Canvas() composer.Canvas {
	return e.canvas
}

// CreateSource binds the media at input into the engine. The probe
// runs asynchronously; the loaded callback fires once the intrinsic
// properties are known. The provisional stop bound is tolerated and
// corrected to the probed duration on load.
func (e *FFmpegEngine) CreateSource(ctx context.Context, input string, kind scene.MediaKind, start, stop float64, loaded composer.LoadedFunc) (composer.Source, error) {
	if input == "" {
		return nil, ErrEmptyInput
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	if e.source != nil {
		e.mu.Unlock()
		return nil, ErrSourceBound
	}
	src := &ffmpegSource{engine: e, input: input, kind: kind, start: start, stop: stop}
	e.source = src
	e.mu.Unlock()

	// The probe outlives this call; callers commonly pass a
	// request-scoped context that is cancelled as soon as they return.
	probeCtx := context.WithoutCancel(ctx)

	go func() {
		result, err := e.probe.Probe(probeCtx, input)
		if err != nil {
			loaded(composer.SourceInfo{}, err)
			return
		}

		info := composer.SourceInfo{
			Width:    result.Width,
			Height:   result.Height,
			Duration: result.Duration,
		}

		e.mu.Lock()
		if !e.closed && e.source == src {
			src.info = info
			e.duration = info.Duration
		}
		e.mu.Unlock()

		loaded(info, nil)
	}()

	return src, nil
}

// Play starts the wall-clock playhead.
func (e *FFmpegEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.source == nil {
		return ErrNoSource
	}
	if e.playing {
		return nil
	}
	e.playing = true
	e.playedAt = time.Now()
	return nil
}

// Pause halts the playhead at its current position.
func (e *FFmpegEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if !e.playing {
		return nil
	}
	e.playhead = e.currentTimeLocked()
	e.playing = false
	return nil
}

// Seek assigns the playhead.
func (e *FFmpegEngine) Seek(t float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.source == nil {
		return ErrNoSource
	}
	if t < 0 {
		t = 0
	}
	if e.duration > 0 && t > e.duration {
		t = e.duration
	}
	e.playhead = t
	e.playedAt = time.Now()
	return nil
}

// CurrentTime returns the playhead position in seconds.
func (e *FFmpegEngine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTimeLocked()
}

func (e *FFmpegEngine) currentTimeLocked() float64 {
	t := e.playhead
	if e.playing {
		t += time.Since(e.playedAt).Seconds()
	}
	if e.duration > 0 && t > e.duration {
		t = e.duration
	}
	return t
}

// ExportFrame renders the composited frame at t seconds as PNG bytes.
// The source is scaled to fit the canvas with black padding, matching
// the letterboxed presentation.
func (e *FFmpegEngine) ExportFrame(ctx context.Context, t float64) ([]byte, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	if e.source == nil {
		e.mu.Unlock()
		return nil, ErrNoSource
	}
	input := e.source.input
	kind := e.source.kind
	w, h := e.canvas.Width, e.canvas.Height
	e.mu.Unlock()

	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black",
		w, h, w, h,
	)

	args := []string{"-v", "error"}
	if kind == scene.KindVideo && t > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", t))
	}
	args = append(args,
		"-i", input,
		"-vf", filter,
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", "png",
		"pipe:1",
	)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return nil, &FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
	}

	return stdout.Bytes(), nil
}

// Close releases the engine and disconnects any bound source.
func (e *FFmpegEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.playing = false
	e.source = nil
	return nil
}

// ffmpegSource is the engine-internal handle for one bound input.
type ffmpegSource struct {
	engine *FFmpegEngine
	input  string
	kind   scene.MediaKind
	start  float64
	stop   float64
	info   composer.SourceInfo
}

// Info returns the probed intrinsic properties of the source.
func (s *ffmpegSource) Info() composer.SourceInfo {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return s.info
}

// Disconnect detaches the source from the engine.
func (s *ffmpegSource) Disconnect() error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if s.engine.source == s {
		s.engine.source = nil
	}
	return nil
}

// FFmpegError represents an error from running ffmpeg, including the
// stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
