// Package composer wraps an external timeline-based, canvas-rendered
// composition engine behind an explicit session state machine. The
// bridge's only responsibility is translating the engine's
// callback-based notifications into ordered state transitions, so
// readiness is a function of state rather than of reconciling
// independent flags.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sceneforge/preview-api/internal/aspect"
	"github.com/sceneforge/preview-api/internal/mediacache"
	"github.com/sceneforge/preview-api/internal/metrics"
	"github.com/sceneforge/preview-api/internal/scene"
)

// provisionalStopSeconds is the generous stop bound assigned to a
// freshly bound source before its real duration is known. The bound
// is corrected once the engine reports loaded.
const provisionalStopSeconds = 3600.0

// defaultBaseWidth is the canvas base width used when the caller does
// not specify a target resolution.
const defaultBaseWidth = 1080

// Bridge is one active binding between a scene's media and a
// composition engine. A bridge serves exactly one session: to change
// the scene's media, dispose the bridge and build a new one.
type Bridge struct {
	factory EngineFactory
	cache   *mediacache.Cache
	logger  *slog.Logger
	cb      Callbacks

	mu     sync.Mutex
	state  State
	engine Engine
	source Source
	canvas Canvas

	sc           scene.Scene
	projectRatio float64

	duration     float64
	liveInfo     SourceInfo
	hasLiveInfo  bool
	pendingSeek  float64
	hasPending   bool
	readyFired   bool
	errorFired   bool
	downloadOpts mediacache.Options
}

// BridgeOption is a function that configures a Bridge.
type BridgeOption func(*Bridge)

// WithDownloadOptions sets the cache download options used when
// binding remote video.
func WithDownloadOptions(opts mediacache.Options) BridgeOption {
	return func(b *Bridge) {
		b.downloadOpts = opts
	}
}

// New creates a Bridge in the uninitialized state.
func New(factory EngineFactory, cache *mediacache.Cache, logger *slog.Logger, cb Callbacks, opts ...BridgeOption) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		factory: factory,
		cache:   cache,
		logger:  logger,
		cb:      cb,
		state:   StateUninitialized,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the session's current state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Canvas returns the canvas dimensions computed during Prepare.
func (b *Bridge) Canvas() Canvas {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canvas
}

// Duration returns the discovered media duration in seconds, 0 until
// the session is ready.
func (b *Bridge) Duration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duration
}

// Layout returns the letterbox/pillarbox geometry for placing the
// media inside the project canvas. Before the source loads, the
// declared or fallback ratio drives the result; live engine-reported
// dimensions take over once the session is ready.
func (b *Bridge) Layout(letterboxing bool) aspect.Layout {
	b.mu.Lock()
	var live *aspect.Dimensions
	if b.hasLiveInfo {
		live = &aspect.Dimensions{Width: b.liveInfo.Width, Height: b.liveInfo.Height}
	}
	sc := b.sc
	projectRatio := b.projectRatio
	b.mu.Unlock()

	mediaRatio := aspect.Resolve(live, sc.DeclaredRatio(), projectRatio, sc.MediaKind)
	return aspect.LayoutFor(mediaRatio, projectRatio, letterboxing)
}

// CurrentTime returns the engine playhead in seconds, or the queued
// seek target while the session is still preparing.
func (b *Bridge) CurrentTime() float64 {
	b.mu.Lock()
	engine := b.engine
	state := b.state
	pending, hasPending := b.pendingSeek, b.hasPending
	b.mu.Unlock()

	switch state {
	case StateReady, StatePlaying, StatePaused:
		return engine.CurrentTime()
	default:
		if hasPending {
			return pending
		}
		return 0
	}
}

// Prepare computes the initial canvas dimensions from the best
// available aspect ratio scaled to baseWidth and constructs the
// canvas-bound engine instance. Transitions Uninitialized→Preparing.
func (b *Bridge) Prepare(ctx context.Context, sc scene.Scene, projectRatio float64, baseWidth int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	if baseWidth <= 0 {
		baseWidth = defaultBaseWidth
	}

	b.mu.Lock()
	if b.state == StateDisposed {
		b.mu.Unlock()
		return nil
	}
	if !canTransition(b.state, StatePreparing) {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("%w: prepare in %s", ErrInvalidState, state)
	}

	ratio := aspect.Resolve(nil, sc.DeclaredRatio(), projectRatio, sc.MediaKind)
	b.sc = sc
	b.projectRatio = projectRatio
	b.canvas = canvasFor(ratio, baseWidth)
	b.state = StatePreparing
	canvas := b.canvas
	b.mu.Unlock()

	engine, err := b.factory(canvas)
	if err != nil {
		return b.fail(fmt.Errorf("%w: %v", ErrEngineConstruction, err))
	}

	b.mu.Lock()
	if b.state == StateDisposed {
		// Disposed while the engine was being constructed
		b.mu.Unlock()
		if closeErr := engine.Close(); closeErr != nil {
			b.logger.Warn("close engine after dispose", slog.String("error", closeErr.Error()))
		}
		return nil
	}
	b.engine = engine
	b.mu.Unlock()

	return nil
}

// BindSource creates the engine source node for the scene's media.
// For remote video the media is first resolved to a locally seekable
// handle through the download cache; the source is never bound before
// that handle exists. Transitions Preparing→SourceBound.
func (b *Bridge) BindSource(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateDisposed {
		b.mu.Unlock()
		return nil
	}
	if b.state != StatePreparing || b.engine == nil {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("%w: bind source in %s", ErrInvalidState, state)
	}
	sc := b.sc
	engine := b.engine
	opts := b.downloadOpts
	b.mu.Unlock()

	input := sc.MediaURL
	if sc.MediaKind == scene.KindVideo {
		// Remote video must be fetched before engine binding to
		// guarantee frame-accurate seeking.
		handle, err := b.cache.Download(ctx, sc.MediaURL, sc.ID, sc.ProjectID, sc.MediaKind, opts)
		if err != nil {
			return b.fail(fmt.Errorf("resolve local handle: %w", err))
		}
		input = handle.Path()
	}

	// Source loading outlives this call: the loaded notification fires
	// after the caller (typically an HTTP request) has returned. Detach
	// from the request-scoped context so cancellation of the request
	// cannot kill a load already underway; the download above stays
	// request-scoped because it completes synchronously.
	source, err := engine.CreateSource(context.WithoutCancel(ctx), input, sc.MediaKind, 0, provisionalStopSeconds, b.handleLoaded)
	if err != nil {
		return b.fail(fmt.Errorf("%w: %v", ErrSourceCreation, err))
	}

	b.mu.Lock()
	if b.state == StateDisposed {
		b.mu.Unlock()
		if discErr := source.Disconnect(); discErr != nil {
			b.logger.Warn("disconnect source after dispose", slog.String("error", discErr.Error()))
		}
		return nil
	}
	b.source = source
	b.state = StateSourceBound
	b.mu.Unlock()

	return nil
}

// handleLoaded is the engine's loaded notification. It drives the
// SourceBound→Ready transition: duration discovery, the one-shot
// OnReady, and application of any queued seek.
func (b *Bridge) handleLoaded(info SourceInfo, loadErr error) {
	if loadErr != nil {
		_ = b.fail(fmt.Errorf("source load: %w", loadErr))
		return
	}

	b.mu.Lock()
	if b.state != StateSourceBound {
		// Disposed or failed while the engine was loading
		b.mu.Unlock()
		return
	}
	b.state = StateReady
	b.duration = info.Duration
	b.liveInfo = info
	b.hasLiveInfo = true
	fireReady := !b.readyFired
	b.readyFired = true
	duration := b.duration

	var seekTo float64
	applySeek := b.hasPending
	if applySeek {
		seekTo = clampSeek(b.pendingSeek, duration)
		b.hasPending = false
	}
	engine := b.engine
	b.mu.Unlock()

	if b.cb.OnDurationChange != nil {
		b.cb.OnDurationChange(duration)
	}
	if fireReady && b.cb.OnReady != nil {
		b.cb.OnReady(duration)
	}
	if applySeek {
		if err := engine.Seek(seekTo); err != nil {
			_ = b.fail(fmt.Errorf("apply queued seek: %w", err))
			return
		}
		if b.cb.OnTimeUpdate != nil {
			b.cb.OnTimeUpdate(seekTo)
		}
	}
}

// Play starts playback. Safe to call redundantly; a no-op with a
// logged warning before the session is ready.
func (b *Bridge) Play() error {
	b.mu.Lock()
	switch b.state {
	case StatePlaying:
		b.mu.Unlock()
		return nil
	case StateReady, StatePaused:
		engine := b.engine
		b.state = StatePlaying
		b.mu.Unlock()
		if err := engine.Play(); err != nil {
			return b.fail(fmt.Errorf("play: %w", err))
		}
		return nil
	default:
		state := b.state
		b.mu.Unlock()
		b.logger.Warn("play ignored before session is ready",
			slog.String("state", string(state)),
		)
		return nil
	}
}

// Pause halts playback. Safe to call redundantly; a no-op with a
// logged warning before the session is ready.
func (b *Bridge) Pause() error {
	b.mu.Lock()
	switch b.state {
	case StatePaused, StateReady:
		b.mu.Unlock()
		return nil
	case StatePlaying:
		engine := b.engine
		b.state = StatePaused
		b.mu.Unlock()
		if err := engine.Pause(); err != nil {
			return b.fail(fmt.Errorf("pause: %w", err))
		}
		return nil
	default:
		state := b.state
		b.mu.Unlock()
		b.logger.Warn("pause ignored before session is ready",
			slog.String("state", string(state)),
		)
		return nil
	}
}

// Seek moves the playhead to t seconds. The target is clamped into
// [0, duration] once the duration is known; before that only the
// lower bound is clamped. A seek issued while still preparing or
// binding is queued and applied once the session reaches ready —
// never dropped.
func (b *Bridge) Seek(t float64) error {
	b.mu.Lock()
	switch b.state {
	case StatePreparing, StateSourceBound:
		b.pendingSeek = clampSeek(t, 0)
		b.hasPending = true
		b.mu.Unlock()
		return nil
	case StateReady, StatePlaying, StatePaused:
		target := clampSeek(t, b.duration)
		engine := b.engine
		b.mu.Unlock()
		if err := engine.Seek(target); err != nil {
			return b.fail(fmt.Errorf("seek: %w", err))
		}
		if b.cb.OnTimeUpdate != nil {
			b.cb.OnTimeUpdate(target)
		}
		return nil
	default:
		state := b.state
		b.mu.Unlock()
		b.logger.Warn("seek ignored",
			slog.String("state", string(state)),
			slog.Float64("time", t),
		)
		return nil
	}
}

// ExportFrame renders the composited frame at the current playhead.
// Valid once the session is ready; returns ErrExportUnsupported when
// the engine lacks the capability.
func (b *Bridge) ExportFrame(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	switch b.state {
	case StateReady, StatePlaying, StatePaused:
	default:
		state := b.state
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: export frame in %s", ErrInvalidState, state)
	}
	engine := b.engine
	b.mu.Unlock()

	exporter, ok := engine.(FrameExporter)
	if !ok {
		return nil, ErrExportUnsupported
	}
	return exporter.ExportFrame(ctx, engine.CurrentTime())
}

// Dispose releases the engine instance and any source nodes. Valid
// from any state, idempotent, and the only path to the disposed
// state. All operations after Dispose are no-ops.
func (b *Bridge) Dispose() {
	b.mu.Lock()
	if b.state == StateDisposed {
		b.mu.Unlock()
		return
	}
	b.state = StateDisposed
	source := b.source
	engine := b.engine
	b.source = nil
	b.engine = nil
	b.mu.Unlock()

	if source != nil {
		if err := source.Disconnect(); err != nil {
			b.logger.Warn("disconnect source", slog.String("error", err.Error()))
		}
	}
	if engine != nil {
		if err := engine.Close(); err != nil {
			b.logger.Warn("close engine", slog.String("error", err.Error()))
		}
	}
}

// fail normalizes err, transitions to the error state and notifies
// the consumer. The session is not auto-recovered.
func (b *Bridge) fail(err error) error {
	b.mu.Lock()
	if !canTransition(b.state, StateError) {
		b.mu.Unlock()
		return err
	}
	normalized := &EngineError{State: b.state, Err: err}
	b.state = StateError
	fire := !b.errorFired
	b.errorFired = true
	b.mu.Unlock()

	metrics.SessionErrorsTotal.Inc()
	if fire && b.cb.OnError != nil {
		b.cb.OnError(normalized)
	}
	return normalized
}

// canvasFor scales the aspect ratio to the base width, rounding both
// dimensions to even values as composition engines require.
func canvasFor(ratio float64, baseWidth int) Canvas {
	width := (baseWidth + 1) &^ 1
	height := int(float64(width)/ratio + 0.5)
	height = (height + 1) &^ 1
	return Canvas{Width: width, Height: height}
}

// clampSeek clamps t to [0, duration], leaving the upper bound open
// when the duration is not yet known.
func clampSeek(t, duration float64) float64 {
	if t < 0 {
		return 0
	}
	if duration > 0 && t > duration {
		return duration
	}
	return t
}
