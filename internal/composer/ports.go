package composer

import (
	"context"

	"github.com/sceneforge/preview-api/internal/scene"
)

// Canvas describes the pixel surface an engine composites onto.
type Canvas struct {
	// Width is the canvas width in pixels.
	Width int
	// Height is the canvas height in pixels.
	Height int
}

// SourceInfo holds the intrinsic properties of a bound source as
// reported by the engine once the source has loaded.
type SourceInfo struct {
	// Width is the decoded pixel width.
	Width int
	// Height is the decoded pixel height.
	Height int
	// Duration is the media duration in seconds (0 for stills).
	Duration float64
}

// LoadedFunc is the engine's asynchronous "loaded" notification for a
// source node. A non-nil error means the source failed to decode.
type LoadedFunc func(info SourceInfo, err error)

// Source is an engine-internal unit representing one decoded media
// input connected into the composition's output graph.
type Source interface {
	// Info returns the source's intrinsic properties. Only meaningful
	// after the loaded notification has fired.
	Info() SourceInfo

	// Disconnect removes the source from the engine's output graph and
	// releases its decode resources.
	Disconnect() error
}

// Engine defines the interface for a timeline-based, canvas-rendered
// composition engine. Implementations own native decode resources and
// must be explicitly closed.
type Engine interface {
	// CreateSource binds the media at input (a local path or URL) into
	// the engine's output graph with the given start and stop times in
	// seconds. The loaded callback fires asynchronously once the
	// engine has decoded enough to know the source's intrinsic
	// properties.
	CreateSource(ctx context.Context, input string, kind scene.MediaKind, start, stop float64, loaded LoadedFunc) (Source, error)

	// Play starts playback from the current playhead.
	Play() error

	// Pause halts playback, keeping the playhead.
	Pause() error

	// Seek moves the playhead to t seconds.
	Seek(t float64) error

	// CurrentTime returns the playhead position in seconds.
	CurrentTime() float64

	// Close releases the engine instance and all native resources.
	Close() error
}

// FrameExporter is an optional engine capability: rendering the
// composited frame at a point in time as an encoded image.
type FrameExporter interface {
	// ExportFrame renders the frame at t seconds and returns PNG bytes.
	ExportFrame(ctx context.Context, t float64) ([]byte, error)
}

// EngineFactory constructs an engine bound to a canvas. The bridge
// accepts the factory as an injected dependency so the core stays
// testable without a real engine.
type EngineFactory func(canvas Canvas) (Engine, error)

// Callbacks are the consumer-supplied notification hooks. Nil
// callbacks are skipped.
type Callbacks struct {
	// OnReady fires exactly once per session when the source is loaded
	// and the session becomes seekable/playable.
	OnReady func(duration float64)
	// OnError fires when the session enters the error state, with a
	// normalized error. The session is not auto-recovered.
	OnError func(err error)
	// OnDurationChange fires when the intrinsic duration is discovered.
	OnDurationChange func(duration float64)
	// OnTimeUpdate fires when the playhead is reassigned by a seek.
	OnTimeUpdate func(t float64)
}
