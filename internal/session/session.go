// Package session provides the preview-session aggregate and the
// service orchestrating media download, engine preparation and
// playback transport for scene previews.
package session

import (
	"sync"
	"time"

	"github.com/sceneforge/preview-api/internal/aspect"
	"github.com/sceneforge/preview-api/internal/composer"
	"github.com/sceneforge/preview-api/internal/scene"
	"github.com/sceneforge/preview-api/internal/session/id"
)

// Session represents one live binding between a scene's media and a
// composition engine. Unlike a plain record, a session owns a live
// bridge; it is shared by reference and synchronizes its own mutable
// fields.
type Session struct {
	// ID is the unique identifier for this session.
	ID string
	// Scene is the scene being previewed.
	Scene scene.Scene
	// ProjectRatio is the project's target aspect ratio.
	ProjectRatio float64
	// CreatedAt is when the session was created.
	CreatedAt time.Time

	bridge       *composer.Bridge
	letterboxing bool

	mu        sync.RWMutex
	duration  float64
	lastTime  float64
	ready     bool
	errMsg    string
	updatedAt time.Time
}

// New creates a new Session with a generated ID. Letterboxing defaults
// to enabled; disable it to crop the media to the canvas instead.
func New(sc scene.Scene, projectRatio float64) *Session {
	now := time.Now()
	return &Session{
		ID:           id.Generate(),
		Scene:        sc,
		ProjectRatio: projectRatio,
		CreatedAt:    now,
		letterboxing: true,
		updatedAt:    now,
	}
}

// AttachBridge binds the composition bridge driving this session.
func (s *Session) AttachBridge(b *composer.Bridge) {
	s.bridge = b
}

// Bridge returns the session's composition bridge.
func (s *Session) Bridge() *composer.Bridge {
	return s.bridge
}

// markReady records the one-shot ready notification.
func (s *Session) markReady(duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	s.duration = duration
	s.updatedAt = time.Now()
}

// setDuration records the discovered media duration.
func (s *Session) setDuration(duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = duration
	s.updatedAt = time.Now()
}

// setError records a session failure.
func (s *Session) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = err.Error()
	s.updatedAt = time.Now()
}

// setLastTime records the last playhead reassignment.
func (s *Session) setLastTime(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTime = t
	s.updatedAt = time.Now()
}

// View is an immutable snapshot of a session for safe reads.
type View struct {
	ID           string
	SceneID      string
	ProjectID    string
	MediaKind    scene.MediaKind
	State        composer.State
	Canvas       composer.Canvas
	Layout       aspect.Layout
	Duration     float64
	CurrentTime  float64
	Ready        bool
	Error        string
	ProjectRatio float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// View returns a snapshot of the session's current state.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		ID:           s.ID,
		SceneID:      s.Scene.ID,
		ProjectID:    s.Scene.ProjectID,
		MediaKind:    s.Scene.MediaKind,
		Duration:     s.duration,
		Ready:        s.ready,
		Error:        s.errMsg,
		ProjectRatio: s.ProjectRatio,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.updatedAt,
	}
	if s.bridge != nil {
		v.State = s.bridge.State()
		v.Canvas = s.bridge.Canvas()
		v.Layout = s.bridge.Layout(s.letterboxing)
		v.CurrentTime = s.bridge.CurrentTime()
	}
	return v
}
