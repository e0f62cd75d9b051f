// Package server provides the HTTP server for the preview API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// SceneRequest describes one scene's media in a request body.
type SceneRequest struct {
	// ID is the scene identifier.
	ID string `json:"id" validate:"required"`
	// ProjectID is the owning project identifier.
	ProjectID string `json:"project_id"`
	// MediaURL is the remote media location.
	MediaURL string `json:"media_url" validate:"required,url"`
	// MediaKind is "video", "image" or "gallery".
	MediaKind string `json:"media_kind" validate:"required,oneof=video image gallery"`
	// Width is the declared intrinsic width, 0 when unknown.
	Width int `json:"width" validate:"min=0"`
	// Height is the declared intrinsic height, 0 when unknown.
	Height int `json:"height" validate:"min=0"`
}

// CreateSessionRequest is the HTTP request body for creating a preview session.
type CreateSessionRequest struct {
	// Scene is the scene to preview.
	Scene SceneRequest `json:"scene" validate:"required"`
	// ProjectRatio is the project's target aspect ratio (width/height).
	ProjectRatio float64 `json:"project_ratio" validate:"min=0"`
	// Letterboxing preserves the whole frame behind bars when true and
	// crops the media to fill the canvas when false. Defaults to true.
	Letterboxing *bool `json:"letterboxing,omitempty"`
}

// CanvasResponse is the composited canvas size in a session response.
type CanvasResponse struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LayoutResponse is the letterbox/pillarbox geometry for placing the
// media inside the project canvas.
type LayoutResponse struct {
	// Width is a CSS-style width ("100%" or "auto").
	Width string `json:"width"`
	// Height is a CSS-style height ("100%" or "auto").
	Height string `json:"height"`
	// ObjectFit is "contain" or "cover".
	ObjectFit string `json:"object_fit"`
}

// SessionResponse is the HTTP representation of a preview session.
type SessionResponse struct {
	// ID is the unique identifier for the session.
	ID string `json:"id"`
	// SceneID is the scene being previewed.
	SceneID string `json:"scene_id"`
	// State is the session's lifecycle state.
	State string `json:"state"`
	// Canvas is the composited canvas size.
	Canvas CanvasResponse `json:"canvas"`
	// Layout is the media placement geometry inside the canvas.
	Layout LayoutResponse `json:"layout"`
	// Duration is the media duration in seconds, 0 until known.
	Duration float64 `json:"duration"`
	// CurrentTime is the playhead position in seconds.
	CurrentTime float64 `json:"current_time"`
	// Ready reports whether the session is seekable and playable.
	Ready bool `json:"ready"`
	// Error contains the failure message if the session broke.
	Error string `json:"error,omitempty"`
}

// SeekRequest is the HTTP request body for a seek.
type SeekRequest struct {
	// Time is the target playhead position in seconds.
	Time float64 `json:"time"`
}

// PrefetchRequest is the HTTP request body for prefetching project media.
type PrefetchRequest struct {
	// Scenes are the project's scenes to prefetch.
	Scenes []SceneRequest `json:"scenes" validate:"required,min=1,dive"`
}

// PrefetchResponse reports which scenes are now locally cached.
type PrefetchResponse struct {
	// CachedScenes are the scene IDs whose media downloaded successfully.
	CachedScenes []string `json:"cached_scenes"`
}

// ExportResponse is the HTTP response for a frame export.
type ExportResponse struct {
	// URL is the public location of the exported frame.
	URL string `json:"url"`
}

// CacheStatsResponse reports media cache occupancy.
type CacheStatsResponse struct {
	// Entries is the number of live cache entries.
	Entries int `json:"entries"`
	// InFlight is the number of downloads currently running.
	InFlight int `json:"in_flight"`
	// TotalBytes is the summed size of all cached media.
	TotalBytes int64 `json:"total_bytes"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
