// Package scene provides the scene domain model for the preview core.
// A scene is one unit of the editing timeline: a piece of remote media
// plus the declared metadata the backend extraction pipeline produced
// for it.
package scene

// MediaKind represents the kind of media attached to a scene.
type MediaKind string

const (
	// KindVideo is a remote video clip.
	KindVideo MediaKind = "video"
	// KindImage is a single remote still image.
	KindImage MediaKind = "image"
	// KindGallery is an ordered set of still images presented as one scene.
	KindGallery MediaKind = "gallery"
)

// IsValid returns true if the media kind is one of the supported kinds.
func (k MediaKind) IsValid() bool {
	return k == KindVideo || k == KindImage || k == KindGallery
}

// Scene represents one editable scene of a project.
// Width and Height are the dimensions declared by the extraction
// backend; they may be zero when the backend could not determine them.
type Scene struct {
	// ID is the unique identifier of the scene within its project.
	ID string
	// ProjectID is the identifier of the owning project.
	ProjectID string
	// MediaURL is the remote URL of the scene's media, empty for
	// text-only scenes.
	MediaURL string
	// MediaKind is the declared kind of the media.
	MediaKind MediaKind
	// Width is the declared media width in pixels (0 if unknown).
	Width int
	// Height is the declared media height in pixels (0 if unknown).
	Height int
}

// HasMedia returns true if the scene declares downloadable media.
func (s Scene) HasMedia() bool {
	return s.MediaURL != ""
}

// DeclaredRatio returns the aspect ratio derived from the declared
// dimensions, or 0 when the dimensions are unknown or invalid.
func (s Scene) DeclaredRatio() float64 {
	if s.Width <= 0 || s.Height <= 0 {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}
