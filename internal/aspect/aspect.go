// Package aspect computes effective aspect ratios and letterbox
// layout geometry for rendering media inside a project-shaped canvas.
// All functions are pure.
package aspect

import (
	"math"

	"github.com/sceneforge/preview-api/internal/scene"
)

const (
	// RatioTolerance is the absolute difference under which two aspect
	// ratios are considered equal.
	RatioTolerance = 0.01

	// FallbackRatio is the hard fallback aspect ratio (9:16 portrait)
	// used when nothing better is known about the media.
	FallbackRatio = 9.0 / 16.0
)

// Dimensions holds intrinsic pixel dimensions of a piece of media.
type Dimensions struct {
	Width  int
	Height int
}

// Ratio returns width/height, or 0 for invalid dimensions.
func (d Dimensions) Ratio() float64 {
	if d.Width <= 0 || d.Height <= 0 {
		return 0
	}
	return float64(d.Width) / float64(d.Height)
}

// ObjectFit describes how media is fitted into its container.
type ObjectFit string

const (
	// FitCover crops the media so it fills the container exactly.
	FitCover ObjectFit = "cover"
	// FitContain scales the media to fit entirely inside the container.
	FitContain ObjectFit = "contain"
)

// Layout describes the render geometry of media inside a container.
// Width and Height are CSS-style sizes ("100%" or "auto").
type Layout struct {
	Width     string
	Height    string
	ObjectFit ObjectFit
}

// Resolve computes the effective aspect ratio for a piece of media.
//
// Priority order:
//  1. live dimensions reported by an active engine source (Width > 0)
//  2. an explicitly declared positive ratio
//  3. for non-video media, the project's target ratio
//  4. FallbackRatio
func Resolve(live *Dimensions, declared, projectRatio float64, kind scene.MediaKind) float64 {
	if live != nil {
		if r := live.Ratio(); r > 0 {
			return r
		}
	}
	if declared > 0 {
		return declared
	}
	if kind != scene.KindVideo && projectRatio > 0 {
		return projectRatio
	}
	return FallbackRatio
}

// LayoutFor computes how media with mediaRatio maps onto a container
// of projectRatio.
//
// With letterboxing disabled the media fills the container on both
// axes and the aspect mismatch is hidden by cropping. With
// letterboxing enabled, matching ratios fill both axes; wider media
// gets bars top/bottom (letterbox); narrower media gets bars
// left/right (pillarbox).
func LayoutFor(mediaRatio, projectRatio float64, letterboxing bool) Layout {
	if !letterboxing {
		return Layout{Width: "100%", Height: "100%", ObjectFit: FitCover}
	}
	if math.Abs(mediaRatio-projectRatio) <= RatioTolerance {
		return Layout{Width: "100%", Height: "100%", ObjectFit: FitContain}
	}
	if mediaRatio > projectRatio {
		return Layout{Width: "100%", Height: "auto", ObjectFit: FitContain}
	}
	return Layout{Width: "auto", Height: "100%", ObjectFit: FitContain}
}
