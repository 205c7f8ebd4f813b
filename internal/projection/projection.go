// Package projection maps boxes between normalized detection space and the
// presentation layer's view space. All functions are pure.
package projection

import (
	"fmt"
	"math"

	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/pkg/models"
)

// layout is the placement of the upright image inside the view: a scale
// per axis in view points per image pixel and the offset of the image origin.
type layout struct {
	display models.Size
	sx, sy  float64
	ox, oy  float64
}

// Validate reports whether a projection with these inputs is possible.
func Validate(imageSize models.Size, metrics models.ViewMetrics) error {
	if !imageSize.IsValid() {
		return apperrors.NewProjectionError(
			fmt.Sprintf("invalid image size %gx%g", imageSize.Width, imageSize.Height), nil)
	}
	if !metrics.ViewSize.IsValid() {
		return apperrors.NewProjectionError(
			fmt.Sprintf("invalid view size %gx%g", metrics.ViewSize.Width, metrics.ViewSize.Height), nil)
	}
	if !metrics.Orientation.IsValid() {
		return apperrors.NewProjectionError(fmt.Sprintf("unsupported orientation %d", metrics.Orientation), nil)
	}
	switch metrics.ContentMode {
	case models.ContentModeAspectFit, models.ContentModeAspectFill, models.ContentModeScaleToFill:
	default:
		return apperrors.NewProjectionError(fmt.Sprintf("unsupported content mode %q", metrics.ContentMode), nil)
	}
	switch metrics.BoxSpace {
	case "", models.BoxSpaceSensor, models.BoxSpaceUpright:
	default:
		return apperrors.NewProjectionError(fmt.Sprintf("unsupported box space %q", metrics.BoxSpace), nil)
	}
	return nil
}

func newLayout(imageSize models.Size, metrics models.ViewMetrics) (layout, error) {
	if err := Validate(imageSize, metrics); err != nil {
		return layout{}, err
	}

	display := imageSize
	if metrics.Orientation == models.OrientationRight || metrics.Orientation == models.OrientationLeft {
		display = models.Size{Width: imageSize.Height, Height: imageSize.Width}
	}

	view := metrics.ViewSize
	l := layout{display: display}
	switch metrics.ContentMode {
	case models.ContentModeScaleToFill:
		l.sx = view.Width / display.Width
		l.sy = view.Height / display.Height
	case models.ContentModeAspectFit:
		s := math.Min(view.Width/display.Width, view.Height/display.Height)
		l.sx, l.sy = s, s
	case models.ContentModeAspectFill:
		s := math.Max(view.Width/display.Width, view.Height/display.Height)
		l.sx, l.sy = s, s
	}
	// Centered: letterbox bars for fit, negative offsets (cropping) for fill.
	l.ox = (view.Width - display.Width*l.sx) / 2
	l.oy = (view.Height - display.Height*l.sy) / 2
	return l, nil
}

func rotates(metrics models.ViewMetrics) bool {
	return metrics.BoxSpace != models.BoxSpaceUpright && metrics.Orientation != models.OrientationUp
}

// Project maps a normalized detection box to view coordinates.
func Project(box models.Rect, imageSize models.Size, metrics models.ViewMetrics) (models.Rect, error) {
	l, err := newLayout(imageSize, metrics)
	if err != nil {
		return models.Rect{}, err
	}
	if rotates(metrics) {
		box = rotateRect(box, metrics.Orientation)
	}
	w := l.display.Width * l.sx
	h := l.display.Height * l.sy
	return models.Rect{
		X:      l.ox + box.X*w,
		Y:      l.oy + box.Y*h,
		Width:  box.Width * w,
		Height: box.Height * h,
	}, nil
}

// Unproject is the exact inverse of Project for the same inputs.
func Unproject(viewBox models.Rect, imageSize models.Size, metrics models.ViewMetrics) (models.Rect, error) {
	l, err := newLayout(imageSize, metrics)
	if err != nil {
		return models.Rect{}, err
	}
	w := l.display.Width * l.sx
	h := l.display.Height * l.sy
	box := models.Rect{
		X:      (viewBox.X - l.ox) / w,
		Y:      (viewBox.Y - l.oy) / h,
		Width:  viewBox.Width / w,
		Height: viewBox.Height / h,
	}
	if rotates(metrics) {
		box = rotateRect(box, inverse(metrics.Orientation))
	}
	return box, nil
}

// ProjectPoint maps a normalized detection point to view coordinates.
func ProjectPoint(p models.Point, imageSize models.Size, metrics models.ViewMetrics) (models.Point, error) {
	l, err := newLayout(imageSize, metrics)
	if err != nil {
		return models.Point{}, err
	}
	if rotates(metrics) {
		p = rotatePoint(p, metrics.Orientation)
	}
	return models.Point{
		X: l.ox + p.X*l.display.Width*l.sx,
		Y: l.oy + p.Y*l.display.Height*l.sy,
	}, nil
}

// UnprojectPoint maps a view point back to normalized detection space.
func UnprojectPoint(p models.Point, imageSize models.Size, metrics models.ViewMetrics) (models.Point, error) {
	l, err := newLayout(imageSize, metrics)
	if err != nil {
		return models.Point{}, err
	}
	out := models.Point{
		X: (p.X - l.ox) / (l.display.Width * l.sx),
		Y: (p.Y - l.oy) / (l.display.Height * l.sy),
	}
	if rotates(metrics) {
		out = rotatePoint(out, inverse(metrics.Orientation))
	}
	return out, nil
}

// rotateRect turns a normalized rect clockwise by o degrees.
func rotateRect(r models.Rect, o models.Orientation) models.Rect {
	switch o {
	case models.OrientationRight:
		return models.Rect{X: 1 - r.Y - r.Height, Y: r.X, Width: r.Height, Height: r.Width}
	case models.OrientationDown:
		return models.Rect{X: 1 - r.X - r.Width, Y: 1 - r.Y - r.Height, Width: r.Width, Height: r.Height}
	case models.OrientationLeft:
		return models.Rect{X: r.Y, Y: 1 - r.X - r.Width, Width: r.Height, Height: r.Width}
	default:
		return r
	}
}

func rotatePoint(p models.Point, o models.Orientation) models.Point {
	switch o {
	case models.OrientationRight:
		return models.Point{X: 1 - p.Y, Y: p.X}
	case models.OrientationDown:
		return models.Point{X: 1 - p.X, Y: 1 - p.Y}
	case models.OrientationLeft:
		return models.Point{X: p.Y, Y: 1 - p.X}
	default:
		return p
	}
}

func inverse(o models.Orientation) models.Orientation {
	return models.Orientation((360 - int(o)) % 360)
}
