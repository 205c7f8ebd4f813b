// Package detector adapts OCR engines to normalized text observations.
package detector

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/pkg/models"
)

// TextDetector extracts text observations from a captured image.
// Observations are ordered as the engine reported them and their boxes
// are normalized to the unit square with a top-left origin.
type TextDetector interface {
	Detect(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error)
}

// Level selects the granularity of detections.
type Level string

const (
	LevelLine Level = "line"
	LevelWord Level = "word"
)

// RawDetection is an engine result in pixel space with a 0-100 confidence.
type RawDetection struct {
	Text       string
	Box        image.Rectangle
	Confidence float64
}

// NormalizeDetections converts pixel detections on a width x height image
// into observations. Blank text and boxes outside the image are dropped and
// IDs are assigned in engine order.
func NormalizeDetections(raw []RawDetection, width, height int) ([]models.TextObservation, error) {
	if width <= 0 || height <= 0 {
		return nil, apperrors.NewDetectionError(
			fmt.Sprintf("invalid image dimensions %dx%d", width, height), nil)
	}
	bounds := image.Rect(0, 0, width, height)
	w, h := float64(width), float64(height)

	out := make([]models.TextObservation, 0, len(raw))
	for _, r := range raw {
		text := strings.Join(strings.Fields(r.Text), " ")
		if text == "" {
			continue
		}
		box := r.Box.Canon().Intersect(bounds)
		if box.Empty() {
			continue
		}
		out = append(out, models.TextObservation{
			ID:   fmt.Sprintf("obs-%04d", len(out)),
			Text: text,
			Box: models.Rect{
				X:      float64(box.Min.X) / w,
				Y:      float64(box.Min.Y) / h,
				Width:  float64(box.Dx()) / w,
				Height: float64(box.Dy()) / h,
			},
			Confidence: math.Min(1, math.Max(0, r.Confidence/100)),
		})
	}
	return out, nil
}

func checkImage(img models.CapturedImage) error {
	if len(img.Data) == 0 {
		return apperrors.NewDetectionError("empty image", nil)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return apperrors.NewDetectionError(
			fmt.Sprintf("unreadable image dimensions %dx%d", img.Width, img.Height), nil)
	}
	return nil
}
