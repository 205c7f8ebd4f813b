//go:build !tesseract
// +build !tesseract

package detector

import (
	"context"

	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/pkg/models"
)

// TesseractAvailable reports whether the binary links the Tesseract engine.
const TesseractAvailable = false

// TesseractDetector is unavailable without the tesseract build tag.
type TesseractDetector struct {
	languages []string
	level     Level
}

// NewTesseractDetector creates a placeholder detector that always fails.
func NewTesseractDetector(languages []string, level Level) (*TesseractDetector, error) {
	return &TesseractDetector{languages: languages, level: level}, nil
}

// Detect returns a detection error when the build lacks the tesseract tag.
func (d *TesseractDetector) Detect(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
	_ = ctx
	if err := checkImage(img); err != nil {
		return nil, err
	}
	return nil, apperrors.NewDetectionError("tesseract build tag is not enabled", nil)
}
