//go:build tesseract
// +build tesseract

package detector

import (
	"context"
	"errors"

	"github.com/otiai10/gosseract/v2"

	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/pkg/models"
)

// TesseractAvailable reports whether the binary links the Tesseract engine.
const TesseractAvailable = true

// TesseractDetector runs the local Tesseract engine through gosseract.
type TesseractDetector struct {
	languages []string
	level     Level
}

// NewTesseractDetector creates a detector for the given languages and level.
func NewTesseractDetector(languages []string, level Level) (*TesseractDetector, error) {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &TesseractDetector{languages: languages, level: level}, nil
}

type tesseractResult struct {
	boxes []gosseract.BoundingBox
	err   error
}

// Detect blocks until the engine returns or ctx ends. The engine itself is
// not interruptible, so on cancellation its result is dropped.
func (d *TesseractDetector) Detect(ctx context.Context, img models.CapturedImage) ([]models.TextObservation, error) {
	if err := checkImage(img); err != nil {
		return nil, err
	}

	done := make(chan tesseractResult, 1)
	go func() {
		boxes, err := d.run(img.Data)
		done <- tesseractResult{boxes: boxes, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewDetectionError("text detection timed out", ctx.Err())
		}
		return nil, apperrors.NewDetectionError("text detection cancelled", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, apperrors.NewDetectionError("tesseract failed", res.err)
		}
		raw := make([]RawDetection, len(res.boxes))
		for i, b := range res.boxes {
			raw[i] = RawDetection{Text: b.Word, Box: b.Box, Confidence: b.Confidence}
		}
		return NormalizeDetections(raw, img.Width, img.Height)
	}
}

func (d *TesseractDetector) run(data []byte) ([]gosseract.BoundingBox, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(d.languages...); err != nil {
		return nil, err
	}
	if err := client.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		return nil, err
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, err
	}

	level := gosseract.RIL_TEXTLINE
	if d.level == LevelWord {
		level = gosseract.RIL_WORD
	}
	return client.GetBoundingBoxes(level)
}
