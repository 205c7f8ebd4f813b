package legibility

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/internal/logger"
	"go-menu-annotator/pkg/models"
	"go-menu-annotator/pkg/validation"

	"github.com/sirupsen/logrus"
)

// Thresholds bounds the pixel statistics of a readable capture
type Thresholds struct {
	// Errors
	MinBrightness float64
	MaxBrightness float64
	MinContrast   float64

	// Warnings
	MinSharpness float64
	MaxSkew      float64

	// Captures are sampled down to this long side before measuring
	MaxSampleSide int
}

// DefaultThresholds returns the default thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinBrightness: 20,
		MaxBrightness: 245,
		MinContrast:   6,
		MinSharpness:  100,
		MaxSkew:       5,
		MaxSampleSide: 1024,
	}
}

// Report holds the measured statistics and every issue found
type Report struct {
	Brightness float64                   `json:"brightness"`
	Contrast   float64                   `json:"contrast"`
	Sharpness  float64                   `json:"sharpness"`
	Skew       *float64                  `json:"skew,omitempty"`
	Issues     []validation.QualityIssue `json:"issues,omitempty"`
}

// Checker rejects captures the OCR engine cannot read. Geometry is checked
// from the header first so undecodable or tiny images never hit the pixels.
type Checker struct {
	geometry   *validation.ReadabilityValidator
	calc       *Calculator
	pool       *WorkerPool
	thresholds Thresholds
}

// NewChecker creates a checker with default thresholds and its own worker pool
func NewChecker(geometry *validation.ReadabilityValidator) *Checker {
	return NewCheckerWithThresholds(geometry, DefaultThresholds(), 0)
}

// NewCheckerWithThresholds creates a checker with custom thresholds;
// workers <= 0 uses one worker per CPU.
func NewCheckerWithThresholds(geometry *validation.ReadabilityValidator, thresholds Thresholds, workers int) *Checker {
	if geometry == nil {
		geometry = validation.NewReadabilityValidator()
	}
	pool := NewWorkerPool(workers)
	pool.Start()
	return &Checker{
		geometry:   geometry,
		calc:       NewCalculator(pool),
		pool:       pool,
		thresholds: thresholds,
	}
}

// Close stops the worker pool
func (c *Checker) Close() error {
	c.pool.Close()
	return nil
}

// Inspect measures a decoded image
func (c *Checker) Inspect(img image.Image) Report {
	gray := grayscale(img, c.thresholds.MaxSampleSide)
	t := c.thresholds

	report := Report{
		Brightness: c.calc.Brightness(gray),
		Contrast:   c.calc.Contrast(gray),
		Sharpness:  c.calc.Sharpness(gray),
		Skew:       c.calc.Skew(gray),
	}

	if report.Contrast < t.MinContrast {
		report.Issues = append(report.Issues, validation.QualityIssue{
			Type:        "blank",
			Message:     "image has no visible content",
			Severity:    "error",
			ActualValue: report.Contrast,
			Threshold:   t.MinContrast,
		})
	}
	switch {
	case report.Brightness < t.MinBrightness:
		report.Issues = append(report.Issues, validation.QualityIssue{
			Type:        "too_dark",
			Message:     fmt.Sprintf("image brightness %.0f is below %.0f", report.Brightness, t.MinBrightness),
			Severity:    "error",
			ActualValue: report.Brightness,
			Threshold:   t.MinBrightness,
		})
	case report.Brightness > t.MaxBrightness:
		report.Issues = append(report.Issues, validation.QualityIssue{
			Type:        "overexposed",
			Message:     fmt.Sprintf("image brightness %.0f exceeds %.0f", report.Brightness, t.MaxBrightness),
			Severity:    "error",
			ActualValue: report.Brightness,
			Threshold:   t.MaxBrightness,
		})
	}
	if report.Sharpness < t.MinSharpness {
		report.Issues = append(report.Issues, validation.QualityIssue{
			Type:        "blurry",
			Message:     fmt.Sprintf("image sharpness %.1f is below %.1f", report.Sharpness, t.MinSharpness),
			Severity:    "warning",
			ActualValue: report.Sharpness,
			Threshold:   t.MinSharpness,
		})
	}
	if report.Skew != nil && math.Abs(*report.Skew) > t.MaxSkew {
		report.Issues = append(report.Issues, validation.QualityIssue{
			Type:        "skewed",
			Message:     fmt.Sprintf("text lines are skewed by %.1f degrees", *report.Skew),
			Severity:    "warning",
			ActualValue: *report.Skew,
			Threshold:   t.MaxSkew,
		})
	}
	return report
}

// ValidateCapture returns a detection error when the capture cannot be read
func (c *Checker) ValidateCapture(capture models.CapturedImage) error {
	if err := c.geometry.ValidateCapture(capture); err != nil {
		return err
	}

	img, _, err := image.Decode(bytes.NewReader(capture.Data))
	if err != nil {
		return apperrors.NewDetectionError("image cannot be read: failed to decode image", err)
	}

	report := c.Inspect(img)
	if warnings := validation.IssueMessages(report.Issues, "warning"); len(warnings) > 0 {
		logger.WithFields(logrus.Fields{
			"reference":  capture.Reference,
			"brightness": report.Brightness,
			"sharpness":  report.Sharpness,
			"warnings":   warnings,
		}).Warn("capture may read poorly")
	}
	if !validation.HasCriticalIssues(report.Issues) {
		return nil
	}
	return apperrors.NewDetectionError(
		"image cannot be read: "+strings.Join(validation.IssueMessages(report.Issues, "error"), "; "), nil)
}

// grayscale converts img to luma, sampling it down so the long side is
// at most maxSide pixels.
func grayscale(img image.Image, maxSide int) *image.Gray {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	step := 1
	if long := max(width, height); maxSide > 0 && long > maxSide {
		step = (long + maxSide - 1) / maxSide
	}

	gray := image.NewGray(image.Rect(0, 0, (width+step-1)/step, (height+step-1)/step))
	for y := 0; y < gray.Rect.Dy(); y++ {
		for x := 0; x < gray.Rect.Dx(); x++ {
			r, g, b, _ := img.At(bounds.Min.X+x*step, bounds.Min.Y+y*step).RGBA()
			// ITU-R 601 luma, same weights as color.GrayModel
			lum := (19595*r + 38470*g + 7471*b + 1<<15) >> 24
			gray.Pix[y*gray.Stride+x] = uint8(lum)
		}
	}
	return gray
}
