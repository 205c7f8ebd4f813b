package validation

import (
	"fmt"
	"math"
	"strings"

	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/pkg/models"
)

// ReadabilityThresholds bounds the captures worth sending to the OCR engine
type ReadabilityThresholds struct {
	// Resolution thresholds
	MinWidth       int
	MinHeight      int
	MinTotalPixels int

	// Long strips (receipts photographed edge-on, panorama slivers) read poorly
	MaxAspectRatio float64

	// Below this on the short side text is usually too small to read reliably
	RecommendedShortSide int
}

// DefaultReadabilityThresholds returns the default thresholds
func DefaultReadabilityThresholds() ReadabilityThresholds {
	return ReadabilityThresholds{
		MinWidth:             200,
		MinHeight:            200,
		MinTotalPixels:       60000,
		MaxAspectRatio:       10.0,
		RecommendedShortSide: 720,
	}
}

// ReadabilityValidator checks captured image geometry before text detection
type ReadabilityValidator struct {
	thresholds ReadabilityThresholds
}

// NewReadabilityValidator creates a validator with default thresholds
func NewReadabilityValidator() *ReadabilityValidator {
	return &ReadabilityValidator{
		thresholds: DefaultReadabilityThresholds(),
	}
}

// NewReadabilityValidatorWithThresholds creates a validator with custom thresholds
func NewReadabilityValidatorWithThresholds(thresholds ReadabilityThresholds) *ReadabilityValidator {
	return &ReadabilityValidator{
		thresholds: thresholds,
	}
}

// QualityIssue represents a readability problem with a capture
type QualityIssue struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	Severity    string  `json:"severity"` // "error", "warning"
	ActualValue float64 `json:"actual_value,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
}

// Inspect lists every readability issue of a capture
func (v *ReadabilityValidator) Inspect(img models.CapturedImage) []QualityIssue {
	var issues []QualityIssue
	t := v.thresholds

	if len(img.Data) == 0 {
		return append(issues, QualityIssue{
			Type:     "empty",
			Message:  "image has no data",
			Severity: "error",
		})
	}

	if img.Width < t.MinWidth {
		issues = append(issues, QualityIssue{
			Type:        "width",
			Message:     fmt.Sprintf("image width %dpx is below %dpx", img.Width, t.MinWidth),
			Severity:    "error",
			ActualValue: float64(img.Width),
			Threshold:   float64(t.MinWidth),
		})
	}
	if img.Height < t.MinHeight {
		issues = append(issues, QualityIssue{
			Type:        "height",
			Message:     fmt.Sprintf("image height %dpx is below %dpx", img.Height, t.MinHeight),
			Severity:    "error",
			ActualValue: float64(img.Height),
			Threshold:   float64(t.MinHeight),
		})
	}
	if pixels := img.Width * img.Height; pixels < t.MinTotalPixels {
		issues = append(issues, QualityIssue{
			Type:        "resolution",
			Message:     fmt.Sprintf("image has %d pixels, need at least %d", pixels, t.MinTotalPixels),
			Severity:    "error",
			ActualValue: float64(pixels),
			Threshold:   float64(t.MinTotalPixels),
		})
	}

	if img.Width > 0 && img.Height > 0 {
		long := math.Max(float64(img.Width), float64(img.Height))
		short := math.Min(float64(img.Width), float64(img.Height))
		if ratio := long / short; t.MaxAspectRatio > 0 && ratio > t.MaxAspectRatio {
			issues = append(issues, QualityIssue{
				Type:        "aspect_ratio",
				Message:     fmt.Sprintf("aspect ratio %.1f exceeds %.1f", ratio, t.MaxAspectRatio),
				Severity:    "error",
				ActualValue: ratio,
				Threshold:   t.MaxAspectRatio,
			})
		}
		if t.RecommendedShortSide > 0 && short < float64(t.RecommendedShortSide) {
			issues = append(issues, QualityIssue{
				Type:        "low_resolution",
				Message:     fmt.Sprintf("short side %.0fpx is below the recommended %dpx", short, t.RecommendedShortSide),
				Severity:    "warning",
				ActualValue: short,
				Threshold:   float64(t.RecommendedShortSide),
			})
		}
	}

	return issues
}

// ValidateCapture returns a detection error when the capture cannot be read
func (v *ReadabilityValidator) ValidateCapture(img models.CapturedImage) error {
	issues := v.Inspect(img)
	if !HasCriticalIssues(issues) {
		return nil
	}
	return apperrors.NewDetectionError(
		"image cannot be read: "+strings.Join(IssueMessages(issues, "error"), "; "), nil)
}

// IssueMessages extracts the messages of issues with the given severity, or all when empty
func IssueMessages(issues []QualityIssue, severity string) []string {
	var messages []string
	for _, issue := range issues {
		if severity == "" || issue.Severity == severity {
			messages = append(messages, issue.Message)
		}
	}
	return messages
}

// HasCriticalIssues checks if any issues are critical (error severity)
func HasCriticalIssues(issues []QualityIssue) bool {
	for _, issue := range issues {
		if issue.Severity == "error" {
			return true
		}
	}
	return false
}
