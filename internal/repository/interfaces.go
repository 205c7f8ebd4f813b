package repository

import (
	"context"

	"go-menu-annotator/pkg/models"
)

// CaptureRepository defines data access for captured menu images
type CaptureRepository interface {
	// LoadCapture retrieves and decodes the image behind a reference
	LoadCapture(ctx context.Context, reference string) (models.CapturedImage, error)

	// ValidateReference checks a reference without fetching it
	ValidateReference(reference string) error
}

// ReferenceValidator is satisfied by validation.ReferenceValidator
type ReferenceValidator interface {
	ValidateReference(reference string) error
}
