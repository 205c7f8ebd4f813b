package repository

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/internal/logger"
	"go-menu-annotator/internal/storage"
	"go-menu-annotator/pkg/models"
)

// SourceRepository routes capture references to a fetcher by URL scheme
type SourceRepository struct {
	validator ReferenceValidator
	fetchers  map[string]storage.ImageFetcher
}

// NewSourceRepository creates a repository with no sources; register them with WithSource
func NewSourceRepository(validator ReferenceValidator) *SourceRepository {
	return &SourceRepository{
		validator: validator,
		fetchers:  make(map[string]storage.ImageFetcher),
	}
}

// WithSource registers a fetcher for a scheme such as "https" or "azblob"
func (r *SourceRepository) WithSource(scheme string, fetcher storage.ImageFetcher) *SourceRepository {
	r.fetchers[strings.ToLower(scheme)] = fetcher
	return r
}

// ValidateReference validates the reference and confirms a source can serve it
func (r *SourceRepository) ValidateReference(reference string) error {
	if r.validator != nil {
		if err := r.validator.ValidateReference(reference); err != nil {
			return err
		}
	}
	if _, err := r.fetcherFor(reference); err != nil {
		return apperrors.NewValidationError("no image source configured for reference", err)
	}
	return nil
}

// LoadCapture validates then fetches the reference, classifying failures
func (r *SourceRepository) LoadCapture(ctx context.Context, reference string) (models.CapturedImage, error) {
	if err := r.ValidateReference(reference); err != nil {
		return models.CapturedImage{}, err
	}
	fetcher, err := r.fetcherFor(reference)
	if err != nil {
		return models.CapturedImage{}, apperrors.NewValidationError("no image source configured for reference", err)
	}

	img, err := fetcher.FetchImage(ctx, reference)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"reference": reference,
			"error":     err.Error(),
		}).Warn("capture fetch failed")
		return models.CapturedImage{}, classifyFetchError(ctx, err)
	}
	return img, nil
}

func (r *SourceRepository) fetcherFor(reference string) (storage.ImageFetcher, error) {
	parsed, err := url.Parse(reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	fetcher, ok := r.fetchers[strings.ToLower(parsed.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, parsed.Scheme)
	}
	return fetcher, nil
}

func classifyFetchError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.NewTimeoutError("image fetch timed out", err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewProcessingError("image fetch cancelled", err)
	case strings.Contains(err.Error(), "failed to decode image"):
		return apperrors.NewValidationError("reference is not a supported image", err)
	case strings.Contains(err.Error(), "status code 404"), strings.Contains(err.Error(), "BlobNotFound"):
		return apperrors.NewNotFoundError("image not found", fmt.Errorf("%w: %v", ErrImageNotFound, err))
	default:
		return apperrors.NewNetworkError("failed to fetch image", err)
	}
}
