package validation

import (
	"net/url"
	"strings"

	apperrors "go-menu-annotator/internal/errors"
)

// BlobScheme is the reference scheme for images kept in Azure Blob Storage
const BlobScheme = "azblob"

// ReferenceValidator checks capture references before any download happens
type ReferenceValidator struct {
	allowedSchemes []string
	allowedHosts   []string
}

// NewReferenceValidator accepts http and https image URLs from any host
func NewReferenceValidator() *ReferenceValidator {
	return &ReferenceValidator{
		allowedSchemes: []string{"http", "https"},
		allowedHosts:   []string{}, // empty means all hosts allowed
	}
}

// NewReferenceValidatorWithOptions restricts web hosts and optionally admits blob references
func NewReferenceValidatorWithOptions(hosts []string, allowBlobs bool) *ReferenceValidator {
	schemes := []string{"http", "https"}
	if allowBlobs {
		schemes = append(schemes, BlobScheme)
	}
	return &ReferenceValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
	}
}

// ValidateReference validates a capture reference. Host restrictions apply
// to web URLs only; a blob reference's host is its container.
func (v *ReferenceValidator) ValidateReference(reference string) error {
	if strings.TrimSpace(reference) == "" {
		return apperrors.NewValidationError("image reference cannot be empty", nil)
	}

	parsed, err := url.Parse(reference)
	if err != nil {
		return apperrors.NewValidationError("invalid image reference format", err)
	}

	if !v.isSchemeAllowed(parsed.Scheme) {
		return apperrors.NewValidationError("image reference scheme not allowed", nil)
	}

	if parsed.Host == "" {
		return apperrors.NewValidationError("image reference must have a valid host", nil)
	}

	if parsed.Scheme == BlobScheme {
		if strings.Trim(parsed.Path, "/") == "" {
			return apperrors.NewValidationError("blob reference must name a blob", nil)
		}
		return nil
	}

	if !v.isHostAllowed(parsed.Hostname()) {
		return apperrors.NewValidationError("image host not allowed", nil)
	}

	return nil
}

func (v *ReferenceValidator) isSchemeAllowed(scheme string) bool {
	for _, allowed := range v.allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isHostAllowed returns true when no host restrictions are set
func (v *ReferenceValidator) isHostAllowed(host string) bool {
	if len(v.allowedHosts) == 0 {
		return true
	}
	for _, allowed := range v.allowedHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}
