package repository

import "errors"

var (
	// ErrInvalidReference indicates a capture reference that failed validation
	ErrInvalidReference = errors.New("invalid image reference")

	// ErrUnsupportedSource indicates a reference scheme with no configured fetcher
	ErrUnsupportedSource = errors.New("unsupported image source")

	// ErrImageNotFound indicates the referenced image does not exist
	ErrImageNotFound = errors.New("image not found")
)
