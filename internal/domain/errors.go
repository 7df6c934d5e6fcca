package domain

import "errors"

var (
	// ErrNotFound is returned when a post or comment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedMedia is returned for uploads of an unknown file type.
	ErrUnsupportedMedia = errors.New("unsupported media type")
)
