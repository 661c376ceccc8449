// Package apperr defines the sentinel errors shared by the service, editor
// and transport layers. Wrap them with %w; the HTTP layer maps them to
// status codes.
package apperr

import "errors"

// ErrConflict means an If-Match checksum did not match the stored funnel.
// ErrInvalid covers malformed documents and unknown block kinds or fields.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalid       = errors.New("invalid")
)
