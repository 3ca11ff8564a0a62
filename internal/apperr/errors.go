// Package apperr defines sentinel errors shared across layers and mapped to
// transport status codes.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrUnavailable     = errors.New("undo unavailable")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("manager closed")
)
