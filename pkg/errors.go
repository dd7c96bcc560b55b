// Package pkg holds small utilities shared across layers.
// This file defines the domain-level sentinel errors.
//
// Services wrap these with context and handlers map them to status codes:
//
//	return fmt.Errorf("%w: conversation not found", pkg.ErrNotFound)
//	...
//	if errors.Is(err, pkg.ErrNotFound) { ... }
package pkg

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrAlreadyExists   = errors.New("already exists")
	ErrBadRequest      = errors.New("bad request")
	ErrTooManyRequests = errors.New("too many requests")
	ErrInternal        = errors.New("internal error")
)
