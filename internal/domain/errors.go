package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrBadRequest      = errors.New("bad request")
	ErrTooManyAttempts = errors.New("too many attempts")
	ErrPending         = errors.New("generation pending")

	ErrComposition = errors.New("composition failed")
	ErrStorage     = errors.New("storage failed")
	ErrPersistence = errors.New("persistence failed")

	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrNoImageReturned = errors.New("no image returned")
)

// UpstreamError reports a failed call to the generative-AI provider.
// Err carries the variant (ErrUpstreamTimeout, ErrNoImageReturned) when there is one.
type UpstreamError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("upstream %d: %v", e.Status, e.Err)
	case e.Err != nil:
		return "upstream: " + e.Err.Error()
	default:
		return fmt.Sprintf("upstream %d: %s", e.Status, e.Body)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }
