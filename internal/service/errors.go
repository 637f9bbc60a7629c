// Package service provides business logic services for Alexander Library.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/prn-tf/alexander-library/internal/domain"
)

// Common service errors.
var (
	// ErrInvalidInput marks any request the caller must correct before retrying.
	ErrInvalidInput = errors.New("invalid input")

	// Validation errors
	ErrMissingField    = fmt.Errorf("%w: missing required field", ErrInvalidInput)
	ErrInvalidPassword = fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
	ErrInvalidEmail    = fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	ErrInvalidMobile   = fmt.Errorf("%w: mobile must be 10 digits", ErrInvalidInput)
	ErrInvalidDate     = fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)

	// General errors
	ErrInternalError = errors.New("internal server error")
)

// storeError converts an unexpected repository failure into a service error.
// Store unavailability keeps its identity so callers can answer 503.
func storeError(err error) error {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
}
