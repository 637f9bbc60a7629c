// Package domain contains the core business entities for Alexander Library.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// Catalog Errors
	// ===========================================

	// ErrBookNotFound indicates the requested book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrBookAlreadyExists indicates a book with the same ID exists.
	ErrBookAlreadyExists = errors.New("book already exists")

	// ErrInvalidBook indicates the book fields are missing or out of range.
	ErrInvalidBook = errors.New("invalid book")

	// ErrInvariantViolation indicates a copy count would leave [0, totalCopies].
	// Seeing this outside a lost compare-and-set means the store is inconsistent.
	ErrInvariantViolation = errors.New("inventory invariant violation")

	// ===========================================
	// Circulation Errors
	// ===========================================

	// ErrNoCopiesAvailable indicates every copy of the book is issued.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrLimitExceeded indicates the reader already holds the maximum number of books.
	ErrLimitExceeded = errors.New("issue limit exceeded")

	// ErrOverdueBlocked indicates the reader holds an overdue book and may not issue another.
	ErrOverdueBlocked = errors.New("reader has overdue books")

	// ErrNotIssued indicates there is no open issue for the reader and book.
	ErrNotIssued = errors.New("book is not issued to this reader")

	// ErrIssueNotFound indicates the requested issue record does not exist.
	ErrIssueNotFound = errors.New("issue record not found")

	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same email, mobile or enrollment number exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ===========================================
	// Store Errors
	// ===========================================

	// ErrStoreUnavailable indicates the store timed out or kept failing after retries.
	// Callers may retry with a fresh decision.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., book ID, library ID).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// WrapError wraps an error with domain context if it's not already a DomainError.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	return &DomainError{
		Err:     err,
		Message: message,
	}
}
