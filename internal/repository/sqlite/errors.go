package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/prn-tf/alexander-library/internal/repository"
)

// Error handling utilities for SQLite.

// isUniqueViolation checks if an error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// SQLite unique constraint error message
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed: UNIQUE")
}

// isBusy checks if an error means another connection holds the database lock.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "SQLITE_LOCKED")
}

// isNoRows checks if an error indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// classify marks lock contention as transient so callers retry it.
func classify(err error) error {
	if isBusy(err) {
		return fmt.Errorf("%w: %v", repository.ErrTransient, err)
	}
	return err
}
