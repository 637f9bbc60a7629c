// Package repository defines data access interfaces for Alexander Library.
// These interfaces abstract database operations, allowing for different implementations
// (PostgreSQL, SQLite, in-memory for testing) while keeping the service layer clean.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/alexander-library/internal/domain"
)

// =============================================================================
// Book Repository (Catalog Store)
// =============================================================================

// BookRepository defines the interface for catalog data access.
type BookRepository interface {
	// Create adds a new title to the catalog.
	// Returns domain.ErrBookAlreadyExists if the ID is taken.
	Create(ctx context.Context, book *domain.Book) error

	// SeedIfEmpty inserts books in one transaction when the catalog is empty.
	// Returns the number of books inserted (0 when the catalog already had rows).
	SeedIfEmpty(ctx context.Context, books []*domain.Book) (int, error)

	// GetByID retrieves a book by ID.
	GetByID(ctx context.Context, id string) (*domain.Book, error)

	// List returns books in catalog (ID) order, optionally filtered.
	List(ctx context.Context, opts BookListOptions) ([]*domain.Book, error)

	// Count returns the number of titles in the catalog.
	Count(ctx context.Context) (int64, error)

	// AdjustAvailability atomically applies delta to AvailableCopies.
	// Returns domain.ErrInvariantViolation if the result would leave [0, TotalCopies].
	AdjustAvailability(ctx context.Context, id string, delta int) (*domain.Book, error)
}

// BookListOptions contains options for listing books.
type BookListOptions struct {
	// Query filters by case-insensitive substring of title or author.
	Query string

	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return (0 = no limit).
	Limit int
}

// =============================================================================
// Issue Repository (read side of circulation)
// =============================================================================

// IssueRepository defines read access to issue records.
// Writes happen only through CirculationTx.
type IssueRepository interface {
	// GetByID retrieves an issue record by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.IssueRecord, error)

	// List returns issue records ordered by issue date, newest first.
	List(ctx context.Context, opts IssueListOptions) ([]*domain.IssueRecord, error)

	// ListOverdue returns open records whose due date is before now, oldest due first.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.IssueRecord, error)

	// CountOverdue returns the number of open records whose due date is before now.
	CountOverdue(ctx context.Context, now time.Time) (int, error)

	// CountOpenByBook returns the number of open records for a book.
	CountOpenByBook(ctx context.Context, bookID string) (int, error)

	// CountOpenByUser returns the number of open records for a reader.
	CountOpenByUser(ctx context.Context, userID string) (int, error)
}

// IssueListOptions contains options for listing issue records.
type IssueListOptions struct {
	// UserID restricts results to one reader when set.
	UserID string

	// BookID restricts results to one book when set.
	BookID string

	// OpenOnly excludes returned records.
	OpenOnly bool

	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return (0 = no limit).
	Limit int
}

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for reader account data access.
type UserRepository interface {
	// Create creates a new user.
	// Returns domain.ErrUserAlreadyExists on a unique conflict.
	Create(ctx context.Context, user *domain.User) error

	// GetByLibraryID retrieves a user by library ID.
	GetByLibraryID(ctx context.Context, libraryID string) (*domain.User, error)

	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// Update updates an existing user.
	Update(ctx context.Context, user *domain.User) error

	// ExistsByEmail checks if a user with the given email exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// ExistsByMobile checks if a user with the given mobile number exists.
	ExistsByMobile(ctx context.Context, mobile string) (bool, error)

	// ExistsByEnrollment checks if a user with the given enrollment number exists.
	ExistsByEnrollment(ctx context.Context, enrollmentNumber string) (bool, error)
}

// =============================================================================
// Transaction Support
// =============================================================================

// CirculationTx is the set of operations available inside one issue or return.
// All calls share a single database transaction.
type CirculationTx interface {
	// LockReader serialises concurrent issues for the same reader
	// until the transaction ends.
	LockReader(ctx context.Context, userID string) error

	// GetBook reads a book inside the transaction.
	GetBook(ctx context.Context, id string) (*domain.Book, error)

	// AdjustAvailability applies delta with a compare-and-set on the bounds.
	AdjustAvailability(ctx context.Context, id string, delta int) (*domain.Book, error)

	// CountOpenIssuesByUser counts the reader's open records.
	CountOpenIssuesByUser(ctx context.Context, userID string) (int, error)

	// HasOverdueIssue reports whether the reader holds an open record due before now.
	HasOverdueIssue(ctx context.Context, userID string, now time.Time) (bool, error)

	// CreateIssue inserts a new open record.
	CreateIssue(ctx context.Context, record *domain.IssueRecord) error

	// FindOpenIssue returns the oldest open record for (userID, bookID).
	// Returns domain.ErrNotIssued if there is none.
	FindOpenIssue(ctx context.Context, userID, bookID string) (*domain.IssueRecord, error)

	// CloseIssue sets returned_at on an open record.
	CloseIssue(ctx context.Context, id uuid.UUID, returnedAt time.Time) error
}

// TxManager runs circulation work in a transaction.
type TxManager interface {
	// WithinCirculationTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back; otherwise it is committed.
	// Transient failures are retried with backoff, so fn may run more than once.
	WithinCirculationTx(ctx context.Context, fn func(ctx context.Context, tx CirculationTx) error) error
}

// =============================================================================
// Aggregates
// =============================================================================

// SnapshotReader reads the whole catalog and every issue record in one
// read transaction, so copy counts and open records agree.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context) ([]*domain.Book, []*domain.IssueRecord, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Books    BookRepository
	Issues   IssueRepository
	Users    UserRepository
	Tx       TxManager
	Snapshot SnapshotReader
}

// Database is implemented by each driver's connection wrapper.
// This interface satisfies handler.HealthChecker for health endpoints.
type Database interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Migrate(ctx context.Context) error
	MigrationVersion(ctx context.Context) (int, error)
	Close() error
}
