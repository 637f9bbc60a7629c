package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/repository"
)

const bookColumns = `id, title, author, total_copies, available_copies, created_at, updated_at`

// bookRepository implements repository.BookRepository for SQLite.
type bookRepository struct {
	db *DB
}

// NewBookRepository creates a new SQLite book repository.
func NewBookRepository(db *DB) repository.BookRepository {
	return &bookRepository{db: db}
}

// Create adds a new title to the catalog.
func (r *bookRepository) Create(ctx context.Context, book *domain.Book) error {
	return insertBook(ctx, r.db.db, book)
}

// SeedIfEmpty inserts books in one transaction when the catalog is empty.
func (r *bookRepository) SeedIfEmpty(ctx context.Context, books []*domain.Book) (int, error) {
	var inserted int

	err := repository.Retry(ctx, r.db.retry, func(ctx context.Context) error {
		inserted = 0
		err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			var count int
			if err := tx.QueryRowxContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
				return fmt.Errorf("failed to count books: %w", err)
			}
			if count > 0 {
				return nil
			}
			for _, b := range books {
				if err := insertBook(ctx, tx, b); err != nil {
					return err
				}
				inserted++
			}
			return nil
		})
		return classify(err)
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// GetByID retrieves a book by ID.
func (r *bookRepository) GetByID(ctx context.Context, id string) (*domain.Book, error) {
	return getBook(ctx, r.db.db, id)
}

// List returns books in ID order, optionally filtered by title or author.
func (r *bookRepository) List(ctx context.Context, opts repository.BookListOptions) ([]*domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books ORDER BY id`
	var args []any

	// SQLite LIKE folds case for ASCII only, so searches are filtered with
	// Book.Matches and paged afterwards.
	search := strings.TrimSpace(opts.Query)
	if search == "" {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	rows, err := r.db.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		if search != "" && !book.Matches(search) {
			continue
		}
		books = append(books, book)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating books: %w", err)
	}

	if search != "" {
		books = page(books, opts.Offset, opts.Limit)
	}
	return books, nil
}

// page applies offset and limit (0 = no limit) to an already filtered slice.
func page(books []*domain.Book, offset, limit int) []*domain.Book {
	if offset >= len(books) {
		return nil
	}
	books = books[offset:]
	if limit > 0 && limit < len(books) {
		books = books[:limit]
	}
	return books
}

func (r *bookRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count books: %w", err)
	}
	return count, nil
}

// AdjustAvailability atomically applies delta to available_copies.
func (r *bookRepository) AdjustAvailability(ctx context.Context, id string, delta int) (*domain.Book, error) {
	var book *domain.Book

	err := repository.Retry(ctx, r.db.retry, func(ctx context.Context) error {
		var err error
		book, err = adjustAvailability(ctx, r.db.db, id, delta, time.Now())
		return classify(err)
	})
	if err != nil {
		return nil, err
	}

	return book, nil
}

// =============================================================================
// Shared helpers (used by both the repository and the circulation transaction)
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*domain.Book, error) {
	book := &domain.Book{}
	var createdAt, updatedAt string

	err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.TotalCopies,
		&book.AvailableCopies,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	book.CreatedAt = parseTime(createdAt)
	book.UpdatedAt = parseTime(updatedAt)

	return book, nil
}

func insertBook(ctx context.Context, q sqlx.ExecerContext, book *domain.Book) error {
	if err := book.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO books (id, title, author, total_copies, available_copies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		book.ID,
		book.Title,
		book.Author,
		book.TotalCopies,
		book.AvailableCopies,
		formatTime(book.CreatedAt),
		formatTime(book.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrBookAlreadyExists, "id already in catalog", book.ID)
		}
		return fmt.Errorf("failed to create book: %w", err)
	}

	return nil
}

func getBook(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Book, error) {
	row := q.QueryRowxContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	book, err := scanBook(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to get book by ID: %w", err)
	}
	return book, nil
}

// adjustAvailability is a single-statement compare-and-set: the row only
// changes when the new count stays within [0, total_copies].
func adjustAvailability(ctx context.Context, q sqlx.QueryerContext, id string, delta int, now time.Time) (*domain.Book, error) {
	query := `
		UPDATE books
		SET available_copies = available_copies + ?, updated_at = ?
		WHERE id = ?
		  AND available_copies + ? >= 0
		  AND available_copies + ? <= total_copies
		RETURNING ` + bookColumns

	row := q.QueryRowxContext(ctx, query, delta, formatTime(now), id, delta, delta)
	book, err := scanBook(row)
	if err == nil {
		return book, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("failed to adjust availability: %w", err)
	}

	var exists int
	err = q.QueryRowxContext(ctx, `SELECT 1 FROM books WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to check book existence: %w", err)
	}

	return nil, domain.NewDomainError(domain.ErrInvariantViolation,
		fmt.Sprintf("delta %+d leaves available copies out of range", delta), id)
}

// Ensure bookRepository implements repository.BookRepository.
var _ repository.BookRepository = (*bookRepository)(nil)
