package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/repository"
)

const bookColumns = `id, title, author, total_copies, available_copies, created_at, updated_at`

var dialect = goqu.Dialect("postgres")

// bookRepository implements repository.BookRepository.
type bookRepository struct {
	db *DB
}

// NewBookRepository creates a new PostgreSQL book repository.
func NewBookRepository(db *DB) repository.BookRepository {
	return &bookRepository{db: db}
}

// Create adds a new title to the catalog.
func (r *bookRepository) Create(ctx context.Context, book *domain.Book) error {
	return insertBook(ctx, r.db.Pool, book)
}

// SeedIfEmpty inserts books in one transaction when the catalog is empty.
// The table lock makes concurrent seeders wait for the first one to commit.
func (r *bookRepository) SeedIfEmpty(ctx context.Context, books []*domain.Book) (int, error) {
	var inserted int

	err := repository.Retry(ctx, r.db.retry, func(ctx context.Context) error {
		inserted = 0
		err := r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `LOCK TABLE books IN SHARE ROW EXCLUSIVE MODE`); err != nil {
				return fmt.Errorf("failed to lock books: %w", err)
			}

			var count int
			if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
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
	return getBook(ctx, r.db.Pool, id)
}

// List returns books in ID order, optionally filtered by title or author.
func (r *bookRepository) List(ctx context.Context, opts repository.BookListOptions) ([]*domain.Book, error) {
	query, args, err := buildBookListQuery(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build book list query: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
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
		books = append(books, book)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating books: %w", err)
	}

	return books, nil
}

func buildBookListQuery(opts repository.BookListOptions) (string, []any, error) {
	ds := dialect.From("books").
		Select("id", "title", "author", "total_copies", "available_copies", "created_at", "updated_at").
		Order(goqu.I("id").Asc())

	if q := strings.TrimSpace(opts.Query); q != "" {
		p := likePattern(q)
		ds = ds.Where(goqu.Or(
			goqu.I("title").ILike(p),
			goqu.I("author").ILike(p),
		))
	}
	if opts.Limit > 0 {
		ds = ds.Limit(uint(opts.Limit))
	}
	if opts.Offset > 0 {
		ds = ds.Offset(uint(opts.Offset))
	}

	return ds.Prepared(true).ToSQL()
}

// Count returns the number of titles in the catalog.
func (r *bookRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count books: %w", err)
	}
	return count, nil
}

// AdjustAvailability atomically applies delta to available_copies.
func (r *bookRepository) AdjustAvailability(ctx context.Context, id string, delta int) (*domain.Book, error) {
	var book *domain.Book

	err := repository.Retry(ctx, r.db.retry, func(ctx context.Context) error {
		var err error
		book, err = adjustAvailability(ctx, r.db.Pool, id, delta, time.Now().UTC())
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

func scanBook(row pgx.Row) (*domain.Book, error) {
	book := &domain.Book{}
	err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.TotalCopies,
		&book.AvailableCopies,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	book.CreatedAt = book.CreatedAt.UTC()
	book.UpdatedAt = book.UpdatedAt.UTC()
	return book, nil
}

func insertBook(ctx context.Context, q Querier, book *domain.Book) error {
	if err := book.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO books (id, title, author, total_copies, available_copies, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := q.Exec(ctx, query,
		book.ID,
		book.Title,
		book.Author,
		book.TotalCopies,
		book.AvailableCopies,
		book.CreatedAt,
		book.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrBookAlreadyExists, "id already in catalog", book.ID)
		}
		return fmt.Errorf("failed to create book: %w", err)
	}

	return nil
}

func getBook(ctx context.Context, q Querier, id string) (*domain.Book, error) {
	book, err := scanBook(q.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
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
func adjustAvailability(ctx context.Context, q Querier, id string, delta int, now time.Time) (*domain.Book, error) {
	query := `
		UPDATE books
		SET available_copies = available_copies + $1, updated_at = $2
		WHERE id = $3
		  AND available_copies + $1 BETWEEN 0 AND total_copies
		RETURNING ` + bookColumns

	book, err := scanBook(q.QueryRow(ctx, query, delta, now, id))
	if err == nil {
		return book, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("failed to adjust availability: %w", err)
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check book existence: %w", err)
	}
	if !exists {
		return nil, domain.ErrBookNotFound
	}

	return nil, domain.NewDomainError(domain.ErrInvariantViolation,
		fmt.Sprintf("delta %+d leaves available copies out of range", delta), id)
}

// Ensure bookRepository implements repository.BookRepository.
var _ repository.BookRepository = (*bookRepository)(nil)
