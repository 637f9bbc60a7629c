package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/repository"
)

// snapshotReader implements repository.SnapshotReader for SQLite.
type snapshotReader struct {
	db *DB
}

// NewSnapshotReader creates a new SQLite snapshot reader.
func NewSnapshotReader(db *DB) repository.SnapshotReader {
	return &snapshotReader{db: db}
}

// ReadSnapshot reads books and issue records in one deferred transaction.
// In WAL mode the first SELECT pins the read snapshot for both queries.
func (s *snapshotReader) ReadSnapshot(ctx context.Context) ([]*domain.Book, []*domain.IssueRecord, error) {
	var (
		books  []*domain.Book
		issues []*domain.IssueRecord
	)

	err := repository.Retry(ctx, s.db.retry, func(ctx context.Context) error {
		err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			var err error
			books, err = snapshotBooks(ctx, tx)
			if err != nil {
				return err
			}

			var rows []issueRow
			query := `SELECT ` + issueColumns + ` FROM issue_records ORDER BY issue_date DESC, id`
			if err := sqlx.SelectContext(ctx, tx, &rows, query); err != nil {
				return fmt.Errorf("failed to list issue records: %w", err)
			}
			issues, err = toDomainRecords(rows)
			return err
		})
		return classify(err)
	})
	if err != nil {
		return nil, nil, err
	}

	return books, issues, nil
}

func snapshotBooks(ctx context.Context, tx *sqlx.Tx) ([]*domain.Book, error) {
	rows, err := tx.QueryxContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY id`)
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

var _ repository.SnapshotReader = (*snapshotReader)(nil)
