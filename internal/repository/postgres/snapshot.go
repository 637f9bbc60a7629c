package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/repository"
)

// snapshotReader implements repository.SnapshotReader for PostgreSQL.
type snapshotReader struct {
	db *DB
}

// NewSnapshotReader creates a new PostgreSQL snapshot reader.
func NewSnapshotReader(db *DB) repository.SnapshotReader {
	return &snapshotReader{db: db}
}

// ReadSnapshot reads books and issue records in one REPEATABLE READ, READ ONLY transaction.
func (s *snapshotReader) ReadSnapshot(ctx context.Context) ([]*domain.Book, []*domain.IssueRecord, error) {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

	var (
		books  []*domain.Book
		issues []*domain.IssueRecord
	)

	err := repository.Retry(ctx, s.db.retry, func(ctx context.Context) error {
		err := s.db.WithTx(ctx, opts, func(tx pgx.Tx) error {
			var err error
			books, err = snapshotBooks(ctx, tx)
			if err != nil {
				return err
			}

			rows, err := tx.Query(ctx, `SELECT `+issueColumns+` FROM issue_records ORDER BY issue_date DESC, id`)
			if err != nil {
				return fmt.Errorf("failed to list issue records: %w", err)
			}
			issues, err = collectIssues(rows)
			return err
		})
		return classify(err)
	})
	if err != nil {
		return nil, nil, err
	}

	return books, issues, nil
}

func snapshotBooks(ctx context.Context, q Querier) ([]*domain.Book, error) {
	rows, err := q.Query(ctx, `SELECT `+bookColumns+` FROM books ORDER BY id`)
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
