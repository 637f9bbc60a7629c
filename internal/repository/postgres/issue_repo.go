package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/repository"
)

const issueColumns = `id::text, book_id, user_id, issue_date, due_date, returned_at`

// issueRepository implements repository.IssueRepository.
type issueRepository struct {
	db *DB
}

// NewIssueRepository creates a new PostgreSQL issue repository.
func NewIssueRepository(db *DB) repository.IssueRepository {
	return &issueRepository{db: db}
}

// GetByID retrieves an issue record by ID.
func (r *issueRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.IssueRecord, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM issue_records WHERE id = $1`, id)
	record, err := scanIssue(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrIssueNotFound
		}
		return nil, fmt.Errorf("failed to get issue record: %w", err)
	}
	return record, nil
}

// List returns issue records ordered by issue date, newest first.
func (r *issueRepository) List(ctx context.Context, opts repository.IssueListOptions) ([]*domain.IssueRecord, error) {
	query, args, err := buildIssueListQuery(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build issue list query: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issue records: %w", err)
	}
	return collectIssues(rows)
}

func buildIssueListQuery(opts repository.IssueListOptions) (string, []any, error) {
	ds := dialect.From("issue_records").
		Select(goqu.L("id::text"), "book_id", "user_id", "issue_date", "due_date", "returned_at").
		Order(goqu.C("issue_date").Desc(), goqu.C("id").Asc())

	if opts.UserID != "" {
		ds = ds.Where(goqu.C("user_id").Eq(opts.UserID))
	}
	if opts.BookID != "" {
		ds = ds.Where(goqu.C("book_id").Eq(opts.BookID))
	}
	if opts.OpenOnly {
		ds = ds.Where(goqu.C("returned_at").IsNull())
	}
	if opts.Limit > 0 {
		ds = ds.Limit(uint(opts.Limit))
	}
	if opts.Offset > 0 {
		ds = ds.Offset(uint(opts.Offset))
	}

	return ds.Prepared(true).ToSQL()
}

// ListOverdue returns open records due before now, oldest due first.
func (r *issueRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.IssueRecord, error) {
	query := `
		SELECT ` + issueColumns + `
		FROM issue_records
		WHERE returned_at IS NULL AND due_date < $1
		ORDER BY due_date
	`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue records: %w", err)
	}
	return collectIssues(rows)
}

// CountOverdue returns the number of open records due before now.
func (r *issueRepository) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM issue_records WHERE returned_at IS NULL AND due_date < $1`, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count overdue records: %w", err)
	}
	return count, nil
}

// CountOpenByBook returns the number of open records for a book.
func (r *issueRepository) CountOpenByBook(ctx context.Context, bookID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM issue_records WHERE book_id = $1 AND returned_at IS NULL`, bookID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open records by book: %w", err)
	}
	return count, nil
}

// CountOpenByUser returns the number of open records for a reader.
func (r *issueRepository) CountOpenByUser(ctx context.Context, userID string) (int, error) {
	return countOpenByUser(ctx, r.db.Pool, userID)
}

func countOpenByUser(ctx context.Context, q Querier, userID string) (int, error) {
	var count int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM issue_records WHERE user_id = $1 AND returned_at IS NULL`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open records by user: %w", err)
	}
	return count, nil
}

func scanIssue(row pgx.Row) (*domain.IssueRecord, error) {
	var (
		id         string
		returnedAt *time.Time
	)
	record := &domain.IssueRecord{}

	err := row.Scan(
		&id,
		&record.BookID,
		&record.UserID,
		&record.IssueDate,
		&record.DueDate,
		&returnedAt,
	)
	if err != nil {
		return nil, err
	}

	record.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid issue id %q: %w", id, err)
	}
	record.IssueDate = record.IssueDate.UTC()
	record.DueDate = record.DueDate.UTC()
	if returnedAt != nil {
		t := returnedAt.UTC()
		record.ReturnedAt = &t
	}

	return record, nil
}

func collectIssues(rows pgx.Rows) ([]*domain.IssueRecord, error) {
	defer rows.Close()

	var records []*domain.IssueRecord
	for rows.Next() {
		record, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating issue records: %w", err)
	}

	return records, nil
}

// Ensure issueRepository implements repository.IssueRepository.
var _ repository.IssueRepository = (*issueRepository)(nil)
