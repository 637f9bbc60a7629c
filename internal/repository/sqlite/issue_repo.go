package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/repository"
)

const issueColumns = `id, book_id, user_id, issue_date, due_date, returned_at`

// issueRow is the storage shape of domain.IssueRecord.
type issueRow struct {
	ID         string         `db:"id"`
	BookID     string         `db:"book_id"`
	UserID     string         `db:"user_id"`
	IssueDate  string         `db:"issue_date"`
	DueDate    string         `db:"due_date"`
	ReturnedAt sql.NullString `db:"returned_at"`
}

func (r issueRow) toDomain() (*domain.IssueRecord, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid issue id %q: %w", r.ID, err)
	}

	record := &domain.IssueRecord{
		ID:        id,
		BookID:    r.BookID,
		UserID:    r.UserID,
		IssueDate: parseTime(r.IssueDate),
		DueDate:   parseTime(r.DueDate),
	}
	if r.ReturnedAt.Valid {
		t := parseTime(r.ReturnedAt.String)
		record.ReturnedAt = &t
	}
	return record, nil
}

func toDomainRecords(rows []issueRow) ([]*domain.IssueRecord, error) {
	records := make([]*domain.IssueRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// issueRepository implements repository.IssueRepository for SQLite.
type issueRepository struct {
	db *DB
}

// NewIssueRepository creates a new SQLite issue repository.
func NewIssueRepository(db *DB) repository.IssueRepository {
	return &issueRepository{db: db}
}

// GetByID retrieves an issue record by ID.
func (r *issueRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.IssueRecord, error) {
	var row issueRow
	err := sqlx.GetContext(ctx, r.db.db, &row, `SELECT `+issueColumns+` FROM issue_records WHERE id = ?`, id.String())
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrIssueNotFound
		}
		return nil, fmt.Errorf("failed to get issue record: %w", err)
	}
	return row.toDomain()
}

// List returns issue records ordered by issue date, newest first.
func (r *issueRepository) List(ctx context.Context, opts repository.IssueListOptions) ([]*domain.IssueRecord, error) {
	var (
		where []string
		args  []any
	)

	if opts.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.BookID != "" {
		where = append(where, "book_id = ?")
		args = append(args, opts.BookID)
	}
	if opts.OpenOnly {
		where = append(where, "returned_at IS NULL")
	}

	query := `SELECT ` + issueColumns + ` FROM issue_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY issue_date DESC, id LIMIT ? OFFSET ?`

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, opts.Offset)

	var rows []issueRow
	if err := sqlx.SelectContext(ctx, r.db.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list issue records: %w", err)
	}
	return toDomainRecords(rows)
}

// ListOverdue returns open records due before now, oldest due first.
func (r *issueRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.IssueRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT ` + issueColumns + `
		FROM issue_records
		WHERE returned_at IS NULL AND due_date < ?
		ORDER BY due_date
		LIMIT ?
	`

	var rows []issueRow
	if err := sqlx.SelectContext(ctx, r.db.db, &rows, query, formatTime(now), limit); err != nil {
		return nil, fmt.Errorf("failed to list overdue records: %w", err)
	}
	return toDomainRecords(rows)
}

// CountOverdue returns the number of open records due before now.
func (r *issueRepository) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.db.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM issue_records WHERE returned_at IS NULL AND due_date < ?`, formatTime(now)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count overdue records: %w", err)
	}
	return count, nil
}

// CountOpenByBook returns the number of open records for a book.
func (r *issueRepository) CountOpenByBook(ctx context.Context, bookID string) (int, error) {
	var count int
	err := r.db.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM issue_records WHERE book_id = ? AND returned_at IS NULL`, bookID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open records by book: %w", err)
	}
	return count, nil
}

// CountOpenByUser returns the number of open records for a reader.
func (r *issueRepository) CountOpenByUser(ctx context.Context, userID string) (int, error) {
	return countOpenByUser(ctx, r.db.db, userID)
}

func countOpenByUser(ctx context.Context, q sqlx.QueryerContext, userID string) (int, error) {
	var count int
	err := q.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM issue_records WHERE user_id = ? AND returned_at IS NULL`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open records by user: %w", err)
	}
	return count, nil
}

// Ensure issueRepository implements repository.IssueRepository.
var _ repository.IssueRepository = (*issueRepository)(nil)
