package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/repository"
)

// txManager implements repository.TxManager for SQLite.
type txManager struct {
	db *DB
}

// NewTxManager creates a new SQLite transaction manager.
func NewTxManager(db *DB) repository.TxManager {
	return &txManager{db: db}
}

// WithinCirculationTx runs fn in a BEGIN IMMEDIATE transaction, retrying on SQLITE_BUSY.
func (m *txManager) WithinCirculationTx(ctx context.Context, fn func(ctx context.Context, tx repository.CirculationTx) error) error {
	return repository.Retry(ctx, m.db.retry, func(ctx context.Context) error {
		err := m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			return fn(ctx, &circulationTx{tx: tx})
		})
		return classify(err)
	})
}

// circulationTx implements repository.CirculationTx on one sqlx.Tx.
type circulationTx struct {
	tx *sqlx.Tx
}

// LockReader is a no-op: an immediate transaction already holds the database write lock.
func (c *circulationTx) LockReader(ctx context.Context, userID string) error {
	return nil
}

func (c *circulationTx) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	return getBook(ctx, c.tx, id)
}

func (c *circulationTx) AdjustAvailability(ctx context.Context, id string, delta int) (*domain.Book, error) {
	return adjustAvailability(ctx, c.tx, id, delta, time.Now())
}

func (c *circulationTx) CountOpenIssuesByUser(ctx context.Context, userID string) (int, error) {
	return countOpenByUser(ctx, c.tx, userID)
}

func (c *circulationTx) HasOverdueIssue(ctx context.Context, userID string, now time.Time) (bool, error) {
	var count int
	err := c.tx.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM issue_records WHERE user_id = ? AND returned_at IS NULL AND due_date < ?`,
		userID, formatTime(now)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check overdue records: %w", err)
	}
	return count > 0, nil
}

func (c *circulationTx) CreateIssue(ctx context.Context, record *domain.IssueRecord) error {
	query := `
		INSERT INTO issue_records (id, book_id, user_id, issue_date, due_date, returned_at)
		VALUES (?, ?, ?, ?, ?, NULL)
	`

	_, err := c.tx.ExecContext(ctx, query,
		record.ID.String(),
		record.BookID,
		record.UserID,
		formatTime(record.IssueDate),
		formatTime(record.DueDate),
	)
	if err != nil {
		return fmt.Errorf("failed to create issue record: %w", err)
	}
	return nil
}

func (c *circulationTx) FindOpenIssue(ctx context.Context, userID, bookID string) (*domain.IssueRecord, error) {
	query := `
		SELECT ` + issueColumns + `
		FROM issue_records
		WHERE user_id = ? AND book_id = ? AND returned_at IS NULL
		ORDER BY issue_date, id
		LIMIT 1
	`

	var row issueRow
	if err := c.tx.GetContext(ctx, &row, query, userID, bookID); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotIssued
		}
		return nil, fmt.Errorf("failed to find open issue record: %w", err)
	}
	return row.toDomain()
}

func (c *circulationTx) CloseIssue(ctx context.Context, id uuid.UUID, returnedAt time.Time) error {
	result, err := c.tx.ExecContext(ctx,
		`UPDATE issue_records SET returned_at = ? WHERE id = ? AND returned_at IS NULL`,
		formatTime(returnedAt), id.String())
	if err != nil {
		return fmt.Errorf("failed to close issue record: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrNotIssued
	}
	return nil
}

// Ensure implementations satisfy the repository interfaces.
var (
	_ repository.TxManager     = (*txManager)(nil)
	_ repository.CirculationTx = (*circulationTx)(nil)
)
