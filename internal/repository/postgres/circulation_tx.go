package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/repository"
)

// txManager implements repository.TxManager.
type txManager struct {
	db *DB
}

// NewTxManager creates a new PostgreSQL transaction manager.
func NewTxManager(db *DB) repository.TxManager {
	return &txManager{db: db}
}

// WithinCirculationTx runs fn in a READ COMMITTED transaction, retrying
// serialization failures and deadlocks.
func (m *txManager) WithinCirculationTx(ctx context.Context, fn func(ctx context.Context, tx repository.CirculationTx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

	return repository.Retry(ctx, m.db.retry, func(ctx context.Context) error {
		err := m.db.WithTx(ctx, opts, func(tx pgx.Tx) error {
			return fn(ctx, &circulationTx{tx: tx})
		})
		return classify(err)
	})
}

// circulationTx implements repository.CirculationTx on one pgx.Tx.
type circulationTx struct {
	tx pgx.Tx
}

// LockReader takes a transaction-scoped advisory lock keyed by reader.
func (c *circulationTx) LockReader(ctx context.Context, userID string) error {
	if _, err := c.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "reader:"+userID); err != nil {
		return fmt.Errorf("failed to lock reader: %w", err)
	}
	return nil
}

func (c *circulationTx) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	return getBook(ctx, c.tx, id)
}

func (c *circulationTx) AdjustAvailability(ctx context.Context, id string, delta int) (*domain.Book, error) {
	return adjustAvailability(ctx, c.tx, id, delta, time.Now().UTC())
}

func (c *circulationTx) CountOpenIssuesByUser(ctx context.Context, userID string) (int, error) {
	return countOpenByUser(ctx, c.tx, userID)
}

func (c *circulationTx) HasOverdueIssue(ctx context.Context, userID string, now time.Time) (bool, error) {
	var has bool
	err := c.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM issue_records
			WHERE user_id = $1 AND returned_at IS NULL AND due_date < $2
		)`, userID, now).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("failed to check overdue records: %w", err)
	}
	return has, nil
}

func (c *circulationTx) CreateIssue(ctx context.Context, record *domain.IssueRecord) error {
	query := `
		INSERT INTO issue_records (id, book_id, user_id, issue_date, due_date, returned_at)
		VALUES ($1, $2, $3, $4, $5, NULL)
	`

	_, err := c.tx.Exec(ctx, query,
		record.ID,
		record.BookID,
		record.UserID,
		record.IssueDate,
		record.DueDate,
	)
	if err != nil {
		return fmt.Errorf("failed to create issue record: %w", err)
	}
	return nil
}

// FindOpenIssue locks the oldest open record so two returns of the same copy cannot both close it.
func (c *circulationTx) FindOpenIssue(ctx context.Context, userID, bookID string) (*domain.IssueRecord, error) {
	query := `
		SELECT ` + issueColumns + `
		FROM issue_records
		WHERE user_id = $1 AND book_id = $2 AND returned_at IS NULL
		ORDER BY issue_date, id
		LIMIT 1
		FOR UPDATE
	`

	record, err := scanIssue(c.tx.QueryRow(ctx, query, userID, bookID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotIssued
		}
		return nil, fmt.Errorf("failed to find open issue record: %w", err)
	}
	return record, nil
}

func (c *circulationTx) CloseIssue(ctx context.Context, id uuid.UUID, returnedAt time.Time) error {
	tag, err := c.tx.Exec(ctx,
		`UPDATE issue_records SET returned_at = $1 WHERE id = $2 AND returned_at IS NULL`,
		returnedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to close issue record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotIssued
	}
	return nil
}

// Ensure implementations satisfy the repository interfaces.
var (
	_ repository.TxManager     = (*txManager)(nil)
	_ repository.CirculationTx = (*circulationTx)(nil)
)
