package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/lock"
	"github.com/prn-tf/alexander-library/internal/metrics"
	"github.com/prn-tf/alexander-library/internal/repository"
)

const (
	operationIssue  = "issue"
	operationReturn = "return"

	// readerLockPoll is the delay between attempts on a busy reader lock.
	readerLockPoll = 10 * time.Millisecond
)

// CatalogInvalidator drops cached catalog entries after a mutation.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context, bookIDs ...string)
}

// CirculationService issues and returns books.
// Every mutation runs in one store transaction that checks availability,
// applies a bounded compare-and-set on the copy count and writes the issue record.
type CirculationService struct {
	issues      repository.IssueRepository
	tx          repository.TxManager
	locker      lock.Locker
	invalidator CatalogInvalidator
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	config      CirculationConfig
	now         func() time.Time
}

// CirculationConfig contains circulation policy.
type CirculationConfig struct {
	// MaxIssued is the number of copies a reader may hold at once.
	MaxIssued int

	// LoanPeriod is the time between issue and due date.
	LoanPeriod time.Duration

	// StoreTimeout bounds each issue or return, retries included.
	StoreTimeout time.Duration

	// ReaderLockTTL caps how long a reader lock can outlive a crashed holder.
	ReaderLockTTL time.Duration

	// BlockOverdue refuses issues to readers holding an overdue copy.
	BlockOverdue bool
}

// DefaultCirculationConfig returns sensible defaults.
func DefaultCirculationConfig() CirculationConfig {
	return CirculationConfig{
		MaxIssued:     domain.DefaultMaxIssued,
		LoanPeriod:    domain.DefaultLoanPeriod,
		StoreTimeout:  5 * time.Second,
		ReaderLockTTL: 10 * time.Second,
	}
}

// NewCirculationService creates a new CirculationService.
// locker and invalidator may be nil.
func NewCirculationService(
	issues repository.IssueRepository,
	tx repository.TxManager,
	locker lock.Locker,
	invalidator CatalogInvalidator,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config CirculationConfig,
) *CirculationService {
	defaults := DefaultCirculationConfig()
	if config.MaxIssued <= 0 {
		config.MaxIssued = defaults.MaxIssued
	}
	if config.LoanPeriod <= 0 {
		config.LoanPeriod = defaults.LoanPeriod
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = defaults.StoreTimeout
	}
	if config.ReaderLockTTL <= 0 {
		config.ReaderLockTTL = defaults.ReaderLockTTL
	}

	return &CirculationService{
		issues:      issues,
		tx:          tx,
		locker:      locker,
		invalidator: invalidator,
		metrics:     m,
		logger:      logger.With().Str("service", "circulation").Logger(),
		config:      config,
		now:         time.Now,
	}
}

// CirculationInput identifies a reader and a book.
type CirculationInput struct {
	BookID string `json:"bookId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

func (in *CirculationInput) normalize() error {
	in.BookID = strings.TrimSpace(in.BookID)
	in.UserID = strings.TrimSpace(in.UserID)
	return validateInput(in)
}

// IssueOutput contains the result of an issue.
type IssueOutput struct {
	Book        *domain.Book        `json:"book"`
	IssueRecord *domain.IssueRecord `json:"issueRecord"`
}

// Issue checks out one copy of a book to a reader.
// Issue is not idempotent; callers must not retry it without a fresh decision.
func (s *CirculationService) Issue(ctx context.Context, input CirculationInput) (out *IssueOutput, err error) {
	start := time.Now()
	defer func() { s.observe(operationIssue, input, start, err) }()

	if err := input.normalize(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	held, err := s.lockReader(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	defer held.release(ctx)

	attempts := 0
	err = s.tx.WithinCirculationTx(ctx, func(ctx context.Context, tx repository.CirculationTx) error {
		attempts++
		if attempts > 1 {
			if err := held.extend(ctx); err != nil {
				return err
			}
		}

		if err := tx.LockReader(ctx, input.UserID); err != nil {
			return err
		}

		book, err := tx.GetBook(ctx, input.BookID)
		if err != nil {
			return err
		}
		if book.AvailableCopies == 0 {
			return domain.NewDomainError(domain.ErrNoCopiesAvailable, "all copies are issued", book.ID)
		}

		open, err := tx.CountOpenIssuesByUser(ctx, input.UserID)
		if err != nil {
			return err
		}
		if open >= s.config.MaxIssued {
			return domain.NewDomainError(domain.ErrLimitExceeded,
				fmt.Sprintf("reader holds %d of %d books", open, s.config.MaxIssued), input.UserID)
		}

		now := s.now().UTC()
		if s.config.BlockOverdue {
			overdue, err := tx.HasOverdueIssue(ctx, input.UserID, now)
			if err != nil {
				return err
			}
			if overdue {
				return domain.NewDomainError(domain.ErrOverdueBlocked, "return overdue books first", input.UserID)
			}
		}

		updated, err := tx.AdjustAvailability(ctx, book.ID, -1)
		if err != nil {
			// Another transaction took the last copy between our read and the update.
			if errors.Is(err, domain.ErrInvariantViolation) {
				return domain.NewDomainError(domain.ErrNoCopiesAvailable, "all copies are issued", book.ID)
			}
			return err
		}

		record := domain.NewIssueRecord(input.UserID, book.ID, now, s.config.LoanPeriod)
		if err := tx.CreateIssue(ctx, record); err != nil {
			return err
		}

		out = &IssueOutput{Book: updated, IssueRecord: record}
		return nil
	})
	if err != nil {
		return nil, s.circulationError(err)
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, input.BookID)
	}

	s.logger.Info().
		Str("user_id", input.UserID).
		Str("book_id", input.BookID).
		Str("issue_id", out.IssueRecord.ID.String()).
		Time("due_date", out.IssueRecord.DueDate).
		Int("available_copies", out.Book.AvailableCopies).
		Msg("book issued")

	return out, nil
}

// ReturnOutput contains the result of a return.
type ReturnOutput struct {
	Book        *domain.Book        `json:"book"`
	IssueRecord *domain.IssueRecord `json:"issueRecord"`
}

// Return closes the reader's oldest open issue for the book and puts the copy back.
func (s *CirculationService) Return(ctx context.Context, input CirculationInput) (out *ReturnOutput, err error) {
	start := time.Now()
	defer func() { s.observe(operationReturn, input, start, err) }()

	if err := input.normalize(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	err = s.tx.WithinCirculationTx(ctx, func(ctx context.Context, tx repository.CirculationTx) error {
		if _, err := tx.GetBook(ctx, input.BookID); err != nil {
			return err
		}

		record, err := tx.FindOpenIssue(ctx, input.UserID, input.BookID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if err := tx.CloseIssue(ctx, record.ID, now); err != nil {
			return err
		}
		record.Close(now)

		updated, err := tx.AdjustAvailability(ctx, input.BookID, +1)
		if err != nil {
			return err
		}

		out = &ReturnOutput{Book: updated, IssueRecord: record}
		return nil
	})
	if err != nil {
		return nil, s.circulationError(err)
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, input.BookID)
	}

	s.logger.Info().
		Str("user_id", input.UserID).
		Str("book_id", input.BookID).
		Str("issue_id", out.IssueRecord.ID.String()).
		Int("available_copies", out.Book.AvailableCopies).
		Msg("book returned")

	return out, nil
}

// IssueView is an issue record with its status at read time.
type IssueView struct {
	*domain.IssueRecord
	Status domain.IssueStatus `json:"status"`
}

// ListIssuesInput filters a reader's issue history.
type ListIssuesInput struct {
	UserID   string `json:"userId" validate:"required"`
	OpenOnly bool   `json:"open"`
	Offset   int    `json:"offset" validate:"min=0"`
	Limit    int    `json:"limit" validate:"min=0"`
}

// ListIssues returns a reader's issue records, newest first.
func (s *CirculationService) ListIssues(ctx context.Context, input ListIssuesInput) ([]IssueView, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	records, err := s.issues.List(ctx, repository.IssueListOptions{
		UserID:   input.UserID,
		OpenOnly: input.OpenOnly,
		Offset:   input.Offset,
		Limit:    input.Limit,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", input.UserID).Msg("failed to list issues")
		return nil, storeError(err)
	}

	return s.views(records), nil
}

// GetIssue returns one issue record.
func (s *CirculationService) GetIssue(ctx context.Context, id uuid.UUID) (*IssueView, error) {
	record, err := s.issues.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrIssueNotFound) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("issue_id", id.String()).Msg("failed to get issue")
		return nil, storeError(err)
	}
	return &IssueView{IssueRecord: record, Status: record.Status(s.now())}, nil
}

func (s *CirculationService) views(records []*domain.IssueRecord) []IssueView {
	now := s.now()
	views := make([]IssueView, 0, len(records))
	for _, r := range records {
		views = append(views, IssueView{IssueRecord: r, Status: r.Status(now)})
	}
	return views
}

// readerLock is a held reader lock. A nil *readerLock is a no-op.
type readerLock struct {
	l      *lock.Lock
	ttl    time.Duration
	userID string
	logger zerolog.Logger
}

// extend renews the lock before a retried store attempt so it cannot lapse
// while the reader is still being served.
func (r *readerLock) extend(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if err := r.l.Extend(ctx, r.ttl); err != nil {
		return fmt.Errorf("%w: reader lock: %v", domain.ErrStoreUnavailable, err)
	}
	if !r.l.IsHeld() {
		r.logger.Warn().Str("user_id", r.userID).Msg("reader lock expired during retries")
		return fmt.Errorf("%w: reader lock for %s expired", domain.ErrStoreUnavailable, r.userID)
	}
	return nil
}

// release is safe to call after ctx is done.
func (r *readerLock) release(ctx context.Context) {
	if r == nil {
		return
	}
	if err := r.l.Release(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn().Err(err).Str("user_id", r.userID).Msg("failed to release reader lock")
	}
}

// lockReader serialises issues for one reader across server instances.
func (s *CirculationService) lockReader(ctx context.Context, userID string) (*readerLock, error) {
	if s.locker == nil {
		return nil, nil
	}

	l := lock.NewLock(s.locker, lock.Keys.ReaderIssue(userID))
	maxRetries := int(s.config.StoreTimeout / readerLockPoll)

	acquired, err := l.AcquireWithRetry(ctx, s.config.ReaderLockTTL, maxRetries, readerLockPoll)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to acquire reader lock")
		}
		return nil, fmt.Errorf("%w: reader lock: %v", domain.ErrStoreUnavailable, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: reader %s is busy", domain.ErrStoreUnavailable, userID)
	}

	return &readerLock{l: l, ttl: s.config.ReaderLockTTL, userID: userID, logger: s.logger}, nil
}

// circulationError keeps business errors intact and converts the rest.
func (s *CirculationService) circulationError(err error) error {
	if isRejection(err) {
		return err
	}
	if errors.Is(err, domain.ErrInvariantViolation) {
		s.logger.Error().Err(err).Msg("inventory invariant violated")
		return err
	}
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		s.logger.Error().Err(err).Msg("circulation transaction failed")
	}
	return storeError(err)
}

// rejections are the refusals a caller can act on.
var rejections = []struct {
	err    error
	reason string
}{
	{domain.ErrBookNotFound, "not_found"},
	{domain.ErrNoCopiesAvailable, "no_copies"},
	{domain.ErrLimitExceeded, "limit_exceeded"},
	{domain.ErrOverdueBlocked, "overdue_blocked"},
	{domain.ErrNotIssued, "not_issued"},
	{ErrInvalidInput, "invalid_input"},
}

func isRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return true
		}
	}
	return false
}

// outcome classifies err for metrics.
func outcome(err error) (string, string) {
	if err == nil {
		return metrics.OutcomeSuccess, ""
	}
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return metrics.OutcomeRejected, r.reason
		}
	}
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return metrics.OutcomeError, "store_unavailable"
	case errors.Is(err, domain.ErrInvariantViolation):
		return metrics.OutcomeError, "invariant_violation"
	default:
		return metrics.OutcomeError, "internal"
	}
}

func (s *CirculationService) observe(op string, input CirculationInput, start time.Time, err error) {
	result, reason := outcome(err)
	s.metrics.ObserveCirculation(op, result, reason, time.Since(start))

	if result == metrics.OutcomeRejected {
		s.logger.Debug().
			Err(err).
			Str("operation", op).
			Str("user_id", input.UserID).
			Str("book_id", input.BookID).
			Msg("circulation request refused")
	}
}
