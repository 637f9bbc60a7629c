package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/lock"
	"github.com/prn-tf/alexander-library/internal/repository"
)

func TestCirculation_LastCopyScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// b001 is seeded with a single copy.
	out := env.issue(t, "U1", "b001")
	assert.Equal(t, 0, out.Book.AvailableCopies)
	assert.Equal(t, "U1", out.IssueRecord.UserID)
	assert.Equal(t, domain.DefaultLoanPeriod, out.IssueRecord.DueDate.Sub(out.IssueRecord.IssueDate))

	_, err := env.circulation.Issue(ctx, CirculationInput{UserID: "U2", BookID: "b001"})
	assert.ErrorIs(t, err, domain.ErrNoCopiesAvailable)

	ret, err := env.circulation.Return(ctx, CirculationInput{UserID: "U1", BookID: "b001"})
	require.NoError(t, err)
	assert.Equal(t, 1, ret.Book.AvailableCopies)
	require.NotNil(t, ret.IssueRecord.ReturnedAt)

	out = env.issue(t, "U2", "b001")
	assert.Equal(t, 0, out.Book.AvailableCopies)

	env.requireInventoryConsistent(t)
}

func TestCirculation_LimitExceeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"b002", "b003", "b004", "b005"} {
		env.issue(t, "U1", id)
	}

	before := env.available(t, "b006")
	_, err := env.circulation.Issue(ctx, CirculationInput{UserID: "U1", BookID: "b006"})
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)
	assert.Equal(t, before, env.available(t, "b006"))

	// Another reader is unaffected.
	env.issue(t, "U2", "b006")

	// Returning one frees a slot.
	_, err = env.circulation.Return(ctx, CirculationInput{UserID: "U1", BookID: "b002"})
	require.NoError(t, err)
	env.issue(t, "U1", "b006")

	env.requireInventoryConsistent(t)
}

func TestCirculation_ReturnNotIssued(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.issue(t, "U1", "b002")
	before := env.available(t, "b002")

	tests := []struct {
		name    string
		input   CirculationInput
		wantErr error
	}{
		{name: "other reader", input: CirculationInput{UserID: "U2", BookID: "b002"}, wantErr: domain.ErrNotIssued},
		{name: "never issued", input: CirculationInput{UserID: "U1", BookID: "b003"}, wantErr: domain.ErrNotIssued},
		{name: "unknown book", input: CirculationInput{UserID: "U1", BookID: "b999"}, wantErr: domain.ErrBookNotFound},
		{name: "missing user", input: CirculationInput{BookID: "b002"}, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.circulation.Return(ctx, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, before, env.available(t, "b002"))
	assert.Equal(t, 3, env.available(t, "b003"))
	env.requireInventoryConsistent(t)
}

func TestCirculation_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	before := env.available(t, "b003")
	issued := env.issue(t, "U1", "b003")
	assert.Equal(t, before-1, issued.Book.AvailableCopies)

	_, err := env.circulation.Return(ctx, CirculationInput{UserID: "U1", BookID: "b003"})
	require.NoError(t, err)
	assert.Equal(t, before, env.available(t, "b003"))

	history, err := env.circulation.ListIssues(ctx, ListIssuesInput{UserID: "U1"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, issued.IssueRecord.ID, history[0].ID)
	assert.Equal(t, domain.IssueStatusReturned, history[0].Status)
	require.NotNil(t, history[0].ReturnedAt)

	open, err := env.circulation.ListIssues(ctx, ListIssuesInput{UserID: "U1", OpenOnly: true})
	require.NoError(t, err)
	assert.Empty(t, open)

	// A second return has nothing to close.
	_, err = env.circulation.Return(ctx, CirculationInput{UserID: "U1", BookID: "b003"})
	assert.ErrorIs(t, err, domain.ErrNotIssued)
	assert.Equal(t, before, env.available(t, "b003"))
}

func TestCirculation_ReturnClosesOldestCopy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.issue(t, "U1", "b002")
	env.issue(t, "U1", "b002")

	ret, err := env.circulation.Return(ctx, CirculationInput{UserID: "U1", BookID: "b002"})
	require.NoError(t, err)
	assert.Equal(t, first.IssueRecord.ID, ret.IssueRecord.ID)
	assert.Equal(t, 4, ret.Book.AvailableCopies)
	env.requireInventoryConsistent(t)
}

func TestCirculation_IssueRejections(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		input   CirculationInput
		wantErr error
	}{
		{name: "unknown book", input: CirculationInput{UserID: "U1", BookID: "b999"}, wantErr: domain.ErrBookNotFound},
		{name: "missing book", input: CirculationInput{UserID: "U1"}, wantErr: ErrInvalidInput},
		{name: "blank user", input: CirculationInput{UserID: "  ", BookID: "b002"}, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.circulation.Issue(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	env.requireInventoryConsistent(t)
}

func TestCirculation_ConcurrentLastCopy(t *testing.T) {
	env := newTestEnv(t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		noCopies  int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.circulation.Issue(context.Background(), CirculationInput{
				UserID: fmt.Sprintf("U%d", i),
				BookID: "b001",
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrNoCopiesAvailable):
				noCopies++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, noCopies)
	assert.Equal(t, 0, env.available(t, "b001"))
	env.requireInventoryConsistent(t)
}

func TestCirculation_ConcurrentSameReader(t *testing.T) {
	env := newTestEnv(t)

	for _, id := range []string{"b002", "b003", "b004"} {
		env.issue(t, "U1", id)
	}

	books := []string{"b005", "b006", "b007", "b008"}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)

	for _, id := range books {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.circulation.Issue(context.Background(), CirculationInput{UserID: "U1", BookID: id})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrLimitExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, len(books)-1, rejected)

	open, err := env.repos.Issues.CountOpenByUser(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMaxIssued, open)
	env.requireInventoryConsistent(t)
}

func TestCirculation_BlockOverdue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg := DefaultCirculationConfig()
	cfg.BlockOverdue = true
	svc := NewCirculationService(env.repos.Issues, env.repos.Tx, env.locker, env.catalog, nil, zerolog.Nop(), cfg)

	// Issue three weeks ago so the loan is a week overdue.
	svc.now = func() time.Time { return time.Now().Add(-21 * 24 * time.Hour) }
	_, err := svc.Issue(ctx, CirculationInput{UserID: "U1", BookID: "b002"})
	require.NoError(t, err)
	svc.now = time.Now

	_, err = svc.Issue(ctx, CirculationInput{UserID: "U1", BookID: "b003"})
	assert.ErrorIs(t, err, domain.ErrOverdueBlocked)

	views, err := svc.ListIssues(ctx, ListIssuesInput{UserID: "U1", OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, domain.IssueStatusOverdue, views[0].Status)

	// Without the policy the same reader may still borrow.
	env.issue(t, "U1", "b003")
}

func TestCirculation_GetIssue(t *testing.T) {
	env := newTestEnv(t)
	out := env.issue(t, "U1", "b004")

	view, err := env.circulation.GetIssue(context.Background(), out.IssueRecord.ID)
	require.NoError(t, err)
	assert.Equal(t, "b004", view.BookID)
	assert.Equal(t, domain.IssueStatusActive, view.Status)
}

func TestCirculation_InvalidatesCatalogCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	books, err := env.catalog.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, books[0].AvailableCopies)

	env.issue(t, "U1", "b001")

	books, err = env.catalog.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, books[0].AvailableCopies)
}

// =============================================================================
// Store failure paths
// =============================================================================

func newMockCirculation(tm repository.TxManager, cfg CirculationConfig) *CirculationService {
	return NewCirculationService(nil, tm, nil, nil, nil, zerolog.Nop(), cfg)
}

func TestCirculation_LostCompareAndSet(t *testing.T) {
	tx := NewMockCirculationTx(domain.NewBook("b001", "The Great Gatsby", "F. Scott Fitzgerald", 1))
	tx.adjustErr = domain.NewDomainError(domain.ErrInvariantViolation, "delta -1 leaves available copies out of range", "b001")
	svc := newMockCirculation(&MockTxManager{tx: tx}, DefaultCirculationConfig())

	_, err := svc.Issue(context.Background(), CirculationInput{UserID: "U1", BookID: "b001"})
	assert.ErrorIs(t, err, domain.ErrNoCopiesAvailable)
	assert.Empty(t, tx.records)
}

func TestCirculation_ReturnPastTotalIsInvariantViolation(t *testing.T) {
	book := domain.NewBook("b002", "1984", "George Orwell", 5)
	tx := NewMockCirculationTx(book)
	record := domain.NewIssueRecord("U1", "b002", time.Now(), domain.DefaultLoanPeriod)
	tx.records[record.ID] = record

	// Copy count says nothing is out while a record is open.
	svc := newMockCirculation(&MockTxManager{tx: tx}, DefaultCirculationConfig())

	_, err := svc.Return(context.Background(), CirculationInput{UserID: "U1", BookID: "b002"})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.Equal(t, 5, book.AvailableCopies)
}

func TestCirculation_StoreUnavailable(t *testing.T) {
	tests := []struct {
		name string
		tm   *MockTxManager
	}{
		{name: "retries exhausted", tm: &MockTxManager{err: fmt.Errorf("%w: retries exhausted", domain.ErrStoreUnavailable)}},
		{name: "timeout", tm: &MockTxManager{block: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCirculationConfig()
			cfg.StoreTimeout = 20 * time.Millisecond
			svc := newMockCirculation(tt.tm, cfg)

			_, err := svc.Issue(context.Background(), CirculationInput{UserID: "U1", BookID: "b001"})
			assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

			_, err = svc.Return(context.Background(), CirculationInput{UserID: "U1", BookID: "b001"})
			assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		})
	}
}

func TestCirculation_ExtendsReaderLockOnRetry(t *testing.T) {
	locker := &countingLocker{MemoryLocker: lock.NewMemoryLocker()}
	t.Cleanup(locker.Stop)

	tx := NewMockCirculationTx(domain.NewBook("b001", "The Great Gatsby", "F. Scott Fitzgerald", 1))
	tm := &MockTxManager{tx: tx, retries: 2}
	svc := NewCirculationService(nil, tm, locker, nil, nil, zerolog.Nop(), DefaultCirculationConfig())

	out, err := svc.Issue(context.Background(), CirculationInput{UserID: "U1", BookID: "b001"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Book.AvailableCopies)
	assert.Equal(t, 3, tm.attempts)
	assert.Equal(t, 2, locker.extendCalls(), "every retried attempt renews the reader lock")

	held, err := locker.IsHeld(context.Background(), lock.Keys.ReaderIssue("U1"))
	require.NoError(t, err)
	assert.False(t, held, "lock is released after the issue")
}

func TestCirculation_ReaderLockLostDuringRetries(t *testing.T) {
	locker := &countingLocker{MemoryLocker: lock.NewMemoryLocker()}
	t.Cleanup(locker.Stop)

	tx := NewMockCirculationTx(domain.NewBook("b001", "The Great Gatsby", "F. Scott Fitzgerald", 1))
	tm := &MockTxManager{tx: tx, retries: 1}
	tm.beforeRetry = func() {
		_, _ = locker.Release(context.Background(), lock.Keys.ReaderIssue("U1"))
	}
	svc := NewCirculationService(nil, tm, locker, nil, nil, zerolog.Nop(), DefaultCirculationConfig())

	_, err := svc.Issue(context.Background(), CirculationInput{UserID: "U1", BookID: "b001"})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Empty(t, tx.records)
	assert.Equal(t, 1, tx.books["b001"].AvailableCopies)
}

func TestCirculation_UnexpectedStoreError(t *testing.T) {
	svc := newMockCirculation(&MockTxManager{err: errors.New("disk I/O error")}, DefaultCirculationConfig())

	_, err := svc.Issue(context.Background(), CirculationInput{UserID: "U1", BookID: "b001"})
	assert.ErrorIs(t, err, ErrInternalError)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err        error
		wantResult string
		wantReason string
	}{
		{nil, "success", ""},
		{domain.NewDomainError(domain.ErrNoCopiesAvailable, "", "b001"), "rejected", "no_copies"},
		{domain.ErrLimitExceeded, "rejected", "limit_exceeded"},
		{domain.ErrNotIssued, "rejected", "not_issued"},
		{fmt.Errorf("%w: bookId", ErrMissingField), "rejected", "invalid_input"},
		{domain.ErrStoreUnavailable, "error", "store_unavailable"},
		{domain.ErrInvariantViolation, "error", "invariant_violation"},
		{errors.New("boom"), "error", "internal"},
	}

	for _, tt := range tests {
		result, reason := outcome(tt.err)
		assert.Equal(t, tt.wantResult, result)
		assert.Equal(t, tt.wantReason, reason)
	}
}
