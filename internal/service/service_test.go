package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-library/internal/cache/memory"
	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/lock"
	"github.com/prn-tf/alexander-library/internal/repository"
	"github.com/prn-tf/alexander-library/internal/repository/sqlite"
)

// testEnv wires the services to an in-memory SQLite store.
type testEnv struct {
	repos       *repository.Repositories
	locker      *lock.MemoryLocker
	cache       *memory.Cache
	catalog     *CatalogService
	circulation *CirculationService
	books       *countingBooks
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(":memory:"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	env := &testEnv{
		repos: &repository.Repositories{
			Books:  sqlite.NewBookRepository(db),
			Issues: sqlite.NewIssueRepository(db),
			Users:  sqlite.NewUserRepository(db),
			Tx:     sqlite.NewTxManager(db),
		},
		locker: lock.NewMemoryLocker(),
		cache:  memory.NewCache(),
	}
	t.Cleanup(env.locker.Stop)
	t.Cleanup(env.cache.Stop)

	env.books = &countingBooks{BookRepository: env.repos.Books}
	env.catalog = NewCatalogService(env.books, env.repos.Issues, env.cache, env.locker, nil, zerolog.Nop(), CatalogConfig{
		CacheTTL:  time.Minute,
		MaxIssued: domain.DefaultMaxIssued,
	})
	env.circulation = NewCirculationService(env.repos.Issues, env.repos.Tx, env.locker, env.catalog, nil, zerolog.Nop(),
		DefaultCirculationConfig())

	n, err := env.catalog.Seed(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, n)

	return env
}

// issue is a test shortcut that fails the test on error.
func (e *testEnv) issue(t *testing.T, userID, bookID string) *IssueOutput {
	t.Helper()
	out, err := e.circulation.Issue(context.Background(), CirculationInput{UserID: userID, BookID: bookID})
	require.NoError(t, err)
	return out
}

func (e *testEnv) available(t *testing.T, bookID string) int {
	t.Helper()
	b, err := e.repos.Books.GetByID(context.Background(), bookID)
	require.NoError(t, err)
	return b.AvailableCopies
}

// requireInventoryConsistent checks copy bounds and that open records
// account for every missing copy.
func (e *testEnv) requireInventoryConsistent(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	books, err := e.repos.Books.List(ctx, repository.BookListOptions{})
	require.NoError(t, err)

	for _, b := range books {
		require.GreaterOrEqual(t, b.AvailableCopies, 0, b.ID)
		require.LessOrEqual(t, b.AvailableCopies, b.TotalCopies, b.ID)

		open, err := e.repos.Issues.CountOpenByBook(ctx, b.ID)
		require.NoError(t, err)
		require.Equal(t, b.TotalCopies-b.AvailableCopies, open, b.ID)
	}
}

// countingBooks counts List calls to observe cache hits.
type countingBooks struct {
	repository.BookRepository

	mu    sync.Mutex
	lists int
}

func (c *countingBooks) List(ctx context.Context, opts repository.BookListOptions) ([]*domain.Book, error) {
	c.mu.Lock()
	c.lists++
	c.mu.Unlock()
	return c.BookRepository.List(ctx, opts)
}

func (c *countingBooks) listCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

// =============================================================================
// Mocks
// =============================================================================

// MockTxManager runs fn against a MockCirculationTx, or fails with err.
// With retries set, fn first runs that many times against a busy store.
type MockTxManager struct {
	tx          *MockCirculationTx
	err         error
	block       bool
	retries     int
	beforeRetry func()
	attempts    int
}

func (m *MockTxManager) WithinCirculationTx(ctx context.Context, fn func(ctx context.Context, tx repository.CirculationTx) error) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.err != nil {
		return m.err
	}
	for i := 0; i < m.retries; i++ {
		if i > 0 && m.beforeRetry != nil {
			m.beforeRetry()
		}
		m.attempts++
		err := fn(ctx, busyTx{m.tx})
		if !errors.Is(err, repository.ErrTransient) {
			return err
		}
	}
	if m.retries > 0 && m.beforeRetry != nil {
		m.beforeRetry()
	}
	m.attempts++
	return fn(ctx, m.tx)
}

// busyTx fails its first read as a locked store would.
type busyTx struct {
	*MockCirculationTx
}

func (busyTx) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	return nil, fmt.Errorf("%w: database is locked", repository.ErrTransient)
}

// countingLocker records Extend calls on top of a MemoryLocker.
type countingLocker struct {
	*lock.MemoryLocker
	mu      sync.Mutex
	extends int
}

func (c *countingLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	c.extends++
	c.mu.Unlock()
	return c.MemoryLocker.Extend(ctx, key, ttl)
}

func (c *countingLocker) extendCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extends
}

// MockCirculationTx is a map-backed CirculationTx.
type MockCirculationTx struct {
	books     map[string]*domain.Book
	records   map[uuid.UUID]*domain.IssueRecord
	adjustErr error
}

func NewMockCirculationTx(books ...*domain.Book) *MockCirculationTx {
	m := &MockCirculationTx{
		books:   make(map[string]*domain.Book),
		records: make(map[uuid.UUID]*domain.IssueRecord),
	}
	for _, b := range books {
		m.books[b.ID] = b
	}
	return m
}

func (m *MockCirculationTx) LockReader(ctx context.Context, userID string) error {
	return nil
}

func (m *MockCirculationTx) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	b, ok := m.books[id]
	if !ok {
		return nil, domain.ErrBookNotFound
	}
	copied := *b
	return &copied, nil
}

func (m *MockCirculationTx) AdjustAvailability(ctx context.Context, id string, delta int) (*domain.Book, error) {
	if m.adjustErr != nil {
		return nil, m.adjustErr
	}
	b, ok := m.books[id]
	if !ok {
		return nil, domain.ErrBookNotFound
	}
	if !b.CanAdjust(delta) {
		return nil, domain.NewDomainError(domain.ErrInvariantViolation, "out of range", id)
	}
	b.AvailableCopies += delta
	copied := *b
	return &copied, nil
}

func (m *MockCirculationTx) CountOpenIssuesByUser(ctx context.Context, userID string) (int, error) {
	n := 0
	for _, r := range m.records {
		if r.UserID == userID && r.IsOpen() {
			n++
		}
	}
	return n, nil
}

func (m *MockCirculationTx) HasOverdueIssue(ctx context.Context, userID string, now time.Time) (bool, error) {
	for _, r := range m.records {
		if r.UserID == userID && r.IsOverdue(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockCirculationTx) CreateIssue(ctx context.Context, record *domain.IssueRecord) error {
	m.records[record.ID] = record
	return nil
}

func (m *MockCirculationTx) FindOpenIssue(ctx context.Context, userID, bookID string) (*domain.IssueRecord, error) {
	for _, r := range m.records {
		if r.UserID == userID && r.BookID == bookID && r.IsOpen() {
			copied := *r
			return &copied, nil
		}
	}
	return nil, domain.ErrNotIssued
}

func (m *MockCirculationTx) CloseIssue(ctx context.Context, id uuid.UUID, returnedAt time.Time) error {
	r, ok := m.records[id]
	if !ok || !r.IsOpen() {
		return domain.ErrNotIssued
	}
	r.Close(returnedAt)
	return nil
}
