package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/repository"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	ctx := context.Background()
	db, err := NewDB(ctx, DefaultConfig(":memory:"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}

func seedCatalog(t *testing.T, db *DB) repository.BookRepository {
	t.Helper()

	books := NewBookRepository(db)
	n, err := books.SeedIfEmpty(context.Background(), domain.InitialCatalog())
	require.NoError(t, err)
	require.Equal(t, 10, n)
	return books
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))

	version, err := db.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestBookRepository_SeedIfEmpty(t *testing.T) {
	db := newTestDB(t)
	books := seedCatalog(t, db)
	ctx := context.Background()

	// Second seed is a no-op and leaves counts untouched.
	_, err := books.AdjustAvailability(ctx, "b002", -1)
	require.NoError(t, err)

	n, err := books.SeedIfEmpty(ctx, domain.InitialCatalog())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := books.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)

	b, err := books.GetByID(ctx, "b002")
	require.NoError(t, err)
	assert.Equal(t, b.TotalCopies-1, b.AvailableCopies)
}

func TestBookRepository_CreateDuplicate(t *testing.T) {
	db := newTestDB(t)
	books := seedCatalog(t, db)

	err := books.Create(context.Background(), domain.NewBook("b001", "Again", "Someone", 2))
	assert.ErrorIs(t, err, domain.ErrBookAlreadyExists)
}

func TestBookRepository_AdjustAvailability(t *testing.T) {
	db := newTestDB(t)
	books := seedCatalog(t, db)
	ctx := context.Background()

	tests := []struct {
		name      string
		id        string
		delta     int
		wantErr   error
		wantAvail int
	}{
		{name: "decrement last copy", id: "b001", delta: -1, wantAvail: 0},
		{name: "below zero", id: "b001", delta: -1, wantErr: domain.ErrInvariantViolation},
		{name: "increment back", id: "b001", delta: 1, wantAvail: 1},
		{name: "above total", id: "b001", delta: 1, wantErr: domain.ErrInvariantViolation},
		{name: "unknown book", id: "nope", delta: -1, wantErr: domain.ErrBookNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := books.AdjustAvailability(ctx, tt.id, tt.delta)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAvail, b.AvailableCopies)
		})
	}
}

func TestBookRepository_ListSearch(t *testing.T) {
	db := newTestDB(t)
	books := seedCatalog(t, db)
	ctx := context.Background()

	all, err := books.List(ctx, repository.BookListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 10)
	assert.Equal(t, "b001", all[0].ID)
	assert.Equal(t, "b010", all[9].ID)

	found, err := books.List(ctx, repository.BookListOptions{Query: "gatsby"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "b001", found[0].ID)

	page, err := books.List(ctx, repository.BookListOptions{Offset: 2, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "b003", page[0].ID)

	none, err := books.List(ctx, repository.BookListOptions{Query: "100%"})
	require.NoError(t, err)
	assert.Empty(t, none)

	orwell, err := books.List(ctx, repository.BookListOptions{Query: "ORWELL", Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, orwell, 1)
	assert.Equal(t, "b008", orwell[0].ID)

	past, err := books.List(ctx, repository.BookListOptions{Query: "orwell", Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, past)

	require.NoError(t, books.Create(ctx, domain.NewBook("b011", "Éloge de l'ombre", "Jun'ichirō Tanizaki", 1)))
	for _, q := range []string{"Éloge", "éloge", "ÉLOGE", "TANIZAKI", "ichirō"} {
		found, err := books.List(ctx, repository.BookListOptions{Query: q})
		require.NoError(t, err, q)
		require.Len(t, found, 1, q)
		assert.Equal(t, "b011", found[0].ID)
	}
}

func TestCirculationTx_IssueAndReturn(t *testing.T) {
	db := newTestDB(t)
	books := seedCatalog(t, db)
	issues := NewIssueRepository(db)
	txm := NewTxManager(db)
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	record := domain.NewIssueRecord("LIBAAAA0001", "b001", now, domain.DefaultLoanPeriod)

	err := txm.WithinCirculationTx(ctx, func(ctx context.Context, tx repository.CirculationTx) error {
		require.NoError(t, tx.LockReader(ctx, "LIBAAAA0001"))
		if _, err := tx.AdjustAvailability(ctx, "b001", -1); err != nil {
			return err
		}
		return tx.CreateIssue(ctx, record)
	})
	require.NoError(t, err)

	open, err := issues.CountOpenByBook(ctx, "b001")
	require.NoError(t, err)
	assert.Equal(t, 1, open)

	got, err := issues.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, now, got.IssueDate)
	assert.Equal(t, now.Add(domain.DefaultLoanPeriod), got.DueDate)
	assert.True(t, got.IsOpen())

	overdue, err := issues.ListOverdue(ctx, now.Add(15*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	count, err := issues.CountOverdue(ctx, now.Add(15*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = issues.CountOverdue(ctx, now.Add(13*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	err = txm.WithinCirculationTx(ctx, func(ctx context.Context, tx repository.CirculationTx) error {
		has, err := tx.HasOverdueIssue(ctx, "LIBAAAA0001", now.Add(15*24*time.Hour))
		require.NoError(t, err)
		assert.True(t, has)

		rec, err := tx.FindOpenIssue(ctx, "LIBAAAA0001", "b001")
		if err != nil {
			return err
		}
		if err := tx.CloseIssue(ctx, rec.ID, now.Add(time.Hour)); err != nil {
			return err
		}
		_, err = tx.AdjustAvailability(ctx, "b001", 1)
		return err
	})
	require.NoError(t, err)

	b, err := books.GetByID(ctx, "b001")
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableCopies)

	history, err := issues.List(ctx, repository.IssueListOptions{UserID: "LIBAAAA0001"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].IsOpen())

	openOnly, err := issues.List(ctx, repository.IssueListOptions{UserID: "LIBAAAA0001", OpenOnly: true})
	require.NoError(t, err)
	assert.Empty(t, openOnly)
}

func TestCirculationTx_RollbackOnError(t *testing.T) {
	db := newTestDB(t)
	books := seedCatalog(t, db)
	txm := NewTxManager(db)
	ctx := context.Background()

	err := txm.WithinCirculationTx(ctx, func(ctx context.Context, tx repository.CirculationTx) error {
		if _, err := tx.AdjustAvailability(ctx, "b001", -1); err != nil {
			return err
		}
		_, err := tx.FindOpenIssue(ctx, "LIBAAAA0001", "b001")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotIssued)

	b, err := books.GetByID(ctx, "b001")
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableCopies)
}

func TestCirculationTx_ConcurrentLastCopy(t *testing.T) {
	db := newTestDB(t)
	books := seedCatalog(t, db)
	issues := NewIssueRepository(db)
	txm := NewTxManager(db)
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := "LIBUSER000" + string(rune('A'+i))
			err := txm.WithinCirculationTx(ctx, func(ctx context.Context, tx repository.CirculationTx) error {
				if _, err := tx.AdjustAvailability(ctx, "b001", -1); err != nil {
					return err
				}
				return tx.CreateIssue(ctx, domain.NewIssueRecord(userID, "b001", time.Now(), domain.DefaultLoanPeriod))
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)

	b, err := books.GetByID(ctx, "b001")
	require.NoError(t, err)
	assert.Equal(t, 0, b.AvailableCopies)

	open, err := issues.CountOpenByBook(ctx, "b001")
	require.NoError(t, err)
	assert.Equal(t, b.TotalCopies-b.AvailableCopies, open)
}

func TestUserRepository(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db)
	ctx := context.Background()

	u := domain.NewUser("LIBABCD1234", "Asha Rao", "asha@example.com", "9876543210", "hash")
	u.CollegeName = "City College"
	u.EnrollmentNumber = "EN-001"
	u.Branch = "CSE"
	u.DateOfBirth = time.Date(2003, 5, 4, 0, 0, 0, 0, time.UTC)
	u.Gender = "female"
	u.Address = "12 Park Road"
	u.SecurityQuestion = "pet"
	u.SecurityAnswerHash = "answer-hash"

	require.NoError(t, users.Create(ctx, u))

	dup := *u
	dup.LibraryID = "LIBZZZZ9999"
	assert.ErrorIs(t, users.Create(ctx, &dup), domain.ErrUserAlreadyExists)

	got, err := users.GetByEmail(ctx, "asha@example.com")
	require.NoError(t, err)
	assert.Equal(t, "LIBABCD1234", got.LibraryID)
	assert.Equal(t, u.DateOfBirth, got.DateOfBirth)

	exists, err := users.ExistsByMobile(ctx, "9876543210")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = users.ExistsByEnrollment(ctx, "EN-404")
	require.NoError(t, err)
	assert.False(t, exists)

	got.PasswordHash = "new-hash"
	require.NoError(t, users.Update(ctx, got))

	again, err := users.GetByLibraryID(ctx, "LIBABCD1234")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", again.PasswordHash)

	_, err = users.GetByLibraryID(ctx, "LIBNOPE0000")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSnapshotReader_ReadSnapshot(t *testing.T) {
	db := newTestDB(t)
	seedCatalog(t, db)
	txm := NewTxManager(db)
	ctx := context.Background()

	record := domain.NewIssueRecord("LIBAAAA0001", "b002", time.Now(), domain.DefaultLoanPeriod)
	err := txm.WithinCirculationTx(ctx, func(ctx context.Context, tx repository.CirculationTx) error {
		if _, err := tx.AdjustAvailability(ctx, "b002", -1); err != nil {
			return err
		}
		return tx.CreateIssue(ctx, record)
	})
	require.NoError(t, err)

	books, issues, err := NewSnapshotReader(db).ReadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, books, 10)
	assert.Equal(t, "b001", books[0].ID)
	assert.Equal(t, books[1].TotalCopies-1, books[1].AvailableCopies)
	require.Len(t, issues, 1)
	assert.Equal(t, record.ID, issues[0].ID)
	assert.True(t, issues[0].IsOpen())
}
