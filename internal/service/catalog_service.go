package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/lock"
	"github.com/prn-tf/alexander-library/internal/metrics"
	"github.com/prn-tf/alexander-library/internal/repository"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CatalogService serves the book catalog and reader dashboards.
// Listings may come from a short-lived cache; staleness there is acceptable.
type CatalogService struct {
	books   repository.BookRepository
	issues  repository.IssueRepository
	cache   repository.Cache
	locker  lock.Locker
	metrics *metrics.Metrics
	logger  zerolog.Logger
	config  CatalogConfig
	now     func() time.Time
}

// CatalogConfig contains catalog configuration.
type CatalogConfig struct {
	// CacheTTL is how long listings stay cached. Zero disables the cache.
	CacheTTL time.Duration

	// MaxIssued is reported on dashboards as the reader's limit.
	MaxIssued int
}

// NewCatalogService creates a new CatalogService.
// cache and locker may be nil.
func NewCatalogService(
	books repository.BookRepository,
	issues repository.IssueRepository,
	cache repository.Cache,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config CatalogConfig,
) *CatalogService {
	if config.MaxIssued <= 0 {
		config.MaxIssued = domain.DefaultMaxIssued
	}
	return &CatalogService{
		books:   books,
		issues:  issues,
		cache:   cache,
		locker:  locker,
		metrics: m,
		logger:  logger.With().Str("service", "catalog").Logger(),
		config:  config,
		now:     time.Now,
	}
}

// List returns books in catalog order. A non-empty query filters by
// case-insensitive substring of title or author.
func (s *CatalogService) List(ctx context.Context, query string) ([]*domain.Book, error) {
	query = strings.TrimSpace(query)
	cacheable := query == "" && s.cacheEnabled()

	if cacheable {
		if books, ok := s.cachedList(ctx); ok {
			return books, nil
		}
	}

	books, err := s.books.List(ctx, repository.BookListOptions{Query: query})
	if err != nil {
		s.logger.Error().Err(err).Str("query", query).Msg("failed to list books")
		return nil, storeError(err)
	}

	if cacheable {
		s.store(ctx, repository.CacheKeys.Catalog(), books)
	}
	return books, nil
}

// Get returns one book.
func (s *CatalogService) Get(ctx context.Context, id string) (*domain.Book, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: bookId", ErrMissingField)
	}

	if s.cacheEnabled() {
		data, err := s.cache.Get(ctx, repository.CacheKeys.Book(id))
		if err == nil {
			var book domain.Book
			if err := json.Unmarshal(data, &book); err == nil {
				s.metrics.CacheLookup(true)
				return &book, nil
			}
		}
		s.metrics.CacheLookup(false)
	}

	book, err := s.books.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrBookNotFound) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("book_id", id).Msg("failed to get book")
		return nil, storeError(err)
	}

	if s.cacheEnabled() {
		s.store(ctx, repository.CacheKeys.Book(id), book)
	}
	return book, nil
}

// AddBookInput contains the data needed to add a title.
type AddBookInput struct {
	ID     string `json:"id" validate:"required"`
	Title  string `json:"title" validate:"required"`
	Author string `json:"author" validate:"required"`
	Copies int    `json:"totalCopies" validate:"min=0"`
}

// Add adds a new title with every copy available.
func (s *CatalogService) Add(ctx context.Context, input AddBookInput) (*domain.Book, error) {
	input.ID = strings.TrimSpace(input.ID)
	input.Title = strings.TrimSpace(input.Title)
	input.Author = strings.TrimSpace(input.Author)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	book := domain.NewBook(input.ID, input.Title, input.Author, input.Copies)
	if err := book.Validate(); err != nil {
		return nil, err
	}

	if err := s.books.Create(ctx, book); err != nil {
		if errors.Is(err, domain.ErrBookAlreadyExists) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("book_id", book.ID).Msg("failed to add book")
		return nil, storeError(err)
	}

	s.Invalidate(ctx, book.ID)

	s.logger.Info().
		Str("book_id", book.ID).
		Str("title", book.Title).
		Int("copies", book.TotalCopies).
		Msg("book added")

	return book, nil
}

// Seed inserts the initial catalog if the store is empty.
// Returns the number of books inserted.
func (s *CatalogService) Seed(ctx context.Context) (int, error) {
	if s.locker != nil {
		l := lock.NewLock(s.locker, lock.Keys.CatalogSeed())
		acquired, err := l.Acquire(ctx, time.Minute)
		if err != nil {
			return 0, fmt.Errorf("failed to acquire seed lock: %w", err)
		}
		if !acquired {
			s.logger.Debug().Msg("seed lock held by another process, skipping")
			return 0, nil
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Error().Err(err).Msg("failed to release seed lock")
			}
		}()
	}

	n, err := s.books.SeedIfEmpty(ctx, domain.InitialCatalog())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to seed catalog")
		return 0, storeError(err)
	}

	if n > 0 {
		s.Invalidate(ctx)
		s.logger.Info().Int("books", n).Msg("catalog seeded")
	} else {
		s.logger.Debug().Msg("catalog not empty, seed skipped")
	}
	return n, nil
}

// Invalidate drops the cached listing and the given books.
// Cache failures are logged, never returned.
func (s *CatalogService) Invalidate(ctx context.Context, bookIDs ...string) {
	if s.cache == nil {
		return
	}

	keys := make([]string, 0, len(bookIDs)+1)
	keys = append(keys, repository.CacheKeys.Catalog())
	for _, id := range bookIDs {
		keys = append(keys, repository.CacheKeys.Book(id))
	}

	if err := s.cache.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		s.logger.Warn().Err(err).Strs("keys", keys).Msg("failed to invalidate catalog cache")
	}
}

// Dashboard summarises the catalog for one reader.
type Dashboard struct {
	TotalTitles     int `json:"totalTitles"`
	TotalCopies     int `json:"totalCopies"`
	AvailableCopies int `json:"availableCopies"`
	IssuedToUser    int `json:"issuedToUser"`
	OverdueForUser  int `json:"overdueForUser"`
	MaxIssued       int `json:"maxIssued"`
	RemainingQuota  int `json:"remainingQuota"`
}

// Dashboard computes catalog totals and the reader's holdings.
// The figures are a snapshot and may be slightly stale.
func (s *CatalogService) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId", ErrMissingField)
	}

	books, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}

	open, err := s.issues.List(ctx, repository.IssueListOptions{UserID: userID, OpenOnly: true})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to list open issues")
		return nil, storeError(err)
	}

	d := &Dashboard{
		TotalTitles:  len(books),
		IssuedToUser: len(open),
		MaxIssued:    s.config.MaxIssued,
	}
	for _, b := range books {
		d.TotalCopies += b.TotalCopies
		d.AvailableCopies += b.AvailableCopies
	}

	now := s.now()
	for _, r := range open {
		if r.IsOverdue(now) {
			d.OverdueForUser++
		}
	}

	d.RemainingQuota = d.MaxIssued - d.IssuedToUser
	if d.RemainingQuota < 0 {
		d.RemainingQuota = 0
	}
	return d, nil
}

func (s *CatalogService) cacheEnabled() bool {
	return s.cache != nil && s.config.CacheTTL > 0
}

func (s *CatalogService) cachedList(ctx context.Context) ([]*domain.Book, bool) {
	data, err := s.cache.Get(ctx, repository.CacheKeys.Catalog())
	if err != nil {
		if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Warn().Err(err).Msg("catalog cache read failed")
		}
		s.metrics.CacheLookup(false)
		return nil, false
	}

	var books []*domain.Book
	if err := json.Unmarshal(data, &books); err != nil {
		s.logger.Warn().Err(err).Msg("discarding corrupt catalog cache entry")
		s.metrics.CacheLookup(false)
		return nil, false
	}

	s.metrics.CacheLookup(true)
	return books, true
}

func (s *CatalogService) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to encode cache entry")
		return
	}
	if err := s.cache.Set(ctx, key, data, s.config.CacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to write cache entry")
	}
}
