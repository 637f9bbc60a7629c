package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/lock"
	"github.com/prn-tf/alexander-library/internal/metrics"
	"github.com/prn-tf/alexander-library/internal/repository"
)

// OverdueMonitor periodically counts open issues past their due date.
// It only reports; fines are not computed.
type OverdueMonitor struct {
	issues  repository.IssueRepository
	locker  lock.Locker
	metrics *metrics.Metrics
	logger  zerolog.Logger
	config  OverdueConfig
	now     func() time.Time

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// OverdueConfig contains overdue monitor configuration.
type OverdueConfig struct {
	// Interval is how often to scan.
	Interval time.Duration

	// BatchSize is the maximum number of records listed per run.
	// The overdue count is not limited by it.
	BatchSize int
}

// DefaultOverdueConfig returns sensible defaults.
func DefaultOverdueConfig() OverdueConfig {
	return OverdueConfig{
		Interval:  1 * time.Hour,
		BatchSize: 1000,
	}
}

// NewOverdueMonitor creates a new overdue monitor.
func NewOverdueMonitor(
	issues repository.IssueRepository,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config OverdueConfig,
) *OverdueMonitor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultOverdueConfig().BatchSize
	}
	return &OverdueMonitor{
		issues:   issues,
		locker:   locker,
		metrics:  m,
		logger:   logger.With().Str("service", "overdue").Logger(),
		config:   config,
		now:      time.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the scan scheduler.
func (o *OverdueMonitor) Start() {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.mu.Unlock()

	o.logger.Info().
		Dur("interval", o.config.Interval).
		Int("batch_size", o.config.BatchSize).
		Msg("Starting overdue monitor")

	go o.runLoop()
}

// Stop stops the scan scheduler and waits for a running scan to finish.
func (o *OverdueMonitor) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	close(o.stopChan)
	<-o.doneChan

	o.logger.Info().Msg("Overdue monitor stopped")
}

func (o *OverdueMonitor) runLoop() {
	defer close(o.doneChan)

	// Run immediately on start
	o.RunOnce(context.Background())

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.RunOnce(context.Background())
		case <-o.stopChan:
			return
		}
	}
}

// OverdueResult contains the result of one scan.
type OverdueResult struct {
	// Records are the overdue open issues found, oldest due first.
	Records []*domain.IssueRecord

	// Total is the number of overdue open issues in the store.
	Total int

	// Truncated is set when Total exceeds the records returned.
	Truncated bool

	// Skipped is set when another instance held the scan lock.
	Skipped bool

	// Duration is how long the scan took.
	Duration time.Duration
}

// RunOnce executes a single scan.
// This can be called manually or by the scheduler.
func (o *OverdueMonitor) RunOnce(ctx context.Context) (*OverdueResult, error) {
	start := time.Now()
	result := &OverdueResult{}

	if o.locker != nil {
		lockTTL := o.config.Interval / 2 // Lock expires before next scheduled run
		if lockTTL < time.Minute {
			lockTTL = time.Minute
		}

		l := lock.NewLock(o.locker, lock.Keys.OverdueSweep())
		acquired, err := l.Acquire(ctx, lockTTL)
		if err != nil {
			o.logger.Error().Err(err).Msg("Failed to acquire overdue lock")
			return nil, err
		}
		if !acquired {
			o.logger.Debug().Msg("Overdue lock held by another process, skipping run")
			result.Skipped = true
			result.Duration = time.Since(start)
			return result, nil
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				o.logger.Error().Err(err).Msg("Failed to release overdue lock")
			}
		}()
	}

	now := o.now().UTC()
	records, err := o.issues.ListOverdue(ctx, now, o.config.BatchSize)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to list overdue issues")
		return nil, storeError(err)
	}

	total, err := o.issues.CountOverdue(ctx, now)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to count overdue issues")
		return nil, storeError(err)
	}
	// A return between the two reads can lower the count.
	if total < len(records) {
		total = len(records)
	}

	result.Records = records
	result.Total = total
	result.Truncated = total > len(records)
	result.Duration = time.Since(start)

	o.metrics.SetOverdue(total, now)

	for _, r := range records {
		o.logger.Debug().
			Str("issue_id", r.ID.String()).
			Str("user_id", r.UserID).
			Str("book_id", r.BookID).
			Time("due_date", r.DueDate).
			Dur("overdue_by", now.Sub(r.DueDate)).
			Msg("Overdue issue")
	}

	o.logger.Info().
		Int("overdue", total).
		Int("listed", len(records)).
		Bool("truncated", result.Truncated).
		Dur("duration", result.Duration).
		Msg("Overdue scan completed")

	return result, nil
}
