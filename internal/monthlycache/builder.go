// Package monthlycache precomputes per-month totals over clean master records.
package monthlycache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/logger"
	"github.com/rpattn/tddf/internal/repository"
)

const (
	// DefaultStaleRunAfter is how long a running run-log row blocks new builds.
	DefaultStaleRunAfter = 30 * time.Minute
	maxErrorMessage      = 512
)

// Refresh reasons recorded on cache rows and run logs.
const (
	ReasonManual     = "manual"
	ReasonStaleRead  = "stale-read"
	ReasonNewRecords = "new-records"
)

// Builder rebuilds and invalidates monthly cache rows.
type Builder struct {
	records repository.MasterRecordRepository
	caches  repository.MonthlyCacheRepository
	runs    repository.CacheRunLogRepository

	inFlight      sync.Map
	staleRunAfter time.Duration
	rebuildOnRead bool
	now           func() time.Time
}

// Option customizes a Builder.
type Option func(*Builder)

// WithStaleRunAfter sets the age after which a running build is considered abandoned.
func WithStaleRunAfter(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.staleRunAfter = d
		}
	}
}

// WithRebuildOnRead makes Get rebuild stale or missing months.
func WithRebuildOnRead(enabled bool) Option {
	return func(b *Builder) { b.rebuildOnRead = enabled }
}

// WithClock overrides the builder clock.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder creates a monthly cache builder.
func NewBuilder(records repository.MasterRecordRepository, caches repository.MonthlyCacheRepository, runs repository.CacheRunLogRepository, opts ...Option) *Builder {
	b := &Builder{
		records:       records,
		caches:        caches,
		runs:          runs,
		staleRunAfter: DefaultStaleRunAfter,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildResult describes one completed rebuild.
type BuildResult struct {
	Cache       domain.MonthlyCache
	Run         domain.CacheRunLog
	RowsScanned int64
}

// Build recomputes the month from clean master rows and fully replaces its
// cache row. Concurrent builds of the same month are refused with
// domain.ErrBuildInProgress. When the month is invalidated while the build
// scans, the new totals are stored but the row stays expired.
func (b *Builder) Build(ctx context.Context, year, month int, reason string) (BuildResult, error) {
	key, err := domain.NewMonthKey(year, month)
	if err != nil {
		return BuildResult{}, err
	}
	if reason == "" {
		reason = ReasonManual
	}

	if _, busy := b.inFlight.LoadOrStore(key, struct{}{}); busy {
		return BuildResult{}, fmt.Errorf("month %s: %w", key, domain.ErrBuildInProgress)
	}
	defer b.inFlight.Delete(key)

	log := logger.WithFields(logger.FromContext(ctx), map[string]any{
		"year":   key.Year,
		"month":  int(key.Month),
		"reason": reason,
	})
	ctx = logger.WithContext(ctx, log)

	started := b.now()
	run, err := b.runs.Start(ctx, key, reason, started.Add(-b.staleRunAfter))
	if err != nil {
		return BuildResult{}, err
	}

	previous, hasPrevious, err := b.previous(ctx, key)
	if err != nil {
		return BuildResult{}, b.fail(ctx, run, started, nil, err)
	}
	generation, err := b.caches.BeginBuild(ctx, key)
	if err != nil {
		return BuildResult{}, b.fail(ctx, run, started, nil, err)
	}
	restore := restorePoint{status: restoreStatus(previous, hasPrevious), generation: generation}

	agg := newAggregator(key)
	scanned, err := b.records.ScanMonth(ctx, key, agg.add)
	run.RowsScanned = scanned
	if err != nil {
		return BuildResult{}, b.fail(ctx, run, started, &restore, err)
	}

	cache := agg.result()
	cache.RefreshReason = reason
	cache.LastRefreshedAt = b.now()
	cache.BuildTime = cache.LastRefreshedAt.Sub(started)
	cache.Generation = generation

	cache.Status, err = b.caches.Upsert(ctx, cache)
	if err != nil {
		return BuildResult{}, b.fail(ctx, run, started, &restore, err)
	}
	if cache.Status != domain.CacheStatusActive {
		cache.Stale = true
		log.Warn().Msg("month invalidated during build; cache left expired")
	}

	completed := b.now()
	run.Status = domain.CacheRunCompleted
	run.CompletedAt = &completed
	if err := b.runs.Finish(ctx, run, cache.BuildTime); err != nil {
		log.Warn().Err(err).Msg("failed to record cache run completion")
	}
	if agg.badAmounts > 0 {
		log.Warn().Int64("rows", agg.badAmounts).Msg("rows with unparseable amounts excluded from sums")
	}

	log.Info().
		Int64("rows_scanned", scanned).
		Int64("total_records", cache.Totals.TotalRecords).
		Dur("build_time", cache.BuildTime).
		Msg("monthly cache rebuilt")

	return BuildResult{Cache: cache, Run: run, RowsScanned: scanned}, nil
}

func (b *Builder) previous(ctx context.Context, key domain.MonthKey) (domain.MonthlyCache, bool, error) {
	cache, err := b.caches.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.MonthlyCache{}, false, nil
	}
	if err != nil {
		return domain.MonthlyCache{}, false, err
	}
	return cache, true, nil
}

type restorePoint struct {
	status     domain.CacheStatus
	generation int64
}

// restoreStatus picks the status a failed build puts back. A month without a
// previous row, or one left in building by an earlier crash, is restored as
// expired.
func restoreStatus(previous domain.MonthlyCache, ok bool) domain.CacheStatus {
	if !ok || previous.Status == domain.CacheStatusBuilding {
		return domain.CacheStatusExpired
	}
	return previous.Status
}

func (b *Builder) fail(ctx context.Context, run domain.CacheRunLog, started time.Time, restore *restorePoint, cause error) error {
	log := logger.FromContext(ctx)
	if restore != nil {
		if err := b.caches.Restore(ctx, run.Month, restore.status, restore.generation); err != nil {
			log.Error().Err(err).Msg("failed to restore monthly cache status")
		}
	}

	completed := b.now()
	run.Status = domain.CacheRunFailed
	run.ErrorMessage = truncateError(cause.Error())
	run.CompletedAt = &completed
	if err := b.runs.Finish(ctx, run, completed.Sub(started)); err != nil {
		log.Error().Err(err).Msg("failed to record cache run failure")
	}

	log.Error().Err(cause).Msg("monthly cache build failed")
	return fmt.Errorf("%w: month %s: %w", domain.ErrCacheBuildFailure, run.Month, cause)
}

// InvalidateMonths expires the cache rows of every month containing one of
// dates and returns those months in order. Months without a row are skipped.
func (b *Builder) InvalidateMonths(ctx context.Context, dates []time.Time) ([]domain.MonthKey, error) {
	seen := map[domain.MonthKey]struct{}{}
	months := []domain.MonthKey{}
	for _, date := range dates {
		key := domain.MonthOf(date)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		months = append(months, key)
	}
	sort.Slice(months, func(i, j int) bool {
		if months[i].Year != months[j].Year {
			return months[i].Year < months[j].Year
		}
		return months[i].Month < months[j].Month
	})
	if len(months) == 0 {
		return months, nil
	}

	expired, err := b.caches.MarkExpired(ctx, months)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	log.Info().Int("months", len(months)).Int64("expired", expired).Msg("monthly cache invalidated")
	return months, nil
}

// Get returns the cached month with its Stale flag set. With rebuild on read
// enabled, stale or missing months are rebuilt first; a rebuild already in
// progress elsewhere returns the stale row.
func (b *Builder) Get(ctx context.Context, year, month int) (domain.MonthlyCache, error) {
	key, err := domain.NewMonthKey(year, month)
	if err != nil {
		return domain.MonthlyCache{}, err
	}

	cache, err := b.caches.Get(ctx, key)
	missing := errors.Is(err, domain.ErrNotFound)
	if err != nil && !missing {
		return domain.MonthlyCache{}, err
	}
	if !missing {
		if cache.Stale, err = b.isStale(ctx, cache); err != nil {
			return domain.MonthlyCache{}, err
		}
		if !cache.Stale {
			return cache, nil
		}
	}
	if !b.rebuildOnRead {
		if missing {
			return domain.MonthlyCache{}, fmt.Errorf("monthly cache %s: %w", key, domain.ErrNotFound)
		}
		return cache, nil
	}

	result, err := b.Build(ctx, year, month, ReasonStaleRead)
	if err != nil {
		if errors.Is(err, domain.ErrBuildInProgress) && !missing {
			return cache, nil
		}
		return domain.MonthlyCache{}, err
	}
	return result.Cache, nil
}

// List returns every cached month, newest first, with Stale flags set.
func (b *Builder) List(ctx context.Context) ([]domain.MonthlyCache, error) {
	caches, err := b.caches.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range caches {
		if caches[i].Stale, err = b.isStale(ctx, caches[i]); err != nil {
			return nil, err
		}
	}
	return caches, nil
}

// isStale reports whether a row is expired or stuck in building with no live run.
func (b *Builder) isStale(ctx context.Context, cache domain.MonthlyCache) (bool, error) {
	switch cache.Status {
	case domain.CacheStatusExpired:
		return true, nil
	case domain.CacheStatusBuilding:
		if _, busy := b.inFlight.Load(cache.Month); busy {
			return false, nil
		}
		running, err := b.runs.HasRunning(ctx, cache.Month, b.now().Add(-b.staleRunAfter))
		if err != nil {
			return false, err
		}
		return !running, nil
	default:
		return false, nil
	}
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorMessage {
		return msg
	}
	return msg[:maxErrorMessage]
}
