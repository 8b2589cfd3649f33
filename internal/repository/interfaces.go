package repository

import (
	"context"
	"time"

	"github.com/rpattn/tddf/internal/domain"
)

// MasterRecordRepository persists decoded lines.
type MasterRecordRepository interface {
	// InsertBatch writes records in one transaction; a failure leaves none of them.
	InsertBatch(ctx context.Context, records []domain.MasterRecord) (int64, error)
	// DeleteDuplicates keeps the newest row per raw line hash within an upload.
	DeleteDuplicates(ctx context.Context, uploadID string) (domain.DuplicateStats, error)
	// ScanMonth streams clean rows whose business date falls inside month.
	ScanMonth(ctx context.Context, month domain.MonthKey, fn func(domain.CacheSourceRow) error) (int64, error)
	CountByUpload(ctx context.Context, uploadID string) (int64, error)
}

// MerchantRepository maintains the merchant dimension.
type MerchantRepository interface {
	Upsert(ctx context.Context, merchants []domain.MerchantUpsert) (UpsertCounts, error)
	Get(ctx context.Context, accountNumber string) (domain.Merchant, error)
}

// TerminalRepository maintains the terminal dimension.
type TerminalRepository interface {
	Upsert(ctx context.Context, terminals []domain.TerminalUpsert) (UpsertCounts, error)
	ListByMerchant(ctx context.Context, accountNumber string) ([]domain.Terminal, error)
}

// UpsertCounts splits upserted rows into inserts and updates.
type UpsertCounts struct {
	Created int
	Updated int
}

// MonthlyCacheRepository stores precomputed monthly aggregates.
type MonthlyCacheRepository interface {
	Get(ctx context.Context, month domain.MonthKey) (domain.MonthlyCache, error)
	List(ctx context.Context) ([]domain.MonthlyCache, error)
	// BeginBuild marks the month building, creating an empty row when none
	// exists, and returns its current generation.
	BeginBuild(ctx context.Context, month domain.MonthKey) (int64, error)
	// Upsert fully replaces the month's totals. The row becomes active only
	// when cache.Generation is still current; otherwise it stays expired.
	// The resulting status is returned.
	Upsert(ctx context.Context, cache domain.MonthlyCache) (domain.CacheStatus, error)
	// MarkExpired flags existing rows for the given months and bumps their
	// generation; missing months are skipped.
	MarkExpired(ctx context.Context, months []domain.MonthKey) (int64, error)
	// Restore puts back status after a failed build, unless the month was
	// invalidated since generation, in which case the row is expired.
	Restore(ctx context.Context, month domain.MonthKey, status domain.CacheStatus, generation int64) error
}

// CacheRunLogRepository records monthly cache rebuild attempts.
type CacheRunLogRepository interface {
	// Start opens a running entry unless a non-stale one already exists for the
	// month, in which case it returns domain.ErrBuildInProgress.
	Start(ctx context.Context, month domain.MonthKey, reason string, staleBefore time.Time) (domain.CacheRunLog, error)
	Finish(ctx context.Context, run domain.CacheRunLog, buildTime time.Duration) error
	HasRunning(ctx context.Context, month domain.MonthKey, staleBefore time.Time) (bool, error)
	ListRecent(ctx context.Context, month domain.MonthKey, limit int) ([]domain.CacheRunLog, error)
}

// DecodeRunRepository keeps one audit row per decoded upload.
type DecodeRunRepository interface {
	Create(ctx context.Context, run domain.DecodeRun) error
	Complete(ctx context.Context, run domain.DecodeRun) error
	ListRecent(ctx context.Context, limit int) ([]domain.DecodeRun, error)
}

// FieldSpecRepository stores record layouts for the database schema source.
type FieldSpecRepository interface {
	ListLayouts(ctx context.Context) ([]domain.RecordTypeSchema, error)
	ReplaceLayouts(ctx context.Context, layouts []domain.RecordTypeSchema) error
}
