package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rpattn/tddf/internal/domain"
)

type monthlyCacheRepository struct {
	pool *pgxpool.Pool
}

// NewMonthlyCacheRepository wires a repository backed by pgxpool.
func NewMonthlyCacheRepository(pool *pgxpool.Pool) MonthlyCacheRepository {
	return &monthlyCacheRepository{pool: pool}
}

const selectMonthlyCacheSQL = `SELECT year, month, totals, daily_breakdown, build_time_ms, status,
       refresh_reason, last_refreshed_at, generation
FROM monthly_cache`

func scanMonthlyCache(row pgx.Row) (domain.MonthlyCache, error) {
	var (
		cache         domain.MonthlyCache
		year, month   int32
		totalsRaw     []byte
		dailyRaw      []byte
		buildTimeMs   int64
		status        string
		reason        pgtype.Text
		lastRefreshed pgtype.Timestamptz
		generation    int64
	)
	if err := row.Scan(&year, &month, &totalsRaw, &dailyRaw, &buildTimeMs, &status, &reason, &lastRefreshed, &generation); err != nil {
		return domain.MonthlyCache{}, err
	}
	cache.Month = domain.MonthKey{Year: int(year), Month: time.Month(month)}
	if len(totalsRaw) > 0 {
		if err := json.Unmarshal(totalsRaw, &cache.Totals); err != nil {
			return domain.MonthlyCache{}, fmt.Errorf("failed to decode totals: %w", err)
		}
	}
	if len(dailyRaw) > 0 {
		if err := json.Unmarshal(dailyRaw, &cache.Daily); err != nil {
			return domain.MonthlyCache{}, fmt.Errorf("failed to decode daily breakdown: %w", err)
		}
	}
	cache.BuildTime = time.Duration(buildTimeMs) * time.Millisecond
	cache.Status = domain.CacheStatus(status)
	cache.RefreshReason = reason.String
	cache.Generation = generation
	if lastRefreshed.Valid {
		cache.LastRefreshedAt = lastRefreshed.Time
	}
	return cache, nil
}

func (r *monthlyCacheRepository) Get(ctx context.Context, month domain.MonthKey) (domain.MonthlyCache, error) {
	if r.pool == nil {
		return domain.MonthlyCache{}, fmt.Errorf("monthly cache repository not initialized")
	}
	cache, err := scanMonthlyCache(r.pool.QueryRow(ctx, selectMonthlyCacheSQL+` WHERE year = $1 AND month = $2`, month.Year, int(month.Month)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MonthlyCache{}, fmt.Errorf("monthly cache %s: %w", month, domain.ErrNotFound)
		}
		return domain.MonthlyCache{}, fmt.Errorf("failed to get monthly cache %s: %w", month, err)
	}
	return cache, nil
}

func (r *monthlyCacheRepository) List(ctx context.Context) ([]domain.MonthlyCache, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("monthly cache repository not initialized")
	}
	rows, err := r.pool.Query(ctx, selectMonthlyCacheSQL+` ORDER BY year DESC, month DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list monthly caches: %w", err)
	}
	defer rows.Close()

	caches := []domain.MonthlyCache{}
	for rows.Next() {
		cache, scanErr := scanMonthlyCache(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan monthly cache: %w", scanErr)
		}
		caches = append(caches, cache)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate monthly caches: %w", rowsErr)
	}
	return caches, nil
}

func (r *monthlyCacheRepository) BeginBuild(ctx context.Context, month domain.MonthKey) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("monthly cache repository not initialized")
	}
	var generation int64
	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO monthly_cache (year, month, cache_key, status)
		 VALUES ($1, $2, $3, 'building')
		 ON CONFLICT (year, month) DO UPDATE SET status = 'building', updated_at = NOW()
		 RETURNING generation`,
		month.Year, int(month.Month), month.String(),
	).Scan(&generation)
	if err != nil {
		return 0, fmt.Errorf("failed to mark monthly cache %s building: %w", month, err)
	}
	return generation, nil
}

func (r *monthlyCacheRepository) Upsert(ctx context.Context, cache domain.MonthlyCache) (domain.CacheStatus, error) {
	if r.pool == nil {
		return "", fmt.Errorf("monthly cache repository not initialized")
	}
	totals, err := json.Marshal(cache.Totals)
	if err != nil {
		return "", fmt.Errorf("failed to encode totals: %w", err)
	}
	daily, err := cache.DailyToJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode daily breakdown: %w", err)
	}

	var status string
	err = r.pool.QueryRow(
		ctx,
		`INSERT INTO monthly_cache (year, month, cache_key, totals, daily_breakdown, build_time_ms, status, refresh_reason, last_refreshed_at, generation, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $8, $9, NOW())
		 ON CONFLICT (year, month) DO UPDATE SET
		     totals = EXCLUDED.totals,
		     daily_breakdown = EXCLUDED.daily_breakdown,
		     build_time_ms = EXCLUDED.build_time_ms,
		     status = CASE WHEN monthly_cache.generation = EXCLUDED.generation THEN 'active' ELSE 'expired' END,
		     refresh_reason = EXCLUDED.refresh_reason,
		     last_refreshed_at = EXCLUDED.last_refreshed_at,
		     updated_at = NOW()
		 RETURNING status`,
		cache.Month.Year,
		int(cache.Month.Month),
		cache.Month.String(),
		totals,
		daily,
		cache.BuildTime.Milliseconds(),
		cache.RefreshReason,
		cache.LastRefreshedAt,
		cache.Generation,
	).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("failed to upsert monthly cache %s: %w", cache.Month, err)
	}
	return domain.CacheStatus(status), nil
}

func (r *monthlyCacheRepository) MarkExpired(ctx context.Context, months []domain.MonthKey) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("monthly cache repository not initialized")
	}
	if len(months) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(months))
	for _, month := range months {
		keys = append(keys, month.String())
	}
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE monthly_cache SET status = 'expired', generation = generation + 1, updated_at = NOW()
		 WHERE cache_key = ANY($1)`,
		keys,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire monthly caches: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *monthlyCacheRepository) Restore(ctx context.Context, month domain.MonthKey, status domain.CacheStatus, generation int64) error {
	if r.pool == nil {
		return fmt.Errorf("monthly cache repository not initialized")
	}
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE monthly_cache
		 SET status = CASE WHEN generation = $4 THEN $3 ELSE 'expired' END, updated_at = NOW()
		 WHERE year = $1 AND month = $2`,
		month.Year, int(month.Month), string(status), generation,
	)
	if err != nil {
		return fmt.Errorf("failed to restore monthly cache status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("monthly cache %s: %w", month, domain.ErrNotFound)
	}
	return nil
}
