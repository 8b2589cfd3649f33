package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rpattn/tddf/internal/db"
	"github.com/rpattn/tddf/internal/domain"
)

type cacheRunLogRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewCacheRunLogRepository wires a repository backed by pgxpool.
func NewCacheRunLogRepository(pool *pgxpool.Pool) CacheRunLogRepository {
	return &cacheRunLogRepository{pool: pool, now: time.Now}
}

func (r *cacheRunLogRepository) Start(ctx context.Context, month domain.MonthKey, reason string, staleBefore time.Time) (domain.CacheRunLog, error) {
	if r.pool == nil {
		return domain.CacheRunLog{}, fmt.Errorf("cache run log repository not initialized")
	}

	run := domain.CacheRunLog{Month: month, Reason: reason, Status: domain.CacheRunRunning, StartedAt: r.now()}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// Abandoned runs would otherwise block the month forever.
		if _, err := tx.Exec(
			ctx,
			`UPDATE cache_run_logs
			 SET status = 'failed', error_message = 'abandoned: no completion recorded', completed_at = $4
			 WHERE year = $1 AND month = $2 AND status = 'running' AND started_at < $3`,
			month.Year, int(month.Month), staleBefore, run.StartedAt,
		); err != nil {
			return fmt.Errorf("failed to close stale runs: %w", err)
		}

		err := tx.QueryRow(
			ctx,
			`INSERT INTO cache_run_logs (year, month, trigger_reason, status, started_at)
			 SELECT $1, $2, $3, 'running', $4
			 WHERE NOT EXISTS (
			     SELECT 1 FROM cache_run_logs
			     WHERE year = $1 AND month = $2 AND status = 'running'
			 )
			 RETURNING id`,
			month.Year, int(month.Month), reason, run.StartedAt,
		).Scan(&run.ID)
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return domain.ErrBuildInProgress
		}
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrBuildInProgress) {
			return domain.CacheRunLog{}, fmt.Errorf("month %s: %w", month, domain.ErrBuildInProgress)
		}
		return domain.CacheRunLog{}, fmt.Errorf("failed to start cache run: %w", err)
	}
	return run, nil
}

func (r *cacheRunLogRepository) Finish(ctx context.Context, run domain.CacheRunLog, buildTime time.Duration) error {
	if r.pool == nil {
		return fmt.Errorf("cache run log repository not initialized")
	}
	completedAt := r.now()
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}
	var errorMessage any
	if run.ErrorMessage != "" {
		errorMessage = run.ErrorMessage
	}
	_, err := r.pool.Exec(
		ctx,
		`UPDATE cache_run_logs
		 SET status = $2, rows_scanned = $3, build_time_ms = $4, error_message = $5, completed_at = $6
		 WHERE id = $1`,
		run.ID, string(run.Status), run.RowsScanned, buildTime.Milliseconds(), errorMessage, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish cache run %d: %w", run.ID, err)
	}
	return nil
}

func (r *cacheRunLogRepository) HasRunning(ctx context.Context, month domain.MonthKey, staleBefore time.Time) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("cache run log repository not initialized")
	}
	var running bool
	err := r.pool.QueryRow(
		ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM cache_run_logs
		     WHERE year = $1 AND month = $2 AND status = 'running' AND started_at >= $3
		 )`,
		month.Year, int(month.Month), staleBefore,
	).Scan(&running)
	if err != nil {
		return false, fmt.Errorf("failed to check running cache builds: %w", err)
	}
	return running, nil
}

func (r *cacheRunLogRepository) ListRecent(ctx context.Context, month domain.MonthKey, limit int) ([]domain.CacheRunLog, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("cache run log repository not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, trigger_reason, status, rows_scanned, error_message, started_at, completed_at
		 FROM cache_run_logs
		 WHERE year = $1 AND month = $2
		 ORDER BY started_at DESC
		 LIMIT $3`,
		month.Year, int(month.Month), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.CacheRunLog{}
	for rows.Next() {
		var (
			run          = domain.CacheRunLog{Month: month}
			status       string
			errorMessage pgtype.Text
			completedAt  pgtype.Timestamptz
		)
		if scanErr := rows.Scan(&run.ID, &run.Reason, &status, &run.RowsScanned, &errorMessage, &run.StartedAt, &completedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan cache run: %w", scanErr)
		}
		run.Status = domain.CacheRunStatus(status)
		run.ErrorMessage = errorMessage.String
		if completedAt.Valid {
			value := completedAt.Time
			run.CompletedAt = &value
		}
		runs = append(runs, run)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate cache runs: %w", rowsErr)
	}
	return runs, nil
}

// isUniqueViolation reports a concurrent insert racing past the NOT EXISTS
// check and hitting the one-running-build index.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
