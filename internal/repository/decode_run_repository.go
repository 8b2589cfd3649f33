package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rpattn/tddf/internal/domain"
)

type decodeRunRepository struct {
	pool *pgxpool.Pool
}

// NewDecodeRunRepository wires a repository backed by pgxpool.
func NewDecodeRunRepository(pool *pgxpool.Pool) DecodeRunRepository {
	return &decodeRunRepository{pool: pool}
}

func (r *decodeRunRepository) Create(ctx context.Context, run domain.DecodeRun) error {
	if r.pool == nil {
		return fmt.Errorf("decode run repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO decode_runs (id, upload_id, file_name, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.ID,
		run.UploadID,
		run.FileName,
		string(run.Status),
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record decode run: %w", err)
	}
	return nil
}

func (r *decodeRunRepository) Complete(ctx context.Context, run domain.DecodeRun) error {
	if r.pool == nil {
		return fmt.Errorf("decode run repository not initialized")
	}

	counts, err := run.CountsToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode record type counts: %w", err)
	}
	var errorMessage any
	if run.ErrorMessage != "" {
		errorMessage = run.ErrorMessage
	}

	_, err = r.pool.Exec(
		ctx,
		`UPDATE decode_runs
		 SET status = $2,
		     total_lines = $3,
		     decoded_count = $4,
		     error_count = $5,
		     duplicates_removed = $6,
		     record_type_counts = $7,
		     error_message = $8,
		     completed_at = $9
		 WHERE id = $1`,
		run.ID,
		string(run.Status),
		run.TotalLines,
		run.DecodedCount,
		run.ErrorCount,
		run.DuplicatesRemoved,
		counts,
		errorMessage,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to complete decode run: %w", err)
	}
	return nil
}

func (r *decodeRunRepository) ListRecent(ctx context.Context, limit int) ([]domain.DecodeRun, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("decode run repository not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, upload_id, file_name, status, total_lines, decoded_count, error_count,
		        duplicates_removed, record_type_counts, error_message, started_at, completed_at
		 FROM decode_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list decode runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.DecodeRun{}
	for rows.Next() {
		var (
			run          domain.DecodeRun
			status       string
			countsRaw    []byte
			errorMessage pgtype.Text
			completedAt  pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&run.ID,
			&run.UploadID,
			&run.FileName,
			&status,
			&run.TotalLines,
			&run.DecodedCount,
			&run.ErrorCount,
			&run.DuplicatesRemoved,
			&countsRaw,
			&errorMessage,
			&run.StartedAt,
			&completedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan decode run: %w", scanErr)
		}

		run.Status = domain.DecodeRunStatus(status)
		run.ErrorMessage = errorMessage.String
		if len(countsRaw) > 0 {
			if err := json.Unmarshal(countsRaw, &run.RecordTypeCounts); err != nil {
				return nil, fmt.Errorf("failed to decode record type counts: %w", err)
			}
		}
		if completedAt.Valid {
			value := completedAt.Time
			run.CompletedAt = &value
		}
		runs = append(runs, run)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate decode runs: %w", rowsErr)
	}
	return runs, nil
}
