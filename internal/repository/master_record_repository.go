package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rpattn/tddf/internal/db"
	"github.com/rpattn/tddf/internal/domain"
)

var masterRecordColumns = []string{
	"upload_id",
	"filename",
	"line_number",
	"record_type",
	"raw_line",
	"raw_line_hash",
	"extracted_fields",
	"errors",
	"resolved_timestamp",
	"timestamp_source",
	"business_date",
}

type masterRecordRepository struct {
	pool *pgxpool.Pool
}

// NewMasterRecordRepository wires a repository backed by pgxpool.
func NewMasterRecordRepository(pool *pgxpool.Pool) MasterRecordRepository {
	return &masterRecordRepository{pool: pool}
}

// masterRecordRows renders records in COPY column order.
func masterRecordRows(records []domain.MasterRecord) ([][]any, error) {
	rows := make([][]any, 0, len(records))
	for _, record := range records {
		fields, err := record.FieldsToJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to encode fields for line %d: %w", record.LineNumber, err)
		}
		errs, err := record.ErrorsToJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to encode errors for line %d: %w", record.LineNumber, err)
		}
		rows = append(rows, []any{
			record.UploadID,
			record.Filename,
			int32(record.LineNumber),
			record.RecordType,
			record.RawLine,
			record.RawLineHash,
			fields,
			errs,
			record.ResolvedTimestamp,
			string(record.TimestampSource),
			pgtype.Date{Time: record.BusinessDate, Valid: !record.BusinessDate.IsZero()},
		})
	}
	return rows, nil
}

func (r *masterRecordRepository) InsertBatch(ctx context.Context, records []domain.MasterRecord) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("master record repository not initialized")
	}
	if len(records) == 0 {
		return 0, nil
	}

	rows, err := masterRecordRows(records)
	if err != nil {
		return 0, err
	}

	var copied int64
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		n, copyErr := tx.CopyFrom(ctx, pgx.Identifier{"tddf_master_records"}, masterRecordColumns, pgx.CopyFromRows(rows))
		if copyErr != nil {
			return copyErr
		}
		copied = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert master records: %w", err)
	}
	return copied, nil
}

func (r *masterRecordRepository) DeleteDuplicates(ctx context.Context, uploadID string) (domain.DuplicateStats, error) {
	if r.pool == nil {
		return domain.DuplicateStats{}, fmt.Errorf("master record repository not initialized")
	}

	var stats domain.DuplicateStats
	err := r.pool.QueryRow(
		ctx,
		`WITH ranked AS (
			SELECT id, raw_line_hash,
			       ROW_NUMBER() OVER (PARTITION BY raw_line_hash ORDER BY id DESC) AS rn
			FROM tddf_master_records
			WHERE upload_id = $1
		), removed AS (
			DELETE FROM tddf_master_records m
			USING ranked r
			WHERE m.id = r.id AND r.rn > 1
			RETURNING r.raw_line_hash
		)
		SELECT COUNT(DISTINCT raw_line_hash), COUNT(*) FROM removed`,
		uploadID,
	).Scan(&stats.DuplicateGroups, &stats.RowsRemoved)
	if err != nil {
		return domain.DuplicateStats{}, fmt.Errorf("failed to delete duplicate records: %w", err)
	}
	return stats, nil
}

func (r *masterRecordRepository) ScanMonth(ctx context.Context, month domain.MonthKey, fn func(domain.CacheSourceRow) error) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("master record repository not initialized")
	}

	from, to := month.Range()
	rows, err := r.pool.Query(
		ctx,
		`SELECT upload_id, record_type, business_date,
		        CASE record_type
		            WHEN 'DT' THEN extracted_fields->>'transactionAmount'
		            WHEN 'BH' THEN extracted_fields->>'netDeposit'
		        END
		 FROM tddf_master_records
		 WHERE business_date >= $1
		   AND business_date < $2
		   AND jsonb_array_length(errors) = 0
		 ORDER BY business_date, id`,
		pgtype.Date{Time: from, Valid: true},
		pgtype.Date{Time: to, Valid: true},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to scan month %s: %w", month, err)
	}
	defer rows.Close()

	var scanned int64
	for rows.Next() {
		var (
			row          domain.CacheSourceRow
			businessDate pgtype.Date
			amount       pgtype.Text
		)
		if scanErr := rows.Scan(&row.UploadID, &row.RecordType, &businessDate, &amount); scanErr != nil {
			return scanned, fmt.Errorf("failed to scan master record: %w", scanErr)
		}
		if businessDate.Valid {
			row.BusinessDate = businessDate.Time
		}
		if amount.Valid {
			row.Amount = amount.String
		}
		scanned++
		if err := fn(row); err != nil {
			return scanned, err
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return scanned, fmt.Errorf("failed to iterate master records: %w", rowsErr)
	}
	return scanned, nil
}

func (r *masterRecordRepository) CountByUpload(ctx context.Context, uploadID string) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("master record repository not initialized")
	}
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tddf_master_records WHERE upload_id = $1`, uploadID).Scan(&count)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to count records for upload %s: %w", uploadID, err)
	}
	return count, nil
}
