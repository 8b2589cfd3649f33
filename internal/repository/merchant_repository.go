package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rpattn/tddf/internal/db"
	"github.com/rpattn/tddf/internal/domain"
)

const upsertMerchantSQL = `INSERT INTO merchants (account_number, name, category_code, last_activity_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
ON CONFLICT (account_number) DO UPDATE SET
    name = COALESCE(EXCLUDED.name, merchants.name),
    category_code = COALESCE(EXCLUDED.category_code, merchants.category_code),
    last_activity_at = GREATEST(merchants.last_activity_at, EXCLUDED.last_activity_at),
    updated_at = NOW()
RETURNING (xmax = 0)`

const upsertTerminalSQL = `INSERT INTO terminals (v_number, terminal_id, merchant_account_number, category_code, last_activity_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5)
ON CONFLICT (v_number) DO UPDATE SET
    merchant_account_number = EXCLUDED.merchant_account_number,
    category_code = COALESCE(EXCLUDED.category_code, terminals.category_code),
    last_activity_at = GREATEST(terminals.last_activity_at, EXCLUDED.last_activity_at),
    updated_at = NOW()
RETURNING (xmax = 0)`

type merchantRepository struct {
	pool *pgxpool.Pool
}

// NewMerchantRepository wires a repository backed by pgxpool.
func NewMerchantRepository(pool *pgxpool.Pool) MerchantRepository {
	return &merchantRepository{pool: pool}
}

type terminalRepository struct {
	pool *pgxpool.Pool
}

// NewTerminalRepository wires a repository backed by pgxpool.
func NewTerminalRepository(pool *pgxpool.Pool) TerminalRepository {
	return &terminalRepository{pool: pool}
}

func optionalDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

// runUpsertBatch queues one statement per row and tallies inserts against
// updates from the RETURNING (xmax = 0) flag.
func runUpsertBatch(ctx context.Context, pool *pgxpool.Pool, batch *pgx.Batch) (UpsertCounts, error) {
	var counts UpsertCounts
	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			var inserted bool
			if err := results.QueryRow().Scan(&inserted); err != nil {
				_ = results.Close()
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			if inserted {
				counts.Created++
			} else {
				counts.Updated++
			}
		}
		return results.Close()
	})
	return counts, err
}

func (r *merchantRepository) Upsert(ctx context.Context, merchants []domain.MerchantUpsert) (UpsertCounts, error) {
	if r.pool == nil {
		return UpsertCounts{}, fmt.Errorf("merchant repository not initialized")
	}
	if len(merchants) == 0 {
		return UpsertCounts{}, nil
	}

	batch := &pgx.Batch{}
	for _, m := range merchants {
		batch.Queue(upsertMerchantSQL, m.AccountNumber, m.Name, m.CategoryCode, optionalDate(m.LastActivityAt))
	}
	counts, err := runUpsertBatch(ctx, r.pool, batch)
	if err != nil {
		return UpsertCounts{}, fmt.Errorf("failed to upsert merchants: %w", err)
	}
	return counts, nil
}

func (r *merchantRepository) Get(ctx context.Context, accountNumber string) (domain.Merchant, error) {
	if r.pool == nil {
		return domain.Merchant{}, fmt.Errorf("merchant repository not initialized")
	}

	var (
		merchant     domain.Merchant
		name         pgtype.Text
		categoryCode pgtype.Text
		lastActivity pgtype.Date
	)
	err := r.pool.QueryRow(
		ctx,
		`SELECT account_number, name, category_code, last_activity_at, created_at, updated_at
		 FROM merchants WHERE account_number = $1`,
		accountNumber,
	).Scan(&merchant.AccountNumber, &name, &categoryCode, &lastActivity, &merchant.CreatedAt, &merchant.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Merchant{}, fmt.Errorf("merchant %s: %w", accountNumber, domain.ErrNotFound)
		}
		return domain.Merchant{}, fmt.Errorf("failed to get merchant: %w", err)
	}
	merchant.Name = name.String
	merchant.CategoryCode = categoryCode.String
	if lastActivity.Valid {
		value := lastActivity.Time
		merchant.LastActivityAt = &value
	}
	return merchant, nil
}

func (r *terminalRepository) Upsert(ctx context.Context, terminals []domain.TerminalUpsert) (UpsertCounts, error) {
	if r.pool == nil {
		return UpsertCounts{}, fmt.Errorf("terminal repository not initialized")
	}
	if len(terminals) == 0 {
		return UpsertCounts{}, nil
	}

	batch := &pgx.Batch{}
	for _, t := range terminals {
		batch.Queue(upsertTerminalSQL, t.VNumber, t.TerminalID, t.MerchantAccountNumber, t.CategoryCode, optionalDate(t.LastActivityAt))
	}
	counts, err := runUpsertBatch(ctx, r.pool, batch)
	if err != nil {
		return UpsertCounts{}, fmt.Errorf("failed to upsert terminals: %w", err)
	}
	return counts, nil
}

func (r *terminalRepository) ListByMerchant(ctx context.Context, accountNumber string) ([]domain.Terminal, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("terminal repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT v_number, terminal_id, merchant_account_number, category_code, last_activity_at, created_at, updated_at
		 FROM terminals
		 WHERE merchant_account_number = $1
		 ORDER BY v_number`,
		accountNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminals: %w", err)
	}
	defer rows.Close()

	terminals := []domain.Terminal{}
	for rows.Next() {
		var (
			terminal     domain.Terminal
			categoryCode pgtype.Text
			lastActivity pgtype.Date
		)
		if scanErr := rows.Scan(
			&terminal.VNumber,
			&terminal.TerminalID,
			&terminal.MerchantAccountNumber,
			&categoryCode,
			&lastActivity,
			&terminal.CreatedAt,
			&terminal.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan terminal: %w", scanErr)
		}
		terminal.CategoryCode = categoryCode.String
		if lastActivity.Valid {
			value := lastActivity.Time
			terminal.LastActivityAt = &value
		}
		terminals = append(terminals, terminal)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate terminals: %w", rowsErr)
	}
	return terminals, nil
}
