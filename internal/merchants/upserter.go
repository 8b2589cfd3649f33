// Package merchants derives merchant and terminal dimension rows from decoded
// detail records.
package merchants

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rpattn/tddf/internal/decoder"
	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/logger"
	"github.com/rpattn/tddf/internal/repository"
)

// Upserter writes the merchant and terminal dimensions.
type Upserter struct {
	merchants repository.MerchantRepository
	terminals repository.TerminalRepository
}

// NewUpserter creates an upserter over the given repositories.
func NewUpserter(merchants repository.MerchantRepository, terminals repository.TerminalRepository) *Upserter {
	return &Upserter{merchants: merchants, terminals: terminals}
}

// Apply groups clean detail records by merchant account and upserts the
// resulting merchants and terminals.
func (u *Upserter) Apply(ctx context.Context, records []domain.DecodedRecord) (domain.UpsertStats, error) {
	collector := u.NewCollector()
	for _, record := range records {
		collector.Add(record)
	}
	return collector.Flush(ctx)
}

// NewCollector starts an empty accumulation bound to this upserter.
func (u *Upserter) NewCollector() *Collector {
	return &Collector{
		upserter:  u,
		merchants: map[string]*domain.MerchantUpsert{},
		terminals: map[string]*domain.TerminalUpsert{},
	}
}

// Collector folds detail records into per-merchant and per-terminal values as
// they stream past, so a run does not need to retain its records.
type Collector struct {
	upserter  *Upserter
	merchants map[string]*domain.MerchantUpsert
	terminals map[string]*domain.TerminalUpsert
	skipped   int
}

// Add folds one record in. Records that are not clean details, or carry no
// merchant account, are ignored.
func (c *Collector) Add(record domain.DecodedRecord) {
	if record.HasErrors() {
		c.skipped++
		return
	}
	detail, ok := decoder.View(record).(decoder.Detail)
	if !ok || detail.MerchantAccountNumber == "" {
		c.skipped++
		return
	}

	account := detail.MerchantAccountNumber
	merchant, exists := c.merchants[account]
	if !exists {
		merchant = &domain.MerchantUpsert{AccountNumber: account}
		c.merchants[account] = merchant
	}
	if merchant.Name == "" {
		merchant.Name = detail.MerchantName
	}
	if merchant.CategoryCode == "" {
		merchant.CategoryCode = detail.CategoryCode
	}
	merchant.LastActivityAt = latest(merchant.LastActivityAt, detail.TransactionDate)

	vNumber := domain.VNumber(detail.TerminalID)
	if vNumber == "" {
		return
	}
	terminal, exists := c.terminals[vNumber]
	if !exists {
		terminal = &domain.TerminalUpsert{
			VNumber:               vNumber,
			TerminalID:            detail.TerminalID,
			MerchantAccountNumber: account,
		}
		c.terminals[vNumber] = terminal
	}
	if terminal.CategoryCode == "" {
		terminal.CategoryCode = detail.CategoryCode
	}
	terminal.LastActivityAt = latest(terminal.LastActivityAt, detail.TransactionDate)
}

// Len reports how many merchants and terminals are pending.
func (c *Collector) Len() (merchants, terminals int) {
	return len(c.merchants), len(c.terminals)
}

// Flush upserts everything collected so far and resets the collector.
// Merchants are written before terminals and both in key order.
func (c *Collector) Flush(ctx context.Context) (domain.UpsertStats, error) {
	var stats domain.UpsertStats
	if c.upserter == nil || c.upserter.merchants == nil || c.upserter.terminals == nil {
		return stats, errors.New("merchant upserter not initialized")
	}

	merchants := make([]domain.MerchantUpsert, 0, len(c.merchants))
	for _, m := range c.merchants {
		merchants = append(merchants, *m)
	}
	sort.Slice(merchants, func(i, j int) bool { return merchants[i].AccountNumber < merchants[j].AccountNumber })

	terminals := make([]domain.TerminalUpsert, 0, len(c.terminals))
	for _, t := range c.terminals {
		terminals = append(terminals, *t)
	}
	sort.Slice(terminals, func(i, j int) bool { return terminals[i].VNumber < terminals[j].VNumber })

	merchantCounts, err := c.upserter.merchants.Upsert(ctx, merchants)
	if err != nil {
		return stats, fmt.Errorf("failed to upsert merchants: %w", err)
	}
	stats.MerchantsCreated = merchantCounts.Created
	stats.MerchantsUpdated = merchantCounts.Updated

	terminalCounts, err := c.upserter.terminals.Upsert(ctx, terminals)
	if err != nil {
		return stats, fmt.Errorf("failed to upsert terminals: %w", err)
	}
	stats.TerminalsCreated = terminalCounts.Created
	stats.TerminalsUpdated = terminalCounts.Updated

	log := logger.FromContext(ctx)
	log.Debug().
		Int("merchants", len(merchants)).
		Int("terminals", len(terminals)).
		Int("skipped_records", c.skipped).
		Msg("merchant dimensions upserted")

	c.merchants = map[string]*domain.MerchantUpsert{}
	c.terminals = map[string]*domain.TerminalUpsert{}
	c.skipped = 0
	return stats, nil
}

func latest(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.After(*current) {
		value := *candidate
		return &value
	}
	return current
}
