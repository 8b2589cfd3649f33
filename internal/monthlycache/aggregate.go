package monthlycache

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rpattn/tddf/internal/domain"
)

// minAmountScale is the rendering scale for sums of two-decimal amounts.
const minAmountScale = 2

type dayTotals struct {
	files       map[string]struct{}
	records     int64
	dt, bh      int64
	other       int64
	byType      map[string]int64
	transaction decimal.Decimal
	netDeposits decimal.Decimal
}

// aggregator folds clean master rows into month totals and a daily breakdown.
type aggregator struct {
	month       domain.MonthKey
	days        map[time.Time]*dayTotals
	files       map[string]struct{}
	records     int64
	dt, bh      int64
	other       int64
	byType      map[string]int64
	transaction decimal.Decimal
	netDeposits decimal.Decimal
	scale       int32
	badAmounts  int64
}

func newAggregator(month domain.MonthKey) *aggregator {
	return &aggregator{
		month:  month,
		days:   map[time.Time]*dayTotals{},
		files:  map[string]struct{}{},
		byType: map[string]int64{},
		scale:  minAmountScale,
	}
}

func (a *aggregator) add(row domain.CacheSourceRow) error {
	y, m, d := row.BusinessDate.Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	day, ok := a.days[date]
	if !ok {
		day = &dayTotals{files: map[string]struct{}{}, byType: map[string]int64{}}
		a.days[date] = day
	}

	a.records++
	day.records++
	a.files[row.UploadID] = struct{}{}
	day.files[row.UploadID] = struct{}{}
	a.byType[row.RecordType]++
	day.byType[row.RecordType]++

	amount, hasAmount := a.parseAmount(row.Amount)
	switch row.RecordType {
	case domain.RecordTypeDetail:
		a.dt++
		day.dt++
		if hasAmount {
			a.transaction = a.transaction.Add(amount)
			day.transaction = day.transaction.Add(amount)
		}
	case domain.RecordTypeBatchHeader:
		a.bh++
		day.bh++
		if hasAmount {
			a.netDeposits = a.netDeposits.Add(amount)
			day.netDeposits = day.netDeposits.Add(amount)
		}
	default:
		a.other++
		day.other++
	}
	return nil
}

// parseAmount also widens the rendering scale to the finest amount seen, so
// sums of three-decimal fields are never rounded.
func (a *aggregator) parseAmount(raw string) (decimal.Decimal, bool) {
	if raw == "" {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		a.badAmounts++
		return decimal.Zero, false
	}
	if places := -amount.Exponent(); places > a.scale {
		a.scale = places
	}
	return amount, true
}

func copyCounts(counts map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(counts))
	for code, n := range counts {
		out[code] = n
	}
	return out
}

func (a *aggregator) result() domain.MonthlyCache {
	dates := make([]time.Time, 0, len(a.days))
	for date := range a.days {
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	daily := make([]domain.DailyBreakdown, 0, len(dates))
	for _, date := range dates {
		day := a.days[date]
		daily = append(daily, domain.DailyBreakdown{
			Date:              date.Format(time.DateOnly),
			Files:             int64(len(day.files)),
			Records:           day.records,
			TransactionAmount: day.transaction.StringFixed(a.scale),
			NetDeposits:       day.netDeposits.StringFixed(a.scale),
			DTRecords:         day.dt,
			BHRecords:         day.bh,
			OtherRecords:      day.other,
			RecordTypeCounts:  copyCounts(day.byType),
		})
	}

	return domain.MonthlyCache{
		Month: a.month,
		Totals: domain.CacheTotals{
			TotalRecords:           a.records,
			TotalTransactionAmount: a.transaction.StringFixed(a.scale),
			TotalNetDeposits:       a.netDeposits.StringFixed(a.scale),
			TotalFiles:             int64(len(a.files)),
			DTRecords:              a.dt,
			BHRecords:              a.bh,
			OtherRecords:           a.other,
			RecordTypeCounts:       copyCounts(a.byType),
		},
		Daily: daily,
	}
}
