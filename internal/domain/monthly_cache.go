package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CacheStatus is the lifecycle state of a monthly cache row.
type CacheStatus string

const (
	CacheStatusActive   CacheStatus = "active"
	CacheStatusExpired  CacheStatus = "expired"
	CacheStatusBuilding CacheStatus = "building"
)

// CacheRunStatus is the state of one rebuild attempt.
type CacheRunStatus string

const (
	CacheRunRunning   CacheRunStatus = "running"
	CacheRunCompleted CacheRunStatus = "completed"
	CacheRunFailed    CacheRunStatus = "failed"
)

// MonthKey identifies a calendar month.
type MonthKey struct {
	Year  int
	Month time.Month
}

// NewMonthKey validates and builds a month key.
func NewMonthKey(year, month int) (MonthKey, error) {
	if month < 1 || month > 12 {
		return MonthKey{}, fmt.Errorf("invalid month %d", month)
	}
	if year < 1900 || year > 2100 {
		return MonthKey{}, fmt.Errorf("invalid year %d", year)
	}
	return MonthKey{Year: year, Month: time.Month(month)}, nil
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// Range returns the first day of the month and the first day of the next month.
func (k MonthKey) Range() (time.Time, time.Time) {
	from := time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// String renders the key as YYYY-MM.
func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// CacheTotals are the month-level aggregates.
type CacheTotals struct {
	TotalRecords           int64  `json:"totalRecords"`
	TotalTransactionAmount string `json:"totalTransactionAmount"`
	TotalNetDeposits       string `json:"totalNetDeposits"`
	TotalFiles             int64  `json:"totalFiles"`
	DTRecords              int64  `json:"dtRecords"`
	BHRecords              int64  `json:"bhRecords"`
	OtherRecords           int64  `json:"otherRecords"`

	// RecordTypeCounts holds the row count of every record code seen.
	RecordTypeCounts map[string]int64 `json:"recordTypeCounts"`
}

// DailyBreakdown is the per-day aggregate inside a month.
type DailyBreakdown struct {
	Date              string           `json:"date"`
	Files             int64            `json:"files"`
	Records           int64            `json:"records"`
	TransactionAmount string           `json:"transactionAmount"`
	NetDeposits       string           `json:"netDeposits"`
	DTRecords         int64            `json:"dtRecords"`
	BHRecords         int64            `json:"bhRecords"`
	OtherRecords      int64            `json:"otherRecords"`
	RecordTypeCounts  map[string]int64 `json:"recordTypeCounts"`
}

// MonthlyCache is one precomputed month of totals.
type MonthlyCache struct {
	Month           MonthKey
	Totals          CacheTotals
	Daily           []DailyBreakdown
	Status          CacheStatus
	BuildTime       time.Duration
	RefreshReason   string
	LastRefreshedAt time.Time

	// Generation counts invalidations. A build only activates the row when
	// the generation it started from is still current.
	Generation int64

	// Stale is set by readers when the row is expired or a previous build
	// never finished.
	Stale bool
}

// DailyToJSON marshals the breakdown for the JSONB column.
func (c MonthlyCache) DailyToJSON() (json.RawMessage, error) {
	daily := c.Daily
	if daily == nil {
		daily = []DailyBreakdown{}
	}
	return json.Marshal(daily)
}

// CacheRunLog records one rebuild attempt for a month.
type CacheRunLog struct {
	ID           int64
	Month        MonthKey
	Reason       string
	Status       CacheRunStatus
	RowsScanned  int64
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
}
