package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/tddf/internal/domain"
)

func TestWriteMonthlyWorkbook(t *testing.T) {
	caches := []domain.MonthlyCache{{
		Month:  domain.MonthKey{Year: 2025, Month: time.March},
		Status: domain.CacheStatusActive,
		Totals: domain.CacheTotals{
			TotalRecords:           3,
			TotalTransactionAmount: "133.55",
			TotalNetDeposits:       "1000.00",
			TotalFiles:             1,
			DTRecords:              2,
			BHRecords:              1,
		},
		Daily: []domain.DailyBreakdown{
			{Date: "2025-03-02", Files: 1, Records: 3, TransactionAmount: "133.55", NetDeposits: "1000.00", DTRecords: 2, BHRecords: 1},
		},
		RefreshReason:   "manual",
		LastRefreshedAt: time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC),
	}}

	var buf bytes.Buffer
	if err := WriteMonthlyWorkbook(&buf, caches); err != nil {
		t.Fatalf("WriteMonthlyWorkbook returned error: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("failed to reopen workbook: %v", err)
	}
	defer f.Close()

	if diff := cmp.Diff([]string{SummarySheet, "2025-03"}, f.GetSheetList()); diff != "" {
		t.Fatalf("sheet list mismatch (-want +got):\n%s", diff)
	}

	month, err := f.GetCellValue(SummarySheet, "A2")
	if err != nil || month != "2025-03" {
		t.Fatalf("expected month in A2, got %q (%v)", month, err)
	}
	amount, err := f.GetCellValue(SummarySheet, "I2")
	if err != nil || amount != "133.55" {
		t.Fatalf("expected transaction amount in I2, got %q (%v)", amount, err)
	}

	rows, err := f.GetRows("2025-03")
	if err != nil {
		t.Fatalf("failed to read daily sheet: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "2025-03-02" {
		t.Fatalf("unexpected daily rows: %v", rows)
	}
}
