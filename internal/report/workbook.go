// Package report renders monthly cache rows as spreadsheets.
package report

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/tddf/internal/domain"
)

// SummarySheet lists one row of totals per month.
const SummarySheet = "Summary"

var summaryHeaders = []any{
	"Month", "Status", "Stale", "Total Records", "Files", "DT Records", "BH Records",
	"Other Records", "Transaction Amount", "Net Deposits", "Refresh Reason", "Last Refreshed", "Build Time (ms)",
}

var dailyHeaders = []any{
	"Date", "Files", "Records", "DT Records", "BH Records", "Other Records", "Transaction Amount", "Net Deposits",
}

// WriteMonthlyWorkbook writes a workbook with a summary sheet and one daily
// sheet per month, named YYYY-MM.
func WriteMonthlyWorkbook(w io.Writer, caches []domain.MonthlyCache) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	if err := f.SetSheetRow(SummarySheet, "A1", &summaryHeaders); err != nil {
		return fmt.Errorf("failed to write summary header: %w", err)
	}

	for i, cache := range caches {
		row := []any{
			cache.Month.String(),
			string(cache.Status),
			cache.Stale,
			cache.Totals.TotalRecords,
			cache.Totals.TotalFiles,
			cache.Totals.DTRecords,
			cache.Totals.BHRecords,
			cache.Totals.OtherRecords,
			amountCell(cache.Totals.TotalTransactionAmount),
			amountCell(cache.Totals.TotalNetDeposits),
			cache.RefreshReason,
			lastRefreshed(cache),
			cache.BuildTime.Milliseconds(),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary for %s: %w", cache.Month, err)
		}

		if err := writeDailySheet(f, cache); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeDailySheet(f *excelize.File, cache domain.MonthlyCache) error {
	sheet := cache.Month.String()
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}
	if err := f.SetSheetRow(sheet, "A1", &dailyHeaders); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", sheet, err)
	}
	for i, day := range cache.Daily {
		row := []any{
			day.Date,
			day.Files,
			day.Records,
			day.DTRecords,
			day.BHRecords,
			day.OtherRecords,
			amountCell(day.TransactionAmount),
			amountCell(day.NetDeposits),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// amountCell stores decimal strings as numbers so spreadsheet sums work;
// anything unparseable is kept as text.
func amountCell(value string) any {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return value
	}
	f, _ := amount.Float64()
	return f
}

func lastRefreshed(cache domain.MonthlyCache) string {
	if cache.LastRefreshedAt.IsZero() {
		return ""
	}
	return cache.LastRefreshedAt.UTC().Format("2006-01-02 15:04:05")
}
