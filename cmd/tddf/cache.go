package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/monthlycache"
	"github.com/rpattn/tddf/internal/report"
)

func parseMonth(value string) (domain.MonthKey, error) {
	parsed, err := time.Parse("2006-01", value)
	if err != nil {
		return domain.MonthKey{}, fmt.Errorf("invalid month %q, expected YYYY-MM", value)
	}
	return domain.NewMonthKey(parsed.Year(), int(parsed.Month()))
}

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Build, invalidate and inspect the monthly cache",
	}
	cmd.AddCommand(
		newCacheBuildCommand(a),
		newCacheInvalidateCommand(a),
		newCacheShowCommand(a),
		newCacheExportCommand(a),
	)
	return cmd
}

func newCacheBuildCommand(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "build YYYY-MM...",
		Short: "Rebuild monthly cache rows from clean master records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			builder := a.cacheBuilder(pool)
			for _, arg := range args {
				month, err := parseMonth(arg)
				if err != nil {
					return err
				}
				result, err := builder.Build(cmd.Context(), month.Year, int(month.Month), reason)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), cacheView(result.Cache)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", monthlycache.ReasonManual, "refresh reason recorded on the cache row")
	return cmd
}

func newCacheInvalidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate YYYY-MM-DD...",
		Short: "Expire the cache rows of the months containing the given dates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dates := make([]time.Time, 0, len(args))
			for _, arg := range args {
				date, err := time.Parse(time.DateOnly, arg)
				if err != nil {
					return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", arg)
				}
				dates = append(dates, date)
			}
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			months, err := a.cacheBuilder(pool).InvalidateMonths(cmd.Context(), dates)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(months))
			for _, month := range months {
				keys = append(keys, month.String())
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"monthsInvalidated": keys})
		},
	}
}

func newCacheShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [YYYY-MM]",
		Short: "Print one cached month, or every cached month",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			builder := a.cacheBuilder(pool)
			if len(args) == 0 {
				caches, err := builder.List(cmd.Context())
				if err != nil {
					return err
				}
				views := make([]map[string]any, 0, len(caches))
				for _, cache := range caches {
					views = append(views, cacheView(cache))
				}
				return writeJSON(cmd.OutOrStdout(), views)
			}

			month, err := parseMonth(args[0])
			if err != nil {
				return err
			}
			cache, err := builder.Get(cmd.Context(), month.Year, int(month.Month))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cacheView(cache))
		},
	}
}

func newCacheExportCommand(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export [YYYY-MM...]",
		Short: "Write cached months to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			builder := a.cacheBuilder(pool)

			var caches []domain.MonthlyCache
			if len(args) == 0 {
				if caches, err = builder.List(cmd.Context()); err != nil {
					return err
				}
			}
			for _, arg := range args {
				month, err := parseMonth(arg)
				if err != nil {
					return err
				}
				cache, err := builder.Get(cmd.Context(), month.Year, int(month.Month))
				if err != nil {
					return err
				}
				caches = append(caches, cache)
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			if err := report.WriteMonthlyWorkbook(f, caches); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d month(s) to %s\n", len(caches), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "monthly-cache.xlsx", "output workbook path")
	return cmd
}

func cacheView(cache domain.MonthlyCache) map[string]any {
	return map[string]any{
		"month":           cache.Month.String(),
		"status":          cache.Status,
		"stale":           cache.Stale,
		"totals":          cache.Totals,
		"daily":           cache.Daily,
		"refreshReason":   cache.RefreshReason,
		"lastRefreshedAt": cache.LastRefreshedAt,
		"buildTimeMs":     cache.BuildTime.Milliseconds(),
	}
}
