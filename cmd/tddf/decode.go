package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/ingestion"
	"github.com/rpattn/tddf/internal/logger"
	"github.com/rpattn/tddf/internal/monthlycache"
	"github.com/rpattn/tddf/internal/repository"
)

func newDecodeCommand(a *app) *cobra.Command {
	var (
		uploadID     string
		encoding     string
		rebuildCache bool
	)

	cmd := &cobra.Command{
		Use:   "decode FILE...",
		Short: "Decode TDDF files into master records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if uploadID != "" && len(args) > 1 {
				return errors.New("--upload-id can only be used with a single file")
			}
			ctx := cmd.Context()
			svc, builder, err := a.decodeService(ctx, encoding)
			if err != nil {
				return err
			}

			var failed int
			for _, path := range args {
				summary, err := decodePath(ctx, svc, path, uploadID)
				if writeErr := writeJSON(cmd.OutOrStdout(), summary); writeErr != nil {
					return writeErr
				}
				if err != nil {
					failed++
					continue
				}
				if rebuildCache {
					rebuildMonths(ctx, builder, summary.MonthsInvalidated)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed to decode", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&uploadID, "upload-id", "", "upload id to record (default: generated)")
	cmd.Flags().StringVar(&encoding, "encoding", "", "input character set (utf-8, latin1, windows-1252, cp037)")
	cmd.Flags().BoolVar(&rebuildCache, "rebuild-cache", false, "rebuild every monthly cache the upload invalidated")
	return cmd
}

func decodePath(ctx context.Context, svc *ingestion.Service, path, uploadID string) (ingestion.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingestion.Summary{Filename: filepath.Base(path)}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return svc.DecodeFile(ctx, ingestion.Request{
		UploadID: uploadID,
		Filename: filepath.Base(path),
		Data:     f,
	})
}

// rebuildMonths rebuilds YYYY-MM keys one by one; failures are logged so one
// busy month does not hide the others.
func rebuildMonths(ctx context.Context, builder *monthlycache.Builder, months []string) {
	log := logger.FromContext(ctx)
	for _, key := range months {
		month, err := parseMonth(key)
		if err != nil {
			log.Error().Err(err).Str("month", key).Msg("skipping cache rebuild")
			continue
		}
		if _, err := builder.Build(ctx, month.Year, int(month.Month), monthlycache.ReasonNewRecords); err != nil {
			if errors.Is(err, domain.ErrBuildInProgress) {
				log.Warn().Str("month", key).Msg("cache rebuild already running")
				continue
			}
			log.Error().Err(err).Str("month", key).Msg("cache rebuild failed")
		}
	}
}

func newDedupeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe UPLOAD_ID",
		Short: "Remove duplicate lines of an upload, keeping the newest copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := repository.NewMasterRecordRepository(pool).DeleteDuplicates(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"uploadId":        args[0],
				"duplicateGroups": stats.DuplicateGroups,
				"rowsRemoved":     stats.RowsRemoved,
			})
		},
	}
}
