package main

import (
	"github.com/spf13/cobra"

	"github.com/rpattn/tddf/internal/inbox"
)

func newInboxCommand(a *app) *cobra.Command {
	var (
		folder       string
		encoding     string
		rebuildCache bool
	)
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Decode every file waiting in the inbox folder",
		Long: `inbox decodes each file in <folder>/inbox. Successful files move to
<folder>/processed, failed files stay in the inbox for the next run, and a JSON
report is written to <folder>/logs. Only one instance may run per folder.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if folder == "" {
				folder = a.cfg.Inbox.Folder
			}
			ctx := cmd.Context()
			svc, builder, err := a.decodeService(ctx, encoding)
			if err != nil {
				return err
			}

			processor := inbox.NewProcessor(folder, svc, inbox.WithLockStaleAfter(a.cfg.Inbox.LockStaleAfter))
			report, err := processor.Run(ctx)
			if err != nil {
				return err
			}
			if rebuildCache {
				var months []string
				seen := map[string]bool{}
				for _, file := range report.Files {
					for _, month := range file.Months {
						if !seen[month] {
							seen[month] = true
							months = append(months, month)
						}
					}
				}
				rebuildMonths(ctx, builder, months)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "inbox root folder (default from inbox.folder)")
	cmd.Flags().StringVar(&encoding, "encoding", "", "input character set (utf-8, latin1, windows-1252, cp037)")
	cmd.Flags().BoolVar(&rebuildCache, "rebuild-cache", false, "rebuild every monthly cache the run invalidated")
	return cmd
}
