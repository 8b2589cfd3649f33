package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "tddf",
		Short: "Decode TDDF files and maintain monthly totals",
		Long: `tddf decodes fixed-width or tab-delimited TDDF exports into PostgreSQL,
removes duplicate lines, keeps the merchant and terminal dimensions current and
rebuilds the monthly cache used for reporting.

Configuration is read from config.yaml (or --config) and TDDF_* environment
variables, e.g. TDDF_DATABASE_HOST or TDDF_DECODE_BATCH_SIZE.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.init(cmd.Context())
			if err != nil {
				return err
			}
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config.yaml or the folder containing it")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newDecodeCommand(a),
		newDedupeCommand(a),
		newCacheCommand(a),
		newSchemaCommand(a),
		newInboxCommand(a),
		newMigrateCommand(a),
	)
	return root
}
