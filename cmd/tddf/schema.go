package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/repository"
	"github.com/rpattn/tddf/internal/schema"
)

func newSchemaCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect, export and import record layouts",
	}
	cmd.AddCommand(
		newSchemaCheckCommand(a),
		newSchemaTemplateCommand(),
		newSchemaImportCommand(a),
	)
	return cmd
}

func newSchemaCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the configured schema source and report layout problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := a.schemaSource(cmd.Context())
			if err != nil {
				return err
			}
			snapshot, err := schema.NewRegistry(source).Load(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"source":   snapshot.Source(),
				"codes":    snapshot.Codes(),
				"warnings": snapshot.Warnings(),
			})
		},
	}
}

func newSchemaTemplateCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write the built-in layouts as an XLSX template or YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var buf bytes.Buffer
			layouts := schema.BuiltinLayouts()
			switch strings.ToLower(filepath.Ext(out)) {
			case ".xlsx":
				if err := schema.WriteTemplate(&buf, layouts); err != nil {
					return err
				}
			case ".yaml", ".yml":
				if err := schema.EncodeYAML(&buf, layouts); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported template extension %q, use .xlsx or .yaml", filepath.Ext(out))
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d layouts to %s\n", len(layouts), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "tddf-layouts.xlsx", "output path (.xlsx or .yaml)")
	return cmd
}

func newSchemaImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Validate an XLSX or YAML layout file and store it for the database source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layouts, err := readLayoutFile(args[0])
			if err != nil {
				return err
			}
			snapshot, err := schema.NewSnapshot(layouts...)
			if err != nil {
				return err
			}
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			if err := repository.NewFieldSpecRepository(pool).ReplaceLayouts(cmd.Context(), layouts); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"imported": snapshot.Codes(),
				"warnings": snapshot.Warnings(),
			})
		},
	}
}

func readLayoutFile(path string) ([]domain.RecordTypeSchema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return schema.DecodeTemplate(f)
	case ".yaml", ".yml":
		return schema.DecodeYAML(f)
	default:
		return nil, fmt.Errorf("unsupported layout file %q, use .xlsx or .yaml", path)
	}
}
