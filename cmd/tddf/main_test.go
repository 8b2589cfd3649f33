package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/schema"
)

func TestParseMonth(t *testing.T) {
	month, err := parseMonth("2025-03")
	if err != nil {
		t.Fatalf("parseMonth returned error: %v", err)
	}
	if month != (domain.MonthKey{Year: 2025, Month: time.March}) {
		t.Fatalf("unexpected month %+v", month)
	}
	for _, bad := range []string{"2025-13", "03-2025", "2025"} {
		if _, err := parseMonth(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestSchemaTemplateCommandWritesYAML(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "layouts.yaml")

	root := newRootCommand()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetArgs([]string{"--config", filepath.Join(dir, "missing"), "schema", "template", "--out", out})
	if err := root.Execute(); err != nil {
		t.Fatalf("schema template failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "wrote 5 layouts") {
		t.Fatalf("unexpected output %q", stdout.String())
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("template not written: %v", err)
	}
	defer f.Close()
	layouts, err := schema.DecodeYAML(f)
	if err != nil {
		t.Fatalf("template is not valid layout yaml: %v", err)
	}
	if len(layouts) != len(schema.BuiltinLayouts()) {
		t.Fatalf("expected %d layouts, got %d", len(schema.BuiltinLayouts()), len(layouts))
	}
}

func TestSchemaCheckBuiltin(t *testing.T) {
	root := newRootCommand()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetArgs([]string{"--config", t.TempDir(), "schema", "check"})
	if err := root.Execute(); err != nil {
		t.Fatalf("schema check failed: %v", err)
	}
	if !strings.Contains(stdout.String(), `"source": "builtin"`) {
		t.Fatalf("expected builtin source in output, got %s", stdout.String())
	}
}

func TestDecodeRejectsUploadIDForManyFiles(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", t.TempDir(), "decode", "--upload-id", "u1", "a.txt", "b.txt"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected an error for --upload-id with two files")
	}
}
