package schema

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rpattn/tddf/internal/domain"
)

type failingSource struct{ err error }

func (s failingSource) Name() string { return "failing" }

func (s failingSource) Load(context.Context) ([]domain.RecordTypeSchema, error) {
	return nil, s.err
}

type memoryStore struct {
	layouts []domain.RecordTypeSchema
}

func (m *memoryStore) ListLayouts(context.Context) ([]domain.RecordTypeSchema, error) {
	return m.layouts, nil
}

var _ LayoutStore = (*memoryStore)(nil)

func TestBuiltinLayoutsLoadWithoutWarnings(t *testing.T) {
	snapshot, err := NewRegistry(BuiltinSource{}).Load(context.Background())
	if err != nil {
		t.Fatalf("expected builtin schema to load, got %v", err)
	}
	if warnings := snapshot.Warnings(); len(warnings) != 0 {
		t.Fatalf("expected builtin layouts to be clean, got %v", warnings)
	}
	if diff := cmp.Diff([]string{"AD", "BH", "DT", "P1", "P2"}, snapshot.Codes()); diff != "" {
		t.Fatalf("unexpected codes (-want +got):\n%s", diff)
	}

	dt, ok := snapshot.Lookup("dt")
	if !ok {
		t.Fatalf("expected DT layout")
	}
	for _, f := range dt.Fields {
		if f.Name == domain.FieldTransactionAmount {
			if f.DecimalScale == nil || *f.DecimalScale != 2 {
				t.Fatalf("expected transactionAmount to declare scale 2")
			}
			return
		}
	}
	t.Fatalf("transactionAmount missing from DT layout")
}

func TestRegistryWrapsSourceFailures(t *testing.T) {
	_, err := NewRegistry(failingSource{err: errors.New("connection refused")}).Load(context.Background())
	if !errors.Is(err, domain.ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected source error in message, got %v", err)
	}
}

func TestRegistryRejectsEmptySchema(t *testing.T) {
	_, err := NewRegistry(NewDatabaseSource(&memoryStore{})).Load(context.Background())
	if !errors.Is(err, domain.ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable for empty schema, got %v", err)
	}
}

func TestRegistryRejectsDuplicateCodes(t *testing.T) {
	layouts := BuiltinLayouts()
	layouts = append(layouts, layouts[0])
	_, err := NewRegistry(NewDatabaseSource(&memoryStore{layouts: layouts})).Load(context.Background())
	if !errors.Is(err, domain.ErrSchemaUnavailable) {
		t.Fatalf("expected duplicate codes to fail, got %v", err)
	}
}

func TestSnapshotIsIsolatedFromSource(t *testing.T) {
	store := &memoryStore{layouts: BuiltinLayouts()}
	snapshot, err := NewRegistry(NewDatabaseSource(store)).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.layouts[0].Fields[0].Name = "mutated"

	dt, _ := snapshot.Lookup(store.layouts[0].Code)
	if dt.Fields[0].Name == "mutated" {
		t.Fatalf("snapshot observed a mutation of the backing store")
	}
}

func TestSnapshotResolveFallsBackToGeneric(t *testing.T) {
	snapshot, err := NewSnapshot(BuiltinLayouts()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	generic := snapshot.Resolve("zz")
	if generic.Code != "ZZ" || generic.Kind() != domain.KindGeneric {
		t.Fatalf("expected generic layout for ZZ, got %s/%s", generic.Code, generic.Kind())
	}
	if len(generic.Fields) != len(headerFields()) {
		t.Fatalf("expected header-only generic layout, got %d fields", len(generic.Fields))
	}
}

func TestDecodeYAML(t *testing.T) {
	doc := `
recordTypes:
  - code: DT
    description: Detail
    fields:
      - name: recordIdentifier
        position: "18-19"
        format: AN
      - name: transactionAmount
        position: "93-103"
        format: N
        decimalScale: 2
      - name: flag
        position: "197"
        column: 4
        format: A
`
	layouts, err := DecodeYAML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(layouts) != 1 || len(layouts[0].Fields) != 3 {
		t.Fatalf("unexpected layouts: %+v", layouts)
	}
	fields := layouts[0].Fields
	if fields[0].Format != domain.FormatText || fields[1].Format != domain.FormatNumeric || fields[2].Format != domain.FormatAlpha {
		t.Fatalf("format aliases not normalized: %+v", fields)
	}
	if fields[1].DecimalScale == nil || *fields[1].DecimalScale != 2 {
		t.Fatalf("expected decimal scale 2")
	}
	if fields[2].Position.Width() != 1 || fields[2].Column == nil || *fields[2].Column != 4 {
		t.Fatalf("unexpected single-character field: %+v", fields[2])
	}
}

func TestDecodeYAMLRejectsUnknownKeys(t *testing.T) {
	doc := "recordTypes:\n  - code: DT\n    colour: red\n"
	if _, err := DecodeYAML(strings.NewReader(doc)); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestYAMLRoundTripThroughRegistry(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeYAML(&buf, BuiltinLayouts()); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	layouts, err := DecodeYAML(&buf)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if _, err := NewSnapshot(layouts...); err != nil {
		t.Fatalf("expected re-read layouts to load, got %v", err)
	}
}

func TestTemplateSourceReadsWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layouts.xlsx")

	var buf bytes.Buffer
	if err := WriteTemplate(&buf, BuiltinLayouts()); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}
	if err := writeFile(path, buf.Bytes()); err != nil {
		t.Fatalf("failed to save template: %v", err)
	}

	snapshot, err := NewRegistry(NewTemplateSource(path)).Load(context.Background())
	if err != nil {
		t.Fatalf("expected template to load, got %v", err)
	}
	if diff := cmp.Diff([]string{"AD", "BH", "DT", "P1", "P2"}, snapshot.Codes()); diff != "" {
		t.Fatalf("unexpected codes (-want +got):\n%s", diff)
	}

	bh, _ := snapshot.Lookup("BH")
	want, _ := mustBuiltin(t).Lookup("BH")
	if len(bh.Fields) != len(want.Fields) {
		t.Fatalf("expected %d BH fields, got %d", len(want.Fields), len(bh.Fields))
	}
	for i := range want.Fields {
		if bh.Fields[i].Name != want.Fields[i].Name || bh.Fields[i].Position.String() != want.Fields[i].Position.String() {
			t.Fatalf("field %d mismatch: got %s@%s want %s@%s", i, bh.Fields[i].Name, bh.Fields[i].Position, want.Fields[i].Name, want.Fields[i].Position)
		}
	}
}

func TestTemplateSourceMissingFile(t *testing.T) {
	_, err := NewRegistry(NewTemplateSource(filepath.Join(t.TempDir(), "missing.xlsx"))).Load(context.Background())
	if !errors.Is(err, domain.ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable, got %v", err)
	}
}

func mustBuiltin(t *testing.T) *Snapshot {
	t.Helper()
	snapshot, err := NewSnapshot(BuiltinLayouts()...)
	if err != nil {
		t.Fatalf("failed to load builtin layouts: %v", err)
	}
	return snapshot
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}
