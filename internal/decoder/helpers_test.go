package decoder

import (
	"strings"
	"testing"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/schema"
)

func builtinSnapshot(t *testing.T) *schema.Snapshot {
	t.Helper()
	snapshot, err := schema.NewSnapshot(schema.BuiltinLayouts()...)
	if err != nil {
		t.Fatalf("failed to load builtin layouts: %v", err)
	}
	return snapshot
}

// fixedLine renders values into a fixed-width line for the given layout. The
// record identifier is always filled from the layout code.
func fixedLine(t *testing.T, layout domain.RecordTypeSchema, values map[string]string) string {
	t.Helper()
	width := 0
	for _, f := range layout.Fields {
		if f.Position.End > width {
			width = f.Position.End
		}
	}
	line := []rune(strings.Repeat(" ", width))
	put := func(f domain.FieldSpec, value string) {
		if len([]rune(value)) > f.Position.Width() {
			t.Fatalf("value %q too wide for %s (%d)", value, f.Name, f.Position.Width())
		}
		copy(line[f.Position.Start-1:], []rune(value))
	}
	for _, f := range layout.Fields {
		if f.Name == "recordIdentifier" {
			put(f, layout.Code)
			continue
		}
		if value, ok := values[f.Name]; ok {
			put(f, value)
		}
	}
	return string(line)
}

func layoutFor(t *testing.T, code string) domain.RecordTypeSchema {
	t.Helper()
	layout, ok := builtinSnapshot(t).Lookup(code)
	if !ok {
		t.Fatalf("layout %s not found", code)
	}
	return layout
}
