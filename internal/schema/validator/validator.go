package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/tddf/internal/domain"
)

// Report lists non-fatal layout problems found while validating a record type.
type Report struct {
	Warnings []string
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateLayout checks a record type layout. Structural problems that make the
// layout unusable are returned as errors; issues the extractor can tolerate
// (duplicate names, overlapping ranges, unknown formats, malformed positions)
// are reported as warnings.
func ValidateLayout(layout domain.RecordTypeSchema) (Report, error) {
	var report Report

	code := strings.TrimSpace(layout.Code)
	if len(code) != 2 {
		return Report{}, fmt.Errorf("record type code %q must be two characters", layout.Code)
	}
	if len(layout.Fields) == 0 {
		return Report{}, fmt.Errorf("record type %s declares no fields", code)
	}

	seen := make(map[string]struct{}, len(layout.Fields))
	type span struct {
		name       string
		start, end int
	}
	spans := make([]span, 0, len(layout.Fields))

	for idx, field := range layout.Fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			return Report{}, fmt.Errorf("record type %s field %d has no name", code, idx+1)
		}
		if field.DecimalScale != nil {
			if *field.DecimalScale < 0 {
				return Report{}, fmt.Errorf("record type %s field %s has negative decimal scale", code, name)
			}
			if field.Format != domain.FormatNumeric {
				return Report{}, fmt.Errorf("record type %s field %s declares a decimal scale but format %s is not numeric", code, name, field.Format)
			}
		}
		if field.Column != nil && *field.Column < 0 {
			return Report{}, fmt.Errorf("record type %s field %s has negative column index", code, name)
		}

		if _, dup := seen[name]; dup {
			report.warn("record type %s: duplicate field name %s", code, name)
		}
		seen[name] = struct{}{}

		if !field.Format.Known() {
			report.warn("record type %s: field %s uses unknown format %q and will be kept as text", code, name, field.Format)
		}

		if err := field.Position.Err(); err != nil {
			if field.Column == nil {
				report.warn("record type %s: field %s: %v", code, name, err)
			}
			continue
		}
		if field.DeclaredLength > 0 && field.DeclaredLength != field.Position.Width() {
			report.warn("record type %s: field %s declares length %d but position %s spans %d", code, name, field.DeclaredLength, field.Position, field.Position.Width())
		}
		spans = append(spans, span{name: name, start: field.Position.Start, end: field.Position.End})
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start <= spans[i-1].end {
			report.warn("record type %s: fields %s and %s overlap", code, spans[i-1].name, spans[i].name)
		}
	}

	return report, nil
}
