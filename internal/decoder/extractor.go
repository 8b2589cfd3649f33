package decoder

import (
	"strings"

	"github.com/rpattn/tddf/internal/domain"
)

// SliceRange returns the characters covered by pos. It reports false when the
// line ends before pos.End or the position is invalid.
func SliceRange(runes []rune, pos domain.Position) (string, bool) {
	if pos.Err() != nil || pos.End > len(runes) {
		return "", false
	}
	return string(runes[pos.Start-1 : pos.End]), true
}

// Extract decodes line against layout. Field problems are collected on the
// record; extraction itself never fails.
func Extract(line string, layout domain.RecordTypeSchema) domain.DecodedRecord {
	record := domain.DecodedRecord{
		RecordType:  layout.Code,
		Kind:        layout.Kind(),
		Fields:      make(map[string]any, len(layout.Fields)),
		RawLine:     line,
		RawLineHash: HashLine(line),
	}

	var (
		columns  []string
		runes    []rune
		unmapped []string
	)
	tabbed := strings.ContainsRune(line, '\t')
	if tabbed {
		columns = strings.Split(line, "\t")
	} else {
		runes = []rune(line)
	}

	for _, spec := range layout.Fields {
		var (
			raw string
			ok  bool
		)
		if tabbed {
			if spec.Column == nil {
				unmapped = append(unmapped, spec.Name)
			} else if *spec.Column < len(columns) {
				raw, ok = columns[*spec.Column], true
			}
		} else {
			if err := spec.Position.Err(); err != nil {
				record.AddError("field %s: %v", spec.Name, err)
				record.Fields[spec.Name] = nil
				continue
			}
			raw, ok = SliceRange(runes, spec.Position)
		}

		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			record.Fields[spec.Name] = nil
			continue
		}

		if !spec.Format.Known() {
			record.AddWarning("field %s: unknown format %q kept as text", spec.Name, spec.Format)
			record.Fields[spec.Name] = raw
			continue
		}

		value, err := convertValue(spec, raw)
		if err != nil {
			record.Errors = append(record.Errors, err.Error())
		}
		record.Fields[spec.Name] = value
	}

	if len(unmapped) > 0 {
		record.AddWarning("tab-delimited line: no column mapping for %d of %d field(s) (%s)",
			len(unmapped), len(layout.Fields), strings.Join(unmapped, ", "))
	}
	return record
}
