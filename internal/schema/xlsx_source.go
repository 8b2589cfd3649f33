package schema

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/xuri/excelize/v2"
)

var (
	templateHeaders = []string{"Field Name", "Position", "Column", "Format", "Length", "Decimal Scale", "Description"}
	recordCodeSheet = regexp.MustCompile(`^[A-Za-z0-9]{2}$`)
)

// TemplateSource reads layouts from an XLSX workbook with one sheet per record
// type. Sheets whose name is not a two-character code are ignored.
type TemplateSource struct {
	path string
}

// NewTemplateSource returns a source reading the workbook at path.
func NewTemplateSource(path string) *TemplateSource {
	return &TemplateSource{path: path}
}

// Name implements Source.
func (s *TemplateSource) Name() string { return "template" }

// Load implements Source.
func (s *TemplateSource) Load(ctx context.Context) ([]domain.RecordTypeSchema, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema template %s: %w", s.path, err)
	}
	defer func() { _ = f.Close() }()
	return readTemplate(f)
}

// DecodeTemplate parses a workbook from a reader.
func DecodeTemplate(r io.Reader) ([]domain.RecordTypeSchema, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()
	return readTemplate(f)
}

func readTemplate(f *excelize.File) ([]domain.RecordTypeSchema, error) {
	var layouts []domain.RecordTypeSchema
	for _, sheet := range f.GetSheetList() {
		if !recordCodeSheet.MatchString(strings.TrimSpace(sheet)) {
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read rows from sheet %s: %w", sheet, err)
		}
		fields, err := parseTemplateRows(sheet, rows)
		if err != nil {
			return nil, err
		}
		layouts = append(layouts, domain.RecordTypeSchema{
			Code:   strings.ToUpper(strings.TrimSpace(sheet)),
			Fields: fields,
		})
	}
	return layouts, nil
}

func parseTemplateRows(sheet string, rows [][]string) ([]domain.FieldSpec, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheet)
	}

	index := make(map[string]int, len(rows[0]))
	for idx, header := range rows[0] {
		index[normalizeHeader(header)] = idx
	}
	for _, required := range []string{"fieldname", "position", "format"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("sheet %s is missing column %q", sheet, required)
		}
	}

	cell := func(row []string, key string) string {
		idx, ok := index[key]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	optionalInt := func(row []string, key string, rowNumber int) (*int, error) {
		raw := cell(row, key)
		if raw == "" {
			return nil, nil
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("sheet %s row %d: invalid %s %q", sheet, rowNumber, key, raw)
		}
		return &value, nil
	}

	var fields []domain.FieldSpec
	for idx, row := range rows[1:] {
		rowNumber := idx + 2
		name := cell(row, "fieldname")
		if name == "" {
			continue
		}
		column, err := optionalInt(row, "column", rowNumber)
		if err != nil {
			return nil, err
		}
		length, err := optionalInt(row, "length", rowNumber)
		if err != nil {
			return nil, err
		}
		scale, err := optionalInt(row, "decimalscale", rowNumber)
		if err != nil {
			return nil, err
		}
		doc := fieldDocument{
			Name:         name,
			Position:     cell(row, "position"),
			Column:       column,
			Format:       cell(row, "format"),
			DecimalScale: scale,
			Description:  cell(row, "description"),
		}
		if length != nil {
			doc.Length = *length
		}
		fields = append(fields, doc.toSpec())
	}
	return fields, nil
}

func normalizeHeader(header string) string {
	replacer := strings.NewReplacer(" ", "", "_", "", "-", "")
	return strings.ToLower(replacer.Replace(strings.TrimSpace(header)))
}

// WriteTemplate renders layouts as a workbook TemplateSource can read back.
func WriteTemplate(w io.Writer, layouts []domain.RecordTypeSchema) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	defaultSheet := f.GetSheetName(0)
	for idx, layout := range layouts {
		sheet := layout.Code
		if idx == 0 {
			if err := f.SetSheetName(defaultSheet, sheet); err != nil {
				return fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}

		if err := f.SetSheetRow(sheet, "A1", &templateHeaders); err != nil {
			return fmt.Errorf("failed to write header for %s: %w", sheet, err)
		}
		for i, spec := range layout.Fields {
			row := []any{spec.Name, spec.Position.String(), "", string(spec.Format), "", "", spec.Description}
			if spec.Column != nil {
				row[2] = *spec.Column
			}
			if spec.DeclaredLength > 0 {
				row[4] = spec.DeclaredLength
			}
			if spec.DecimalScale != nil {
				row[5] = *spec.DecimalScale
			}
			cellRef, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet, cellRef, &row); err != nil {
				return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	return nil
}
