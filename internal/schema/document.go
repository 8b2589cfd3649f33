package schema

import (
	"fmt"
	"strings"

	"github.com/rpattn/tddf/internal/domain"
)

// fieldDocument is the serialized form of a field shared by the file and
// template sources.
type fieldDocument struct {
	Name         string `yaml:"name"`
	Position     string `yaml:"position"`
	Column       *int   `yaml:"column,omitempty"`
	Format       string `yaml:"format"`
	Length       int    `yaml:"length,omitempty"`
	DecimalScale *int   `yaml:"decimalScale,omitempty"`
	Description  string `yaml:"description,omitempty"`
}

type recordTypeDocument struct {
	Code        string          `yaml:"code"`
	Description string          `yaml:"description,omitempty"`
	Fields      []fieldDocument `yaml:"fields"`
}

type layoutDocument struct {
	RecordTypes []recordTypeDocument `yaml:"recordTypes"`
}

func (d fieldDocument) toSpec() domain.FieldSpec {
	format, _ := domain.ParseFieldFormat(d.Format)
	if strings.TrimSpace(d.Format) == "" {
		format = domain.FormatText
	}
	spec := domain.FieldSpec{
		Name:           strings.TrimSpace(d.Name),
		Position:       domain.ParsePosition(d.Position),
		Column:         d.Column,
		Format:         format,
		DeclaredLength: d.Length,
		DecimalScale:   d.DecimalScale,
		Description:    strings.TrimSpace(d.Description),
	}
	return spec
}

func fromSpec(spec domain.FieldSpec) fieldDocument {
	return fieldDocument{
		Name:         spec.Name,
		Position:     spec.Position.String(),
		Column:       spec.Column,
		Format:       string(spec.Format),
		Length:       spec.DeclaredLength,
		DecimalScale: spec.DecimalScale,
		Description:  spec.Description,
	}
}

func (d layoutDocument) toLayouts() ([]domain.RecordTypeSchema, error) {
	layouts := make([]domain.RecordTypeSchema, 0, len(d.RecordTypes))
	for idx, rt := range d.RecordTypes {
		code := strings.TrimSpace(rt.Code)
		if code == "" {
			return nil, fmt.Errorf("record type %d has no code", idx+1)
		}
		fields := make([]domain.FieldSpec, 0, len(rt.Fields))
		for _, f := range rt.Fields {
			fields = append(fields, f.toSpec())
		}
		layouts = append(layouts, domain.RecordTypeSchema{
			Code:        code,
			Description: strings.TrimSpace(rt.Description),
			Fields:      fields,
		})
	}
	return layouts, nil
}

func documentFromLayouts(layouts []domain.RecordTypeSchema) layoutDocument {
	doc := layoutDocument{RecordTypes: make([]recordTypeDocument, 0, len(layouts))}
	for _, layout := range layouts {
		rt := recordTypeDocument{Code: layout.Code, Description: layout.Description}
		for _, f := range layout.Fields {
			rt.Fields = append(rt.Fields, fromSpec(f))
		}
		doc.RecordTypes = append(doc.RecordTypes, rt)
	}
	return doc
}
