package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldFormat is the conversion applied to a raw field slice.
type FieldFormat string

const (
	FormatText    FieldFormat = "text"
	FormatAlpha   FieldFormat = "alpha"
	FormatNumeric FieldFormat = "numeric"
	FormatDate    FieldFormat = "date"
)

var formatAliases = map[string]FieldFormat{
	"text":         FormatText,
	"an":           FormatText,
	"alphanumeric": FormatText,
	"string":       FormatText,
	"alpha":        FormatAlpha,
	"a":            FormatAlpha,
	"numeric":      FormatNumeric,
	"n":            FormatNumeric,
	"number":       FormatNumeric,
	"date":         FormatDate,
	"d":            FormatDate,
}

// ParseFieldFormat normalizes a format code. Unknown codes are returned lower-cased
// with ok=false; the extractor treats them as opaque text.
func ParseFieldFormat(raw string) (FieldFormat, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if format, ok := formatAliases[key]; ok {
		return format, true
	}
	return FieldFormat(key), false
}

// Known reports whether the format is one the extractor converts.
func (f FieldFormat) Known() bool {
	switch f {
	case FormatText, FormatAlpha, FormatNumeric, FormatDate:
		return true
	}
	return false
}

// Position is a 1-based inclusive character range inside a fixed-width line.
// A Position that failed to parse keeps its raw text and reports the failure
// through Err so the extractor can surface it per row.
type Position struct {
	Start int
	End   int
	raw   string
	err   error
}

// ParsePosition accepts "197" (one character) or "85-92" (inclusive range).
func ParsePosition(raw string) Position {
	trimmed := strings.TrimSpace(raw)
	pos := Position{raw: trimmed}
	if trimmed == "" {
		pos.err = fmt.Errorf("%w: empty position", ErrInvalidPosition)
		return pos
	}

	startRaw, endRaw, isRange := strings.Cut(trimmed, "-")
	start, err := strconv.Atoi(strings.TrimSpace(startRaw))
	if err != nil {
		pos.err = fmt.Errorf("%w: %q", ErrInvalidPosition, trimmed)
		return pos
	}
	end := start
	if isRange {
		end, err = strconv.Atoi(strings.TrimSpace(endRaw))
		if err != nil {
			pos.err = fmt.Errorf("%w: %q", ErrInvalidPosition, trimmed)
			return pos
		}
	}

	return RangePosition(start, end).withRaw(trimmed)
}

// RangePosition builds a position from numeric bounds, validating end >= start >= 1.
func RangePosition(start, end int) Position {
	pos := Position{Start: start, End: end, raw: fmt.Sprintf("%d-%d", start, end)}
	if start == end {
		pos.raw = strconv.Itoa(start)
	}
	if start < 1 || end < start {
		pos.err = fmt.Errorf("%w: %q requires end >= start >= 1", ErrInvalidPosition, pos.raw)
	}
	return pos
}

func (p Position) withRaw(raw string) Position {
	p.raw = raw
	return p
}

// Err returns the parse failure, if any.
func (p Position) Err() error { return p.err }

// Width is the number of characters covered by the range.
func (p Position) Width() int {
	if p.err != nil {
		return 0
	}
	return p.End - p.Start + 1
}

// String returns the position in its source notation.
func (p Position) String() string { return p.raw }

// FieldSpec describes one field of a record layout.
type FieldSpec struct {
	Name     string
	Position Position
	// Column is the 0-based column used when a line is tab-delimited.
	Column         *int
	Format         FieldFormat
	DeclaredLength int
	// DecimalScale, when set, marks a numeric field as a fixed-point amount
	// with that many implied fraction digits.
	DecimalScale *int
	Description  string
}

// Length returns the declared length, falling back to the range width.
func (f FieldSpec) Length() int {
	if f.DeclaredLength > 0 {
		return f.DeclaredLength
	}
	return f.Position.Width()
}

// RecordTypeSchema is the ordered field layout for one record type code.
type RecordTypeSchema struct {
	Code        string
	Description string
	Fields      []FieldSpec
}

// Kind maps the schema code onto the closed set of record kinds.
func (s RecordTypeSchema) Kind() RecordKind {
	return KindOf(s.Code)
}

// Clone returns a deep copy so callers cannot mutate a loaded snapshot.
func (s RecordTypeSchema) Clone() RecordTypeSchema {
	fields := make([]FieldSpec, len(s.Fields))
	for i, field := range s.Fields {
		if field.Column != nil {
			column := *field.Column
			field.Column = &column
		}
		if field.DecimalScale != nil {
			scale := *field.DecimalScale
			field.DecimalScale = &scale
		}
		fields[i] = field
	}
	return RecordTypeSchema{Code: s.Code, Description: s.Description, Fields: fields}
}
