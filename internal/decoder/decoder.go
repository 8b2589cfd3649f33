// Package decoder turns raw TDDF lines into typed records using a frozen
// schema snapshot.
package decoder

import (
	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/schema"
)

// Decoder classifies and extracts lines for one run.
type Decoder struct {
	snapshot   *schema.Snapshot
	classifier Classifier
}

// New returns a decoder bound to snapshot for the lifetime of a run.
func New(snapshot *schema.Snapshot) *Decoder {
	return &Decoder{snapshot: snapshot, classifier: NewClassifier()}
}

// Decode classifies line and extracts its fields. Lines that cannot be
// classified are returned as errored records carrying only the raw text.
func (d *Decoder) Decode(lineNumber int, line string) domain.DecodedRecord {
	code, err := d.classifier.Classify(line)
	if err != nil {
		record := domain.DecodedRecord{
			LineNumber:  lineNumber,
			RecordType:  domain.RecordTypeUnclassified,
			Kind:        domain.KindGeneric,
			Fields:      map[string]any{},
			RawLine:     line,
			RawLineHash: HashLine(line),
		}
		record.AddError("line %d: %v", lineNumber, err)
		return record
	}

	record := Extract(line, d.snapshot.Resolve(code))
	record.LineNumber = lineNumber
	return record
}

// Classified reports whether a decoded record passed classification.
func Classified(record domain.DecodedRecord) bool {
	return record.RecordType != domain.RecordTypeUnclassified
}
