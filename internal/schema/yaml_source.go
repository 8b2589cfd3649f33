package schema

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rpattn/tddf/internal/domain"
	"gopkg.in/yaml.v3"
)

// YAMLSource reads layouts from a YAML document:
//
//	recordTypes:
//	  - code: DT
//	    fields:
//	      - {name: transactionDate, position: "85-92", format: date}
type YAMLSource struct {
	path string
}

// NewYAMLSource returns a source reading the YAML file at path.
func NewYAMLSource(path string) *YAMLSource {
	return &YAMLSource{path: path}
}

// Name implements Source.
func (s *YAMLSource) Name() string { return "file" }

// Load implements Source.
func (s *YAMLSource) Load(ctx context.Context) ([]domain.RecordTypeSchema, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", s.path, err)
	}
	return DecodeYAML(bytes.NewReader(payload))
}

// DecodeYAML parses a YAML layout document.
func DecodeYAML(r io.Reader) ([]domain.RecordTypeSchema, error) {
	var doc layoutDocument
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode schema yaml: %w", err)
	}
	return doc.toLayouts()
}

// EncodeYAML writes layouts in the format DecodeYAML reads.
func EncodeYAML(w io.Writer, layouts []domain.RecordTypeSchema) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(documentFromLayouts(layouts)); err != nil {
		return fmt.Errorf("failed to encode schema yaml: %w", err)
	}
	return encoder.Close()
}
