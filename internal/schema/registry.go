// Package schema loads TDDF record layouts and exposes them as an immutable
// snapshot for the duration of one decode run.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rpattn/tddf/internal/domain"
	"github.com/rpattn/tddf/internal/schema/validator"
)

// Source supplies record layouts from a backing store.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]domain.RecordTypeSchema, error)
}

// Registry turns a Source into per-run snapshots.
type Registry struct {
	source Source
	now    func() time.Time
}

// NewRegistry builds a registry backed by the provided source.
func NewRegistry(source Source) *Registry {
	return &Registry{source: source, now: time.Now}
}

// Load reads every layout from the source, validates it and freezes the result.
// Any failure, including an empty layout set, is reported as ErrSchemaUnavailable.
func (r *Registry) Load(ctx context.Context) (*Snapshot, error) {
	if r == nil || r.source == nil {
		return nil, fmt.Errorf("%w: no schema source configured", domain.ErrSchemaUnavailable)
	}

	layouts, err := r.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load %s schema: %w", domain.ErrSchemaUnavailable, r.source.Name(), err)
	}
	if len(layouts) == 0 {
		return nil, fmt.Errorf("%w: %s schema returned no record types", domain.ErrSchemaUnavailable, r.source.Name())
	}

	snapshot := &Snapshot{
		source:   r.source.Name(),
		loadedAt: r.now(),
		byCode:   make(map[string]domain.RecordTypeSchema, len(layouts)),
		generic:  GenericLayout(),
	}

	for _, layout := range layouts {
		layout.Code = strings.ToUpper(strings.TrimSpace(layout.Code))
		report, err := validator.ValidateLayout(layout)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrSchemaUnavailable, err)
		}
		if _, exists := snapshot.byCode[layout.Code]; exists {
			return nil, fmt.Errorf("%w: record type %s defined more than once", domain.ErrSchemaUnavailable, layout.Code)
		}
		snapshot.byCode[layout.Code] = layout.Clone()
		snapshot.codes = append(snapshot.codes, layout.Code)
		snapshot.warnings = append(snapshot.warnings, report.Warnings...)
	}
	sort.Strings(snapshot.codes)

	return snapshot, nil
}

// Snapshot is a frozen set of layouts. It is safe for concurrent readers and
// never changes after Load returns, even if the backing source does.
type Snapshot struct {
	source   string
	loadedAt time.Time
	byCode   map[string]domain.RecordTypeSchema
	codes    []string
	warnings []string
	generic  domain.RecordTypeSchema
}

// Lookup returns the layout for a code. Callers must treat the returned value
// as read-only.
func (s *Snapshot) Lookup(code string) (domain.RecordTypeSchema, bool) {
	layout, ok := s.byCode[strings.ToUpper(code)]
	return layout, ok
}

// Resolve returns the layout for a code, falling back to the generic header
// layout for codes the snapshot does not know.
func (s *Snapshot) Resolve(code string) domain.RecordTypeSchema {
	if layout, ok := s.Lookup(code); ok {
		return layout
	}
	generic := s.generic
	generic.Code = strings.ToUpper(code)
	return generic
}

// Codes lists the known record type codes in sorted order.
func (s *Snapshot) Codes() []string {
	return append([]string(nil), s.codes...)
}

// Warnings returns the validator findings collected during Load.
func (s *Snapshot) Warnings() []string {
	return append([]string(nil), s.warnings...)
}

// Source names the backing store this snapshot came from.
func (s *Snapshot) Source() string { return s.source }

// LoadedAt is the time the snapshot was frozen.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// NewSnapshot freezes layouts without a source. Intended for tests and tools
// that already hold validated layouts.
func NewSnapshot(layouts ...domain.RecordTypeSchema) (*Snapshot, error) {
	return NewRegistry(staticSource(layouts)).Load(context.Background())
}

type staticSource []domain.RecordTypeSchema

func (s staticSource) Name() string { return "static" }

func (s staticSource) Load(context.Context) ([]domain.RecordTypeSchema, error) {
	return s, nil
}
