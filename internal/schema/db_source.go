package schema

import (
	"context"

	"github.com/rpattn/tddf/internal/domain"
)

// LayoutStore is the persistence collaborator backing DatabaseSource.
type LayoutStore interface {
	ListLayouts(ctx context.Context) ([]domain.RecordTypeSchema, error)
}

// DatabaseSource reads layouts from the tddf_field_specs table.
type DatabaseSource struct {
	store LayoutStore
}

// NewDatabaseSource wraps a layout store.
func NewDatabaseSource(store LayoutStore) *DatabaseSource {
	return &DatabaseSource{store: store}
}

// Name implements Source.
func (s *DatabaseSource) Name() string { return "database" }

// Load implements Source.
func (s *DatabaseSource) Load(ctx context.Context) ([]domain.RecordTypeSchema, error) {
	return s.store.ListLayouts(ctx)
}
