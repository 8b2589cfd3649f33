package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rpattn/tddf/internal/db"
	"github.com/rpattn/tddf/internal/domain"
)

var fieldSpecColumns = []string{
	"record_type",
	"ordinal",
	"field_name",
	"position",
	"column_index",
	"format",
	"declared_length",
	"decimal_scale",
	"description",
}

type fieldSpecRepository struct {
	pool *pgxpool.Pool
}

// NewFieldSpecRepository wires a repository backed by pgxpool.
func NewFieldSpecRepository(pool *pgxpool.Pool) FieldSpecRepository {
	return &fieldSpecRepository{pool: pool}
}

func optionalInt4(v *int) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(*v), Valid: true}
}

func fieldSpecRows(layouts []domain.RecordTypeSchema) [][]any {
	var rows [][]any
	for _, layout := range layouts {
		for idx, field := range layout.Fields {
			var declared pgtype.Int4
			if field.DeclaredLength > 0 {
				declared = pgtype.Int4{Int32: int32(field.DeclaredLength), Valid: true}
			}
			rows = append(rows, []any{
				layout.Code,
				int32(idx + 1),
				field.Name,
				field.Position.String(),
				optionalInt4(field.Column),
				string(field.Format),
				declared,
				optionalInt4(field.DecimalScale),
				pgtype.Text{String: field.Description, Valid: field.Description != ""},
			})
		}
	}
	return rows
}

func (r *fieldSpecRepository) ListLayouts(ctx context.Context) ([]domain.RecordTypeSchema, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("field spec repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT record_type, field_name, position, column_index, format, declared_length, decimal_scale, description
		 FROM tddf_field_specs
		 ORDER BY record_type, ordinal`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list field specs: %w", err)
	}
	defer rows.Close()

	var (
		layouts []domain.RecordTypeSchema
		current *domain.RecordTypeSchema
	)
	for rows.Next() {
		var (
			code, name, position, format string
			column, declared, scale      pgtype.Int4
			description                  pgtype.Text
		)
		if scanErr := rows.Scan(&code, &name, &position, &column, &format, &declared, &scale, &description); scanErr != nil {
			return nil, fmt.Errorf("failed to scan field spec: %w", scanErr)
		}

		if current == nil || current.Code != code {
			layouts = append(layouts, domain.RecordTypeSchema{Code: code})
			current = &layouts[len(layouts)-1]
		}

		parsedFormat, _ := domain.ParseFieldFormat(format)
		spec := domain.FieldSpec{
			Name:        name,
			Position:    domain.ParsePosition(position),
			Format:      parsedFormat,
			Description: description.String,
		}
		if column.Valid {
			value := int(column.Int32)
			spec.Column = &value
		}
		if declared.Valid {
			spec.DeclaredLength = int(declared.Int32)
		}
		if scale.Valid {
			value := int(scale.Int32)
			spec.DecimalScale = &value
		}
		current.Fields = append(current.Fields, spec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate field specs: %w", rowsErr)
	}
	return layouts, nil
}

func (r *fieldSpecRepository) ReplaceLayouts(ctx context.Context, layouts []domain.RecordTypeSchema) error {
	if r.pool == nil {
		return fmt.Errorf("field spec repository not initialized")
	}

	rows := fieldSpecRows(layouts)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tddf_field_specs`); err != nil {
			return err
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"tddf_field_specs"}, fieldSpecColumns, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to replace field specs: %w", err)
	}
	return nil
}
