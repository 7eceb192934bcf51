package store

import (
	"context"
	"fmt"
	"strings"

	"prism-backend/internal/schema"
)

// MaterializationError signals that a physical CREATE/DROP TABLE failed.
// It is distinct from validation failures: when it happens mid-operation the
// registry and the physical schema may have diverged, so callers must roll
// back or preserve the registry rows accordingly.
type MaterializationError struct {
	Table string
	Op    string // "create" or "drop"
	Err   error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("%s table %s: %v", e.Op, e.Table, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// Materializer turns dynamic model descriptors into physical tables.
type Materializer struct {
	dialect Dialect
}

func NewMaterializer(dialect Dialect) *Materializer {
	return &Materializer{dialect: dialect}
}

// CreateTable materializes the physical table for a model. The surrogate id
// primary key and created_at/updated_at timestamps are always present; one
// column is added per declared field. Idempotent: an existing table is left
// untouched so retries do not fail.
//
// Identifiers come exclusively from the validated registry entry, never from
// a record payload. Values never appear in DDL except rendered defaults.
func (m *Materializer) CreateTable(ctx context.Context, q Querier, model *schema.Model) error {
	table := model.PhysicalTable()

	cols := []string{
		"id " + m.dialect.SerialPK(),
		fmt.Sprintf("created_at %s NOT NULL DEFAULT %s", m.dialect.ColumnType(schema.TypeDatetime, 0), m.dialect.NowExpr()),
		fmt.Sprintf("updated_at %s NOT NULL DEFAULT %s", m.dialect.ColumnType(schema.TypeDatetime, 0), m.dialect.NowExpr()),
	}
	for i := range model.Fields {
		col, err := m.buildColumnDef(&model.Fields[i])
		if err != nil {
			return err
		}
		cols = append(cols, col)
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", table, strings.Join(cols, ",\n  "))
	if _, err := q.ExecContext(ctx, ddl); err != nil {
		return &MaterializationError{Table: table, Op: "create", Err: err}
	}
	return nil
}

// DropTable removes the physical table. Idempotent: dropping a table that is
// already absent succeeds.
func (m *Materializer) DropTable(ctx context.Context, q Querier, model *schema.Model) error {
	table := model.PhysicalTable()
	if _, err := q.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return &MaterializationError{Table: table, Op: "drop", Err: err}
	}
	return nil
}

// TableExists reports whether the model's physical table is present.
// Used by the data gateway to fail gracefully when the registry and the
// physical schema have diverged.
func (m *Materializer) TableExists(ctx context.Context, q Querier, model *schema.Model) (bool, error) {
	return m.dialect.TableExists(ctx, q, model.PhysicalTable())
}

func (m *Materializer) buildColumnDef(f *schema.Field) (string, error) {
	col := f.Name + " " + m.dialect.ColumnType(f.Type, f.MaxLength)

	if f.Required {
		col += " NOT NULL"
	}
	if f.Unique {
		col += " UNIQUE"
	}
	if f.Default != "" {
		v, err := schema.ParseDefault(f.Default, f.Type)
		if err != nil {
			return "", fmt.Errorf("default for column %s: %w", f.Name, err)
		}
		if v != nil {
			col += " DEFAULT " + m.dialect.DefaultLiteral(f.Type, v)
		}
	}
	return col, nil
}
