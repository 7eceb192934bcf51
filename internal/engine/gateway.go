// Package engine serves schema-driven CRUD over the physical tables that
// back dynamic models. All SQL is parameterized; identifiers come from the
// validated registry entries, never from request payloads.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"prism-backend/internal/schema"
	"prism-backend/internal/store"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Gateway executes record operations against a model's physical table.
type Gateway struct {
	store *store.Store
	mat   *store.Materializer
}

func NewGateway(s *store.Store) *Gateway {
	return &Gateway{store: s, mat: store.NewMaterializer(s.Dialect)}
}

// RecordPage is a paginated slice of records.
type RecordPage struct {
	Data  []map[string]any `json:"data"`
	Total int64            `json:"total"`
	Limit int              `json:"limit"`
	Skip  int              `json:"skip"`
}

// CreateRecord validates payload against the model's field list and inserts
// a row. Unknown payload keys are dropped; every required field must be
// present and non-null, column defaults notwithstanding.
func (g *Gateway) CreateRecord(ctx context.Context, model *schema.Model, payload map[string]any) (map[string]any, error) {
	if err := g.ensureTable(ctx, model); err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(model.Fields))
	pb := g.store.Dialect.NewParamBuilder()
	placeholders := make([]string, 0, len(model.Fields))
	var details []ErrorDetail

	for i := range model.Fields {
		f := &model.Fields[i]
		raw, present := payload[f.Name]

		if !present || raw == nil {
			if f.Required {
				details = append(details, ErrorDetail{
					Field:   f.Name,
					Rule:    "required",
					Message: fmt.Sprintf("field %s is required", f.Name),
				})
			}
			continue
		}

		value, detail := g.prepareValue(f, raw)
		if detail != nil {
			details = append(details, *detail)
			continue
		}
		cols = append(cols, f.Name)
		placeholders = append(placeholders, pb.Add(value))
	}
	if len(details) > 0 {
		return nil, ValidationError("", details)
	}

	var id int64
	var err error
	if len(cols) == 0 {
		// Every column has a default; insert an all-defaults row.
		id, err = store.InsertReturningID(ctx, g.store.DB,
			fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", model.PhysicalTable()))
	} else {
		sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			model.PhysicalTable(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
		id, err = store.InsertReturningID(ctx, g.store.DB, sqlStr, pb.Params()...)
	}
	if err != nil {
		return nil, g.mapStorageError(model, err)
	}
	return g.GetRecord(ctx, model, id)
}

// ListRecords returns a page of records, newest first.
func (g *Gateway) ListRecords(ctx context.Context, model *schema.Model, limit, skip int) (*RecordPage, error) {
	if err := g.ensureTable(ctx, model); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if skip < 0 {
		skip = 0
	}

	var total int64
	if err := g.store.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", model.PhysicalTable())).Scan(&total); err != nil {
		return nil, g.mapStorageError(model, err)
	}

	sqlStr := fmt.Sprintf("SELECT * FROM %s ORDER BY id DESC LIMIT %d OFFSET %d",
		model.PhysicalTable(), limit, skip)
	rows, err := store.QueryRows(ctx, g.store.DB, sqlStr)
	if err != nil {
		return nil, g.mapStorageError(model, err)
	}
	g.decodeRows(model, rows)

	return &RecordPage{Data: rows, Total: total, Limit: limit, Skip: skip}, nil
}

// GetRecord returns a single record by id.
func (g *Gateway) GetRecord(ctx context.Context, model *schema.Model, id int64) (map[string]any, error) {
	if err := g.ensureTable(ctx, model); err != nil {
		return nil, err
	}
	pb := g.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT * FROM %s WHERE id = %s", model.PhysicalTable(), pb.Add(id))
	row, err := store.QueryRow(ctx, g.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError(model.Name, strconv.FormatInt(id, 10))
		}
		return nil, g.mapStorageError(model, err)
	}
	g.decodeRows(model, []map[string]any{row})
	return row, nil
}

// UpdateRecord applies a partial update. Only declared, non-null fields
// present in the payload are written; nulls and unknown keys are skipped.
func (g *Gateway) UpdateRecord(ctx context.Context, model *schema.Model, id int64, payload map[string]any) (map[string]any, error) {
	if err := g.ensureTable(ctx, model); err != nil {
		return nil, err
	}

	pb := g.store.Dialect.NewParamBuilder()
	sets := make([]string, 0, len(payload))
	var details []ErrorDetail

	for i := range model.Fields {
		f := &model.Fields[i]
		raw, present := payload[f.Name]
		if !present || raw == nil {
			continue
		}
		value, detail := g.prepareValue(f, raw)
		if detail != nil {
			details = append(details, *detail)
			continue
		}
		sets = append(sets, f.Name+" = "+pb.Add(value))
	}
	if len(details) > 0 {
		return nil, ValidationError("", details)
	}
	if len(sets) == 0 {
		return g.GetRecord(ctx, model, id)
	}

	sqlStr := fmt.Sprintf("UPDATE %s SET %s, updated_at = %s WHERE id = %s",
		model.PhysicalTable(), strings.Join(sets, ", "), g.store.Dialect.NowExpr(), pb.Add(id))
	affected, err := store.Exec(ctx, g.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, g.mapStorageError(model, err)
	}
	if affected == 0 {
		return nil, NotFoundError(model.Name, strconv.FormatInt(id, 10))
	}
	return g.GetRecord(ctx, model, id)
}

// DeleteRecord removes a record by id.
func (g *Gateway) DeleteRecord(ctx context.Context, model *schema.Model, id int64) error {
	if err := g.ensureTable(ctx, model); err != nil {
		return err
	}
	pb := g.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE id = %s", model.PhysicalTable(), pb.Add(id))
	affected, err := store.Exec(ctx, g.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return g.mapStorageError(model, err)
	}
	if affected == 0 {
		return NotFoundError(model.Name, strconv.FormatInt(id, 10))
	}
	return nil
}

// prepareValue coerces a payload value to the field's type, runs any
// attached validation rules, and renders it for binding.
func (g *Gateway) prepareValue(f *schema.Field, raw any) (any, *ErrorDetail) {
	value, err := schema.Coerce(raw, f.Type)
	if err != nil {
		return nil, &ErrorDetail{
			Field:   f.Name,
			Rule:    "type",
			Message: fmt.Sprintf("field %s expects %s", f.Name, f.Type),
		}
	}
	if f.Type == schema.TypeString && f.MaxLength > 0 {
		if s, ok := value.(string); ok && len(s) > f.MaxLength {
			return nil, &ErrorDetail{
				Field:   f.Name,
				Rule:    "max_length",
				Message: fmt.Sprintf("field %s exceeds %d characters", f.Name, f.MaxLength),
			}
		}
	}
	if err := schema.EvaluateRules(f, value); err != nil {
		return nil, &ErrorDetail{
			Field:   f.Name,
			Rule:    "validation",
			Message: err.Error(),
		}
	}
	if f.Type == schema.TypeJSON {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, &ErrorDetail{
				Field:   f.Name,
				Rule:    "type",
				Message: fmt.Sprintf("field %s holds unencodable json", f.Name),
			}
		}
		return string(raw), nil
	}
	return value, nil
}

// decodeRows converts stored representations back to API shapes: boolean
// integers from SQLite become bools, json text becomes structured values,
// and declared datetime fields stored as text become time.Time. Text fields
// are left alone even when their contents look like timestamps.
func (g *Gateway) decodeRows(model *schema.Model, rows []map[string]any) {
	if g.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, model.BoolFieldNames())
	}
	for i := range model.Fields {
		f := &model.Fields[i]
		switch f.Type {
		case schema.TypeJSON:
			for _, row := range rows {
				if s, ok := row[f.Name].(string); ok && s != "" {
					var decoded any
					if err := json.Unmarshal([]byte(s), &decoded); err == nil {
						row[f.Name] = decoded
					}
				}
			}
		case schema.TypeDatetime:
			for _, row := range rows {
				if s, ok := row[f.Name].(string); ok {
					if t, parsed := store.ParseTimestamp(s); parsed {
						row[f.Name] = t
					}
				}
			}
		}
	}
}

// ensureTable guards against registry/schema drift: a registered model whose
// physical table is gone reports a materialization fault, not a 404.
func (g *Gateway) ensureTable(ctx context.Context, model *schema.Model) error {
	exists, err := g.mat.TableExists(ctx, g.store.DB, model)
	if err != nil {
		return StorageError("")
	}
	if !exists {
		return MaterializationFailure(fmt.Sprintf("physical table %s does not exist", model.PhysicalTable()))
	}
	return nil
}

func (g *Gateway) mapStorageError(model *schema.Model, err error) error {
	if errors.Is(g.store.Dialect.MapError(err), store.ErrUniqueViolation) {
		return ConflictError(fmt.Sprintf("%s violates a unique constraint", model.Name))
	}
	var mErr *store.MaterializationError
	if errors.As(err, &mErr) {
		return MaterializationFailure(mErr.Error())
	}
	return StorageError("")
}
