// Package registry is the durable catalog of dynamic models and their
// fields. It owns the dynamic_models / dynamic_fields tables and nothing
// else: materializing the physical tables is the store.Materializer's job,
// and the two are orchestrated by the model handlers.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"prism-backend/internal/schema"
	"prism-backend/internal/store"
)

// ErrDuplicateName is returned when a model name or table name is already
// registered. The pre-check catches most cases; the unique constraints on
// dynamic_models are the final arbiter under concurrency.
var ErrDuplicateName = errors.New("model name or table name already exists")

type Registry struct {
	store *store.Store
}

func New(s *store.Store) *Registry {
	return &Registry{store: s}
}

// Create persists a model and its field definitions. Runs against the given
// querier so callers can include it in a transaction together with table
// materialization. On success m.ID and field IDs are populated.
func (r *Registry) Create(ctx context.Context, q store.Querier, m *schema.Model) error {
	dup, err := r.nameTaken(ctx, q, m.Name, m.TableName)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateName
	}

	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO dynamic_models (name, table_name, description, is_active) VALUES (%s, %s, %s, %s) RETURNING id",
		pb.Add(m.Name), pb.Add(m.TableName), pb.Add(m.Description), pb.Add(m.Active))
	id, err := store.InsertReturningID(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		if errors.Is(store.MapError(r.store.Dialect, err), store.ErrUniqueViolation) {
			return ErrDuplicateName
		}
		return fmt.Errorf("insert model: %w", err)
	}
	m.ID = id

	for i := range m.Fields {
		f := &m.Fields[i]
		var rulesJSON any
		if len(f.ValidationRules) > 0 {
			raw, err := json.Marshal(f.ValidationRules)
			if err != nil {
				return fmt.Errorf("marshal validation rules for %s: %w", f.Name, err)
			}
			rulesJSON = string(raw)
		}

		pb := r.store.Dialect.NewParamBuilder()
		sqlStr := fmt.Sprintf(`
			INSERT INTO dynamic_fields
				(model_id, name, field_type, is_required, is_unique, default_value, max_length, field_order, validation_rules)
			VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s) RETURNING id`,
			pb.Add(m.ID), pb.Add(f.Name), pb.Add(string(f.Type)), pb.Add(f.Required), pb.Add(f.Unique),
			pb.Add(f.Default), pb.Add(f.MaxLength), pb.Add(f.Order), pb.Add(rulesJSON))
		fieldID, err := store.InsertReturningID(ctx, q, sqlStr, pb.Params()...)
		if err != nil {
			return fmt.Errorf("insert field %s: %w", f.Name, err)
		}
		f.ID = fieldID
	}
	return nil
}

// GetByID loads a model with its fields, or store.ErrNotFound.
func (r *Registry) GetByID(ctx context.Context, q store.Querier, id int64) (*schema.Model, error) {
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT id, name, table_name, description, is_active, created_at, updated_at FROM dynamic_models WHERE id = %s",
		pb.Add(id))
	return r.loadOne(ctx, q, sqlStr, pb.Params())
}

// GetByName loads a model by its unique display name, or store.ErrNotFound.
func (r *Registry) GetByName(ctx context.Context, q store.Querier, name string) (*schema.Model, error) {
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT id, name, table_name, description, is_active, created_at, updated_at FROM dynamic_models WHERE name = %s",
		pb.Add(name))
	return r.loadOne(ctx, q, sqlStr, pb.Params())
}

// List returns all models with their fields, optionally only active ones.
func (r *Registry) List(ctx context.Context, q store.Querier, activeOnly bool) ([]*schema.Model, error) {
	sqlStr := "SELECT id, name, table_name, description, is_active, created_at, updated_at FROM dynamic_models"
	if activeOnly {
		sqlStr += " WHERE is_active = " + r.boolLiteral(true)
	}
	sqlStr += " ORDER BY id"

	rows, err := store.QueryRows(ctx, q, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	store.NormalizeBooleans(rows, []string{"is_active"})

	models := make([]*schema.Model, 0, len(rows))
	byID := make(map[int64]*schema.Model, len(rows))
	for _, row := range rows {
		m := modelFromRow(row)
		models = append(models, m)
		byID[m.ID] = m
	}
	if len(models) == 0 {
		return models, nil
	}

	fieldRows, err := store.QueryRows(ctx, q,
		"SELECT id, model_id, name, field_type, is_required, is_unique, default_value, max_length, field_order, validation_rules FROM dynamic_fields ORDER BY model_id, field_order, id")
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	store.NormalizeBooleans(fieldRows, []string{"is_required", "is_unique"})
	for _, row := range fieldRows {
		if m, ok := byID[toInt64(row["model_id"])]; ok {
			m.Fields = append(m.Fields, fieldFromRow(row))
		}
	}
	return models, nil
}

// UpdatePatch holds the metadata-only mutable attributes of a model.
// Field lists are immutable after creation.
type UpdatePatch struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description"`
	Active      *bool   `json:"is_active"`
}

// Update applies a metadata patch and returns the updated model,
// or store.ErrNotFound when id is absent.
func (r *Registry) Update(ctx context.Context, q store.Querier, id int64, patch UpdatePatch) (*schema.Model, error) {
	pb := r.store.Dialect.NewParamBuilder()
	set := ""
	if patch.Name != nil {
		set += ", name = " + pb.Add(*patch.Name)
	}
	if patch.Description != nil {
		set += ", description = " + pb.Add(*patch.Description)
	}
	if patch.Active != nil {
		set += ", is_active = " + pb.Add(*patch.Active)
	}

	sqlStr := fmt.Sprintf("UPDATE dynamic_models SET updated_at = %s%s WHERE id = %s",
		r.store.Dialect.NowExpr(), set, pb.Add(id))
	affected, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		if errors.Is(store.MapError(r.store.Dialect, err), store.ErrUniqueViolation) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("update model: %w", err)
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return r.GetByID(ctx, q, id)
}

// Delete removes the model row and its field rows. The caller is responsible
// for dropping the physical table in the same transaction, before this call.
func (r *Registry) Delete(ctx context.Context, q store.Querier, id int64) error {
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM dynamic_fields WHERE model_id = %s", pb.Add(id))
	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("delete fields: %w", err)
	}

	pb = r.store.Dialect.NewParamBuilder()
	sqlStr = fmt.Sprintf("DELETE FROM dynamic_models WHERE id = %s", pb.Add(id))
	affected, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Registry) loadOne(ctx context.Context, q store.Querier, sqlStr string, params []any) (*schema.Model, error) {
	row, err := store.QueryRow(ctx, q, sqlStr, params...)
	if err != nil {
		return nil, err
	}
	store.NormalizeBooleans([]map[string]any{row}, []string{"is_active"})
	m := modelFromRow(row)

	pb := r.store.Dialect.NewParamBuilder()
	fieldSQL := fmt.Sprintf(
		"SELECT id, model_id, name, field_type, is_required, is_unique, default_value, max_length, field_order, validation_rules FROM dynamic_fields WHERE model_id = %s ORDER BY field_order, id",
		pb.Add(m.ID))
	fieldRows, err := store.QueryRows(ctx, q, fieldSQL, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("load fields: %w", err)
	}
	store.NormalizeBooleans(fieldRows, []string{"is_required", "is_unique"})
	for _, fr := range fieldRows {
		m.Fields = append(m.Fields, fieldFromRow(fr))
	}
	return m, nil
}

func (r *Registry) nameTaken(ctx context.Context, q store.Querier, name, tableName string) (bool, error) {
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT COUNT(*) FROM dynamic_models WHERE name = %s OR table_name = %s",
		pb.Add(name), pb.Add(tableName))
	var count int
	if err := q.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&count); err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return count > 0, nil
}

func (r *Registry) boolLiteral(b bool) string {
	if r.store.Dialect.NeedsBoolFix() {
		if b {
			return "1"
		}
		return "0"
	}
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func modelFromRow(row map[string]any) *schema.Model {
	return &schema.Model{
		ID:          toInt64(row["id"]),
		Name:        toString(row["name"]),
		TableName:   toString(row["table_name"]),
		Description: toString(row["description"]),
		Active:      toBool(row["is_active"]),
		CreatedAt:   toTime(row["created_at"]),
		UpdatedAt:   toTime(row["updated_at"]),
	}
}

func fieldFromRow(row map[string]any) schema.Field {
	f := schema.Field{
		ID:        toInt64(row["id"]),
		Name:      toString(row["name"]),
		Type:      schema.FieldType(toString(row["field_type"])),
		Required:  toBool(row["is_required"]),
		Unique:    toBool(row["is_unique"]),
		Default:   toString(row["default_value"]),
		MaxLength: int(toInt64(row["max_length"])),
		Order:     int(toInt64(row["field_order"])),
	}
	if raw := toString(row["validation_rules"]); raw != "" {
		var rules map[string]any
		if err := json.Unmarshal([]byte(raw), &rules); err == nil {
			f.ValidationRules = rules
		}
	}
	return f
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return ""
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case float64:
		return b != 0
	default:
		return false
	}
}

func toTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
