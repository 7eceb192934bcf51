package registry

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-backend/internal/config"
	"prism-backend/internal/schema"
	"prism-backend/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "registry_test",
		Path:   t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Bootstrap(context.Background()))
	return s
}

func invoiceModel() *schema.Model {
	return &schema.Model{
		Name:      "Invoice",
		TableName: "invoice",
		Active:    true,
		Fields: []schema.Field{
			{Name: "number", Type: schema.TypeString, Required: true, Unique: true, MaxLength: 50},
			{Name: "amount", Type: schema.TypeFloat, Required: true},
			{Name: "paid", Type: schema.TypeBoolean, Default: "false"},
			{Name: "metadata", Type: schema.TypeJSON},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	r := New(s)
	ctx := context.Background()

	m := invoiceModel()
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return r.Create(ctx, tx, m)
	}))
	require.NotZero(t, m.ID)

	got, err := r.GetByID(ctx, s.DB, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice", got.Name)
	assert.Equal(t, "invoice", got.TableName)
	assert.True(t, got.Active)
	require.Len(t, got.Fields, 4)
	assert.Equal(t, "number", got.Fields[0].Name)
	assert.True(t, got.Fields[0].Required)
	assert.True(t, got.Fields[0].Unique)
	assert.Equal(t, schema.TypeFloat, got.Fields[1].Type)
	assert.Equal(t, "false", got.Fields[2].Default)

	byName, err := r.GetByName(ctx, s.DB, "Invoice")
	require.NoError(t, err)
	assert.Equal(t, got.ID, byName.ID)
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	r := New(s)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return r.Create(ctx, tx, invoiceModel())
	}))

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return r.Create(ctx, tx, invoiceModel())
	})
	assert.ErrorIs(t, err, ErrDuplicateName)

	// Same table name under a different display name is still a conflict.
	clash := invoiceModel()
	clash.Name = "Invoice v2"
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		return r.Create(ctx, tx, clash)
	})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestCreateStoresValidationRules(t *testing.T) {
	s := newTestStore(t)
	r := New(s)
	ctx := context.Background()

	m := &schema.Model{
		Name:      "Product",
		TableName: "product",
		Active:    true,
		Fields: []schema.Field{
			{
				Name:     "price",
				Type:     schema.TypeFloat,
				Required: true,
				ValidationRules: map[string]any{
					"expr":    "value > 0",
					"message": "price must be positive",
				},
			},
		},
	}
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return r.Create(ctx, tx, m)
	}))

	got, err := r.GetByID(ctx, s.DB, m.ID)
	require.NoError(t, err)
	require.Len(t, got.Fields, 1)
	assert.Equal(t, "value > 0", got.Fields[0].ValidationRules["expr"])
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	r := New(s)
	ctx := context.Background()

	active := invoiceModel()
	inactive := &schema.Model{
		Name:      "Draft",
		TableName: "draft",
		Active:    false,
		Fields:    []schema.Field{{Name: "title", Type: schema.TypeString}},
	}
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.Create(ctx, tx, active); err != nil {
			return err
		}
		return r.Create(ctx, tx, inactive)
	}))

	all, err := r.List(ctx, s.DB, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Len(t, all[0].Fields, 4)

	activeOnly, err := r.List(ctx, s.DB, true)
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	assert.Equal(t, "Invoice", activeOnly[0].Name)
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	r := New(s)
	ctx := context.Background()

	m := invoiceModel()
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return r.Create(ctx, tx, m)
	}))

	desc := "customer invoices"
	inactive := false
	got, err := r.Update(ctx, s.DB, m.ID, UpdatePatch{Description: &desc, Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "customer invoices", got.Description)
	assert.False(t, got.Active)
	assert.Equal(t, "invoice", got.TableName)

	_, err = r.Update(ctx, s.DB, 9999, UpdatePatch{Description: &desc})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	r := New(s)
	ctx := context.Background()

	m := invoiceModel()
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return r.Create(ctx, tx, m)
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return r.Delete(ctx, tx, m.ID)
	}))

	_, err := r.GetByID(ctx, s.DB, m.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rows, err := store.QueryRows(ctx, s.DB, "SELECT id FROM dynamic_fields")
	require.NoError(t, err)
	assert.Empty(t, rows)

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		return r.Delete(ctx, tx, m.ID)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	r := New(s)

	_, err := r.GetByID(context.Background(), s.DB, 42)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = r.GetByName(context.Background(), s.DB, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
