package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-backend/internal/config"
	"prism-backend/internal/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "store_test",
		Path:   t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testModel() *schema.Model {
	return &schema.Model{
		Name:      "Invoice",
		TableName: "invoice",
		Active:    true,
		Fields: []schema.Field{
			{Name: "number", Type: schema.TypeString, Required: true, Unique: true, MaxLength: 50},
			{Name: "amount", Type: schema.TypeFloat, Required: true},
			{Name: "paid", Type: schema.TypeBoolean, Default: "false"},
		},
	}
}

func TestCreateTableIdempotent(t *testing.T) {
	s := newTestStore(t)
	mat := NewMaterializer(s.Dialect)
	ctx := context.Background()
	model := testModel()

	require.NoError(t, mat.CreateTable(ctx, s.DB, model))

	exists, err := mat.TableExists(ctx, s.DB, model)
	require.NoError(t, err)
	assert.True(t, exists)

	// Second create is a no-op, not an error.
	require.NoError(t, mat.CreateTable(ctx, s.DB, model))
}

func TestCreateTableAppliesConstraints(t *testing.T) {
	s := newTestStore(t)
	mat := NewMaterializer(s.Dialect)
	ctx := context.Background()
	require.NoError(t, mat.CreateTable(ctx, s.DB, testModel()))

	// NOT NULL on required column.
	_, err := s.DB.ExecContext(ctx, "INSERT INTO dynamic_invoice (number, amount) VALUES (NULL, 1)")
	require.Error(t, err)

	// Column default applies when the column is omitted.
	_, err = s.DB.ExecContext(ctx, "INSERT INTO dynamic_invoice (number, amount) VALUES ('INV-1', 1)")
	require.NoError(t, err)
	row, err := QueryRow(ctx, s.DB, "SELECT paid, created_at FROM dynamic_invoice WHERE number = 'INV-1'")
	require.NoError(t, err)
	NormalizeBooleans([]map[string]any{row}, []string{"paid"})
	assert.Equal(t, false, row["paid"])
	assert.NotNil(t, row["created_at"])

	// UNIQUE on the number column.
	_, err = s.DB.ExecContext(ctx, "INSERT INTO dynamic_invoice (number, amount) VALUES ('INV-1', 2)")
	require.Error(t, err)
	assert.ErrorIs(t, MapError(s.Dialect, err), ErrUniqueViolation)
}

func TestDropTableIdempotent(t *testing.T) {
	s := newTestStore(t)
	mat := NewMaterializer(s.Dialect)
	ctx := context.Background()
	model := testModel()

	require.NoError(t, mat.CreateTable(ctx, s.DB, model))
	require.NoError(t, mat.DropTable(ctx, s.DB, model))

	exists, err := mat.TableExists(ctx, s.DB, model)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, mat.DropTable(ctx, s.DB, model))
}

func TestCreateTableRollsBackInTx(t *testing.T) {
	s := newTestStore(t)
	mat := NewMaterializer(s.Dialect)
	ctx := context.Background()
	model := testModel()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := mat.CreateTable(ctx, tx, model); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The rolled back DDL left nothing behind.
	exists, err := mat.TableExists(ctx, s.DB, model)
	require.NoError(t, err)
	assert.False(t, exists)
}
