package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"prism-backend/internal/schema"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder { return &sqliteParamBuilder{} }

func (d *SQLiteDialect) NowExpr() string    { return "CURRENT_TIMESTAMP" }
func (d *SQLiteDialect) SerialPK() string   { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (d *SQLiteDialect) NeedsBoolFix() bool { return true }

func (d *SQLiteDialect) ColumnType(t schema.FieldType, maxLength int) string {
	switch t {
	case schema.TypeString:
		if maxLength <= 0 {
			maxLength = 255
		}
		// SQLite ignores the length but it documents intent.
		return fmt.Sprintf("VARCHAR(%d)", maxLength)
	case schema.TypeText:
		return "TEXT"
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeFloat:
		return "REAL"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDatetime:
		return "DATETIME"
	case schema.TypeJSON:
		return "TEXT"
	default:
		return "VARCHAR(255)"
	}
}

func (d *SQLiteDialect) DefaultLiteral(t schema.FieldType, v any) string {
	switch t {
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok && b {
			return "1"
		}
		return "0"
	case schema.TypeInteger, schema.TypeFloat:
		return fmt.Sprintf("%v", v)
	case schema.TypeJSON:
		raw, err := json.Marshal(v)
		if err != nil {
			return "'null'"
		}
		return quoteLiteral(string(raw))
	default:
		return quoteLiteral(fmt.Sprintf("%v", v))
	}
}

func (d *SQLiteDialect) SystemTablesSQL() string {
	return sqliteSystemTablesSQL
}

func (d *SQLiteDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?1`,
		tableName,
	).Scan(&count)
	return count > 0, err
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed (2067)") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- SQLite DDL ---

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      VARCHAR(50) NOT NULL UNIQUE,
    email         VARCHAR(255) NOT NULL UNIQUE,
    password_hash VARCHAR(255) NOT NULL,
    is_active     BOOLEAN NOT NULL DEFAULT 1,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS roles (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    name           VARCHAR(100) NOT NULL UNIQUE,
    description    TEXT,
    is_system_role BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS permissions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        VARCHAR(100) NOT NULL UNIQUE,
    description TEXT,
    category    VARCHAR(100)
);

CREATE TABLE IF NOT EXISTS user_roles (
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    PRIMARY KEY (user_id, role_id)
);

CREATE TABLE IF NOT EXISTS role_permissions (
    role_id       INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
    PRIMARY KEY (role_id, permission_id)
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    token      VARCHAR(64) NOT NULL UNIQUE,
    expires_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_token ON refresh_tokens(token);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires ON refresh_tokens(expires_at);

CREATE TABLE IF NOT EXISTS modules (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       VARCHAR(100) NOT NULL UNIQUE,
    label      VARCHAR(100) NOT NULL,
    icon       VARCHAR(50),
    route      VARCHAR(255) NOT NULL,
    is_active  BOOLEAN NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS module_roles (
    module_id INTEGER NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
    role_id   INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    PRIMARY KEY (module_id, role_id)
);

CREATE TABLE IF NOT EXISTS routes (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    route      VARCHAR(255) NOT NULL,
    label      VARCHAR(100) NOT NULL,
    icon       VARCHAR(50),
    is_active  BOOLEAN NOT NULL DEFAULT 1,
    is_sidebar BOOLEAN NOT NULL DEFAULT 1,
    module_id  INTEGER NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
    parent_id  INTEGER REFERENCES routes(id) ON DELETE CASCADE,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS route_roles (
    route_id INTEGER NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
    role_id  INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    PRIMARY KEY (route_id, role_id)
);

CREATE TABLE IF NOT EXISTS dynamic_models (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        VARCHAR(100) NOT NULL UNIQUE,
    table_name  VARCHAR(100) NOT NULL UNIQUE,
    description TEXT,
    is_active   BOOLEAN NOT NULL DEFAULT 1,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS dynamic_fields (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    model_id         INTEGER NOT NULL REFERENCES dynamic_models(id) ON DELETE CASCADE,
    name             VARCHAR(100) NOT NULL,
    field_type       VARCHAR(50) NOT NULL,
    is_required      BOOLEAN NOT NULL DEFAULT 0,
    is_unique        BOOLEAN NOT NULL DEFAULT 0,
    default_value    TEXT,
    max_length       INTEGER,
    field_order      INTEGER NOT NULL DEFAULT 0,
    validation_rules TEXT,
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (model_id, name)
);
CREATE INDEX IF NOT EXISTS idx_dynamic_fields_model ON dynamic_fields(model_id);
`

// Compile-time check
var _ Dialect = (*SQLiteDialect)(nil)
