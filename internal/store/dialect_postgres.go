package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"prism-backend/internal/schema"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) NewParamBuilder() ParamBuilder { return &pgParamBuilder{} }

func (d *PostgresDialect) NowExpr() string    { return "NOW()" }
func (d *PostgresDialect) SerialPK() string   { return "BIGSERIAL PRIMARY KEY" }
func (d *PostgresDialect) NeedsBoolFix() bool { return false }

func (d *PostgresDialect) ColumnType(t schema.FieldType, maxLength int) string {
	switch t {
	case schema.TypeString:
		if maxLength <= 0 {
			maxLength = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", maxLength)
	case schema.TypeText:
		return "TEXT"
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDatetime:
		return "TIMESTAMPTZ"
	case schema.TypeJSON:
		return "JSONB"
	default:
		return "VARCHAR(255)"
	}
}

func (d *PostgresDialect) DefaultLiteral(t schema.FieldType, v any) string {
	switch t {
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok && b {
			return "TRUE"
		}
		return "FALSE"
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

func (d *PostgresDialect) SystemTablesSQL() string {
	return pgSystemTablesSQL
}

func (d *PostgresDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = 'public')`,
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	// With pgx/stdlib, the underlying error message includes the PG code
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// quoteLiteral single-quotes a string for DDL, doubling embedded quotes.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// --- PostgreSQL DDL ---

const pgSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS users (
    id            BIGSERIAL PRIMARY KEY,
    username      VARCHAR(50) NOT NULL UNIQUE,
    email         VARCHAR(255) NOT NULL UNIQUE,
    password_hash VARCHAR(255) NOT NULL,
    is_active     BOOLEAN NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS roles (
    id             BIGSERIAL PRIMARY KEY,
    name           VARCHAR(100) NOT NULL UNIQUE,
    description    TEXT,
    is_system_role BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS permissions (
    id          BIGSERIAL PRIMARY KEY,
    name        VARCHAR(100) NOT NULL UNIQUE,
    description TEXT,
    category    VARCHAR(100)
);

CREATE TABLE IF NOT EXISTS user_roles (
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    PRIMARY KEY (user_id, role_id)
);

CREATE TABLE IF NOT EXISTS role_permissions (
    role_id       BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
    PRIMARY KEY (role_id, permission_id)
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    token      VARCHAR(64) NOT NULL UNIQUE,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_token ON refresh_tokens(token);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires ON refresh_tokens(expires_at);

CREATE TABLE IF NOT EXISTS modules (
    id         BIGSERIAL PRIMARY KEY,
    name       VARCHAR(100) NOT NULL UNIQUE,
    label      VARCHAR(100) NOT NULL,
    icon       VARCHAR(50),
    route      VARCHAR(255) NOT NULL,
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS module_roles (
    module_id BIGINT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
    role_id   BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    PRIMARY KEY (module_id, role_id)
);

CREATE TABLE IF NOT EXISTS routes (
    id         BIGSERIAL PRIMARY KEY,
    route      VARCHAR(255) NOT NULL,
    label      VARCHAR(100) NOT NULL,
    icon       VARCHAR(50),
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    is_sidebar BOOLEAN NOT NULL DEFAULT TRUE,
    module_id  BIGINT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
    parent_id  BIGINT REFERENCES routes(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS route_roles (
    route_id BIGINT NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
    role_id  BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    PRIMARY KEY (route_id, role_id)
);

CREATE TABLE IF NOT EXISTS dynamic_models (
    id          BIGSERIAL PRIMARY KEY,
    name        VARCHAR(100) NOT NULL UNIQUE,
    table_name  VARCHAR(100) NOT NULL UNIQUE,
    description TEXT,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS dynamic_fields (
    id               BIGSERIAL PRIMARY KEY,
    model_id         BIGINT NOT NULL REFERENCES dynamic_models(id) ON DELETE CASCADE,
    name             VARCHAR(100) NOT NULL,
    field_type       VARCHAR(50) NOT NULL,
    is_required      BOOLEAN NOT NULL DEFAULT FALSE,
    is_unique        BOOLEAN NOT NULL DEFAULT FALSE,
    default_value    TEXT,
    max_length       INT,
    field_order      INT NOT NULL DEFAULT 0,
    validation_rules JSONB,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (model_id, name)
);
CREATE INDEX IF NOT EXISTS idx_dynamic_fields_model ON dynamic_fields(model_id);
`

// Compile-time check
var _ Dialect = (*PostgresDialect)(nil)
