package schema

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TablePrefix namespaces every materialized table so dynamic models can never
// shadow a system table, even if the reserved-name check were bypassed.
const TablePrefix = "dynamic_"

// reservedTables are system table names a dynamic model may not claim.
var reservedTables = map[string]bool{
	"users":            true,
	"roles":            true,
	"permissions":      true,
	"user_roles":       true,
	"role_permissions": true,
	"modules":          true,
	"module_roles":     true,
	"routes":           true,
	"route_roles":      true,
	"refresh_tokens":   true,
	"dynamic_models":   true,
	"dynamic_fields":   true,
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Model is a dynamic model descriptor: the registry row plus its field list.
type Model struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	TableName   string    `json:"table_name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	Fields      []Field   `json:"fields"`
}

// PhysicalTable returns the name of the materialized table backing this model.
func (m *Model) PhysicalTable() string {
	return TablePrefix + m.TableName
}

// GetField returns the field with the given name, or nil.
func (m *Model) GetField(name string) *Field {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// BoolFieldNames returns the names of all boolean fields.
// Used to fix up integer booleans coming back from SQLite.
func (m *Model) BoolFieldNames() []string {
	var names []string
	for _, f := range m.Fields {
		if f.Type == TypeBoolean {
			names = append(names, f.Name)
		}
	}
	return names
}

// IsReservedTable reports whether name collides with a system table.
func IsReservedTable(name string) bool {
	return reservedTables[strings.ToLower(name)]
}

// ValidIdent reports whether s is a safe SQL identifier ([a-zA-Z_][a-zA-Z0-9_]*).
func ValidIdent(s string) bool {
	return len(s) <= 100 && identRe.MatchString(s)
}

// Validate checks a model definition before it is registered. All structural
// problems (bad identifiers, reserved names, unknown field types) are caught
// here, at creation time, never later at data-insert time.
func (m *Model) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if len(m.Name) > 100 {
		return fmt.Errorf("model name must be at most 100 characters")
	}
	if m.TableName == "" {
		return fmt.Errorf("table name is required")
	}
	if !ValidIdent(m.TableName) {
		return fmt.Errorf("invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", m.TableName)
	}
	if IsReservedTable(m.TableName) {
		return fmt.Errorf("table name %q is reserved", m.TableName)
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("model must have at least one field")
	}

	seen := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		if f.Name == "" {
			return fmt.Errorf("field name is required")
		}
		if !ValidIdent(f.Name) {
			return fmt.Errorf("invalid field name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", f.Name)
		}
		switch f.Name {
		case "id", "created_at", "updated_at":
			return fmt.Errorf("field name %q is reserved for system columns", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = true

		if !f.Type.IsValid() {
			return fmt.Errorf("unknown field type %q for field %q", f.Type, f.Name)
		}
		if f.MaxLength < 0 {
			return fmt.Errorf("max_length for field %q must not be negative", f.Name)
		}
		if f.Default != "" {
			if _, err := ParseDefault(f.Default, f.Type); err != nil {
				return fmt.Errorf("invalid default for field %q: %w", f.Name, err)
			}
		}
		if err := CheckRules(f.ValidationRules); err != nil {
			return fmt.Errorf("invalid validation_rules for field %q: %w", f.Name, err)
		}
	}
	return nil
}
