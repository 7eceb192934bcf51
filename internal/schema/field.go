package schema

// FieldType is the abstract type vocabulary for dynamic model fields.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeBoolean  FieldType = "boolean"
	TypeText     FieldType = "text"
	TypeDatetime FieldType = "datetime"
	TypeFloat    FieldType = "float"
	TypeJSON     FieldType = "json"
)

var fieldTypes = map[FieldType]bool{
	TypeString:   true,
	TypeInteger:  true,
	TypeBoolean:  true,
	TypeText:     true,
	TypeDatetime: true,
	TypeFloat:    true,
	TypeJSON:     true,
}

// IsValid reports whether t is one of the seven known field types.
func (t FieldType) IsValid() bool {
	return fieldTypes[t]
}

type Field struct {
	ID              int64          `json:"id,omitempty"`
	Name            string         `json:"name"`
	Type            FieldType      `json:"field_type"`
	Required        bool           `json:"is_required,omitempty"`
	Unique          bool           `json:"is_unique,omitempty"`
	Default         string         `json:"default_value,omitempty"`
	MaxLength       int            `json:"max_length,omitempty"`
	Order           int            `json:"field_order,omitempty"`
	ValidationRules map[string]any `json:"validation_rules,omitempty"`
}
