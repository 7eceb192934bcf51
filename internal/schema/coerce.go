package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CoercionError reports a value that cannot be converted to a field's type.
type CoercionError struct {
	Value any
	Type  FieldType
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("invalid value for field type %s: %v", e.Type, e.Value)
}

// Coerce converts a caller-supplied value to the native representation for
// the given field type. It is pure: no I/O, no schema lookup.
func Coerce(value any, t FieldType) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch t {
	case TypeInteger:
		return coerceInt(value)
	case TypeFloat:
		return coerceFloat(value)
	case TypeBoolean:
		return coerceBool(value), nil
	case TypeJSON:
		return coerceJSON(value)
	default: // string, text, datetime
		return coerceString(value), nil
	}
}

func coerceInt(value any) (any, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		// JSON numbers arrive as float64; fractional values are truncated.
		return int64(math.Trunc(v)), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, &CoercionError{Value: value, Type: TypeInteger}
		}
		return n, nil
	default:
		return nil, &CoercionError{Value: value, Type: TypeInteger}
	}
}

func coerceFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, &CoercionError{Value: value, Type: TypeFloat}
		}
		return f, nil
	default:
		return nil, &CoercionError{Value: value, Type: TypeFloat}
	}
}

// coerceBool accepts native booleans, the string forms true/1/yes/on
// (case-insensitive) as true, and non-zero numbers as true.
// Everything else is false.
func coerceBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true
		}
		return false
	case float64:
		return v != 0
	case int64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}

func coerceJSON(value any) (any, error) {
	if s, ok := value.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return nil, &CoercionError{Value: value, Type: TypeJSON}
		}
		return parsed, nil
	}
	// Already structured (map, slice, number, bool).
	return value, nil
}

func coerceString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ParseDefault parses a default value, stored as text in the registry,
// into the typed value for the field.
func ParseDefault(s string, t FieldType) (any, error) {
	if s == "" {
		return nil, nil
	}
	return Coerce(s, t)
}
