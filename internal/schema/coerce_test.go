package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceInteger(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want int64
	}{
		{"42", 42},
		{" 42 ", 42},
		{float64(42), 42},
		{float64(19.99), 19},
		{int64(7), 7},
		{7, 7},
	} {
		got, err := Coerce(tc.in, TypeInteger)
		require.NoError(t, err, "input %v", tc.in)
		assert.Equal(t, tc.want, got, "input %v", tc.in)
	}

	_, err := Coerce("not-a-number", TypeInteger)
	var cerr *CoercionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, TypeInteger, cerr.Type)

	_, err = Coerce("19.9", TypeInteger)
	assert.Error(t, err, "non-integral strings are rejected")
}

func TestCoerceFloat(t *testing.T) {
	got, err := Coerce("19.99", TypeFloat)
	require.NoError(t, err)
	assert.Equal(t, 19.99, got)

	got, err = Coerce(float64(3), TypeFloat)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)

	_, err = Coerce("abc", TypeFloat)
	assert.Error(t, err)
}

func TestCoerceBoolean(t *testing.T) {
	truthy := []any{true, "true", "True", "TRUE", "1", "yes", "on", float64(1), 1}
	for _, in := range truthy {
		got, err := Coerce(in, TypeBoolean)
		require.NoError(t, err)
		assert.Equal(t, true, got, "input %v", in)
	}

	falsy := []any{false, "false", "0", "", "no", "off", float64(0), 0, "anything-else"}
	for _, in := range falsy {
		got, err := Coerce(in, TypeBoolean)
		require.NoError(t, err)
		assert.Equal(t, false, got, "input %v", in)
	}
}

func TestCoerceJSON(t *testing.T) {
	// Structured values pass through.
	structured := map[string]any{"a": float64(1)}
	got, err := Coerce(structured, TypeJSON)
	require.NoError(t, err)
	assert.Equal(t, structured, got)

	// JSON strings are parsed.
	got, err = Coerce(`{"a": 1}`, TypeJSON)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, got)

	// Malformed JSON strings are rejected.
	_, err = Coerce(`{"a": `, TypeJSON)
	var cerr *CoercionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, TypeJSON, cerr.Type)
}

func TestCoerceStringAndNil(t *testing.T) {
	got, err := Coerce("hello", TypeString)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = Coerce(float64(12), TypeText)
	require.NoError(t, err)
	assert.Equal(t, "12", got)

	got, err = Coerce(nil, TypeInteger)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseDefault(t *testing.T) {
	got, err := ParseDefault("false", TypeBoolean)
	require.NoError(t, err)
	assert.Equal(t, false, got)

	got, err = ParseDefault("19.99", TypeFloat)
	require.NoError(t, err)
	assert.Equal(t, 19.99, got)

	got, err = ParseDefault("", TypeString)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseDefault("abc", TypeInteger)
	assert.Error(t, err)
}
