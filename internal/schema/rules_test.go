package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateRulesPassAndFail(t *testing.T) {
	f := &Field{
		Name:            "amount",
		Type:            TypeFloat,
		ValidationRules: map[string]any{"expr": "value > 0", "message": "amount must be positive"},
	}

	require.NoError(t, EvaluateRules(f, 19.99))

	err := EvaluateRules(f, -1.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount must be positive")
}

func TestEvaluateRulesNoRules(t *testing.T) {
	f := &Field{Name: "amount", Type: TypeFloat}
	assert.NoError(t, EvaluateRules(f, -1.0))

	f.ValidationRules = map[string]any{"message": "no expression here"}
	assert.NoError(t, EvaluateRules(f, -1.0))
}

func TestCheckRulesRejectsBrokenExpression(t *testing.T) {
	assert.Error(t, CheckRules(map[string]any{"expr": "value >"}))
	assert.NoError(t, CheckRules(map[string]any{"expr": "value != nil"}))
	assert.NoError(t, CheckRules(nil))
}
