package schema

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// Validation rules are stored on a field as opaque JSON:
//
//	{"expr": "value > 0 && value < 1000", "message": "amount out of range"}
//
// The expression is evaluated against the already-coerced value bound as
// `value`. A rule passes when the expression returns true.

// CheckRules verifies that a validation_rules document is well-formed and
// that its expression compiles. Called at model-creation time so a broken
// rule is rejected before it can ever block a data write.
func CheckRules(rules map[string]any) error {
	expression, ok := ruleExpr(rules)
	if !ok {
		return nil
	}
	if _, err := expr.Compile(expression, expr.AsBool(), expr.Env(ruleEnv(nil))); err != nil {
		return fmt.Errorf("compile rule expression: %w", err)
	}
	return nil
}

// EvaluateRules runs a field's validation rules against a coerced value.
// Returns a descriptive error when the rule fails or cannot be evaluated.
func EvaluateRules(f *Field, value any) error {
	expression, ok := ruleExpr(f.ValidationRules)
	if !ok {
		return nil
	}

	prog, err := expr.Compile(expression, expr.AsBool(), expr.Env(ruleEnv(value)))
	if err != nil {
		return fmt.Errorf("field %q: compile rule: %w", f.Name, err)
	}
	result, err := expr.Run(prog, ruleEnv(value))
	if err != nil {
		return fmt.Errorf("field %q: evaluate rule: %w", f.Name, err)
	}

	if passed, _ := result.(bool); !passed {
		if msg, ok := f.ValidationRules["message"].(string); ok && msg != "" {
			return fmt.Errorf("field %q: %s", f.Name, msg)
		}
		return fmt.Errorf("field %q: value %v failed validation rule", f.Name, value)
	}
	return nil
}

func ruleExpr(rules map[string]any) (string, bool) {
	if len(rules) == 0 {
		return "", false
	}
	expression, ok := rules["expr"].(string)
	return expression, ok && expression != ""
}

func ruleEnv(value any) map[string]any {
	return map[string]any{"value": value}
}
