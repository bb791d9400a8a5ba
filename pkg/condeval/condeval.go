// Package condeval is the reference condition evaluator for conditional
// breakpoints. The engine exposes only a callback hook; this package fills
// it with a real expression language (Starlark) so a condition string like
// "x > 3 and name == \"worker\"" can be evaluated against the stopped
// frame's locals without inventing a bespoke mini-language.
package condeval

import (
	"fmt"

	"go.starlark.net/starlark"
)

// Evaluator compiles and runs breakpoint condition expressions.
type Evaluator struct {
	thread *starlark.Thread
}

// New returns an evaluator with a fresh interpreter thread.
func New() *Evaluator {
	return &Evaluator{
		thread: &starlark.Thread{Name: "breakpoint-condition"},
	}
}

// Eval evaluates condition as a single expression with the given locals
// predeclared, and reports its truth value.
func (e *Evaluator) Eval(condition string, locals map[string]interface{}) (bool, error) {
	env := make(starlark.StringDict, len(locals))
	for name, v := range locals {
		sv, err := toStarlark(v)
		if err != nil {
			return false, fmt.Errorf("condeval: local %s: %w", name, err)
		}
		env[name] = sv
	}
	val, err := starlark.Eval(e.thread, "<condition>", condition, env)
	if err != nil {
		return false, fmt.Errorf("condeval: %w", err)
	}
	return bool(val.Truth()), nil
}

// Bind returns a closure suitable for breakpoint.ConditionEvaluator, with
// locals captured at the current stop.
func (e *Evaluator) Bind(locals map[string]interface{}) func(string) (bool, error) {
	return func(condition string) (bool, error) {
		return e.Eval(condition, locals)
	}
}

func toStarlark(v interface{}) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case uint64:
		return starlark.MakeUint64(x), nil
	case float64:
		return starlark.Float(x), nil
	case string:
		return starlark.String(x), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}
