package core

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// CompiledExpression is a sandboxed mapping expression compiled at
// rule-save time. Expressions see two read-only maps: mv (metaverse
// attributes) and cs (connected-system attributes), keyed by attribute
// name. Single-valued attributes appear as their native value,
// multi-valued attributes as a slice.
type CompiledExpression struct {
	Source  string
	program *vm.Program
}

// CompileExpression compiles a mapping expression or fails. Rules with
// uncompilable expressions must be rejected at save time so evaluation
// never hits a parse error per object.
func CompileExpression(source string) (*CompiledExpression, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("core: expression source is required")
	}
	program, err := expr.Compile(
		source,
		expr.Env(expressionEnv{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("core: compile expression %q: %w", source, err)
	}
	return &CompiledExpression{
		Source:  source,
		program: program,
	}, nil
}

// Evaluate runs the expression against read-only attribute accessors.
// Failures are reported to the caller and isolated to the owning mapping.
func (e *CompiledExpression) Evaluate(mv map[string]any, cs map[string]any) (any, error) {
	if e == nil || e.program == nil {
		return nil, fmt.Errorf("core: expression is not compiled")
	}
	env := expressionEnv{
		"mv":  readOnlyAttributes(mv),
		"cs":  readOnlyAttributes(cs),
		"now": func() time.Time { return time.Now().UTC() },
	}
	out, err := vm.Run(e.program, map[string]any(env))
	if err != nil {
		return nil, fmt.Errorf("core: evaluate expression %q: %w", e.Source, err)
	}
	return out, nil
}

type expressionEnv map[string]any

func readOnlyAttributes(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}

// AttributeEnv flattens attribute values into the expression environment
// shape: single values unwrapped, multi-valued attributes as []any.
func AttributeEnv(values []AttributeValue) map[string]any {
	grouped := GroupAttributes(values)
	env := make(map[string]any, len(grouped))
	for name, group := range grouped {
		deduped := DedupeValues(group)
		switch len(deduped) {
		case 0:
		case 1:
			env[name] = deduped[0].Interface()
		default:
			members := make([]any, 0, len(deduped))
			for _, value := range deduped {
				members = append(members, value.Interface())
			}
			env[name] = members
		}
	}
	return env
}

// CoerceExpressionResult converts an expression result into an attribute
// value of the mapping's declared target kind. A nil result means the
// source yielded null and the next source should be tried.
func CoerceExpressionResult(name string, kind AttributeKind, result any) (AttributeValue, bool, error) {
	if result == nil {
		return AttributeValue{}, false, nil
	}
	if kind == "" {
		kind = inferKind(result)
	}
	switch kind {
	case KindString:
		text, ok := result.(string)
		if !ok {
			text = fmt.Sprint(result)
		}
		if strings.TrimSpace(text) == "" {
			return AttributeValue{}, false, nil
		}
		return StringAttr(name, text), true, nil
	case KindInteger, KindLong:
		number, err := toInt64(result)
		if err != nil {
			return AttributeValue{}, false, fmt.Errorf("core: expression result for %q: %w", name, err)
		}
		value := IntAttr(name, number)
		value.Kind = kind
		return value, true, nil
	case KindBoolean:
		flag, ok := result.(bool)
		if !ok {
			return AttributeValue{}, false, fmt.Errorf("core: expression result for %q is %T, want bool", name, result)
		}
		return BoolAttr(name, flag), true, nil
	case KindDateTime:
		when, ok := result.(time.Time)
		if !ok {
			return AttributeValue{}, false, fmt.Errorf("core: expression result for %q is %T, want time", name, result)
		}
		return DateTimeAttr(name, when), true, nil
	case KindBinary:
		raw, ok := result.([]byte)
		if !ok {
			return AttributeValue{}, false, fmt.Errorf("core: expression result for %q is %T, want bytes", name, result)
		}
		return BinaryAttr(name, raw), true, nil
	case KindReference:
		id, ok := result.(string)
		if !ok || strings.TrimSpace(id) == "" {
			return AttributeValue{}, false, nil
		}
		return ReferenceAttr(name, id), true, nil
	default:
		return AttributeValue{}, false, fmt.Errorf("core: unsupported target kind %q", kind)
	}
}

func inferKind(result any) AttributeKind {
	switch result.(type) {
	case string:
		return KindString
	case int, int32, int64, uint, uint32, uint64, float64:
		return KindInteger
	case bool:
		return KindBoolean
	case time.Time:
		return KindDateTime
	case []byte:
		return KindBinary
	default:
		return KindString
	}
}

func toInt64(result any) (int64, error) {
	switch typed := result.(type) {
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int64:
		return typed, nil
	case uint:
		if uint64(typed) > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", typed)
		}
		return int64(typed), nil
	case uint32:
		return int64(typed), nil
	case uint64:
		if typed > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", typed)
		}
		return int64(typed), nil
	case float64:
		return int64(typed), nil
	default:
		return 0, fmt.Errorf("value is %T, want integer", result)
	}
}
