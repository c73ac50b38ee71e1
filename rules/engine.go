// Package rules evaluates the CEL expressions attached to schemas through
// x_rules. Expressions see the document being accepted as `doc` and the
// evaluation time as `now`, and may call uuid() to mint identifiers.
package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/uuid"
)

// RulesEngine handles compilation and evaluation of CEL rules
type RulesEngine struct {
	env      *cel.Env
	prgCache sync.Map // map[string]cel.Program
	now      func() time.Time
}

// NewRulesEngine creates a new RulesEngine with standard environment
func NewRulesEngine() (*RulesEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
		cel.Function("uuid",
			cel.Overload("uuid_string", []*cel.Type{}, cel.StringType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					return types.String(uuid.NewString())
				}),
			),
		),
	)
	if err != nil {
		return nil, err
	}

	return &RulesEngine{
		env: env,
		now: time.Now,
	}, nil
}

func (re *RulesEngine) program(expression string) (cel.Program, error) {
	if val, ok := re.prgCache.Load(expression); ok {
		return val.(cel.Program), nil
	}

	ast, issues := re.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %s", issues.Err())
	}

	prg, err := re.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program construction error: %s", err)
	}
	re.prgCache.Store(expression, prg)
	return prg, nil
}

func (re *RulesEngine) eval(expression string, doc map[string]interface{}) (ref.Val, error) {
	prg, err := re.program(expression)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	out, _, err := prg.Eval(map[string]interface{}{
		"doc": doc,
		"now": re.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("eval error: %s", err)
	}
	return out, nil
}

// Evaluate evaluates a boolean guard against a document.
func (re *RulesEngine) Evaluate(expression string, doc map[string]interface{}) (bool, error) {
	if expression == "" || expression == "true" {
		return true, nil
	}
	if expression == "false" {
		return false, nil
	}

	out, err := re.eval(expression, doc)
	if err != nil {
		return false, err
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule must return boolean")
	}
	return result, nil
}

// EvaluateValue evaluates an expression and returns its result as a plain
// JSON value (nil, bool, float64, string, []interface{}, map[string]interface{}).
// Timestamps are rendered as RFC 3339 strings.
func (re *RulesEngine) EvaluateValue(expression string, doc map[string]interface{}) (interface{}, error) {
	out, err := re.eval(expression, doc)
	if err != nil {
		return nil, err
	}
	return toJSON(out)
}

func toJSON(v ref.Val) (interface{}, error) {
	switch t := v.(type) {
	case types.Null:
		return nil, nil
	case types.Bool:
		return bool(t), nil
	case types.String:
		return string(t), nil
	case types.Double:
		return float64(t), nil
	case types.Int:
		return float64(t), nil
	case types.Uint:
		return float64(t), nil
	case types.Timestamp:
		return t.Time.UTC().Format(time.RFC3339Nano), nil
	case types.Duration:
		return t.Duration.String(), nil
	case traits.Mapper:
		m := make(map[string]interface{})
		it := t.Iterator()
		for it.HasNext() == types.True {
			key := it.Next()
			ks, ok := key.(types.String)
			if !ok {
				return nil, fmt.Errorf("map key %v is not a string", key.Value())
			}
			val, err := toJSON(t.Get(key))
			if err != nil {
				return nil, err
			}
			m[string(ks)] = val
		}
		return m, nil
	case traits.Lister:
		var list []interface{}
		it := t.Iterator()
		for it.HasNext() == types.True {
			val, err := toJSON(it.Next())
			if err != nil {
				return nil, err
			}
			list = append(list, val)
		}
		if list == nil {
			list = []interface{}{}
		}
		return list, nil
	}
	return nil, fmt.Errorf("unsupported result type %s", v.Type())
}
