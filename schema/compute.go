package schema

import (
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/bunbase/jsondb/internal/jsonptr"
)

// RulesKey is the schema keyword holding computed-field rules.
const RulesKey = "x_rules"

// Rule derives one field of a document.
type Rule struct {
	Name   string `json:"name"`
	Target string `json:"target"` // JSON Pointer or dot path; defaults to Name
	Expr   string `json:"expr"`
	When   string `json:"when,omitempty"` // optional boolean guard
}

// Evaluator is the expression evaluator used for x_rules. rules.RulesEngine
// is the default implementation.
type Evaluator interface {
	EvaluateValue(expr string, doc map[string]interface{}) (interface{}, error)
	Evaluate(expr string, doc map[string]interface{}) (bool, error)
}

// TargetPointer returns the pointer the rule writes to.
func (r Rule) TargetPointer() string {
	if r.Target == "" {
		return jsonptr.FromField(r.Name)
	}
	return jsonptr.FromField(r.Target)
}

// RulesOf extracts the x_rules entries of a single schema node.
func RulesOf(node interface{}) ([]Rule, error) {
	m, ok := node.(map[string]interface{})
	if !ok {
		return nil, nil
	}
	raw, ok := m[RulesKey]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", RulesKey, err)
	}
	for i, r := range rules {
		if r.Expr == "" {
			return nil, fmt.Errorf("invalid %s: entry %d (%q) has no expr", RulesKey, i, r.Name)
		}
		if r.Name == "" && r.Target == "" {
			return nil, fmt.Errorf("invalid %s: entry %d has neither name nor target", RulesKey, i)
		}
	}
	return rules, nil
}

// collectRules gathers the rules of the schema at uri: those of its allOf
// members first (inline or $ref), then its own.
func collectRules(reg *Registry, uri string, node interface{}, seen map[string]bool) ([]Rule, error) {
	if seen[uri] {
		return nil, nil
	}
	seen[uri] = true

	var out []Rule
	if m, ok := node.(map[string]interface{}); ok {
		if all, ok := m["allOf"].([]interface{}); ok {
			for _, member := range all {
				mm, ok := member.(map[string]interface{})
				if !ok {
					continue
				}
				if ref, ok := mm["$ref"].(string); ok {
					target, err := reg.ResolveRef(uri, ref)
					if err != nil {
						return nil, err
					}
					refURI, _ := splitFragment(ref)
					base := uri
					if refURI != "" {
						if base, err = Join(uri, refURI); err != nil {
							return nil, err
						}
					}
					rules, err := collectRules(reg, base+"#"+fragmentOf(ref), target, seen)
					if err != nil {
						return nil, err
					}
					out = append(out, rules...)
					continue
				}
				rules, err := RulesOf(mm)
				if err != nil {
					return nil, err
				}
				out = append(out, rules...)
			}
		}
	}

	own, err := RulesOf(node)
	if err != nil {
		return nil, err
	}
	return append(out, own...), nil
}

func fragmentOf(ref string) string {
	_, frag := splitFragment(ref)
	return frag
}

// applyRules runs the rules in order against doc. Later rules observe the
// fields written by earlier ones.
func applyRules(rules []Rule, eval Evaluator, doc map[string]interface{}) error {
	if len(rules) == 0 {
		return nil
	}
	if eval == nil {
		return &RuleError{Rule: rules[0].Name, Expr: rules[0].Expr, Err: fmt.Errorf("no rule evaluator configured")}
	}
	for _, rule := range rules {
		if rule.When != "" {
			ok, err := eval.Evaluate(rule.When, doc)
			if err != nil {
				return &RuleError{Rule: rule.Name, Expr: rule.When, Err: err}
			}
			if !ok {
				continue
			}
		}
		val, err := eval.EvaluateValue(rule.Expr, doc)
		if err != nil {
			return &RuleError{Rule: rule.Name, Expr: rule.Expr, Err: err}
		}
		if err := jsonptr.Set(doc, rule.TargetPointer(), val); err != nil {
			return &RuleError{Rule: rule.Name, Expr: rule.Expr, Err: err}
		}
	}
	return nil
}
