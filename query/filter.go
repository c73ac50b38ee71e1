package query

import (
	"fmt"
	"sort"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

var filterOperators = map[string]Operator{
	"$eq":         Eq,
	"$ne":         Ne,
	"$gt":         Gt,
	"$gte":        Gte,
	"$lt":         Lt,
	"$lte":        Lte,
	"$in":         In,
	"$contains":   Contains,
	"$startsWith": StartsWith,
	"$endsWith":   EndsWith,
	"$like":       Like,
	"$regex":      Matches,
}

// ParseFilter converts a map-based filter into a Filter.
//
//	{"age": {"$gt": 25}, "status": "active"}   // and
//	{"$or": [{"status": "active"}, {"vip": true}]}
//	{"$not": [{"status": "banned"}]}
//
// $or and $not must be the only key. Each list element must hold exactly
// one condition because filters are flat.
func ParseFilter(m map[string]interface{}) (*Filter, error) {
	if len(m) == 0 {
		return nil, nil
	}
	for _, key := range []string{"$or", "$not", "$and"} {
		list, ok := m[key]
		if !ok {
			continue
		}
		if len(m) != 1 {
			return nil, fmt.Errorf("%w: %s must be the only key of a filter", util.ErrInvalidArgument, key)
		}
		return parseList(key, list)
	}

	conds, err := parseFields(m)
	if err != nil {
		return nil, err
	}
	return &Filter{Operator: And, Conditions: conds}, nil
}

func parseList(key string, val interface{}) (*Filter, error) {
	list, ok := val.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: value for %s must be a list", util.ErrInvalidArgument, key)
	}
	op := And
	switch key {
	case "$or":
		op = Or
	case "$not":
		op = Not
	}

	f := &Filter{Operator: op}
	for _, item := range list {
		sub, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: element of %s must be an object", util.ErrInvalidArgument, key)
		}
		conds, err := parseFields(sub)
		if err != nil {
			return nil, err
		}
		if op != And && len(conds) != 1 {
			return nil, fmt.Errorf("%w: element of %s must hold exactly one condition", util.ErrInvalidArgument, key)
		}
		f.Conditions = append(f.Conditions, conds...)
	}
	return f, nil
}

// parseFields handles {"field": value} and {"field": {"$op": value}}.
// Keys are visited in sorted order so the result is deterministic.
func parseFields(m map[string]interface{}) ([]Condition, error) {
	fields := make([]string, 0, len(m))
	for k := range m {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var conds []Condition
	for _, field := range fields {
		if len(field) > 0 && field[0] == '$' {
			return nil, fmt.Errorf("%w: unexpected operator %s at field level", util.ErrInvalidArgument, field)
		}
		val := m[field]
		ops, ok := val.(map[string]interface{})
		if !ok || !isOperatorMap(ops) {
			// Implicit $eq
			conds = append(conds, Condition{Field: field, Operator: Eq, Value: val})
			continue
		}
		names := make([]string, 0, len(ops))
		for k := range ops {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			op, ok := filterOperators[name]
			if !ok {
				return nil, fmt.Errorf("%w: unknown operator: %s", util.ErrInvalidArgument, name)
			}
			conds = append(conds, Condition{Field: field, Operator: op, Value: ops[name]})
		}
	}
	return conds, nil
}

// isOperatorMap distinguishes {"$gt": 1} from an embedded object used as
// an equality value.
func isOperatorMap(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}
