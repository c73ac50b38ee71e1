package query

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Pagination defaults applied by the optimizer.
const (
	DefaultMaxLimit     = 1000
	DefaultDefaultLimit = 100
)

// OptimizerConfig toggles the optimizer passes.
type OptimizerConfig struct {
	SimplifyFilters   bool
	ReorderConditions bool
	MaxLimit          int // limits above this are capped
	DefaultLimit      int // limit used when only an offset is given
}

// DefaultOptimizerConfig enables every pass.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		SimplifyFilters:   true,
		ReorderConditions: true,
		MaxLimit:          DefaultMaxLimit,
		DefaultLimit:      DefaultDefaultLimit,
	}
}

// Optimizer rewrites queries into a cheaper equivalent form.
type Optimizer struct {
	config OptimizerConfig
}

func NewOptimizer() *Optimizer {
	return &Optimizer{config: DefaultOptimizerConfig()}
}

func NewOptimizerWithConfig(config OptimizerConfig) *Optimizer {
	if config.MaxLimit <= 0 {
		config.MaxLimit = DefaultMaxLimit
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultDefaultLimit
	}
	return &Optimizer{config: config}
}

// Optimize returns an optimized copy of q; q itself is left untouched.
//  1. Drop duplicate conditions.
//  2. Stable-sort conditions by estimated cost, cheapest first.
//  3. Cap the limit, and default it when only an offset is set.
func (o *Optimizer) Optimize(q *Query) *Query {
	out := q.Clone()
	if out.Filter != nil {
		if o.config.SimplifyFilters {
			out.Filter.Conditions = dedupe(out.Filter.Conditions)
		}
		if o.config.ReorderConditions {
			sort.SliceStable(out.Filter.Conditions, func(i, j int) bool {
				return Cost(out.Filter.Conditions[i].Operator) < Cost(out.Filter.Conditions[j].Operator)
			})
		}
	}

	if out.Limit != nil && *out.Limit > o.config.MaxLimit {
		out.Limit = intPtr(o.config.MaxLimit)
	}
	if out.Offset != nil && out.Limit == nil {
		out.Limit = intPtr(o.config.DefaultLimit)
	}
	return out
}

// Cost estimates how expensive (and how unselective) an operator is.
// Lower runs first.
func Cost(op Operator) int {
	switch op {
	case Eq:
		return 1
	case In:
		return 2
	case Gt, Gte, Lt, Lte:
		return 10
	case StartsWith, EndsWith:
		return 20
	case Contains, Like, Matches:
		return 50
	case Ne:
		return 100
	}
	return 100
}

func dedupe(conds []Condition) []Condition {
	seen := make(map[string]bool, len(conds))
	out := make([]Condition, 0, len(conds))
	for _, c := range conds {
		key := conditionKey(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func conditionKey(c Condition) string {
	value, err := json.Marshal(c.Value)
	if err != nil {
		value = []byte(fmt.Sprintf("%v", c.Value))
	}
	return c.Field + ":" + string(c.Operator) + ":" + string(value)
}
