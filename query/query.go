// Package query models document queries and evaluates them in memory.
//
// A Query names a collection and optionally carries a flat Filter, sort
// keys, pagination and a projection. Queries can be built with Builder,
// parsed from the SQL subset understood by ParseSQL, or parsed from a
// Mongo-style filter map with ParseFilter. Optimizer normalizes them
// before execution.
package query

import (
	"fmt"
	"strings"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// FilterOperator combines the conditions of a Filter.
type FilterOperator string

const (
	And FilterOperator = "and"
	Or  FilterOperator = "or"
	Not FilterOperator = "not" // none of the conditions holds
)

// Operator is a comparison applied by a Condition.
type Operator string

const (
	Eq         Operator = "eq"
	Ne         Operator = "ne"
	Gt         Operator = "gt"
	Gte        Operator = "gte"
	Lt         Operator = "lt"
	Lte        Operator = "lte"
	In         Operator = "in"
	Contains   Operator = "contains"
	StartsWith Operator = "starts_with"
	EndsWith   Operator = "ends_with"
	Like       Operator = "like"    // SQL LIKE: % and _ wildcards
	Matches    Operator = "matches" // regular expression
)

// ParseOperator accepts an operator name in any case.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(s)))
	switch op {
	case Eq, Ne, Gt, Gte, Lt, Lte, In, Contains, StartsWith, EndsWith, Like, Matches:
		return op, nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", util.ErrInvalidArgument, s)
}

// IsRange reports whether op is an ordering comparison.
func (op Operator) IsRange() bool {
	return op == Gt || op == Gte || op == Lt || op == Lte
}

// Condition compares the value at Field (dot path or JSON Pointer) with Value.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Filter is a flat list of conditions joined by one operator.
type Filter struct {
	Operator   FilterOperator `json:"operator"`
	Conditions []Condition    `json:"conditions"`
}

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

type SortField struct {
	Field string    `json:"field"`
	Order SortOrder `json:"order"`
}

// ProjectionMode selects whether Projection.Fields are kept or removed.
type ProjectionMode string

const (
	Include ProjectionMode = "include"
	Exclude ProjectionMode = "exclude"
)

type Projection struct {
	Mode   ProjectionMode `json:"mode"`
	Fields []string       `json:"fields"`
}

// Query is a request against one collection.
type Query struct {
	Collection string      `json:"collection"`
	Filter     *Filter     `json:"filter,omitempty"`
	Sort       []SortField `json:"sort,omitempty"`
	Limit      *int        `json:"limit,omitempty"`
	Offset     *int        `json:"offset,omitempty"`
	Projection *Projection `json:"projection,omitempty"`
}

// New returns an unfiltered query over collection.
func New(collection string) *Query {
	return &Query{Collection: collection}
}

// Clone returns a deep copy of the query structure. Condition values are
// shared.
func (q *Query) Clone() *Query {
	out := &Query{Collection: q.Collection}
	if q.Filter != nil {
		out.Filter = &Filter{
			Operator:   q.Filter.Operator,
			Conditions: append([]Condition(nil), q.Filter.Conditions...),
		}
	}
	if q.Sort != nil {
		out.Sort = append([]SortField(nil), q.Sort...)
	}
	if q.Limit != nil {
		out.Limit = intPtr(*q.Limit)
	}
	if q.Offset != nil {
		out.Offset = intPtr(*q.Offset)
	}
	if q.Projection != nil {
		out.Projection = &Projection{Mode: q.Projection.Mode, Fields: append([]string(nil), q.Projection.Fields...)}
	}
	return out
}

// Result is the outcome of a query. TotalCount is the number of documents
// that matched before offset and limit were applied.
type Result struct {
	Documents  []storage.Document `json:"documents"`
	TotalCount int                `json:"total_count"`
	Offset     *int               `json:"offset,omitempty"`
	Limit      *int               `json:"limit,omitempty"`
}

func intPtr(v int) *int {
	return &v
}
