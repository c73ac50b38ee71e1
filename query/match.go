package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kartikbazzad/bunbase/jsondb/internal/jsonptr"
	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// Matcher evaluates a compiled Filter against documents.
type Matcher struct {
	op    FilterOperator
	conds []compiledCondition
}

type compiledCondition struct {
	pointer string
	op      Operator
	value   interface{}
	re      *regexp.Regexp // Like and Matches
}

// NewMatcher compiles a filter. A nil filter matches every document.
func NewMatcher(f *Filter) (*Matcher, error) {
	if f == nil {
		return &Matcher{op: And}, nil
	}
	m := &Matcher{op: f.Operator}
	switch f.Operator {
	case And, Or, Not:
	case "":
		m.op = And
	default:
		return nil, fmt.Errorf("%w: unknown filter operator %q", util.ErrInvalidArgument, f.Operator)
	}

	for _, c := range f.Conditions {
		cc, err := compileCondition(c)
		if err != nil {
			return nil, err
		}
		m.conds = append(m.conds, cc)
	}
	return m, nil
}

func compileCondition(c Condition) (compiledCondition, error) {
	if _, err := ParseOperator(string(c.Operator)); err != nil {
		return compiledCondition{}, err
	}
	cc := compiledCondition{
		pointer: jsonptr.FromField(c.Field),
		op:      c.Operator,
		value:   Normalize(c.Value),
	}
	switch c.Operator {
	case Like, Matches:
		pattern, ok := cc.value.(string)
		if !ok {
			return compiledCondition{}, fmt.Errorf("%w: %s on %s needs a string pattern", util.ErrInvalidArgument, c.Operator, c.Field)
		}
		if c.Operator == Like {
			pattern = LikeToRegexp(pattern)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return compiledCondition{}, fmt.Errorf("%w: bad pattern for %s: %w", util.ErrInvalidArgument, c.Field, err)
		}
		cc.re = re
	case In:
		if _, ok := cc.value.([]interface{}); !ok {
			return compiledCondition{}, fmt.Errorf("%w: in on %s needs a list", util.ErrInvalidArgument, c.Field)
		}
	}
	return cc, nil
}

// Match reports whether doc satisfies the filter.
func (m *Matcher) Match(doc storage.Document) bool {
	switch m.op {
	case Or:
		for _, c := range m.conds {
			if c.match(doc) {
				return true
			}
		}
		return false
	case Not:
		for _, c := range m.conds {
			if c.match(doc) {
				return false
			}
		}
		return true
	}
	for _, c := range m.conds {
		if !c.match(doc) {
			return false
		}
	}
	return true
}

func (c compiledCondition) match(doc storage.Document) bool {
	actual, ok := jsonptr.Get(doc, c.pointer)
	switch c.op {
	case Eq:
		return ok && util.CompareValues(actual, c.value) == 0
	case Ne:
		return !ok || util.CompareValues(actual, c.value) != 0
	case Gt, Gte, Lt, Lte:
		if !ok || !util.SameKind(actual, c.value) {
			return false
		}
		cmp := util.CompareValues(actual, c.value)
		switch c.op {
		case Gt:
			return cmp > 0
		case Gte:
			return cmp >= 0
		case Lt:
			return cmp < 0
		}
		return cmp <= 0
	case In:
		if !ok {
			return false
		}
		for _, v := range c.value.([]interface{}) {
			if util.CompareValues(actual, v) == 0 {
				return true
			}
		}
		return false
	case Contains:
		if !ok {
			return false
		}
		switch a := actual.(type) {
		case string:
			s, isStr := c.value.(string)
			return isStr && strings.Contains(a, s)
		case []interface{}:
			for _, item := range a {
				if util.CompareValues(item, c.value) == 0 {
					return true
				}
			}
		}
		return false
	case StartsWith, EndsWith:
		a, isStr := actual.(string)
		s, valStr := c.value.(string)
		if !ok || !isStr || !valStr {
			return false
		}
		if c.op == StartsWith {
			return strings.HasPrefix(a, s)
		}
		return strings.HasSuffix(a, s)
	case Like, Matches:
		a, isStr := actual.(string)
		return ok && isStr && c.re.MatchString(a)
	}
	return false
}

// LikeToRegexp translates a SQL LIKE pattern into an anchored regular
// expression: % matches any run of characters, _ exactly one.
func LikeToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// Normalize converts a Go value into its decoded-JSON form (float64
// numbers, []interface{}, map[string]interface{}) so it compares like the
// values read from documents.
func Normalize(v interface{}) interface{} {
	switch v.(type) {
	case nil, bool, string, float64:
		return v
	}
	if f, ok := util.ToFloat(v); ok {
		return f
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// SortDocuments sorts docs in place, stably, by the given keys. Documents
// missing a key sort before those that have it.
func SortDocuments(docs []storage.Document, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	pointers := make([]string, len(fields))
	for i, f := range fields {
		pointers[i] = jsonptr.FromField(f.Field)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for k, f := range fields {
			a, okA := jsonptr.Get(docs[i], pointers[k])
			b, okB := jsonptr.Get(docs[j], pointers[k])
			var cmp int
			switch {
			case !okA && !okB:
				cmp = 0
			case !okA:
				cmp = -1
			case !okB:
				cmp = 1
			default:
				cmp = util.CompareValues(a, b)
			}
			if cmp == 0 {
				continue
			}
			if f.Order == Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// Project applies a projection to doc and returns a new document. An
// include projection with no fields returns a copy of doc.
func Project(doc storage.Document, p *Projection) storage.Document {
	if p == nil || (p.Mode == Include && len(p.Fields) == 0) {
		return doc.Clone()
	}
	if p.Mode == Exclude {
		out := doc.Clone()
		for _, f := range p.Fields {
			jsonptr.Delete(out, jsonptr.FromField(f))
		}
		return out
	}
	out := storage.Document{}
	for _, f := range p.Fields {
		ptr := jsonptr.FromField(f)
		if v, ok := jsonptr.Get(doc, ptr); ok {
			jsonptr.Set(out, ptr, storage.CloneValue(v))
		}
	}
	return out
}
