package query

import (
	"fmt"
	"strings"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

// Builder assembles a Query fluently. The first error sticks and is
// returned by Build.
//
//	q, err := query.NewBuilder("users").
//		WhereEq("status", "active").
//		Where("age", query.Gte, 18).
//		OrderBy("name", query.Asc).
//		Limit(10).
//		Build()
type Builder struct {
	q   *Query
	err error
}

func NewBuilder(collection string) *Builder {
	return &Builder{q: New(collection)}
}

// Where adds an AND condition.
func (b *Builder) Where(field string, op Operator, value interface{}) *Builder {
	return b.add(And, Condition{Field: field, Operator: op, Value: value})
}

func (b *Builder) WhereEq(field string, value interface{}) *Builder {
	return b.Where(field, Eq, value)
}

// OrWhere adds an OR condition. A builder cannot mix Where and OrWhere.
func (b *Builder) OrWhere(field string, op Operator, value interface{}) *Builder {
	return b.add(Or, Condition{Field: field, Operator: op, Value: value})
}

func (b *Builder) add(op FilterOperator, c Condition) *Builder {
	if b.err != nil {
		return b
	}
	if _, err := ParseOperator(string(c.Operator)); err != nil {
		b.err = err
		return b
	}
	if b.q.Filter == nil {
		b.q.Filter = &Filter{Operator: op}
	}
	// a single condition can be re-labelled freely
	if b.q.Filter.Operator != op && len(b.q.Filter.Conditions) > 1 {
		b.err = fmt.Errorf("%w: cannot mix %s and %s conditions", util.ErrInvalidArgument, b.q.Filter.Operator, op)
		return b
	}
	b.q.Filter.Operator = op
	b.q.Filter.Conditions = append(b.q.Filter.Conditions, c)
	return b
}

// Filter replaces the whole filter.
func (b *Builder) Filter(f *Filter) *Builder {
	b.q.Filter = f
	return b
}

func (b *Builder) OrderBy(field string, order SortOrder) *Builder {
	if order == "" {
		order = Asc
	}
	b.q.Sort = append(b.q.Sort, SortField{Field: field, Order: order})
	return b
}

func (b *Builder) Limit(n int) *Builder {
	if n < 0 && b.err == nil {
		b.err = fmt.Errorf("%w: negative limit %d", util.ErrInvalidArgument, n)
	}
	b.q.Limit = intPtr(n)
	return b
}

func (b *Builder) Offset(n int) *Builder {
	if n < 0 && b.err == nil {
		b.err = fmt.Errorf("%w: negative offset %d", util.ErrInvalidArgument, n)
	}
	b.q.Offset = intPtr(n)
	return b
}

// Select keeps only fields in the result documents.
func (b *Builder) Select(fields ...string) *Builder {
	b.q.Projection = &Projection{Mode: Include, Fields: fields}
	return b
}

// Omit removes fields from the result documents.
func (b *Builder) Omit(fields ...string) *Builder {
	b.q.Projection = &Projection{Mode: Exclude, Fields: fields}
	return b
}

func (b *Builder) Build() (*Query, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.q.Clone(), nil
}

// ParseSortSpecs parses comma separated sort keys: "name", "+name" and
// "name:asc" sort ascending, "-age" and "age:desc" descending.
func ParseSortSpecs(spec string) ([]SortField, error) {
	var out []SortField
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		order := Asc
		switch part[0] {
		case '-':
			order = Desc
			part = part[1:]
		case '+':
			part = part[1:]
		}
		if field, dir, ok := strings.Cut(part, ":"); ok {
			switch strings.ToLower(dir) {
			case "asc":
				order = Asc
			case "desc":
				order = Desc
			default:
				return nil, fmt.Errorf("%w: bad sort direction %q", util.ErrInvalidArgument, dir)
			}
			part = field
		}
		if part == "" {
			return nil, fmt.Errorf("%w: empty sort field in %q", util.ErrInvalidArgument, spec)
		}
		out = append(out, SortField{Field: part, Order: order})
	}
	return out, nil
}

// ParseProjection parses a comma separated field list. A list whose
// fields start with '-' excludes them; all fields must agree.
func ParseProjection(spec string) (*Projection, error) {
	var p *Projection
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mode := Include
		if strings.HasPrefix(part, "-") {
			mode = Exclude
			part = strings.TrimSpace(part[1:])
		}
		if part == "" {
			return nil, fmt.Errorf("%w: empty projection field in %q", util.ErrInvalidArgument, spec)
		}
		if p == nil {
			p = &Projection{Mode: mode}
		} else if p.Mode != mode {
			return nil, fmt.Errorf("%w: projection mixes included and excluded fields", util.ErrInvalidArgument)
		}
		p.Fields = append(p.Fields, part)
	}
	return p, nil
}
