package query

import (
	"fmt"
	"strconv"

	"github.com/kartikbazzad/bunbase/jsondb/internal/jsonptr"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// WriteOperation is one row of an INSERT statement.
type WriteOperation struct {
	Collection string           `json:"collection"`
	Document   storage.Document `json:"document"`
}

// Statement is a parsed SQL statement: a SELECT yields Query, an INSERT
// yields Writes.
type Statement struct {
	Query  *Query           `json:"query,omitempty"`
	Writes []WriteOperation `json:"writes,omitempty"`
}

// IsQuery reports whether the statement is a SELECT.
func (s *Statement) IsQuery() bool {
	return s.Query != nil
}

// ParseSQL parses one SELECT or INSERT statement.
//
//	SELECT * | f {, f} FROM c
//	  [WHERE cond {AND cond} | cond {OR cond}]
//	  [ORDER BY f [ASC|DESC] {, f [ASC|DESC]}]
//	  [LIMIT n] [OFFSET n] [;]
//	INSERT INTO c (f {, f}) VALUES (lit {, lit}) {, (lit {, lit})} [;]
//
// A condition is f op lit (op one of = != <> > >= < <=), f [NOT] IN (lits)
// or f [NOT] LIKE 'pattern'. Negated conditions may only be combined with
// other negated conditions through AND.
func ParseSQL(sql string) (*Statement, error) {
	toks, err := lex(sql)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	var stmt *Statement
	switch {
	case p.peekKeyword("SELECT"):
		q, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		stmt = &Statement{Query: q}
	case p.peekKeyword("INSERT"):
		writes, err := p.parseInsert()
		if err != nil {
			return nil, err
		}
		stmt = &Statement{Writes: writes}
	default:
		return nil, p.errorf(p.peek(), "expected SELECT or INSERT")
	}

	p.acceptSymbol(";")
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected trailing input")
	}
	return stmt, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) peekKeyword(kw string) bool {
	tok := p.peek()
	return tok.kind == tokKeyword && tok.text == kw
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.peekKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return p.errorf(p.peek(), "expected %s", kw)
	}
	return nil
}

func (p *parser) acceptSymbol(sym string) bool {
	tok := p.peek()
	if tok.kind == tokSymbol && tok.text == sym {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectSymbol(sym string) error {
	if !p.acceptSymbol(sym) {
		return p.errorf(p.peek(), "expected %q", sym)
	}
	return nil
}

func (p *parser) expectIdent(what string) (string, error) {
	tok := p.peek()
	if tok.kind != tokIdent {
		return "", p.errorf(tok, "expected %s, found %s", what, tok.kind)
	}
	p.pos++
	return tok.text, nil
}

func (p *parser) errorf(tok token, format string, args ...interface{}) *SyntaxError {
	text := tok.text
	if tok.kind == tokString {
		text = "'" + text + "'"
	}
	return &SyntaxError{Start: tok.start, End: tok.end, Token: text, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parseSelect() (*Query, error) {
	p.next() // SELECT

	var fields []string
	if !p.acceptSymbol("*") {
		for {
			f, err := p.expectIdent("field name")
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
			if !p.acceptSymbol(",") {
				break
			}
		}
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	collection, err := p.expectIdent("collection name")
	if err != nil {
		return nil, err
	}

	q := New(collection)
	if len(fields) > 0 {
		q.Projection = &Projection{Mode: Include, Fields: fields}
	}

	if p.acceptKeyword("WHERE") {
		if q.Filter, err = p.parseWhere(); err != nil {
			return nil, err
		}
	}

	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			f, err := p.expectIdent("sort field")
			if err != nil {
				return nil, err
			}
			order := Asc
			if p.acceptKeyword("DESC") {
				order = Desc
			} else {
				p.acceptKeyword("ASC")
			}
			q.Sort = append(q.Sort, SortField{Field: f, Order: order})
			if !p.acceptSymbol(",") {
				break
			}
		}
	}

	if p.acceptKeyword("LIMIT") {
		n, err := p.parseCount()
		if err != nil {
			return nil, err
		}
		q.Limit = &n
	}
	if p.acceptKeyword("OFFSET") {
		n, err := p.parseCount()
		if err != nil {
			return nil, err
		}
		q.Offset = &n
	}
	return q, nil
}

func (p *parser) parseCount() (int, error) {
	tok := p.next()
	if tok.kind != tokNumber {
		return 0, p.errorf(tok, "expected a row count")
	}
	n, err := strconv.Atoi(tok.text)
	if err != nil || n < 0 {
		return 0, p.errorf(tok, "row count must be a non-negative integer")
	}
	return n, nil
}

func (p *parser) parseWhere() (*Filter, error) {
	var (
		conds   []Condition
		negated []bool
		joiner  string
	)
	for {
		cond, neg, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
		negated = append(negated, neg)

		tok := p.peek()
		if tok.kind != tokKeyword || (tok.text != "AND" && tok.text != "OR") {
			break
		}
		if joiner != "" && joiner != tok.text {
			return nil, p.errorf(tok, "cannot mix AND and OR in one WHERE clause")
		}
		joiner = tok.text
		p.next()
	}

	anyNeg, allNeg := false, true
	for _, n := range negated {
		anyNeg = anyNeg || n
		allNeg = allNeg && n
	}
	switch {
	case !anyNeg:
		op := And
		if joiner == "OR" {
			op = Or
		}
		return &Filter{Operator: op, Conditions: conds}, nil
	case allNeg && joiner != "OR":
		// a NOT x AND b NOT y holds when none of x, y holds
		return &Filter{Operator: Not, Conditions: conds}, nil
	}
	return nil, p.errorf(p.peek(), "negated conditions can only be combined with AND and other negated conditions")
}

// parseCondition returns the positive form of a condition and whether it
// was negated.
func (p *parser) parseCondition() (Condition, bool, error) {
	field, err := p.expectIdent("field name")
	if err != nil {
		return Condition{}, false, err
	}

	negated := p.acceptKeyword("NOT")
	switch {
	case p.acceptKeyword("LIKE"):
		tok := p.next()
		if tok.kind != tokString {
			return Condition{}, false, p.errorf(tok, "LIKE needs a quoted pattern")
		}
		return Condition{Field: field, Operator: Like, Value: tok.text}, negated, nil

	case p.acceptKeyword("IN"):
		if err := p.expectSymbol("("); err != nil {
			return Condition{}, false, err
		}
		values := []interface{}{}
		for {
			v, err := p.parseLiteral()
			if err != nil {
				return Condition{}, false, err
			}
			values = append(values, v)
			if !p.acceptSymbol(",") {
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return Condition{}, false, err
		}
		return Condition{Field: field, Operator: In, Value: values}, negated, nil
	}
	if negated {
		return Condition{}, false, p.errorf(p.peek(), "expected LIKE or IN after NOT")
	}

	tok := p.next()
	var op Operator
	if tok.kind == tokSymbol {
		switch tok.text {
		case "=":
			op = Eq
		case "!=", "<>":
			op = Ne
		case ">":
			op = Gt
		case ">=":
			op = Gte
		case "<":
			op = Lt
		case "<=":
			op = Lte
		}
	}
	if op == "" {
		return Condition{}, false, p.errorf(tok, "expected a comparison operator")
	}
	v, err := p.parseLiteral()
	if err != nil {
		return Condition{}, false, err
	}
	return Condition{Field: field, Operator: op, Value: v}, false, nil
}

func (p *parser) parseLiteral() (interface{}, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return tok.text, nil
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errorf(tok, "malformed number")
		}
		return f, nil
	case tokKeyword:
		switch tok.text {
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		case "NULL":
			return nil, nil
		}
	}
	return nil, p.errorf(tok, "expected a literal")
}

func (p *parser) parseInsert() ([]WriteOperation, error) {
	p.next() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	collection, err := p.expectIdent("collection name")
	if err != nil {
		return nil, err
	}

	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var fields []string
	for {
		f, err := p.expectIdent("column name")
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		if !p.acceptSymbol(",") {
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}

	var writes []WriteOperation
	for {
		open := p.peek()
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var values []interface{}
		for {
			v, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if !p.acceptSymbol(",") {
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		if len(values) != len(fields) {
			return nil, p.errorf(open, "row has %d values for %d columns", len(values), len(fields))
		}

		doc := storage.Document{}
		for i, f := range fields {
			if err := jsonptr.Set(doc, jsonptr.FromField(f), values[i]); err != nil {
				return nil, p.errorf(open, "cannot set column %s: %v", f, err)
			}
		}
		writes = append(writes, WriteOperation{Collection: collection, Document: doc})

		if !p.acceptSymbol(",") {
			break
		}
	}
	return writes, nil
}
