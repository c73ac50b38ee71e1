package query

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokString
	tokNumber
	tokSymbol
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokKeyword:
		return "keyword"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokSymbol:
		return "symbol"
	}
	return "token"
}

// token is a lexeme with its byte span in the input. Keywords are upper
// cased in text; strings hold their unquoted value.
type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

var keywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "AND": true, "OR": true,
	"NOT": true, "LIKE": true, "IN": true, "ORDER": true, "BY": true,
	"ASC": true, "DESC": true, "LIMIT": true, "OFFSET": true,
	"INSERT": true, "INTO": true, "VALUES": true,
	"TRUE": true, "FALSE": true, "NULL": true,
}

// SyntaxError reports malformed SQL. Start and End are byte offsets of the
// offending token in the statement text.
type SyntaxError struct {
	Start   int
	End     int
	Token   string
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("syntax error at offset %d: %s", e.Start, e.Message)
	}
	return fmt.Sprintf("syntax error at offset %d near %q: %s", e.Start, e.Token, e.Message)
}

func (e *SyntaxError) Unwrap() error {
	return util.ErrSyntax
}

func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '\'':
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < len(input) {
				if input[i] == '\'' {
					if i+1 < len(input) && input[i+1] == '\'' {
						b.WriteByte('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(input[i])
				i++
			}
			if !closed {
				return nil, &SyntaxError{Start: start, End: len(input), Token: input[start:], Message: "unterminated string"}
			}
			toks = append(toks, token{kind: tokString, text: b.String(), start: start, end: i})

		case c == '"' || c == '`':
			start := i
			end := strings.IndexByte(input[i+1:], c)
			if end < 0 {
				return nil, &SyntaxError{Start: start, End: len(input), Token: input[start:], Message: "unterminated quoted identifier"}
			}
			name := input[i+1 : i+1+end]
			i += end + 2
			toks = append(toks, token{kind: tokIdent, text: name, start: start, end: i})

		case isDigit(c) || (c == '-' && i+1 < len(input) && (isDigit(input[i+1]) || input[i+1] == '.')) || (c == '.' && i+1 < len(input) && isDigit(input[i+1])):
			start := i
			i++
			for i < len(input) && (isDigit(input[i]) || input[i] == '.' || input[i] == 'e' || input[i] == 'E' ||
				((input[i] == '+' || input[i] == '-') && (input[i-1] == 'e' || input[i-1] == 'E'))) {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: input[start:i], start: start, end: i})

		case isIdentStart(rune(c)) || c >= utf8.RuneSelf:
			start := i
			for i < len(input) {
				r, size := utf8.DecodeRuneInString(input[i:])
				if !isIdentPart(r) {
					break
				}
				i += size
			}
			if i == start {
				_, size := utf8.DecodeRuneInString(input[i:])
				return nil, &SyntaxError{Start: start, End: start + size, Token: input[start : start+size], Message: "unexpected character"}
			}
			word := input[start:i]
			if keywords[strings.ToUpper(word)] {
				toks = append(toks, token{kind: tokKeyword, text: strings.ToUpper(word), start: start, end: i})
			} else {
				toks = append(toks, token{kind: tokIdent, text: word, start: start, end: i})
			}

		default:
			start := i
			two := ""
			if i+1 < len(input) {
				two = input[i : i+2]
			}
			switch two {
			case "!=", "<>", ">=", "<=":
				toks = append(toks, token{kind: tokSymbol, text: two, start: start, end: i + 2})
				i += 2
				continue
			}
			switch c {
			case ',', '(', ')', ';', '*', '=', '<', '>':
				toks = append(toks, token{kind: tokSymbol, text: string(c), start: start, end: i + 1})
				i++
			default:
				return nil, &SyntaxError{Start: start, End: start + 1, Token: string(c), Message: "unexpected character"}
			}
		}
	}
	toks = append(toks, token{kind: tokEOF, start: len(input), end: len(input)})
	return toks, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || r == '.' || unicode.IsDigit(r)
}
