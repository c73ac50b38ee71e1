package index

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/kartikbazzad/bunbase/jsondb/internal/jsonptr"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// textDriver keys documents on the words of a string field.
type textDriver struct{}

var folder = cases.Lower(language.Und)

// Tokenize normalizes s (NFKC, lower case) and splits it on anything that
// is not a letter or digit. Duplicate tokens are dropped, order is kept.
func Tokenize(s string) []string {
	s = folder.String(norm.NFKC.String(s))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// tokensOf collects the tokens of a string field or an array of strings.
func tokensOf(def storage.IndexDefinition, doc storage.Document) []string {
	if doc == nil {
		return nil
	}
	v, ok := jsonptr.Get(doc, def.FieldPath)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return Tokenize(t)
	case []interface{}:
		var parts []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return Tokenize(strings.Join(parts, " "))
	}
	return nil
}

func (textDriver) Update(path string, def storage.IndexDefinition, docID string, oldDoc, newDoc storage.Document) error {
	oldTokens := tokensOf(def, oldDoc)
	newTokens := tokensOf(def, newDoc)
	if len(oldTokens) == 0 && len(newTokens) == 0 {
		return nil
	}

	e, err := load(path)
	if err != nil {
		return err
	}
	for _, tok := range oldTokens {
		e.remove(tok, docID)
	}
	for _, tok := range newTokens {
		e.add(tok, docID)
	}
	return save(path, e)
}

// Search returns the ids containing every token of value, ordered as in
// the posting list of the first token.
func (textDriver) Search(path string, _ storage.IndexDefinition, value interface{}) ([]string, error) {
	s, ok := value.(string)
	if !ok {
		return nil, nil
	}
	tokens := Tokenize(s)
	if len(tokens) == 0 {
		return nil, nil
	}

	e, err := load(path)
	if err != nil {
		return nil, err
	}
	result := e.lookup(tokens[0])
	for _, tok := range tokens[1:] {
		if len(result) == 0 {
			break
		}
		posting := make(map[string]bool, len(e[tok]))
		for _, id := range e[tok] {
			posting[id] = true
		}
		kept := result[:0]
		for _, id := range result {
			if posting[id] {
				kept = append(kept, id)
			}
		}
		result = kept
	}
	return result, nil
}
