package jsondb

import (
	"fmt"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/query"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// Iterator is a cursor over query results. Next advances the cursor and
// Value returns the current document, or the error that stopped the
// cursor. Stages are chained: slice -> filter -> sort -> skip -> limit ->
// project.
type Iterator interface {
	Next() bool
	Value() (storage.Document, error)
	Close() error
}

var errNoCurrent = fmt.Errorf("%w: cursor is not on a document", util.ErrInvalidArgument)

// SliceIterator walks documents already in memory.
type SliceIterator struct {
	docs []storage.Document
	pos  int // documents consumed; the current one is docs[pos-1]
}

func NewSliceIterator(docs []storage.Document) *SliceIterator {
	return &SliceIterator{docs: docs}
}

func (it *SliceIterator) Next() bool {
	if it.pos > len(it.docs) {
		return false
	}
	it.pos++
	return it.pos <= len(it.docs)
}

func (it *SliceIterator) Value() (storage.Document, error) {
	if it.pos == 0 || it.pos > len(it.docs) {
		return nil, errNoCurrent
	}
	return it.docs[it.pos-1], nil
}

func (it *SliceIterator) Close() error {
	it.docs = nil
	it.pos = 0
	return nil
}

// FilterIterator yields the documents of source accepted by matcher. A
// source error is reported once through Value and ends the cursor.
type FilterIterator struct {
	source  Iterator
	matcher *query.Matcher
	current storage.Document
	err     error
}

func NewFilterIterator(source Iterator, matcher *query.Matcher) *FilterIterator {
	return &FilterIterator{source: source, matcher: matcher}
}

func (it *FilterIterator) Next() bool {
	if it.err != nil {
		return false
	}
	it.current = nil
	for it.source.Next() {
		doc, err := it.source.Value()
		if err != nil {
			it.err = err
			return true
		}
		if it.matcher.Match(doc) {
			it.current = doc
			return true
		}
	}
	return false
}

func (it *FilterIterator) Value() (storage.Document, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.current == nil {
		return nil, errNoCurrent
	}
	return it.current, nil
}

func (it *FilterIterator) Close() error {
	return it.source.Close()
}

// LimitIterator stops after n documents.
type LimitIterator struct {
	source    Iterator
	remaining int
}

func NewLimitIterator(source Iterator, n int) *LimitIterator {
	return &LimitIterator{source: source, remaining: n}
}

func (it *LimitIterator) Next() bool {
	if it.remaining <= 0 || !it.source.Next() {
		return false
	}
	it.remaining--
	return true
}

func (it *LimitIterator) Value() (storage.Document, error) { return it.source.Value() }
func (it *LimitIterator) Close() error                     { return it.source.Close() }

// SkipIterator drops the first n documents.
type SkipIterator struct {
	source  Iterator
	pending int
}

func NewSkipIterator(source Iterator, n int) *SkipIterator {
	return &SkipIterator{source: source, pending: n}
}

func (it *SkipIterator) Next() bool {
	for ; it.pending > 0; it.pending-- {
		if !it.source.Next() {
			it.pending = 0
			return false
		}
	}
	return it.source.Next()
}

func (it *SkipIterator) Value() (storage.Document, error) { return it.source.Value() }
func (it *SkipIterator) Close() error                     { return it.source.Close() }

// SortIterator drains source on the first Next, sorts what it read and
// then walks the sorted slice.
type SortIterator struct {
	source Iterator
	fields []query.SortField
	sorted *SliceIterator
	err    error
}

func NewSortIterator(source Iterator, fields []query.SortField) *SortIterator {
	return &SortIterator{source: source, fields: fields}
}

func (it *SortIterator) Next() bool {
	if it.sorted == nil {
		docs, err := Drain(it.source)
		it.sorted = NewSliceIterator(docs)
		if err != nil {
			it.err = err
			return true
		}
		query.SortDocuments(docs, it.fields)
	}
	if it.err != nil {
		return false
	}
	return it.sorted.Next()
}

func (it *SortIterator) Value() (storage.Document, error) {
	switch {
	case it.err != nil:
		return nil, it.err
	case it.sorted == nil:
		return nil, errNoCurrent
	}
	return it.sorted.Value()
}

func (it *SortIterator) Close() error {
	if it.sorted == nil {
		return it.source.Close()
	}
	return it.sorted.Close()
}

// ProjectIterator applies a projection to every document of source.
type ProjectIterator struct {
	source     Iterator
	projection *query.Projection
}

func NewProjectIterator(source Iterator, p *query.Projection) *ProjectIterator {
	return &ProjectIterator{source: source, projection: p}
}

func (it *ProjectIterator) Next() bool { return it.source.Next() }

func (it *ProjectIterator) Value() (storage.Document, error) {
	doc, err := it.source.Value()
	if err != nil {
		return nil, err
	}
	return query.Project(doc, it.projection), nil
}

func (it *ProjectIterator) Close() error { return it.source.Close() }

// Drain reads every remaining document of it and closes it. The result is
// never nil on success.
func Drain(it Iterator) ([]storage.Document, error) {
	defer it.Close()
	docs := []storage.Document{}
	for it.Next() {
		doc, err := it.Value()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
