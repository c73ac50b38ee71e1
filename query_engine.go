package jsondb

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kartikbazzad/bunbase/jsondb/index"
	"github.com/kartikbazzad/bunbase/jsondb/internal/logger"
	"github.com/kartikbazzad/bunbase/jsondb/internal/metrics"
	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/query"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// Access plans, as reported by Explain and the query duration metric.
const (
	PlanIndex = "index" // Eq/In lookup on a hash or btree index
	PlanRange = "range" // range scan of a btree index
	PlanScan  = "scan"  // every document of the collection
)

// QueryEngine answers queries against the collections of a database.
type QueryEngine struct {
	db        *Database
	optimizer *query.Optimizer
	log       *zap.SugaredLogger
}

func newQueryEngine(db *Database) *QueryEngine {
	cfg := query.DefaultOptimizerConfig()
	cfg.MaxLimit = db.opts.MaxLimit
	cfg.DefaultLimit = db.opts.DefaultLimit
	return &QueryEngine{
		db:        db,
		optimizer: query.NewOptimizerWithConfig(cfg),
		log:       logger.Named("query"),
	}
}

// ExecuteQuery runs q:
//  1. Optimize the query (condition order, limit bounds).
//  2. Fetch candidates through an index when an AND filter allows it,
//     otherwise scan the collection.
//  3. Evaluate the whole filter, then sort.
//  4. Record the total, apply offset and limit, then the projection.
func (qe *QueryEngine) ExecuteQuery(q *query.Query) (*query.Result, error) {
	start := time.Now()
	if err := qe.db.checkOpen(); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("%w: query cannot be nil", util.ErrInvalidArgument)
	}
	q = qe.optimizer.Optimize(q)
	if !qe.db.store.CollectionExists(q.Collection) {
		return nil, fmt.Errorf("%w: collection %s", util.ErrNotFound, q.Collection)
	}
	matcher, err := query.NewMatcher(q.Filter)
	if err != nil {
		return nil, err
	}

	docs, plan, err := qe.candidates(q)
	if err != nil {
		return nil, err
	}
	matched, err := Drain(NewSortIterator(NewFilterIterator(NewSliceIterator(docs), matcher), q.Sort))
	if err != nil {
		return nil, err
	}

	var it Iterator = NewSliceIterator(matched)
	if q.Offset != nil {
		it = NewSkipIterator(it, *q.Offset)
	}
	if q.Limit != nil {
		it = NewLimitIterator(it, *q.Limit)
	}
	page, err := Drain(NewProjectIterator(it, q.Projection))
	if err != nil {
		return nil, err
	}

	metrics.QueryDuration.WithLabelValues(plan).Observe(time.Since(start).Seconds())
	qe.log.Debugw("query executed", "collection", q.Collection, "plan", plan, "candidates", len(docs), "matched", len(matched))
	return &query.Result{
		Documents:  page,
		TotalCount: len(matched),
		Offset:     q.Offset,
		Limit:      q.Limit,
	}, nil
}

// Iterate returns a cursor over the results of q without materializing
// the total count. Sorting still buffers the matching documents.
func (qe *QueryEngine) Iterate(q *query.Query) (Iterator, error) {
	if err := qe.db.checkOpen(); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("%w: query cannot be nil", util.ErrInvalidArgument)
	}
	q = qe.optimizer.Optimize(q)
	if !qe.db.store.CollectionExists(q.Collection) {
		return nil, fmt.Errorf("%w: collection %s", util.ErrNotFound, q.Collection)
	}
	matcher, err := query.NewMatcher(q.Filter)
	if err != nil {
		return nil, err
	}
	docs, _, err := qe.candidates(q)
	if err != nil {
		return nil, err
	}

	var it Iterator = NewFilterIterator(NewSliceIterator(docs), matcher)
	if len(q.Sort) > 0 {
		it = NewSortIterator(it, q.Sort)
	}
	if q.Offset != nil {
		it = NewSkipIterator(it, *q.Offset)
	}
	if q.Limit != nil {
		it = NewLimitIterator(it, *q.Limit)
	}
	return NewProjectIterator(it, q.Projection), nil
}

// Explain reports the access plan ExecuteQuery would pick for q.
func (qe *QueryEngine) Explain(q *query.Query) (string, error) {
	if err := qe.db.checkOpen(); err != nil {
		return "", err
	}
	if q == nil {
		return "", fmt.Errorf("%w: query cannot be nil", util.ErrInvalidArgument)
	}
	q = qe.optimizer.Optimize(q)
	if _, ok, err := qe.indexCandidates(q); err != nil || ok {
		return PlanIndex, err
	}
	if _, ok, err := qe.rangeCandidates(q); err != nil || ok {
		return PlanRange, err
	}
	return PlanScan, nil
}

// ExecuteSQL parses and runs one statement. An INSERT stages every row in
// a single transaction with schema processing and returns the inserted
// documents.
func (qe *QueryEngine) ExecuteSQL(sql string) (*query.Result, error) {
	stmt, err := query.ParseSQL(sql)
	if err != nil {
		return nil, err
	}
	if stmt.IsQuery() {
		return qe.ExecuteQuery(stmt.Query)
	}

	inserted := make([]storage.Document, 0, len(stmt.Writes))
	err = qe.db.collections.Transaction(func(tx *Tx) error {
		for _, w := range stmt.Writes {
			doc, err := tx.Insert(w.Collection, w.Document)
			if err != nil {
				return err
			}
			inserted = append(inserted, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &query.Result{Documents: inserted, TotalCount: len(inserted)}, nil
}

func (qe *QueryEngine) candidates(q *query.Query) ([]storage.Document, string, error) {
	store := qe.db.store
	if ids, ok, err := qe.indexCandidates(q); err != nil {
		return nil, "", err
	} else if ok {
		return store.ReadDocuments(q.Collection, ids), PlanIndex, nil
	}
	if ids, ok, err := qe.rangeCandidates(q); err != nil {
		return nil, "", err
	} else if ok {
		return store.ReadDocuments(q.Collection, ids), PlanRange, nil
	}
	docs, err := store.ListDocuments(q.Collection)
	if err != nil {
		return nil, "", err
	}
	return docs, PlanScan, nil
}

func conjunctive(q *query.Query) bool {
	return q.Filter != nil && (q.Filter.Operator == query.And || q.Filter.Operator == "")
}

// exactIndex returns the hash or btree index covering field.
func (qe *QueryEngine) exactIndex(collection, field string) (storage.IndexDefinition, bool, error) {
	def, err := qe.db.indexes.FindDefinition(collection, field)
	if errors.Is(err, util.ErrNotFound) {
		return def, false, nil
	}
	if err != nil {
		return def, false, err
	}
	return def, def.Type == storage.IndexHash || def.Type == storage.IndexBTree, nil
}

// indexCandidates looks up the first Eq or In condition that has an exact
// index.
func (qe *QueryEngine) indexCandidates(q *query.Query) ([]string, bool, error) {
	if !conjunctive(q) {
		return nil, false, nil
	}
	for _, c := range q.Filter.Conditions {
		if c.Operator != query.Eq && c.Operator != query.In {
			continue
		}
		def, ok, err := qe.exactIndex(q.Collection, c.Field)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}

		values := []interface{}{query.Normalize(c.Value)}
		if c.Operator == query.In {
			list, isList := values[0].([]interface{})
			if !isList {
				continue
			}
			values = list
		}
		var ids []string
		seen := make(map[string]bool)
		for _, v := range values {
			found, err := qe.db.indexes.Search(q.Collection, def.Name, v)
			if err != nil {
				return nil, false, err
			}
			for _, id := range found {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		return ids, true, nil
	}
	return nil, false, nil
}

// rangeCandidates scans a btree index for the first field with range
// conditions. The bounds come from the first lower and first upper
// condition on that field; the matcher still checks all of them.
func (qe *QueryEngine) rangeCandidates(q *query.Query) ([]string, bool, error) {
	if !conjunctive(q) {
		return nil, false, nil
	}
	for _, c := range q.Filter.Conditions {
		if !c.Operator.IsRange() {
			continue
		}
		def, ok, err := qe.exactIndex(q.Collection, c.Field)
		if err != nil {
			return nil, false, err
		}
		if !ok || def.Type != storage.IndexBTree {
			continue
		}

		var lower, upper *index.Bound
		for _, rc := range q.Filter.Conditions {
			if !rc.Operator.IsRange() || index.NameFor(rc.Field) != def.Name {
				continue
			}
			b := &index.Bound{Value: query.Normalize(rc.Value), Inclusive: rc.Operator == query.Gte || rc.Operator == query.Lte}
			switch rc.Operator {
			case query.Gt, query.Gte:
				if lower == nil {
					lower = b
				}
			default:
				if upper == nil {
					upper = b
				}
			}
		}
		ids, err := qe.db.indexes.SearchRange(q.Collection, def.Name, lower, upper)
		if err != nil {
			return nil, false, err
		}
		return ids, true, nil
	}
	return nil, false, nil
}
