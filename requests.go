package jsondb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/query"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// HandleField is the member that identifies a document by a stable,
// human-chosen name. Requests may address a document by handle instead of
// id.
const HandleField = "handle"

// RequestType tags a Request.
type RequestType string

const (
	RequestInsert     RequestType = "insert"
	RequestUpdate     RequestType = "update"
	RequestDelete     RequestType = "delete"
	RequestInsertFrom RequestType = "insertFrom" // insert the document stored at Path
	RequestUpdateFrom RequestType = "updateFrom" // merge the document at Path into its target
	RequestUpsertFrom RequestType = "upsertFrom" // updateFrom, or insertFrom when no target exists
)

// Request is one high-level write. Updates and deletes find their target
// by ID, or by Handle when ID is empty; file requests read ID and handle
// from the loaded document. Updates are merge patches.
type Request struct {
	Type       RequestType      `json:"type"`
	Collection string           `json:"collection"`
	ID         string           `json:"id,omitempty"`
	Handle     string           `json:"handle,omitempty"`
	Document   storage.Document `json:"document,omitempty"`
	Path       string           `json:"path,omitempty"`
}

// ExecuteRequests resolves every request and commits them as one
// transaction. Handles are resolved against committed data, so a request
// cannot address a document inserted earlier in the same batch.
func (cm *CollectionsManager) ExecuteRequests(reqs []Request) error {
	if err := cm.db.checkOpen(); err != nil {
		return err
	}
	return cm.Transaction(func(tx *Tx) error {
		for i, req := range reqs {
			if err := cm.stage(tx, req); err != nil {
				return fmt.Errorf("request %d (%s %s): %w", i, req.Type, req.Collection, err)
			}
		}
		return nil
	})
}

func (cm *CollectionsManager) stage(tx *Tx, req Request) error {
	if req.Collection == "" {
		return fmt.Errorf("%w: request needs a collection", util.ErrInvalidArgument)
	}
	switch req.Type {
	case RequestInsert:
		doc := req.Document.Clone()
		if doc == nil {
			doc = storage.Document{}
		}
		if req.ID != "" {
			doc.SetID(req.ID)
		}
		_, err := tx.Insert(req.Collection, doc)
		return err

	case RequestUpdate:
		if req.Document == nil {
			return fmt.Errorf("%w: update needs a document", util.ErrInvalidArgument)
		}
		id, err := cm.resolveID(req.Collection, req.ID, req.Handle)
		if err != nil {
			return err
		}
		_, err = tx.Patch(req.Collection, id, req.Document)
		return err

	case RequestDelete:
		id, err := cm.resolveID(req.Collection, req.ID, req.Handle)
		if err != nil {
			return err
		}
		return tx.Delete(req.Collection, id)

	case RequestInsertFrom:
		doc, err := cm.loadDataset(req.Path)
		if err != nil {
			return err
		}
		_, err = tx.Insert(req.Collection, doc)
		return err

	case RequestUpdateFrom, RequestUpsertFrom:
		doc, err := cm.loadDataset(req.Path)
		if err != nil {
			return err
		}
		id, _ := doc.GetID()
		handle, _ := doc[HandleField].(string)
		if req.Type == RequestUpsertFrom && id == "" && handle == "" {
			_, err = tx.Insert(req.Collection, doc)
			return err
		}
		target, err := cm.existingID(req.Collection, id, handle)
		if req.Type == RequestUpsertFrom && errors.Is(err, util.ErrNotFound) {
			_, err = tx.Insert(req.Collection, doc)
			return err
		}
		if err != nil {
			return err
		}
		_, err = tx.Patch(req.Collection, target, doc)
		return err
	}
	return fmt.Errorf("%w: unknown request type %q", util.ErrInvalidArgument, req.Type)
}

// resolveID returns id when set, otherwise the id of the document whose
// handle field equals handle.
func (cm *CollectionsManager) resolveID(collection, id, handle string) (string, error) {
	if id != "" {
		return id, nil
	}
	if handle == "" {
		return "", fmt.Errorf("%w: request needs an id or a handle", util.ErrInvalidArgument)
	}
	q, err := query.NewBuilder(collection).WhereEq(HandleField, handle).Limit(1).Build()
	if err != nil {
		return "", err
	}
	res, err := cm.db.Query().ExecuteQuery(q)
	if err != nil {
		return "", err
	}
	if len(res.Documents) == 0 {
		return "", fmt.Errorf("%w: no document with handle %q in %s", util.ErrNotFound, handle, collection)
	}
	found, ok := res.Documents[0].GetID()
	if !ok {
		return "", fmt.Errorf("%w: document with handle %q in %s has no id", util.ErrNotFound, handle, collection)
	}
	return found, nil
}

// existingID resolves id or handle to a stored document.
func (cm *CollectionsManager) existingID(collection, id, handle string) (string, error) {
	target, err := cm.resolveID(collection, id, handle)
	if err != nil {
		return "", err
	}
	if _, err := cm.store.ReadDocument(collection, target); err != nil {
		return "", err
	}
	return target, nil
}

// datasetPath expands $DATASET and resolves relative paths against the
// dataset directory.
func (cm *CollectionsManager) datasetPath(path string) string {
	dir := cm.db.opts.DatasetDir
	const variable = "$DATASET"
	if strings.HasPrefix(path, variable) {
		return filepath.Join(dir, strings.TrimPrefix(path, variable))
	}
	if dir != "" && !filepath.IsAbs(path) {
		return filepath.Join(dir, path)
	}
	return path
}

func (cm *CollectionsManager) loadDataset(path string) (storage.Document, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file request needs a path", util.ErrInvalidArgument)
	}
	resolved := cm.datasetPath(path)
	var doc storage.Document
	if err := storage.ReadJSON(resolved, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: dataset %s is not a JSON object", util.ErrInvalidArgument, resolved)
	}
	cm.log.Debugw("loaded dataset", "path", resolved)
	return doc, nil
}

// catalogSchema returns the schema the catalog records for collection,
// rebased onto this database's schema namespace, or "" when none is
// recorded.
func (cm *CollectionsManager) catalogSchema(collection string) (string, error) {
	catalog, err := storage.LoadCatalog(cm.store.Layout().SystemPath())
	if err != nil {
		return "", fmt.Errorf("failed to load catalog: %w", err)
	}
	entry, ok := catalog.Collections[collection]
	if !ok || entry.Schema == "" {
		return "", nil
	}
	rel := entry.Schema
	if _, after, found := strings.Cut(rel, "/schemas/v1/"); found {
		rel = after
	}
	path := filepath.Join(cm.store.Layout().SchemasRoot(), filepath.FromSlash(rel))
	if _, err := os.Stat(path); err != nil {
		return "", util.FileError("find schema", path, err)
	}
	return cm.db.registry.URI(rel), nil
}
