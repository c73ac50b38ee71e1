package index

import "github.com/kartikbazzad/bunbase/jsondb/storage"

// hashDriver answers exact-match lookups only.
type hashDriver struct{}

func (hashDriver) Update(path string, def storage.IndexDefinition, docID string, oldDoc, newDoc storage.Document) error {
	return exactUpdate(path, def, docID, oldDoc, newDoc)
}

func (hashDriver) Search(path string, _ storage.IndexDefinition, value interface{}) ([]string, error) {
	return exactSearch(path, value)
}
