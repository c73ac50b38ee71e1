// Package schema loads the JSON Schema documents of a database and turns
// them into validators.
//
// Schemas live under <db>/schemas/v1 and are addressed by logical URIs of
// the form db://<space>/<db>/schemas/v1/<relative-path>. A schema may carry
// an x_rules array describing computed fields; ComputeThenValidate derives
// those fields before structural validation runs.
package schema

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonreference"

	"github.com/kartikbazzad/bunbase/jsondb/internal/jsonptr"
	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// Scheme is the URI scheme of logical schema addresses.
const Scheme = "db"

// Registry maps logical URIs to parsed schema documents.
type Registry struct {
	space   string
	db      string
	schemas map[string]interface{}
	mu      sync.RWMutex
}

// New returns an empty registry for space/db.
func New(space, db string) *Registry {
	return &Registry{
		space:   space,
		db:      db,
		schemas: make(map[string]interface{}),
	}
}

// FromDB walks the schema tree of a database and registers every .json
// file under its logical URI.
func FromDB(layout storage.Layout) (*Registry, error) {
	reg := New(layout.Space, layout.DB)
	root := layout.SchemasRoot()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		var doc interface{}
		if err := storage.ReadJSON(path, &doc); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		reg.Register(reg.URI(filepath.ToSlash(rel)), doc)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("failed to load schemas from %s: %w", root, err)
	}
	return reg, nil
}

// Register adds or replaces a schema document.
func (r *Registry) Register(uri string, doc interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[stripFragment(uri)] = doc
}

// URI builds the logical URI of a path relative to schemas/v1.
func (r *Registry) URI(relative string) string {
	relative = strings.TrimPrefix(filepath.ToSlash(relative), "/")
	return fmt.Sprintf("%s://%s/%s/%s/%s/%s", Scheme, r.space, r.db, storage.SchemasDir, storage.SchemaVersion, relative)
}

// GetByURI returns the document registered under uri, ignoring any fragment.
func (r *Registry) GetByURI(uri string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.schemas[stripFragment(uri)]
	return doc, ok
}

// ListURIs returns every registered URI, sorted.
func (r *Registry) ListURIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uris := make([]string, 0, len(r.schemas))
	for uri := range r.schemas {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// ResolveRef resolves a $ref found in the document at base. The path part
// is joined against base, the document fetched, and the fragment (if any)
// walked as a JSON Pointer.
func (r *Registry) ResolveRef(base, ref string) (interface{}, error) {
	path, fragment := splitFragment(ref)

	target := stripFragment(base)
	if path != "" {
		joined, err := Join(base, path)
		if err != nil {
			return nil, err
		}
		target = joined
	}

	doc, ok := r.GetByURI(target)
	if !ok {
		return nil, fmt.Errorf("%w: schema %s", util.ErrNotFound, target)
	}
	if fragment == "" {
		return doc, nil
	}

	pointer, err := url.PathUnescape(fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: bad fragment %q: %w", util.ErrInvalidArgument, fragment, err)
	}
	v, ok := jsonptr.Get(doc, pointer)
	if !ok {
		return nil, fmt.Errorf("%w: pointer %s in schema %s", util.ErrNotFound, pointer, target)
	}
	return v, nil
}

// Join resolves relative against base following RFC 3986: "." and ".."
// segments are folded and absolute db:// references are returned unchanged.
// The result never carries base's fragment.
func Join(base, relative string) (string, error) {
	if strings.HasPrefix(relative, Scheme+"://") {
		return relative, nil
	}
	parent, err := gojsonreference.NewJsonReference(base)
	if err != nil {
		return "", fmt.Errorf("%w: bad base URI %q: %w", util.ErrInvalidArgument, base, err)
	}
	child, err := gojsonreference.NewJsonReference(relative)
	if err != nil {
		return "", fmt.Errorf("%w: bad reference %q: %w", util.ErrInvalidArgument, relative, err)
	}
	joined, err := parent.Inherits(child)
	if err != nil {
		return "", fmt.Errorf("%w: cannot join %q to %q: %w", util.ErrInvalidArgument, relative, base, err)
	}
	return joined.String(), nil
}

func splitFragment(ref string) (string, string) {
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

func stripFragment(uri string) string {
	path, _ := splitFragment(uri)
	return path
}
