package migrations

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/r3labs/diff/v3"
	"go.uber.org/zap"

	"github.com/kartikbazzad/bunbase/jsondb"
	"github.com/kartikbazzad/bunbase/jsondb/internal/jsonptr"
	"github.com/kartikbazzad/bunbase/jsondb/internal/logger"
	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// Collection is the hidden collection holding applied migration records.
const Collection = "_migrations"

// Record is the stored trace of an applied migration.
type Record struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	AppliedAt   time.Time `json:"applied_at"`
}

// Migrator applies migrations through a collections manager.
type Migrator struct {
	cm  *jsondb.CollectionsManager
	now func() time.Time
	log *zap.SugaredLogger
}

// NewMigrator returns a migrator for db.
func NewMigrator(db *jsondb.Database) *Migrator {
	return &Migrator{
		cm:  db.Collections(),
		now: time.Now,
		log: logger.Named("migrations"),
	}
}

// Init creates the _migrations collection if it is missing.
func (m *Migrator) Init() error {
	if m.cm.HasCollection(Collection) {
		return nil
	}
	err := m.cm.CreateCollection(Collection, "")
	if errors.Is(err, util.ErrAlreadyExists) {
		return nil
	}
	if err == nil {
		m.log.Infow("created migrations collection")
	}
	return err
}

// Applied returns the applied migrations ordered by version.
func (m *Migrator) Applied() ([]Record, error) {
	if err := m.Init(); err != nil {
		return nil, err
	}
	docs, err := m.cm.ListAll(Collection)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		data, err := doc.Serialize()
		if err != nil {
			return nil, err
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("%w: migration record: %w", util.ErrSerialization, err)
		}
		records = append(records, r)
	}
	sort.SliceStable(records, func(i, j int) bool {
		vi, _ := ParseVersion(records[i].Version)
		vj, _ := ParseVersion(records[j].Version)
		if c := vi.Compare(vj); c != 0 {
			return c < 0
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Run applies every migration not yet recorded, in version order, and
// returns the ids it applied. It stops at the first failing migration;
// migrations applied before it stay recorded.
func (m *Migrator) Run(ms []Migration) ([]string, error) {
	pending := append([]Migration(nil), ms...)
	if err := Sort(pending); err != nil {
		return nil, err
	}
	applied, err := m.appliedIDs()
	if err != nil {
		return nil, err
	}

	var done []string
	for _, mig := range pending {
		if applied[mig.ID] {
			continue
		}
		m.log.Infow("applying migration", "id", mig.ID, "version", mig.Version, "description", mig.Description)
		if err := m.execute(mig.Up); err != nil {
			return done, fmt.Errorf("migration %s: %w", mig.ID, err)
		}
		record := storage.Document{
			"id":          mig.ID,
			"version":     mig.Version,
			"description": mig.Description,
			"applied_at":  m.now().UTC().Format(time.RFC3339Nano),
		}
		if _, err := m.cm.InsertRaw(Collection, record); err != nil {
			return done, fmt.Errorf("failed to record migration %s: %w", mig.ID, err)
		}
		done = append(done, mig.ID)
	}
	return done, nil
}

// Revert runs the Down steps of an applied migration and removes its
// record.
func (m *Migrator) Revert(mig Migration) error {
	if err := mig.Validate(); err != nil {
		return err
	}
	applied, err := m.appliedIDs()
	if err != nil {
		return err
	}
	if !applied[mig.ID] {
		return fmt.Errorf("%w: migration %s is not applied", util.ErrNotFound, mig.ID)
	}
	m.log.Infow("reverting migration", "id", mig.ID, "version", mig.Version)
	if err := m.execute(mig.Down); err != nil {
		return fmt.Errorf("migration %s: %w", mig.ID, err)
	}
	return m.cm.DeleteDocument(Collection, mig.ID)
}

func (m *Migrator) appliedIDs() (map[string]bool, error) {
	records, err := m.Applied()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(records))
	for _, r := range records {
		ids[r.ID] = true
	}
	return ids, nil
}

func (m *Migrator) execute(steps []Step) error {
	for i, s := range steps {
		if err := m.step(s); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, s.Type, err)
		}
	}
	return nil
}

func (m *Migrator) step(s Step) error {
	if err := s.Validate(); err != nil {
		return err
	}
	switch s.Type {
	case CreateCollection:
		return m.cm.CreateCollection(s.Name, s.Schema)
	case DropCollection:
		return m.cm.DropCollection(s.Name)
	case CreateIndex:
		typ := storage.IndexBTree
		if s.IndexType != "" {
			var err error
			if typ, err = storage.ParseIndexType(s.IndexType); err != nil {
				return err
			}
		}
		var err error
		if s.Unique {
			_, err = m.cm.CreateUniqueIndex(s.Collection, s.Fields[0], typ)
		} else {
			_, err = m.cm.CreateIndex(s.Collection, s.Fields[0], typ)
		}
		return err
	case DropIndex:
		return m.cm.DropIndex(s.Collection, s.Name)
	case AddField:
		ptr := jsonptr.FromField(s.Field)
		return m.transform(s.Collection, func(doc storage.Document) error {
			if _, ok := jsonptr.Get(doc.Map(), ptr); ok {
				return nil
			}
			return jsonptr.Set(doc, ptr, storage.CloneValue(s.Default))
		})
	case RemoveField:
		ptr := jsonptr.FromField(s.Field)
		return m.transform(s.Collection, func(doc storage.Document) error {
			jsonptr.Delete(doc, ptr)
			return nil
		})
	case RenameField:
		from, to := jsonptr.FromField(s.OldName), jsonptr.FromField(s.NewName)
		return m.transform(s.Collection, func(doc storage.Document) error {
			v, ok := jsonptr.Get(doc.Map(), from)
			if !ok {
				return nil
			}
			jsonptr.Delete(doc, from)
			return jsonptr.Set(doc, to, v)
		})
	}
	return fmt.Errorf("%w: unknown step type %q", util.ErrInvalidArgument, s.Type)
}

// transform rewrites every document of collection with fn in one
// transaction. Documents fn leaves unchanged are not written.
func (m *Migrator) transform(collection string, fn func(doc storage.Document) error) error {
	docs, err := m.cm.ListAll(collection)
	if err != nil {
		return err
	}
	changed := 0
	err = m.cm.Transaction(func(tx *jsondb.Tx) error {
		for _, doc := range docs {
			id, ok := doc.GetID()
			if !ok {
				continue
			}
			next := doc.Clone()
			if err := fn(next); err != nil {
				return fmt.Errorf("document %s: %w", id, err)
			}
			// a failed diff falls through to a rewrite
			if cl, err := diff.Diff(doc.Map(), next.Map()); err == nil && len(cl) == 0 {
				continue
			}
			if _, err := tx.Update(collection, id, next); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Debugw("transformed documents", "collection", collection, "changed", changed, "total", len(docs))
	return nil
}
