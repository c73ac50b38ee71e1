// Package migrations applies versioned changes to a database: collections
// and indexes are created or dropped, and fields are added, removed or
// renamed across every document of a collection. Applied migrations are
// recorded in the hidden _migrations collection so each runs once.
package migrations

import (
	"fmt"
	"sort"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// StepType tags a Step.
type StepType string

const (
	CreateCollection StepType = "CreateCollection"
	DropCollection   StepType = "DropCollection"
	AddField         StepType = "AddField"
	RemoveField      StepType = "RemoveField"
	RenameField      StepType = "RenameField"
	CreateIndex      StepType = "CreateIndex"
	DropIndex        StepType = "DropIndex"
)

// Step is one change. Which fields apply depends on Type:
//
//	CreateCollection  Name, Schema (optional schema path or URI)
//	DropCollection    Name
//	AddField          Collection, Field, Default
//	RemoveField       Collection, Field
//	RenameField       Collection, OldName, NewName
//	CreateIndex       Collection, Fields (first entry), IndexType, Unique
//	DropIndex         Collection, Name (index name or field)
//
// Field names are dot paths or JSON Pointers.
type Step struct {
	Type       StepType    `json:"type" yaml:"type"`
	Name       string      `json:"name,omitempty" yaml:"name,omitempty"`
	Schema     string      `json:"schema,omitempty" yaml:"schema,omitempty"`
	Collection string      `json:"collection,omitempty" yaml:"collection,omitempty"`
	Field      string      `json:"field,omitempty" yaml:"field,omitempty"`
	Default    interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	OldName    string      `json:"old_name,omitempty" yaml:"old_name,omitempty"`
	NewName    string      `json:"new_name,omitempty" yaml:"new_name,omitempty"`
	Fields     []string    `json:"fields,omitempty" yaml:"fields,omitempty"`
	IndexType  string      `json:"index_type,omitempty" yaml:"index_type,omitempty"`
	Unique     bool        `json:"unique,omitempty" yaml:"unique,omitempty"`
}

// Validate checks that the fields required by Type are set.
func (s Step) Validate() error {
	missing := func(what string) error {
		return fmt.Errorf("%w: %s step needs %s", util.ErrInvalidArgument, s.Type, what)
	}
	switch s.Type {
	case CreateCollection, DropCollection:
		if s.Name == "" {
			return missing("a name")
		}
	case AddField, RemoveField:
		if s.Collection == "" || s.Field == "" {
			return missing("a collection and a field")
		}
	case RenameField:
		if s.Collection == "" || s.OldName == "" || s.NewName == "" {
			return missing("a collection, old_name and new_name")
		}
	case CreateIndex:
		if s.Collection == "" || len(s.Fields) == 0 || s.Fields[0] == "" {
			return missing("a collection and at least one field")
		}
	case DropIndex:
		if s.Collection == "" || s.Name == "" {
			return missing("a collection and an index name")
		}
	default:
		return fmt.Errorf("%w: unknown step type %q", util.ErrInvalidArgument, s.Type)
	}
	return nil
}

// Migration is a versioned list of steps. Down undoes Up and may be empty.
type Migration struct {
	ID          string `json:"id" yaml:"id"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Up          []Step `json:"up" yaml:"up"`
	Down        []Step `json:"down,omitempty" yaml:"down,omitempty"`
}

// Validate checks the id, the version and every step.
func (m Migration) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: migration needs an id", util.ErrInvalidArgument)
	}
	// the id doubles as the record's document id
	if err := storage.ValidateID(m.ID); err != nil {
		return fmt.Errorf("migration %s: %w", m.ID, err)
	}
	if _, err := ParseVersion(m.Version); err != nil {
		return fmt.Errorf("migration %s: %w", m.ID, err)
	}
	for i, s := range append(append([]Step{}, m.Up...), m.Down...) {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("migration %s step %d: %w", m.ID, i, err)
		}
	}
	return nil
}

// Sort orders migrations by version. Equal versions keep their order.
func Sort(ms []Migration) error {
	versions := make(map[string]Version, len(ms))
	for _, m := range ms {
		if err := m.Validate(); err != nil {
			return err
		}
		versions[m.ID], _ = ParseVersion(m.Version)
	}
	seen := make(map[string]bool, len(ms))
	for _, m := range ms {
		if seen[m.ID] {
			return fmt.Errorf("%w: duplicate migration id %s", util.ErrInvalidArgument, m.ID)
		}
		seen[m.ID] = true
	}
	sort.SliceStable(ms, func(i, j int) bool {
		return versions[ms[i].ID].Compare(versions[ms[j].ID]) < 0
	})
	return nil
}
