package migrations

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

type migrationFile struct {
	Migrations []Migration `yaml:"migrations"`
}

// LoadFile reads migrations from a YAML or JSON file. The file holds
// either a list of migrations or an object with a "migrations" list.
func LoadFile(path string) ([]Migration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, util.FileError("read migrations", path, err)
	}
	ms, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ms, nil
}

// Parse decodes migrations from YAML or JSON and validates them.
func Parse(data []byte) ([]Migration, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrSerialization, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var ms []Migration
	switch root.Content[0].Kind {
	case yaml.SequenceNode:
		err := decodeStrict(data, &ms)
		if err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var f migrationFile
		if err := decodeStrict(data, &f); err != nil {
			return nil, err
		}
		ms = f.Migrations
	default:
		return nil, fmt.Errorf("%w: migrations must be a list or a mapping", util.ErrSerialization)
	}

	for _, m := range ms {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", util.ErrSerialization, err)
	}
	return nil
}
