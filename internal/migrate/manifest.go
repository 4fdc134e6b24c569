package migrate

import (
	"fmt"
	"os"

	"github.com/hyperengineering/simplesync/internal/store"
	"gopkg.in/yaml.v3"
)

// Manifest is a declarative schema release: an application version plus
// def-only migration steps. It carries no code, so it can be shipped to
// clients as a schema update.
type Manifest struct {
	AppVersion string
	Registry   Registry
}

type manifestFile struct {
	AppVersion string                  `yaml:"app_version"`
	Steps      map[string]manifestStep `yaml:"steps"`
}

type manifestStep struct {
	Def []manifestDef `yaml:"def"`
}

type manifestDef struct {
	Op      DefOp          `yaml:"op"`
	Table   string         `yaml:"table"`
	Columns []store.Column `yaml:"columns,omitempty"`
	Column  *store.Column  `yaml:"column,omitempty"`
}

// ParseManifest decodes a YAML manifest.
//
//	app_version: "3"
//	steps:
//	  0001_items:
//	    def:
//	      - op: syncTable
//	        table: items
//	        columns: [{name: title, type: text}]
func ParseManifest(data []byte) (*Manifest, error) {
	var f manifestFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	reg := make(Registry, len(f.Steps))
	for key, ms := range f.Steps {
		if _, err := ParseVersion(key); err != nil {
			return nil, err
		}
		step := Step{Def: make([]Def, 0, len(ms.Def))}
		for i, md := range ms.Def {
			d, err := md.toDef()
			if err != nil {
				return nil, fmt.Errorf("step %s def %d: %w", key, i, err)
			}
			step.Def = append(step.Def, d)
		}
		reg[key] = step
	}
	if _, err := reg.ordered(); err != nil {
		return nil, err
	}
	return &Manifest{AppVersion: f.AppVersion, Registry: reg}, nil
}

func (md manifestDef) toDef() (Def, error) {
	if md.Table == "" {
		return Def{}, fmt.Errorf("%s: table is required", md.Op)
	}
	switch md.Op {
	case OpCreateTable:
		return CreateTable(md.Table, md.Columns...), nil
	case OpSyncTable:
		return SyncTable(md.Table, md.Columns...), nil
	case OpAddColumn:
		if md.Column == nil || md.Column.Name == "" {
			return Def{}, fmt.Errorf("%s %s: column is required", md.Op, md.Table)
		}
		return AddColumn(md.Table, *md.Column), nil
	default:
		return Def{}, fmt.Errorf("%w: %q", ErrUnknownDefOp, md.Op)
	}
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, nil, err
	}
	return m, data, nil
}
