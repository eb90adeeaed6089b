// Package ecconfig loads the EC address-to-position lookup table consumed
// by the ingest loop and the persistor for human-readable naming.
package ecconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entry is one EC's static identity: its address, a human-readable position
// label (e.g. a rack slot name) and an optional display column for the
// status panel.
type Entry struct {
	Address byte   `yaml:"address"`
	Position string `yaml:"position"`
	Column   int    `yaml:"column"` // 0-3, or -1 if unassigned
}

// Table is the parsed EC address/position/column table.
type Table struct {
	Entries []Entry `yaml:"ecs"`

	byAddress map[byte]Entry
}

// Load reads and parses the EC table from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ecconfig: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML EC table data of the form:
//
//	ecs:
//	  - address: 171
//	    position: A1
//	    column: 0
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("ecconfig: parse YAML: %w", err)
	}
	t.byAddress = make(map[byte]Entry, len(t.Entries))
	for _, e := range t.Entries {
		t.byAddress[e.Address] = e
	}
	return &t, nil
}

// Position returns the configured position label for ec, or "?" if the
// address is not in the table.
func (t *Table) Position(ec byte) string {
	if e, ok := t.byAddress[ec]; ok && e.Position != "" {
		return e.Position
	}
	return "?"
}

// Column returns the configured display column for ec and whether one is
// assigned.
func (t *Table) Column(ec byte) (int, bool) {
	e, ok := t.byAddress[ec]
	if !ok || e.Column < 0 {
		return 0, false
	}
	return e.Column, true
}

// Empty returns an empty table whose Position always answers "?", used when
// no EC table file is configured.
func Empty() *Table {
	return &Table{byAddress: make(map[byte]Entry)}
}
