// Package board maps the boardType a controller reports to its hardware
// capabilities.
package board

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const GenericType = "generic"

//go:embed boards.yaml
var boardsYAML []byte

type Board struct {
	Type         string `yaml:"type" json:"type"`
	Name         string `yaml:"name" json:"name"`
	Firmware     string `yaml:"firmware" json:"firmware"`
	HasWiFi      bool   `yaml:"wifi" json:"hasWiFi"`
	HasEthernet  bool   `yaml:"ethernet" json:"hasEthernet"`
	HasDisplay   bool   `yaml:"display" json:"hasDisplay"`
	MaxHeaters   int    `yaml:"max-heaters" json:"maxHeaters"`
	MaxDrives    int    `yaml:"max-drives" json:"maxDrives"`
	MaxFans      int    `yaml:"max-fans" json:"maxFans"`
	MaxExtruders int    `yaml:"max-extruders" json:"maxExtruders"`
}

// Generic reports whether b is the fallback entry.
func (b Board) Generic() bool {
	return b.Type == GenericType
}

type Table struct {
	boards map[string]Board
	order  []string
}

// Parse decodes a YAML list of boards. The list must contain a generic entry.
func Parse(data []byte) (*Table, error) {
	var boards []Board
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&boards); err != nil {
		return nil, fmt.Errorf("decode boards: %w", err)
	}
	table := &Table{boards: make(map[string]Board, len(boards))}
	for _, entry := range boards {
		key := normalizeType(entry.Type)
		if key == "" {
			return nil, fmt.Errorf("board %q has no type", entry.Name)
		}
		if _, exists := table.boards[key]; exists {
			return nil, fmt.Errorf("duplicate board type %q", key)
		}
		entry.Type = key
		table.boards[key] = entry
		table.order = append(table.order, key)
	}
	if _, ok := table.boards[GenericType]; !ok {
		return nil, fmt.Errorf("board table has no %q entry", GenericType)
	}
	return table, nil
}

// Lookup returns the board for boardType, falling back to the generic entry.
func (t *Table) Lookup(boardType string) Board {
	if entry, ok := t.boards[normalizeType(boardType)]; ok {
		return entry
	}
	return t.boards[GenericType]
}

func (t *Table) List() []Board {
	boards := make([]Board, 0, len(t.order))
	for _, key := range t.order {
		boards = append(boards, t.boards[key])
	}
	return boards
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the embedded table.
func Default() *Table {
	defaultOnce.Do(func() {
		table, err := Parse(boardsYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded board table: %v", err))
		}
		defaultTable = table
	})
	return defaultTable
}

func Lookup(boardType string) Board {
	return Default().Lookup(boardType)
}

func normalizeType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
