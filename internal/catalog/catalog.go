// Package catalog serves item definitions and loot tables. It is a
// read-only collaborator of the exchange: the market asks it whether a
// definition may be traded and the reward flow draws from its tables.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/roller"
)

// Definition describes one item template.
type Definition struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Rarity   string `yaml:"rarity"`
	Tradable bool   `yaml:"tradable"`
	MaxLevel int    `yaml:"max_level"`
}

// DropKind selects what a loot drop pays out.
type DropKind string

const (
	DropCurrency DropKind = "currency"
	DropItem     DropKind = "item"
	DropNothing  DropKind = "nothing"
)

// WeightedLevel is one band of the level roll for an item drop.
type WeightedLevel struct {
	Level  int     `yaml:"level"`
	Weight float64 `yaml:"weight"`
}

// Drop is one outcome of a loot table.
type Drop struct {
	Kind         DropKind        `yaml:"kind"`
	Currency     string          `yaml:"currency,omitempty"`
	Amount       int64           `yaml:"amount,omitempty"`
	DefinitionID string          `yaml:"definition,omitempty"`
	Levels       []WeightedLevel `yaml:"levels,omitempty"`
	Weight       float64         `yaml:"weight"`
}

// LootTable is an ordered weighted list of drops.
type LootTable struct {
	ID    string `yaml:"id"`
	Drops []Drop `yaml:"drops"`
}

// Entries converts the table for roller.Roll. Order is preserved.
func (t LootTable) Entries() []roller.Entry[Drop] {
	out := make([]roller.Entry[Drop], len(t.Drops))
	for i, d := range t.Drops {
		out[i] = roller.Entry[Drop]{Value: d, Weight: d.Weight}
	}
	return out
}

// LevelEntries returns the level roll of an item drop.
func (d Drop) LevelEntries() []roller.Entry[int] {
	out := make([]roller.Entry[int], len(d.Levels))
	for i, l := range d.Levels {
		out[i] = roller.Entry[int]{Value: l.Level, Weight: l.Weight}
	}
	return out
}

// Catalog is the read interface consumed by market and rewards.
type Catalog interface {
	Definition(id string) (Definition, bool)
	LootTable(id string) (LootTable, bool)
}

// ErrInvalidCatalog wraps every validation failure of a catalog file.
var ErrInvalidCatalog = errors.New("invalid catalog")

type file struct {
	Definitions []Definition `yaml:"definitions"`
	LootTables  []LootTable  `yaml:"loot_tables"`
}

// Static is an immutable Catalog. It is safe for concurrent use.
type Static struct {
	defs   map[string]Definition
	tables map[string]LootTable
}

//go:embed default.yaml
var defaultCatalog []byte

// Default parses the catalog shipped with the binary.
func Default() (*Static, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path loads the built-in catalog.
func Load(path string) (*Static, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(raw []byte) (*Static, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	c := &Static{
		defs:   make(map[string]Definition, len(f.Definitions)),
		tables: make(map[string]LootTable, len(f.LootTables)),
	}
	for _, d := range f.Definitions {
		if d.ID == "" {
			return nil, fmt.Errorf("%w: definition without id", ErrInvalidCatalog)
		}
		if _, dup := c.defs[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate definition %q", ErrInvalidCatalog, d.ID)
		}
		c.defs[d.ID] = d
	}
	for _, t := range f.LootTables {
		if err := c.validateTable(t); err != nil {
			return nil, err
		}
		c.tables[t.ID] = t
	}
	return c, nil
}

func (c *Static) validateTable(t LootTable) error {
	if t.ID == "" {
		return fmt.Errorf("%w: loot table without id", ErrInvalidCatalog)
	}
	if _, dup := c.tables[t.ID]; dup {
		return fmt.Errorf("%w: duplicate loot table %q", ErrInvalidCatalog, t.ID)
	}
	if err := roller.Validate(t.Entries()); err != nil {
		return fmt.Errorf("%w: table %q: %w", ErrInvalidCatalog, t.ID, err)
	}
	for i, d := range t.Drops {
		switch d.Kind {
		case DropCurrency:
			if _, err := domain.NormalizeCurrency(d.Currency); err != nil || d.Amount <= 0 {
				return fmt.Errorf("%w: table %q drop %d: currency drop needs a code and a positive amount", ErrInvalidCatalog, t.ID, i)
			}
		case DropItem:
			if _, ok := c.defs[d.DefinitionID]; !ok {
				return fmt.Errorf("%w: table %q drop %d: unknown definition %q", ErrInvalidCatalog, t.ID, i, d.DefinitionID)
			}
			if len(d.Levels) > 0 {
				if err := roller.Validate(d.LevelEntries()); err != nil {
					return fmt.Errorf("%w: table %q drop %d levels: %w", ErrInvalidCatalog, t.ID, i, err)
				}
			}
		case DropNothing:
		default:
			return fmt.Errorf("%w: table %q drop %d: unknown kind %q", ErrInvalidCatalog, t.ID, i, d.Kind)
		}
	}
	return nil
}

func (c *Static) Definition(id string) (Definition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

func (c *Static) LootTable(id string) (LootTable, bool) {
	t, ok := c.tables[id]
	return t, ok
}

// Tradable reports whether items of the definition may be listed. Unknown
// definitions are not tradable; a nil catalog allows everything.
func Tradable(c Catalog, definitionID string) bool {
	if c == nil {
		return true
	}
	d, ok := c.Definition(definitionID)
	return ok && d.Tradable
}
