package ask

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed programmes.yaml
var builtinProgrammes []byte

var ErrEmptyCatalog = errors.New("programme catalog has no entries")

// Programme is one fundable programme type with its per-cohort cost.
type Programme struct {
	ID       int      `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	UnitCost int64    `yaml:"unitCost" json:"unitCost"`
	Aliases  []string `yaml:"aliases" json:"aliases,omitempty"`
}

// Catalog is the programme list loaded from YAML. It serves as both the
// unit-cost lookup and the alias resolver for the heuristic matcher.
type Catalog struct {
	programmes map[int]Programme
	aliases    map[string]int
}

type catalogFile struct {
	Programmes []Programme `yaml:"programmes"`
}

// BuiltinCatalog returns the programme list shipped with the binary.
func BuiltinCatalog() *Catalog {
	catalog, err := ParseCatalog(builtinProgrammes)
	if err != nil {
		panic(fmt.Sprintf("ask: builtin catalog: %v", err))
	}
	return catalog
}

// LoadCatalog reads a catalog file; an empty path yields the builtin catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return BuiltinCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read programme catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog reads a YAML programme catalog.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse programme catalog: %w", err)
	}
	return NewCatalog(file.Programmes)
}

// NewCatalog validates programmes and indexes their aliases.
func NewCatalog(programmes []Programme) (*Catalog, error) {
	if len(programmes) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		programmes: make(map[int]Programme, len(programmes)),
		aliases:    make(map[string]int),
	}
	for _, p := range programmes {
		if p.ID <= 0 {
			return nil, fmt.Errorf("programme %q: id must be positive", p.Name)
		}
		if p.UnitCost <= 0 {
			return nil, fmt.Errorf("programme %d: unitCost must be positive", p.ID)
		}
		if _, dup := c.programmes[p.ID]; dup {
			return nil, fmt.Errorf("programme %d: duplicate id", p.ID)
		}
		c.programmes[p.ID] = p
		for _, alias := range append([]string{p.Name}, p.Aliases...) {
			alias = strings.ToLower(strings.TrimSpace(alias))
			if alias != "" {
				c.aliases[alias] = p.ID
			}
		}
	}
	return c, nil
}

func (c *Catalog) UnitCost(programmeTypeID int) (int64, bool) {
	if c == nil {
		return 0, false
	}
	p, ok := c.programmes[programmeTypeID]
	if !ok {
		return 0, false
	}
	return p.UnitCost, true
}

func (c *Catalog) Aliases() map[string]int {
	out := make(map[string]int, len(c.aliases))
	for alias, id := range c.aliases {
		out[alias] = id
	}
	return out
}

func (c *Catalog) Programme(id int) (Programme, bool) {
	p, ok := c.programmes[id]
	return p, ok
}

// Programmes lists entries ordered by id.
func (c *Catalog) Programmes() []Programme {
	out := make([]Programme, 0, len(c.programmes))
	for _, p := range c.programmes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
