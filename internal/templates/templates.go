// Package templates resolves a proposal template id to its ordered section
// list from a YAML catalog.
package templates

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

var ErrNoTemplates = errors.New("template catalog is empty")

// Template is one proposal layout.
type Template struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Funder      string   `yaml:"funder,omitempty" json:"funder,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Sections    []string `yaml:"sections" json:"sections"`
}

type catalogFile struct {
	Default   string     `yaml:"default"`
	Templates []Template `yaml:"templates"`
}

// Catalog is an in-memory template set with a default entry.
type Catalog struct {
	defaultID string
	order     []string
	templates map[string]Template
}

// Builtin returns the catalog shipped with the binary.
func Builtin() *Catalog {
	catalog, err := Parse(builtinCatalog)
	if err != nil {
		panic(fmt.Sprintf("templates: builtin catalog: %v", err))
	}
	return catalog
}

// Load reads a catalog file; an empty path yields the builtin catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Builtin(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, ErrNoTemplates
	}
	c := &Catalog{templates: make(map[string]Template, len(file.Templates))}
	for _, tpl := range file.Templates {
		tpl.ID = strings.TrimSpace(tpl.ID)
		if tpl.ID == "" {
			return nil, fmt.Errorf("template %q: id is required", tpl.Name)
		}
		if len(tpl.Sections) == 0 {
			return nil, fmt.Errorf("template %s: no sections", tpl.ID)
		}
		if _, dup := c.templates[tpl.ID]; dup {
			return nil, fmt.Errorf("template %s: duplicate id", tpl.ID)
		}
		c.templates[tpl.ID] = tpl
		c.order = append(c.order, tpl.ID)
	}
	c.defaultID = strings.TrimSpace(file.Default)
	if c.defaultID == "" {
		c.defaultID = c.order[0]
	}
	if _, ok := c.templates[c.defaultID]; !ok {
		return nil, fmt.Errorf("default template %s not found", c.defaultID)
	}
	return c, nil
}

// Resolve returns the section names for templateID, falling back to the
// default template for empty or unknown ids.
func (c *Catalog) Resolve(_ context.Context, templateID string) ([]string, error) {
	tpl := c.lookup(templateID)
	return append([]string(nil), tpl.Sections...), nil
}

// Canonical returns the id Resolve would actually use.
func (c *Catalog) Canonical(templateID string) string {
	return c.lookup(templateID).ID
}

func (c *Catalog) lookup(templateID string) Template {
	if tpl, ok := c.templates[strings.TrimSpace(templateID)]; ok {
		return tpl
	}
	return c.templates[c.defaultID]
}

func (c *Catalog) Get(id string) (Template, bool) {
	tpl, ok := c.templates[id]
	return tpl, ok
}

func (c *Catalog) DefaultID() string { return c.defaultID }

// List returns templates in file order.
func (c *Catalog) List() []Template {
	out := make([]Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.templates[id])
	}
	return out
}
