// Package catalog holds the immutable package catalog: the assessment
// packages a candidate can be sent to, keyed by integer id.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

// Catalog is safe for concurrent use; it is never mutated after New.
type Catalog struct {
	names map[int]string
	ids   []int
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, _ := New([]schema.Package{
		{ID: 1, Name: "Python Basics"},
		{ID: 2, Name: "Advanced Python"},
		{ID: 3, Name: "Data Science with Python"},
		{ID: 4, Name: "Web Development with Django"},
		{ID: 5, Name: "Machine Learning Fundamentals"},
		{ID: 6, Name: "Deep Learning with TensorFlow"},
		{ID: 7, Name: "Natural Language Processing"},
		{ID: 8, Name: "Python for Data Analysis"},
		{ID: 9, Name: "Flask Web Applications"},
		{ID: 10, Name: "Python Scripting and Automation"},
	})
	return c
}

// New validates packages and builds a catalog. Ids must be positive and
// unique, names non-empty.
func New(packages []schema.Package) (*Catalog, error) {
	if len(packages) == 0 {
		return nil, fmt.Errorf("catalog: no packages")
	}
	c := &Catalog{names: make(map[int]string, len(packages))}
	for _, p := range packages {
		name := strings.TrimSpace(p.Name)
		if p.ID <= 0 {
			return nil, fmt.Errorf("catalog: package %q has invalid id %d", name, p.ID)
		}
		if name == "" {
			return nil, fmt.Errorf("catalog: package %d has no name", p.ID)
		}
		if _, dup := c.names[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate package id %d", p.ID)
		}
		c.names[p.ID] = name
		c.ids = append(c.ids, p.ID)
	}
	sort.Ints(c.ids)
	return c, nil
}

// file is the on-disk YAML layout:
//
//	packages:
//	  - id: 1
//	    name: Python Basics
type file struct {
	Packages []schema.Package `yaml:"packages"`
}

// Parse decodes a YAML catalog payload.
func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog: payload is empty")
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return New(f.Packages)
}

// LoadFile reads a YAML catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Name returns the display name of package id.
func (c *Catalog) Name(id int) (string, bool) {
	name, ok := c.names[id]
	return name, ok
}

// Packages returns all entries ordered by id.
func (c *Catalog) Packages() []schema.Package {
	out := make([]schema.Package, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, schema.Package{ID: id, Name: c.names[id]})
	}
	return out
}

// Map returns a fresh id→name mapping.
func (c *Catalog) Map() map[int]string {
	out := make(map[int]string, len(c.names))
	for id, name := range c.names {
		out[id] = name
	}
	return out
}
