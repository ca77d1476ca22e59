// Package schema holds the extraction-schema catalog: the named field sets
// the planner hands to the navigation driver, grouped by research category.
// A built-in catalog ships embedded; deployments can load their own YAML.
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/scourhq/scour/internal/research"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded built-in catalog. The embedded file is part
// of the binary, so a parse failure is a programmer error and panics.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultsYAML)
		if err != nil {
			panic(fmt.Sprintf("schema: embedded catalog is broken: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Catalog is an immutable set of extraction schemas indexed by category and
// name.
type Catalog struct {
	byCategory map[research.Category][]research.ExtractionSchema
	byName     map[string]research.ExtractionSchema
	names      []string
}

// Load reads and parses a catalog YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse schema catalog %s: %w", path, err)
	}
	return c, nil
}

type fileCatalog struct {
	Version int          `yaml:"version"`
	Schemas []fileSchema `yaml:"schemas"`
}

type fileSchema struct {
	Name     string      `yaml:"name"`
	Category string      `yaml:"category"`
	Fields   []fileField `yaml:"fields"`
	Rules    []fileRule  `yaml:"rules"`
}

type fileField struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

type fileRule struct {
	Op     string   `yaml:"op"`
	Field  string   `yaml:"field"`
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
	MinLen *int     `yaml:"min_len"`
}

var validCategories = map[research.Category]bool{
	research.CategoryPricing:     true,
	research.CategorySecurity:    true,
	research.CategoryCompanyInfo: true,
	research.CategoryTechnical:   true,
	research.CategoryGeneral:     true,
}

var validAnswerTypes = map[research.AnswerType]bool{
	research.AnswerText:   true,
	research.AnswerNumber: true,
	research.AnswerFlag:   true,
	research.AnswerList:   true,
}

// Parse decodes catalog YAML and validates every schema: known category,
// known field types, known rule ops, unique names, at least one field.
func Parse(data []byte) (*Catalog, error) {
	var raw fileCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if len(raw.Schemas) == 0 {
		return nil, fmt.Errorf("catalog defines no schemas")
	}

	c := &Catalog{
		byCategory: make(map[research.Category][]research.ExtractionSchema),
		byName:     make(map[string]research.ExtractionSchema),
	}
	for i, fs := range raw.Schemas {
		name := strings.TrimSpace(fs.Name)
		if name == "" {
			return nil, fmt.Errorf("schema %d has no name", i)
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("duplicate schema name %q", name)
		}
		cat := research.Category(strings.TrimSpace(fs.Category))
		if !validCategories[cat] {
			return nil, fmt.Errorf("schema %q: unknown category %q", name, fs.Category)
		}
		if len(fs.Fields) == 0 {
			return nil, fmt.Errorf("schema %q has no fields", name)
		}

		s := research.ExtractionSchema{Name: name, Category: cat}
		for _, ff := range fs.Fields {
			fieldName := strings.TrimSpace(ff.Name)
			if fieldName == "" {
				return nil, fmt.Errorf("schema %q has a field with no name", name)
			}
			ft := research.AnswerType(strings.TrimSpace(ff.Type))
			if !validAnswerTypes[ft] {
				return nil, fmt.Errorf("schema %q field %q: unknown type %q", name, fieldName, ff.Type)
			}
			s.Fields = append(s.Fields, research.SchemaField{Name: fieldName, Type: ft, Required: ff.Required})
		}
		for _, fr := range fs.Rules {
			rule, err := buildRule(fr)
			if err != nil {
				return nil, fmt.Errorf("schema %q: %w", name, err)
			}
			s.Rules = append(s.Rules, rule)
		}

		c.byName[name] = s
		c.byCategory[cat] = append(c.byCategory[cat], s)
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c, nil
}

func buildRule(fr fileRule) (research.Predicate, error) {
	field := strings.TrimSpace(fr.Field)
	if field == "" {
		return nil, fmt.Errorf("rule %q has no field", fr.Op)
	}
	switch fr.Op {
	case "has_field":
		return research.HasField{Field: field}, nil
	case "threshold":
		if fr.Min == nil && fr.Max == nil {
			return nil, fmt.Errorf("threshold rule on %q has no bounds", field)
		}
		return research.Threshold{Field: field, Min: fr.Min, Max: fr.Max}, nil
	case "length_above":
		minLen := 0
		if fr.MinLen != nil {
			minLen = *fr.MinLen
		}
		return research.LengthAbove{Field: field, Min: minLen}, nil
	default:
		return nil, fmt.Errorf("unknown rule op %q", fr.Op)
	}
}

// ForCategory returns the schemas registered for a category. Categories
// without schemas fall back to the general set so the planner always has
// something to extract with.
func (c *Catalog) ForCategory(cat research.Category) []research.ExtractionSchema {
	schemas, ok := c.byCategory[cat]
	if !ok || len(schemas) == 0 {
		schemas = c.byCategory[research.CategoryGeneral]
	}
	return append([]research.ExtractionSchema(nil), schemas...)
}

// Get returns the schema with the given name.
func (c *Catalog) Get(name string) (research.ExtractionSchema, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// All returns every schema, ordered by name.
func (c *Catalog) All() []research.ExtractionSchema {
	out := make([]research.ExtractionSchema, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.byName[name])
	}
	return out
}

// Names returns the sorted schema names.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Len reports how many schemas the catalog holds.
func (c *Catalog) Len() int { return len(c.names) }
