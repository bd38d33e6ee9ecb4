package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// CatalogObject is one exportable object.
type CatalogObject struct {
	ID    string `yaml:"id" json:"id"`
	Type  string `yaml:"type" json:"type"`
	Space string `yaml:"space" json:"space"`
	// Properties are exported in every mode.
	Properties map[string]any `yaml:"properties" json:"properties"`
	// Derived properties are computed server-side and dropped in
	// import-compatible exports.
	Derived  map[string]any `yaml:"derived" json:"derived"`
	Parents  []string       `yaml:"parents" json:"parents"`
	Children []string       `yaml:"children" json:"children"`
}

type catalogFile struct {
	Objects []CatalogObject `yaml:"objects" json:"objects"`
}

// Catalog indexes objects by normalized identifier.
type Catalog struct {
	objects map[string]*CatalogObject
}

// NewCatalog indexes objects. Later duplicates replace earlier ones.
func NewCatalog(objects []CatalogObject) *Catalog {
	c := &Catalog{objects: make(map[string]*CatalogObject, len(objects))}
	for i := range objects {
		c.objects[NormalizeIdentifier(objects[i].ID)] = &objects[i]
	}
	return c
}

// LoadCatalog reads a catalogue from a .yaml/.yml file or a .json/.jsonc
// file; JSON files may carry comments and trailing commas.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var f catalogFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("catalog %s: unsupported extension %q", path, ext)
	}

	for i, obj := range f.Objects {
		if obj.ID == "" {
			return nil, fmt.Errorf("catalog %s: object %d has no id", path, i)
		}
	}
	return NewCatalog(f.Objects), nil
}

// Lookup finds an object by any spelling of its identifier.
func (c *Catalog) Lookup(id string) (*CatalogObject, bool) {
	obj, ok := c.objects[NormalizeIdentifier(id)]
	return obj, ok
}

// Len returns the number of objects in the catalogue.
func (c *Catalog) Len() int {
	return len(c.objects)
}

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// NormalizeIdentifier folds the common DOI spellings ("https://doi.org/10.x/y",
// "doi:10.x/y", "DOI: 10.x/y") onto the bare lower-case DOI. Other
// identifiers are only trimmed.
func NormalizeIdentifier(id string) string {
	id = strings.TrimSpace(id)
	lower := strings.ToLower(id)
	for _, p := range doiPrefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(lower[len(p):])
		}
	}
	if strings.HasPrefix(lower, "10.") {
		return lower
	}
	return id
}
