// Package crate models RO-Crate metadata: the JSON-LD entity graph, the
// validation report and the ZIP bundle that carries them.
package crate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MetadataFileName is the reserved name of the RO-Crate metadata document,
// both as an archive entry and as the @id of the metadata descriptor entity.
const MetadataFileName = "ro-crate-metadata.json"

// Media types understood by the service.
const (
	MediaTypeJSON   = "application/json"
	MediaTypeJSONLD = "application/ld+json"
	MediaTypeZip    = "application/zip"
)

var (
	ErrEmptyDocument = errors.New("document is empty")
	ErrEmptyGraph    = errors.New("graph contains no entities")
	ErrNotJSONLD     = errors.New("JSON-LD document must be an object or an array")
)

// Entity is one node of a flattened JSON-LD graph.
type Entity map[string]any

// ID returns the entity's @id, or "" when it has none.
func (e Entity) ID() string {
	id, _ := e["@id"].(string)
	return id
}

// Types returns the entity's @type values.
func (e Entity) Types() []string {
	switch t := e["@type"].(type) {
	case string:
		return []string{t}
	case []any:
		types := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				types = append(types, s)
			}
		}
		return types
	}
	return nil
}

// HasType reports whether typ is one of the entity's @type values.
func (e Entity) HasType(typ string) bool {
	for _, t := range e.Types() {
		if t == typ {
			return true
		}
	}
	return false
}

// Ref returns the @id referenced by property key, e.g. {"about": {"@id": "./"}}.
// For an array of references the first one is returned.
func (e Entity) Ref(key string) string {
	switch v := e[key].(type) {
	case map[string]any:
		id, _ := v["@id"].(string)
		return id
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if id, ok := m["@id"].(string); ok {
					return id
				}
			}
		}
	}
	return ""
}

// Graph is a parsed JSON-LD document flattened into its entities.
type Graph struct {
	Context  any
	Entities []Entity
	// Raw holds the document exactly as received.
	Raw []byte
}

// Len returns the number of entities in the graph.
func (g *Graph) Len() int {
	return len(g.Entities)
}

// Find returns the first entity whose @id equals id.
func (g *Graph) Find(id string) (Entity, bool) {
	for _, e := range g.Entities {
		if e.ID() == id {
			return e, true
		}
	}
	return nil, false
}

// Parse decodes a JSON-LD document. Three shapes are accepted: an object
// carrying an @graph array, a bare array of entity objects, and a single
// entity object with an @id. A document that yields no entities returns
// ErrEmptyGraph.
func Parse(data []byte) (*Graph, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	g := &Graph{Raw: data}
	switch d := doc.(type) {
	case map[string]any:
		g.Context = d["@context"]
		if nodes, ok := d["@graph"]; ok {
			arr, ok := nodes.([]any)
			if !ok {
				return nil, errors.New("@graph must be an array")
			}
			g.Entities = entities(arr)
		} else if _, ok := d["@id"]; ok {
			e := Entity{}
			for k, v := range d {
				if k != "@context" {
					e[k] = v
				}
			}
			g.Entities = []Entity{e}
		}
	case []any:
		g.Entities = entities(d)
	default:
		return nil, ErrNotJSONLD
	}

	if len(g.Entities) == 0 {
		return nil, ErrEmptyGraph
	}
	return g, nil
}

func entities(nodes []any) []Entity {
	out := make([]Entity, 0, len(nodes))
	for _, n := range nodes {
		if m, ok := n.(map[string]any); ok {
			out = append(out, Entity(m))
		}
	}
	return out
}
