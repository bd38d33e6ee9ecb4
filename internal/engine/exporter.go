package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/crategate/crategate/internal/crate"
)

const (
	crateContext = "https://w3id.org/ro/crate/1.1/context"
	crateProfile = "https://w3id.org/ro/crate/1.1"
)

// CatalogExporter exports objects from a Catalog as an RO-Crate. Output is
// deterministic: the same request always yields the same bytes.
type CatalogExporter struct {
	Catalog *Catalog
}

func (e *CatalogExporter) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var missing []string
	primary := make([]*CatalogObject, 0, len(req.Identifiers))
	for _, id := range req.Identifiers {
		obj, ok := e.Catalog.Lookup(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		primary = append(primary, obj)
	}
	if len(missing) > 0 {
		return nil, &NotFoundError{Identifiers: missing}
	}

	doc, err := json.MarshalIndent(e.document(e.collect(primary, req.Flags), req.Flags), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode crate: %w", err)
	}

	switch req.Format {
	case crate.MediaTypeZip:
		archive, err := crate.Pack(doc)
		if err != nil {
			return nil, err
		}
		return &ExportResult{Content: archive, ContentType: crate.MediaTypeZip}, nil
	case crate.MediaTypeJSONLD, "":
		return &ExportResult{Content: doc, ContentType: crate.MediaTypeJSONLD}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", req.Format)
	}
}

// collect returns the requested objects followed by the related objects the
// flags pull in, without duplicates and in a stable order.
func (e *CatalogExporter) collect(primary []*CatalogObject, f Flags) []*CatalogObject {
	var out []*CatalogObject
	seen := make(map[string]bool)
	add := func(obj *CatalogObject) bool {
		key := NormalizeIdentifier(obj.ID)
		if seen[key] {
			return false
		}
		seen[key] = true
		out = append(out, obj)
		return true
	}
	for _, obj := range primary {
		add(obj)
	}

	var related []*CatalogObject
	relate := func(owner *CatalogObject, ids []string) {
		for _, id := range ids {
			obj, ok := e.Catalog.Lookup(id)
			if !ok {
				continue
			}
			if !f.WithOtherSpaces && obj.Space != owner.Space {
				continue
			}
			if add(obj) {
				related = append(related, obj)
			}
		}
	}

	for _, obj := range primary {
		if f.WithLevelsAbove {
			relate(obj, obj.Parents)
		}
		if f.WithLevelsBelow {
			relate(obj, obj.Children)
		}
	}
	if f.WithParents {
		for _, obj := range related {
			relate(obj, obj.Parents)
		}
	}
	return out
}

func (e *CatalogExporter) document(objects []*CatalogObject, f Flags) map[string]any {
	included := make(map[string]bool, len(objects))
	parts := make([]any, 0, len(objects))
	for _, obj := range objects {
		included[NormalizeIdentifier(obj.ID)] = true
		parts = append(parts, map[string]any{"@id": obj.ID})
	}

	refs := func(ids []string) []any {
		var out []any
		for _, id := range ids {
			if obj, ok := e.Catalog.Lookup(id); ok && included[NormalizeIdentifier(id)] {
				out = append(out, map[string]any{"@id": obj.ID})
			}
		}
		return out
	}

	graph := []any{
		map[string]any{
			"@id":        crate.MetadataFileName,
			"@type":      "CreativeWork",
			"conformsTo": map[string]any{"@id": crateProfile},
			"about":      map[string]any{"@id": "./"},
		},
		map[string]any{
			"@id":     "./",
			"@type":   "Dataset",
			"hasPart": parts,
		},
	}

	for _, obj := range objects {
		entity := make(map[string]any, len(obj.Properties)+len(obj.Derived)+4)
		if !f.ImportCompatible {
			maps.Copy(entity, obj.Derived)
		}
		maps.Copy(entity, obj.Properties)
		entity["@id"] = obj.ID
		if obj.Type != "" {
			entity["@type"] = obj.Type
		}
		if p := refs(obj.Parents); len(p) > 0 {
			entity["isPartOf"] = p
		}
		if c := refs(obj.Children); len(c) > 0 {
			entity["hasPart"] = c
		}
		graph = append(graph, entity)
	}

	return map[string]any{
		"@context": crateContext,
		"@graph":   graph,
	}
}
