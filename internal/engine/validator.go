package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/crategate/crategate/internal/crate"
)

// roCrateContext is the prefix every RO-Crate JSON-LD context IRI shares.
const roCrateContext = "https://w3id.org/ro/crate/"

// StructuralValidator applies the RO-Crate structural rules: the crate
// context is referenced, ids are present and unique, and the metadata
// descriptor is about a root Dataset that exists in the graph.
type StructuralValidator struct{}

func (StructuralValidator) Validate(ctx context.Context, g *crate.Graph) (*crate.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var issues, found []string

	if !referencesCrateContext(g.Context) {
		issues = append(issues, "@context does not reference "+roCrateContext)
	}

	seen := make(map[string]bool, g.Len())
	for i, e := range g.Entities {
		id := e.ID()
		if id == "" {
			issues = append(issues, fmt.Sprintf("entity %d has no @id", i))
			continue
		}
		if seen[id] {
			issues = append(issues, fmt.Sprintf("duplicate @id %q", id))
			continue
		}
		seen[id] = true
		if isAbsoluteIRI(id) {
			found = append(found, id)
		}
	}

	if desc, ok := g.Find(crate.MetadataFileName); !ok {
		issues = append(issues, "metadata descriptor "+crate.MetadataFileName+" is missing")
	} else if about := desc.Ref("about"); about == "" {
		issues = append(issues, "metadata descriptor has no about reference")
	} else if root, ok := g.Find(about); !ok {
		issues = append(issues, fmt.Sprintf("root data entity %q is missing", about))
	} else if !root.HasType("Dataset") {
		issues = append(issues, fmt.Sprintf("root data entity %q is not a Dataset", about))
	}

	return crate.NewReport(len(issues) == 0, found, issues), nil
}

func referencesCrateContext(c any) bool {
	switch v := c.(type) {
	case string:
		return strings.HasPrefix(v, roCrateContext)
	case []any:
		for _, item := range v {
			if referencesCrateContext(item) {
				return true
			}
		}
	}
	return false
}

// isAbsoluteIRI reports whether id names something outside the crate,
// e.g. https://doi.org/... or doi:10.1000/x, as opposed to "./" or "#local".
func isAbsoluteIRI(id string) bool {
	u, err := url.Parse(id)
	if err != nil || u.Scheme == "" {
		return false
	}
	return u.Host != "" || u.Opaque != ""
}
