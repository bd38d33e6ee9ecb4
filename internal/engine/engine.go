// Package engine defines the validation and export engines the service
// delegates to, with built-in implementations and HTTP adapters for
// external ones.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/crategate/crategate/internal/crate"
)

// Validator checks an RO-Crate graph. It is only called with non-empty
// graphs. A graph failing the rules is reported through Report.IsValid,
// not through the error.
type Validator interface {
	Validate(ctx context.Context, g *crate.Graph) (*crate.Report, error)
}

// Exporter resolves identifiers into an RO-Crate in the requested format.
// Unresolvable identifiers are reported with a *NotFoundError.
type Exporter interface {
	Export(ctx context.Context, req ExportRequest) (*ExportResult, error)
}

// ExportRequest is one export call.
type ExportRequest struct {
	Identifiers []string `cbor:"1,keyasint"`
	Format      string   `cbor:"2,keyasint"`
	Flags       Flags    `cbor:"3,keyasint"`
}

// ExportResult carries either the exported bytes or a link to them.
type ExportResult struct {
	Content     []byte
	ContentType string
	DownloadURL string
}

// NotFoundError lists the requested identifiers the exporter could not resolve.
type NotFoundError struct {
	Identifiers []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("identifiers not found: %s", strings.Join(e.Identifiers, ", "))
}

type apiKeyCtxKey struct{}

// WithAPIKey attaches the caller's API key so adapters can forward it.
func WithAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyCtxKey{}, key)
}

// APIKey returns the API key attached with WithAPIKey, or "".
func APIKey(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyCtxKey{}).(string)
	return key
}
