package negotiate

import (
	"errors"
	"net/http"
	"testing"

	"github.com/crategate/crategate/internal/crate"
)

const minimalCrate = `{
  "@context": "https://w3id.org/ro/crate/1.1/context",
  "@graph": [
    {"@id": "ro-crate-metadata.json", "about": {"@id": "./"}},
    {"@id": "./", "@type": "Dataset"}
  ]
}`

func wantStatus(t *testing.T, err error, status int) {
	t.Helper()
	var ne *Error
	if !errors.As(err, &ne) {
		t.Fatalf("error = %v, want *negotiate.Error", err)
	}
	if ne.Status != status {
		t.Errorf("Status = %d, want %d (%s)", ne.Status, status, ne.Message)
	}
	if ne.Message == "" {
		t.Error("Message is empty")
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		contentType string
		want        string
	}{
		{"application/ld+json", crate.MediaTypeJSONLD},
		{"application/ld+json; charset=utf-8", crate.MediaTypeJSONLD},
		{"application/json", crate.MediaTypeJSONLD},
		{"application/zip", crate.MediaTypeZip},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			t.Parallel()
			p, err := Resolve(tt.contentType, []byte("x"))
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if p.MediaType() != tt.want {
				t.Errorf("MediaType() = %q, want %q", p.MediaType(), tt.want)
			}
			if string(p.Bytes()) != "x" {
				t.Errorf("Bytes() = %q, want %q", p.Bytes(), "x")
			}
		})
	}
}

func TestResolve_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"missing content type", "", minimalCrate},
		{"unknown content type", "text/plain", minimalCrate},
		{"malformed content type", "application/", minimalCrate},
		{"empty body", "application/ld+json", ""},
		{"blank body", "application/zip", "  \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Resolve(tt.contentType, []byte(tt.body))
			wantStatus(t, err, http.StatusBadRequest)
		})
	}
}

func TestDecode_JSONLD(t *testing.T) {
	t.Parallel()
	g, err := Decode(RawJSONLD(minimalCrate))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if g.Len() != 2 {
		t.Errorf("Len() = %d, want 2", g.Len())
	}
}

func TestDecode_Zip(t *testing.T) {
	t.Parallel()
	archive, err := crate.Pack([]byte(minimalCrate), crate.Entry{Name: "data/readme.txt", Data: []byte("hi")})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	g, err := Decode(ZipBundle(archive))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := g.Find("./"); !ok {
		t.Error("root entity missing from unpacked graph")
	}
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()
	emptyZip, err := crate.Pack(nil)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	tests := []struct {
		name string
		p    Payload
	}{
		{"malformed json", RawJSONLD("{")},
		{"scalar json", RawJSONLD(`"text"`)},
		{"empty graph", RawJSONLD(`{"@context": "x", "@graph": []}`)},
		{"not a zip", ZipBundle("definitely not a zip")},
		{"zip with empty metadata", ZipBundle(emptyZip)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.p)
			wantStatus(t, err, http.StatusBadRequest)
		})
	}
}

func TestDecode_EmptyGraphWrapsSentinel(t *testing.T) {
	t.Parallel()
	_, err := Decode(RawJSONLD(`[]`))
	if !errors.Is(err, crate.ErrEmptyGraph) {
		t.Errorf("error = %v, want wrapping crate.ErrEmptyGraph", err)
	}
}

func TestAcceptable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		accept string
		want   bool
	}{
		{"", true},
		{"application/json", true},
		{"application/ld+json", true},
		{"application/*", true},
		{"*/*", true},
		{"text/html, application/json;q=0.9", true},
		{"invalid", false},
		{"text/html", false},
		{"application/json;q=0", false},
		{"application/json;q=0, */*;q=0.1", true},
	}
	for _, tt := range tests {
		if got := Acceptable(tt.accept); got != tt.want {
			t.Errorf("Acceptable(%q) = %v, want %v", tt.accept, got, tt.want)
		}
	}
}

func TestExportFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		header string
		want   string
	}{
		{"", crate.MediaTypeJSONLD},
		{"application/ld+json", crate.MediaTypeJSONLD},
		{"application/zip", crate.MediaTypeZip},
		{"Application/Zip", crate.MediaTypeZip},
	}
	for _, tt := range tests {
		h := http.Header{}
		if tt.header != "" {
			h.Set(ExportHeader, tt.header)
		}
		got, err := ExportFormat(h)
		if err != nil {
			t.Errorf("ExportFormat(%q): %v", tt.header, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExportFormat(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}

	for _, bad := range []string{"text/csv", "application/json", "nonsense"} {
		h := http.Header{}
		h.Set(ExportHeader, bad)
		_, err := ExportFormat(h)
		wantStatus(t, err, http.StatusNotAcceptable)
	}
}

func TestIdentifiers(t *testing.T) {
	t.Parallel()
	ids, err := Identifiers([]byte(`[" 10.16907/a ", "https://doi.org/10.1038/s41586-020-3010-5"]`))
	if err != nil {
		t.Fatalf("Identifiers: %v", err)
	}
	if len(ids) != 2 || ids[0] != "10.16907/a" || ids[1] != "https://doi.org/10.1038/s41586-020-3010-5" {
		t.Errorf("Identifiers = %v", ids)
	}
}

func TestIdentifiers_Rejects(t *testing.T) {
	t.Parallel()
	for _, body := range []string{"", "{", "[]", "null", `{"ids": ["a"]}`, `[1, 2]`, `["a", " "]`} {
		_, err := Identifiers([]byte(body))
		wantStatus(t, err, http.StatusBadRequest)
	}
}
