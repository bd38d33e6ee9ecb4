// Package negotiate turns raw HTTP request pieces into typed inputs for the
// scheduler, rejecting malformed client input with 4xx errors.
package negotiate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/crategate/crategate/internal/crate"
)

// ExportHeader names the requested export format.
const ExportHeader = "export"

// Error is a client input failure carrying the HTTP status to answer with.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func badRequest(msg string, err error) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg, Err: err}
}

// Payload is a validation request body whose media type has been resolved.
// It is either RawJSONLD or ZipBundle.
type Payload interface {
	// MediaType returns the canonical media type of the variant.
	MediaType() string
	// Bytes returns the body as received.
	Bytes() []byte
	payload()
}

// RawJSONLD is a JSON-LD document sent as is.
type RawJSONLD []byte

func (RawJSONLD) MediaType() string { return crate.MediaTypeJSONLD }
func (p RawJSONLD) Bytes() []byte   { return p }
func (RawJSONLD) payload()          {}

// ZipBundle is a ZIP archive carrying ro-crate-metadata.json.
type ZipBundle []byte

func (ZipBundle) MediaType() string { return crate.MediaTypeZip }
func (p ZipBundle) Bytes() []byte   { return p }
func (ZipBundle) payload()          {}

// Resolve selects the payload variant from the Content-Type header.
func Resolve(contentType string, body []byte) (Payload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, badRequest("request body is empty", nil)
	}
	if contentType == "" {
		return nil, badRequest("Content-Type is required", nil)
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, badRequest("invalid Content-Type", err)
	}
	switch mt {
	case crate.MediaTypeJSONLD, crate.MediaTypeJSON:
		return RawJSONLD(body), nil
	case crate.MediaTypeZip:
		return ZipBundle(body), nil
	default:
		return nil, badRequest(fmt.Sprintf("unsupported Content-Type %q", mt), nil)
	}
}

// Decode parses the payload into a graph. Archives are unpacked first. A
// graph without entities is rejected.
func Decode(p Payload) (*crate.Graph, error) {
	doc := p.Bytes()
	if _, ok := p.(ZipBundle); ok {
		meta, err := crate.Unpack(doc)
		if err != nil {
			return nil, badRequest("invalid RO-Crate archive", err)
		}
		doc = meta
	}

	g, err := crate.Parse(doc)
	switch {
	case err == nil:
		return g, nil
	case errors.Is(err, crate.ErrEmptyGraph), errors.Is(err, crate.ErrEmptyDocument):
		return nil, badRequest("RO-Crate contains no entities", err)
	default:
		return nil, badRequest("invalid JSON-LD document", err)
	}
}

var acceptable = map[string]bool{
	crate.MediaTypeJSON:   true,
	crate.MediaTypeJSONLD: true,
	"application/*":       true,
	"*/*":                 true,
}

// Acceptable reports whether a validation report can be served under the
// Accept header. An absent header accepts anything; ranges with q=0 are
// refusals and do not count.
func Acceptable(accept string) bool {
	if strings.TrimSpace(accept) == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		mt, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if q, ok := params["q"]; ok {
			if v, err := strconv.ParseFloat(q, 64); err == nil && v == 0 {
				continue
			}
		}
		if acceptable[mt] {
			return true
		}
	}
	return false
}

// ExportFormat reads the export header. It defaults to JSON-LD; any other
// value than JSON-LD or ZIP is answered with 406.
func ExportFormat(h http.Header) (string, error) {
	v := strings.TrimSpace(h.Get(ExportHeader))
	if v == "" {
		return crate.MediaTypeJSONLD, nil
	}
	mt, _, err := mime.ParseMediaType(v)
	if err == nil && (mt == crate.MediaTypeJSONLD || mt == crate.MediaTypeZip) {
		return mt, nil
	}
	return "", &Error{
		Status:  http.StatusNotAcceptable,
		Message: fmt.Sprintf("unsupported export format %q, expected %s or %s", v, crate.MediaTypeJSONLD, crate.MediaTypeZip),
	}
}

// Identifiers decodes an export body: a non-empty JSON array of non-blank
// identifier strings, order preserved.
func Identifiers(body []byte) ([]string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, badRequest("request body is empty", nil)
	}
	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, badRequest("body must be a JSON array of identifiers", err)
	}
	if len(ids) == 0 {
		return nil, badRequest("at least one identifier is required", nil)
	}
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, badRequest(fmt.Sprintf("identifier %d is empty", i), nil)
		}
		ids[i] = id
	}
	return ids, nil
}
