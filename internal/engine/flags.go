package engine

import (
	"net/http"
	"strconv"
	"strings"
)

// Export feature-flag header names. Clients may prefix them with a vendor
// namespace ("openbis.with-levels-above"); the prefix is ignored.
const (
	HeaderWithLevelsAbove  = "with-levels-above"
	HeaderWithLevelsBelow  = "with-levels-below"
	HeaderImportCompatible = "import-compatible"
	HeaderWithParents      = "with-objects-and-datasets-parents"
	HeaderWithOtherSpaces  = "with-objects-and-datasets-other-spaces"
)

// Flags are the optional export switches.
type Flags struct {
	// WithLevelsAbove includes the direct parents of each requested object.
	WithLevelsAbove bool `cbor:"1,keyasint,omitempty"`
	// WithLevelsBelow includes the direct children of each requested object.
	WithLevelsBelow bool `cbor:"2,keyasint,omitempty"`
	// ImportCompatible restricts objects to their import-compatible properties.
	ImportCompatible bool `cbor:"3,keyasint,omitempty"`
	// WithParents includes the parents of related objects pulled in by the level flags.
	WithParents bool `cbor:"4,keyasint,omitempty"`
	// WithOtherSpaces allows related objects from other spaces than the requested object.
	WithOtherSpaces bool `cbor:"5,keyasint,omitempty"`
}

// FlagsFromHeader reads the feature-flag headers. A flag is set when its
// header parses as a true boolean.
func FlagsFromHeader(h http.Header) Flags {
	var f Flags
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		on, err := strconv.ParseBool(strings.TrimSpace(values[0]))
		if err != nil || !on {
			continue
		}
		name := strings.ToLower(key)
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		switch name {
		case HeaderWithLevelsAbove:
			f.WithLevelsAbove = true
		case HeaderWithLevelsBelow:
			f.WithLevelsBelow = true
		case HeaderImportCompatible:
			f.ImportCompatible = true
		case HeaderWithParents:
			f.WithParents = true
		case HeaderWithOtherSpaces:
			f.WithOtherSpaces = true
		}
	}
	return f
}

// SetHeader writes the set flags onto h.
func (f Flags) SetHeader(h http.Header) {
	set := func(name string, on bool) {
		if on {
			h.Set(name, "true")
		}
	}
	set(HeaderWithLevelsAbove, f.WithLevelsAbove)
	set(HeaderWithLevelsBelow, f.WithLevelsBelow)
	set(HeaderImportCompatible, f.ImportCompatible)
	set(HeaderWithParents, f.WithParents)
	set(HeaderWithOtherSpaces, f.WithOtherSpaces)
}
