package crate

import (
	"encoding/json"
	"slices"
)

// Report is the outcome of validating a graph. A graph that fails
// validation is still a successful validation: IsValid is simply false.
type Report struct {
	IsValid bool
	// Entities is the sorted set of identifiers discovered in the graph.
	// On the wire it is also emitted under the legacy name foundIdentifiers.
	Entities []string
	Issues   []string
}

// NewReport builds a report, deduplicating and sorting entities.
func NewReport(valid bool, entities, issues []string) *Report {
	set := slices.Clone(entities)
	slices.Sort(set)
	return &Report{
		IsValid:  valid,
		Entities: slices.Compact(set),
		Issues:   issues,
	}
}

type reportJSON struct {
	IsValid          bool     `json:"isValid"`
	Entities         []string `json:"entities"`
	FoundIdentifiers []string `json:"foundIdentifiers"`
	Issues           []string `json:"issues,omitempty"`
}

// MarshalJSON writes Entities under both its current and legacy names.
func (r Report) MarshalJSON() ([]byte, error) {
	entities := r.Entities
	if entities == nil {
		entities = []string{}
	}
	return json.Marshal(reportJSON{
		IsValid:          r.IsValid,
		Entities:         entities,
		FoundIdentifiers: entities,
		Issues:           r.Issues,
	})
}

// UnmarshalJSON accepts either entities or foundIdentifiers, preferring the former.
func (r *Report) UnmarshalJSON(data []byte) error {
	var raw reportJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.IsValid = raw.IsValid
	r.Entities = raw.Entities
	if r.Entities == nil {
		r.Entities = raw.FoundIdentifiers
	}
	r.Issues = raw.Issues
	return nil
}
