// Package location resolves raw location strings and coordinates into
// canonical records through a three-tier strategy: dictionary lookup, fuzzy
// match against known names, then external geocoding.
package location

import (
	"fmt"
	"strings"
)

// ErrUnresolvable is returned only when every tier failed for an input.
// Non-fatal to the orchestration loop.
var ErrUnresolvable = fmt.Errorf("unresolvable location")

// Record is the canonical representation of a resolved location, keyed by
// NormalizedName. Records are created at most once per normalized name and
// updated only to fill previously empty fields; they are never deleted.
type Record struct {
	Name           string  `json:"name"`
	NormalizedName string  `json:"normalized_name"`
	Depth1         string  `json:"depth_1"`
	Depth2         string  `json:"depth_2"`
	Depth3         string  `json:"depth_3"`
	Depth4         string  `json:"depth_4,omitempty"`
	OldAddress     string  `json:"old_address,omitempty"`
	NewAddress     string  `json:"new_address,omitempty"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
}

// Keyword returns the most specific location keyword of the record,
// township/neighbourhood first.
func (r Record) Keyword() string {
	if r.Depth3 != "" {
		return r.Depth3
	}
	if r.Depth4 != "" {
		return r.Depth4
	}
	return r.Depth2
}

// fillFrom copies values from other into fields that are currently empty.
// The unique key itself is never touched.
func (r *Record) fillFrom(other Record) {
	if r.Name == "" {
		r.Name = other.Name
	}
	if r.Depth1 == "" {
		r.Depth1 = other.Depth1
	}
	if r.Depth2 == "" {
		r.Depth2 = other.Depth2
	}
	if r.Depth3 == "" {
		r.Depth3 = other.Depth3
	}
	if r.Depth4 == "" {
		r.Depth4 = other.Depth4
	}
	if r.OldAddress == "" {
		r.OldAddress = other.OldAddress
	}
	if r.NewAddress == "" {
		r.NewAddress = other.NewAddress
	}
	if r.Latitude == 0 && r.Longitude == 0 {
		r.Latitude = other.Latitude
		r.Longitude = other.Longitude
	}
}

// Normalize canonicalizes a raw location input: trims, collapses internal
// whitespace and lowercases. Two raw inputs that normalize identically must
// resolve to the same record.
func Normalize(raw string) string {
	fields := strings.Fields(raw)
	return strings.ToLower(strings.Join(fields, " "))
}
