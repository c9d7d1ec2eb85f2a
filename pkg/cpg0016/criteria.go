// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cpg0016

// Criteria selects records by exact, case-sensitive equality on up to six
// fields. A nil field matches any value.
//
// Example:
//
//	c := cpg0016.Criteria{Plate: cpg0016.Value("110000296354")}
type Criteria struct {
	Source   *string `json:"source,omitempty"`
	Batch    *string `json:"batch,omitempty"`
	Plate    *string `json:"plate,omitempty"`
	Site     *string `json:"site,omitempty"`
	Well     *string `json:"well,omitempty"`
	Compound *string `json:"compound,omitempty"`

	// All permits a query without any field constraint, i.e. the whole table.
	All bool `json:"all,omitempty"`
}

// Value returns a pointer to s, for building Criteria literals.
func Value(s string) *string {
	return &s
}

// Empty reports whether no field constraint is set.
func (c Criteria) Empty() bool {
	return c.Source == nil &&
		c.Batch == nil &&
		c.Plate == nil &&
		c.Site == nil &&
		c.Well == nil &&
		c.Compound == nil
}

// Validate rejects criteria that constrain nothing unless All is set.
func (c Criteria) Validate() error {
	if c.Empty() && !c.All {
		return ErrNoCriteria
	}
	return nil
}

// Matches reports whether every set field of c equals the corresponding field of r.
func (c Criteria) Matches(r Record) bool {
	return matchField(c.Source, r.Source) &&
		matchField(c.Batch, r.Batch) &&
		matchField(c.Plate, r.Plate) &&
		matchField(c.Site, r.Site) &&
		matchField(c.Well, r.Well) &&
		matchField(c.Compound, r.Compound)
}

func matchField(want *string, got string) bool {
	return want == nil || *want == got
}
