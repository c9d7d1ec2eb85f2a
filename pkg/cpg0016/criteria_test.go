// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cpg0016

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCriteria_Validate(t *testing.T) {
	assert.ErrorIs(t, Criteria{}.Validate(), ErrNoCriteria)
	assert.NoError(t, Criteria{All: true}.Validate())
	assert.NoError(t, Criteria{Well: Value("A01")}.Validate())

	// An empty string is still a constraint.
	assert.NoError(t, Criteria{Plate: Value("")}.Validate())
}

func TestCriteria_Matches(t *testing.T) {
	r := testRecord("110000296354", "a.tif")

	tests := []struct {
		name string
		c    Criteria
		want bool
	}{
		{"no constraints", Criteria{All: true}, true},
		{"plate equal", Criteria{Plate: Value("110000296354")}, true},
		{"plate differs", Criteria{Plate: Value("X")}, false},
		{"case sensitive", Criteria{Well: Value("a01")}, false},
		{"all fields equal", Criteria{
			Source:   Value(r.Source),
			Batch:    Value(r.Batch),
			Plate:    Value(r.Plate),
			Site:     Value(r.Site),
			Well:     Value(r.Well),
			Compound: Value(r.Compound),
		}, true},
		{"one of two differs", Criteria{Plate: Value(r.Plate), Site: Value("9")}, false},
		{"source differs", Criteria{Source: Value("source_1")}, false},
		{"batch differs", Criteria{Batch: Value("other")}, false},
		{"compound differs", Criteria{Compound: Value("other")}, false},
		{"empty value does not match non-empty field", Criteria{Site: Value("")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Matches(r))
		})
	}
}

func TestCriteria_Empty(t *testing.T) {
	assert.True(t, Criteria{}.Empty())
	assert.True(t, Criteria{All: true}.Empty())
	assert.False(t, Criteria{Compound: Value("x")}.Empty())
}
