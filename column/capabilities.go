// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package column

import "fmt"

// TriState is a boolean that can also be unset.
// Unset absorbs to the identity element of whichever
// logical operator combines it.
type TriState uint8

const (
	Unset TriState = iota
	False
	True
)

// Istrue reports whether t is True.
func (t TriState) Istrue() bool { return t == True }

// Coalesce returns the boolean value of t, or def when unset.
func (t TriState) Coalesce(def bool) bool {
	if t == Unset {
		return def
	}
	return t == True
}

// Of converts a boolean into the corresponding TriState.
func Of(b bool) TriState {
	if b {
		return True
	}
	return False
}

func (t TriState) or(other TriState) TriState {
	if t == Unset {
		return other
	}
	if other == Unset {
		return t
	}
	return Of(t == True || other == True)
}

func (t TriState) and(other TriState) TriState {
	if t == Unset {
		return other
	}
	if other == Unset {
		return t
	}
	return Of(t == True && other == True)
}

// Capabilities describes the type and encoding attributes
// of one column as observed in a single input or derived
// for the merged output.
type Capabilities struct {
	Type Type

	DictionaryEncoded      TriState
	DictionaryValuesSorted TriState
	DictionaryValuesUnique TriState
	HasMultipleValues      TriState
	HasNulls               TriState

	HasBitmapIndexes  bool
	HasSpatialIndexes bool
	Filterable        bool
}

// Clone returns a copy of c, or nil if c is nil.
func (c *Capabilities) Clone() *Capabilities {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// CoercionPolicy supplies defaults for unset tri-state
// flags when capabilities are snapshotted for output.
type CoercionPolicy struct {
	DictionaryEncoded      bool
	DictionaryValuesSorted bool
	DictionaryValuesUnique bool
	HasMultipleValues      bool
	HasNulls               bool
}

// DimensionCoercion resolves unset flags the way a
// freshly-built dictionary-encoded dimension behaves:
// sorted, unique, single-valued, no nulls.
var DimensionCoercion = &CoercionPolicy{
	DictionaryEncoded:      true,
	DictionaryValuesSorted: true,
	DictionaryValuesUnique: true,
}

// MetricCoercion resolves every unset flag to false.
var MetricCoercion = &CoercionPolicy{}

// Snapshot returns a copy of c with every unset tri-state
// flag replaced by the policy default.
func (c *Capabilities) Snapshot(policy *CoercionPolicy) *Capabilities {
	if c == nil {
		return nil
	}
	out := *c
	out.DictionaryEncoded = Of(c.DictionaryEncoded.Coalesce(policy.DictionaryEncoded))
	out.DictionaryValuesSorted = Of(c.DictionaryValuesSorted.Coalesce(policy.DictionaryValuesSorted))
	out.DictionaryValuesUnique = Of(c.DictionaryValuesUnique.Coalesce(policy.DictionaryValuesUnique))
	out.HasMultipleValues = Of(c.HasMultipleValues.Coalesce(policy.HasMultipleValues))
	out.HasNulls = Of(c.HasNulls.Coalesce(policy.HasNulls))
	return &out
}

// IncompatibleTypesError is returned when two inputs
// disagree on the type of a column.
type IncompatibleTypesError struct {
	Column string
	A, B   Type
}

func (e *IncompatibleTypesError) Error() string {
	return fmt.Sprintf("column %q: incompatible types %s and %s", e.Column, e.A, e.B)
}

// Merge folds the capabilities of one column as seen by two
// inputs into a single set of capabilities. Either argument
// may be nil, meaning the column is absent from that input.
// Types must match exactly; flag disagreements resolve by
// logical OR (dictionaryEncoded, hasMultipleValues, hasNulls,
// spatial indexes), logical AND (valuesSorted, valuesUnique,
// filterable), and bitmap indexes degrade to false so that a
// null-only rendition of the column never smuggles an index
// onto the merged output.
func Merge(name string, a, b *Capabilities) (*Capabilities, error) {
	if a == nil {
		return b.Clone(), nil
	}
	if b == nil {
		return a.Clone(), nil
	}
	if !a.Type.Equal(b.Type) {
		return nil, &IncompatibleTypesError{Column: name, A: a.Type, B: b.Type}
	}
	out := &Capabilities{
		Type:                   a.Type,
		DictionaryEncoded:      a.DictionaryEncoded.or(b.DictionaryEncoded),
		HasMultipleValues:      a.HasMultipleValues.or(b.HasMultipleValues),
		HasNulls:               a.HasNulls.or(b.HasNulls),
		DictionaryValuesSorted: a.DictionaryValuesSorted.and(b.DictionaryValuesSorted),
		DictionaryValuesUnique: a.DictionaryValuesUnique.and(b.DictionaryValuesUnique),
		Filterable:             a.Filterable && b.Filterable,
		HasSpatialIndexes:      a.HasSpatialIndexes || b.HasSpatialIndexes,
	}
	if a.HasBitmapIndexes == b.HasBitmapIndexes {
		out.HasBitmapIndexes = a.HasBitmapIndexes
	}
	return out, nil
}
