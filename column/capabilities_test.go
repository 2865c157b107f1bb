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

import (
	"errors"
	"reflect"
	"testing"
)

func TestMergeFlags(t *testing.T) {
	a := &Capabilities{
		Type:                   String(),
		DictionaryEncoded:      True,
		DictionaryValuesSorted: True,
		DictionaryValuesUnique: True,
		HasMultipleValues:      False,
		HasNulls:               False,
		HasBitmapIndexes:       true,
		Filterable:             true,
	}
	b := &Capabilities{
		Type:                   String(),
		DictionaryEncoded:      False,
		DictionaryValuesSorted: False,
		DictionaryValuesUnique: True,
		HasMultipleValues:      True,
		HasNulls:               True,
		HasBitmapIndexes:       true,
		Filterable:             false,
	}
	got, err := Merge("d", a, b)
	if err != nil {
		t.Fatal(err)
	}
	if !got.DictionaryEncoded.Istrue() {
		t.Error("dictionaryEncoded should OR to true")
	}
	if got.DictionaryValuesSorted.Istrue() {
		t.Error("valuesSorted should AND to false")
	}
	if !got.DictionaryValuesUnique.Istrue() {
		t.Error("valuesUnique should AND to true")
	}
	if !got.HasMultipleValues.Istrue() {
		t.Error("hasMultipleValues should OR to true")
	}
	if !got.HasNulls.Istrue() {
		t.Error("hasNulls should OR to true")
	}
	if !got.HasBitmapIndexes {
		t.Error("agreeing bitmap flags should survive")
	}
	if got.Filterable {
		t.Error("filterable should AND to false")
	}
}

func TestMergeBitmapDisagreement(t *testing.T) {
	a := &Capabilities{Type: String(), HasBitmapIndexes: true}
	b := &Capabilities{Type: String(), HasBitmapIndexes: false}
	got, err := Merge("d", a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got.HasBitmapIndexes {
		t.Error("disagreeing bitmap flags should merge to false")
	}
}

func TestMergeCommutative(t *testing.T) {
	caps := []*Capabilities{
		nil,
		{Type: String(), DictionaryEncoded: True, HasNulls: Unset},
		{Type: String(), DictionaryEncoded: False, HasNulls: True, HasBitmapIndexes: true},
		{Type: String(), DictionaryValuesSorted: True, HasMultipleValues: True},
	}
	for i, a := range caps {
		for j, b := range caps {
			ab, err1 := Merge("d", a, b)
			ba, err2 := Merge("d", b, a)
			if (err1 == nil) != (err2 == nil) {
				t.Fatalf("merge(%d,%d): asymmetric errors", i, j)
			}
			if !reflect.DeepEqual(ab, ba) {
				t.Fatalf("merge(%d,%d) not commutative: %+v vs %+v", i, j, ab, ba)
			}
		}
	}
}

func TestMergeTypeMismatch(t *testing.T) {
	a := &Capabilities{Type: Long()}
	b := &Capabilities{Type: Double()}
	_, err := Merge("m", a, b)
	var bad *IncompatibleTypesError
	if !errors.As(err, &bad) {
		t.Fatalf("expected IncompatibleTypesError, got %v", err)
	}
	if bad.Column != "m" {
		t.Errorf("bad column in error: %q", bad.Column)
	}
	c := &Capabilities{Type: Complex("sketch")}
	d := &Capabilities{Type: Complex("histogram")}
	if _, err := Merge("m", c, d); !errors.As(err, &bad) {
		t.Fatalf("complex subtype mismatch not detected: %v", err)
	}
}

func TestMergeNil(t *testing.T) {
	a := &Capabilities{Type: String(), DictionaryEncoded: True}
	got, err := Merge("d", nil, a)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, a) || got == a {
		t.Fatal("nil merge should clone the non-nil side")
	}
	got, err = Merge("d", nil, nil)
	if err != nil || got != nil {
		t.Fatal("nil,nil should merge to nil")
	}
}

func TestSnapshot(t *testing.T) {
	c := &Capabilities{Type: String()}
	snap := c.Snapshot(DimensionCoercion)
	if !snap.DictionaryEncoded.Istrue() ||
		!snap.DictionaryValuesSorted.Istrue() ||
		!snap.DictionaryValuesUnique.Istrue() {
		t.Error("dimension coercion should default dictionary flags true")
	}
	if snap.HasMultipleValues.Istrue() || snap.HasNulls.Istrue() {
		t.Error("dimension coercion should default multi-value and nulls false")
	}
	snap = c.Snapshot(MetricCoercion)
	if snap.DictionaryEncoded.Istrue() {
		t.Error("metric coercion should default all flags false")
	}
	// explicit values survive coercion
	c.HasNulls = True
	if !c.Snapshot(MetricCoercion).HasNulls.Istrue() {
		t.Error("explicit flag overridden by coercion")
	}
}
