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

package segment

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/chronicledb/chronicle/column"
)

func TestIndexDRDRoundTrip(t *testing.T) {
	nullOnly := map[string]bool{"z": true}
	allDims := []string{"a", "z", "b"}
	x := &indexDRD{
		cols:    []string{"m1", "m2", "a", "b"},
		dims:    []string{"a", "b"},
		span:    Interval{100, 200},
		bitmap:  "roaring",
		allCols: placeholderVector([]string{"m1", "m2", "a", "z", "b"}, nullOnly),
		allDims: placeholderVector(allDims, nullOnly),
	}
	got, err := decodeIndexDRD(x.encode())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.cols, x.cols) || !reflect.DeepEqual(got.dims, x.dims) {
		t.Fatalf("columns %v dims %v", got.cols, got.dims)
	}
	if got.span != x.span || got.bitmap != "roaring" {
		t.Fatalf("span %v bitmap %q", got.span, got.bitmap)
	}

	// property 4: zipping reconstructs the declared order
	dims, err := reconstructOrder(got.dims, got.allDims)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(dims, allDims) {
		t.Fatalf("reconstructed %v, want %v", dims, allDims)
	}
	cols, err := reconstructOrder(got.cols, got.allCols)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cols, []string{"m1", "m2", "a", "z", "b"}) {
		t.Fatalf("reconstructed %v", cols)
	}
}

func TestReconstructOrderErrors(t *testing.T) {
	// placeholder demanding more names than available
	if _, err := reconstructOrder(nil, []*string{nil}); err == nil {
		t.Fatal("expected error for missing non-null name")
	}
	// unplaced non-null names
	if _, err := reconstructOrder([]string{"a"}, nil); err == nil {
		t.Fatal("expected error for unplaced name")
	}
}

// older readers stop after the bitmap serde identifier;
// the placeholder vectors must therefore sit at the blob
// tail and leave everything in front of them untouched.
func TestIndexDRDPlaceholdersAtTail(t *testing.T) {
	base := &indexDRD{
		cols:   []string{"m", "a"},
		dims:   []string{"a"},
		span:   Interval{1, 2},
		bitmap: "roaring",
	}
	bare := base.encode()
	full := (&indexDRD{
		cols: base.cols, dims: base.dims, span: base.span, bitmap: base.bitmap,
		allCols: placeholderVector([]string{"m", "a", "z"}, map[string]bool{"z": true}),
		allDims: placeholderVector([]string{"a", "z"}, map[string]bool{"z": true}),
	}).encode()
	// strip the two empty trailing vectors from the bare
	// encoding: the remainder is the version-stable prefix
	empty := len(bare) - 2*emptyIndexedLen()
	if !bytes.HasPrefix(full, bare[:empty]) {
		t.Fatal("placeholder vectors altered the leading layout")
	}
}

func emptyIndexedLen() int {
	return len(column.AppendIndexed(nil, nil, false))
}
