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
	"testing"

	"github.com/chronicledb/chronicle/column"
	"github.com/chronicledb/chronicle/writeout"
)

func TestDecodeIndexSpecYAML(t *testing.T) {
	doc := []byte("metricCompression: s2\nnullHandling: explicit\nwriteOutMedium: tempfile\n")
	spec, err := DecodeIndexSpec(doc)
	if err != nil {
		t.Fatal(err)
	}
	if spec.compressor().Name() != "s2" {
		t.Errorf("compression %q", spec.compressor().Name())
	}
	if spec.nullMode() != column.NullExplicit {
		t.Error("null handling not explicit")
	}
	if spec.mediumKind() != writeout.TempFile {
		t.Error("medium not tempfile")
	}
}

func TestDecodeIndexSpecJSON(t *testing.T) {
	spec, err := DecodeIndexSpec([]byte(`{"bitmap":"roaring","metricCompression":"none"}`))
	if err != nil {
		t.Fatal(err)
	}
	if spec.compressor() != nil {
		t.Error("compression should be disabled")
	}
	if spec.compressionName() != "none" {
		t.Errorf("compression name %q", spec.compressionName())
	}
}

func TestDecodeIndexSpecRejectsUnknown(t *testing.T) {
	bad := [][]byte{
		[]byte(`{"bitmap":"concise"}`),
		[]byte(`{"metricCompression":"lz77"}`),
		[]byte(`{"nullHandling":"maybe"}`),
		[]byte(`{"writeOutMedium":"punchcards"}`),
		[]byte(`{"noSuchField":1}`),
	}
	for _, doc := range bad {
		if _, err := DecodeIndexSpec(doc); err == nil {
			t.Errorf("spec %s should not decode", doc)
		}
	}
}

func TestShouldStore(t *testing.T) {
	cases := []struct {
		spec *DimensionsSpec
		dim  string
		want bool
	}{
		{nil, "z", false},
		{&DimensionsSpec{}, "z", false},
		{&DimensionsSpec{StoreEmptyColumns: true}, "z", false},
		{&DimensionsSpec{StoreEmptyColumns: true, IncludeAllDimensions: true}, "z", true},
		{&DimensionsSpec{StoreEmptyColumns: true, Dimensions: []string{"z"}}, "z", true},
		{&DimensionsSpec{IncludeAllDimensions: true, Dimensions: []string{"z"}}, "z", false},
	}
	for i, c := range cases {
		if got := c.spec.shouldStore(c.dim); got != c.want {
			t.Errorf("case %d: shouldStore = %v, want %v", i, got, c.want)
		}
	}
}
