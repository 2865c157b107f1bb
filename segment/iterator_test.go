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
	"reflect"
	"testing"
)

// sliceReader serves pre-built rows, already in the merged
// schema order.
type sliceReader struct {
	rows []Row
	i    int
}

func (r *sliceReader) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *sliceReader) Row() *Row { return &r.rows[r.i-1] }

func row(ts int64, dim string, met int64) Row {
	var dv DimValue
	if dim != "" {
		dv = DimValue{dim}
	}
	return Row{Timestamp: ts, Dims: []DimValue{dv}, Metrics: []MetricValue{LongValue(met)}}
}

func TestMergingOrder(t *testing.T) {
	a := &sliceReader{rows: []Row{row(10, "a", 1), row(30, "a", 3), row(50, "a", 5)}}
	b := &sliceReader{rows: []Row{row(20, "b", 2), row(30, "b", 4), row(40, "b", 6)}}
	it := NewMergingRowIterator([]RowReader{a, b})
	var times []int64
	var inputs []int
	var rowNums []int
	for it.Next() {
		p := it.Pointer()
		times = append(times, p.Timestamp)
		inputs = append(inputs, p.Input)
		rowNums = append(rowNums, p.RowNum)
	}
	wantTimes := []int64{10, 20, 30, 30, 40, 50}
	if !reflect.DeepEqual(times, wantTimes) {
		t.Fatalf("times %v, want %v", times, wantTimes)
	}
	// equal (30, "a") vs (30, "b"): dimension order decides
	wantInputs := []int{0, 1, 0, 1, 1, 0}
	if !reflect.DeepEqual(inputs, wantInputs) {
		t.Fatalf("inputs %v, want %v", inputs, wantInputs)
	}
	wantRows := []int{0, 0, 1, 1, 2, 2}
	if !reflect.DeepEqual(rowNums, wantRows) {
		t.Fatalf("row numbers %v, want %v", rowNums, wantRows)
	}
}

func TestMergingStableTieBreak(t *testing.T) {
	// identical composite keys: input order decides
	a := &sliceReader{rows: []Row{row(10, "x", 1)}}
	b := &sliceReader{rows: []Row{row(10, "x", 2)}}
	it := NewMergingRowIterator([]RowReader{a, b})
	var inputs []int
	for it.Next() {
		inputs = append(inputs, it.Pointer().Input)
	}
	if !reflect.DeepEqual(inputs, []int{0, 1}) {
		t.Fatalf("tie-break order %v", inputs)
	}
}

func TestMergingNullSortsFirst(t *testing.T) {
	a := &sliceReader{rows: []Row{row(10, "a", 1)}}
	b := &sliceReader{rows: []Row{row(10, "", 2)}}
	it := NewMergingRowIterator([]RowReader{a, b})
	if !it.Next() {
		t.Fatal("no rows")
	}
	if !it.Pointer().Dims[0].IsNull() {
		t.Fatal("null dimension value should sort first")
	}
}

func TestCombining(t *testing.T) {
	// S2: input0 (10,"x",5); input1 (10,"x",7), (10,"y",2)
	in0 := &sliceReader{rows: []Row{row(10, "x", 5)}}
	in1 := &sliceReader{rows: []Row{row(10, "x", 7), row(10, "y", 2)}}
	sum, _ := AggregatorByName("longSum")
	it := NewRowCombiningIterator([]RowReader{in0, in1}, []Aggregator{sum})

	if !it.Next() {
		t.Fatal("expected first combined row")
	}
	p := it.Pointer()
	if p.Timestamp != 10 || !reflect.DeepEqual(p.Dims[0], DimValue{"x"}) || p.Metrics[0].N != 12 {
		t.Fatalf("first row: %+v", p)
	}
	ranges := append([]CombinedRange(nil), it.CombinedRanges()...)
	want := []CombinedRange{{Input: 0, MinRow: 0, MaxRow: 0}, {Input: 1, MinRow: 0, MaxRow: 0}}
	if !reflect.DeepEqual(ranges, want) {
		t.Fatalf("ranges %+v, want %+v", ranges, want)
	}

	if !it.Next() {
		t.Fatal("expected second combined row")
	}
	p = it.Pointer()
	if p.Timestamp != 10 || !reflect.DeepEqual(p.Dims[0], DimValue{"y"}) || p.Metrics[0].N != 2 {
		t.Fatalf("second row: %+v", p)
	}
	want = []CombinedRange{{Input: 1, MinRow: 1, MaxRow: 1}}
	if !reflect.DeepEqual(it.CombinedRanges(), want) {
		t.Fatalf("ranges %+v, want %+v", it.CombinedRanges(), want)
	}

	if it.Next() {
		t.Fatal("unexpected third row")
	}
}

func TestCombiningRunLength(t *testing.T) {
	// many consecutive equal keys from one input collapse
	// into a single range
	rows := []Row{row(10, "x", 1), row(10, "x", 2), row(10, "x", 3), row(20, "x", 4)}
	in := &sliceReader{rows: rows}
	sum, _ := AggregatorByName("longSum")
	it := NewRowCombiningIterator([]RowReader{in}, []Aggregator{sum})
	if !it.Next() {
		t.Fatal("no rows")
	}
	if it.Pointer().Metrics[0].N != 6 {
		t.Fatalf("combined sum %d", it.Pointer().Metrics[0].N)
	}
	want := []CombinedRange{{Input: 0, MinRow: 0, MaxRow: 2}}
	if !reflect.DeepEqual(it.CombinedRanges(), want) {
		t.Fatalf("ranges %+v", it.CombinedRanges())
	}
	if !it.Next() || it.Pointer().Metrics[0].N != 4 {
		t.Fatal("expected trailing row")
	}
	if it.Next() {
		t.Fatal("unexpected extra row")
	}
}

func TestCompareDimValue(t *testing.T) {
	cases := []struct {
		a, b DimValue
		want int
	}{
		{nil, nil, 0},
		{nil, DimValue{"a"}, -1},
		{DimValue{"a"}, DimValue{"b"}, -1},
		{DimValue{"a"}, DimValue{"a", "b"}, -1},
		{DimValue{"a", "b"}, DimValue{"a", "b"}, 0},
		{DimValue{"b"}, DimValue{"a", "z"}, 1},
	}
	for _, c := range cases {
		if got := compareDimValue(c.a, c.b); got != c.want {
			t.Errorf("compare(%v,%v) = %d, want %d", c.a, c.b, got, c.want)
		}
		if got := compareDimValue(c.b, c.a); got != -c.want {
			t.Errorf("compare(%v,%v) = %d, want %d", c.b, c.a, got, -c.want)
		}
	}
}
