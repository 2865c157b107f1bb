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
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/chronicledb/chronicle/column"
)

func longCaps() *column.Capabilities {
	return &column.Capabilities{Type: column.Long()}
}

func doubleCaps() *column.Capabilities {
	return &column.Capabilities{Type: column.Double()}
}

// input builds a MemoryAdapter with one dimension "a" and
// one long metric "m".
func input(span Interval, rows ...Row) *MemoryAdapter {
	return NewMemoryAdapter(span, []string{"a"}, []string{"m"},
		map[string]*column.Capabilities{"m": longCaps()}, rows, nil)
}

func openSegment(t *testing.T, dir string) *Segment {
	t.Helper()
	seg, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { seg.Close() })
	return seg
}

func collectRows(t *testing.T, a Adapter) []Row {
	t.Helper()
	var out []Row
	rd := a.Rows()
	for rd.Next() {
		r := rd.Row()
		cp := Row{Timestamp: r.Timestamp}
		cp.Dims = cloneDims(nil, r.Dims)
		cp.Metrics = append([]MetricValue(nil), r.Metrics...)
		out = append(out, cp)
	}
	return out
}

func TestPersistTwoRows(t *testing.T) {
	// S1: one input, two rows, no rollup
	in := input(Interval{0, 100}, row(10, "1", 5), row(20, "2", 7))
	dir := filepath.Join(t.TempDir(), "out")
	var m Merger
	if err := m.Persist(in, dir); err != nil {
		t.Fatal(err)
	}
	seg := openSegment(t, dir)
	if seg.RowCount() != 2 {
		t.Fatalf("row count %d", seg.RowCount())
	}
	if !reflect.DeepEqual(seg.DimensionNames(), []string{"a"}) ||
		!reflect.DeepEqual(seg.MetricNames(), []string{"m"}) {
		t.Fatalf("schema %v %v", seg.DimensionNames(), seg.MetricNames())
	}
	rows := collectRows(t, seg)
	if rows[0].Timestamp != 10 || rows[1].Timestamp != 20 {
		t.Fatalf("time column %d %d", rows[0].Timestamp, rows[1].Timestamp)
	}
	if rows[0].Metrics[0].N != 5 || rows[1].Metrics[0].N != 7 {
		t.Fatalf("metric column %v %v", rows[0].Metrics, rows[1].Metrics)
	}
	lk := seg.DimValues("a")
	if lk == nil || lk.Cardinality() != 2 || lk.Value(0) != "1" || lk.Value(1) != "2" {
		t.Fatalf("dictionary wrong")
	}
	if !reflect.DeepEqual(lk.RowBitmap(0).ToArray(), []uint32{0}) ||
		!reflect.DeepEqual(lk.RowBitmap(1).ToArray(), []uint32{1}) {
		t.Fatal("value bitmaps wrong")
	}
}

func TestRollupCombines(t *testing.T) {
	// S2: rollup combines equal (time, dims...) keys
	in0 := input(Interval{0, 100}, row(10, "x", 5))
	in1 := input(Interval{0, 100}, row(10, "x", 7), row(10, "y", 2))
	sum, _ := AggregatorByName("longSum")
	dir := filepath.Join(t.TempDir(), "out")
	var m Merger
	err := m.Merge([]Adapter{in0, in1}, true, map[string]Aggregator{"m": sum}, dir)
	if err != nil {
		t.Fatal(err)
	}
	seg := openSegment(t, dir)
	if seg.RowCount() != 2 {
		t.Fatalf("row count %d", seg.RowCount())
	}
	rows := collectRows(t, seg)
	if rows[0].Metrics[0].N != 12 || rows[1].Metrics[0].N != 2 {
		t.Fatalf("combined metrics %v %v", rows[0].Metrics, rows[1].Metrics)
	}
	if !reflect.DeepEqual(rows[0].Dims[0], DimValue{"x"}) ||
		!reflect.DeepEqual(rows[1].Dims[0], DimValue{"y"}) {
		t.Fatalf("combined dims %v %v", rows[0].Dims, rows[1].Dims)
	}
	// conversions surface through the value bitmaps: "x"
	// collects rows of both inputs, "y" only input1 row 1
	lk := seg.DimValues("a")
	if !reflect.DeepEqual(lk.RowBitmap(0).ToArray(), []uint32{0}) ||
		!reflect.DeepEqual(lk.RowBitmap(1).ToArray(), []uint32{1}) {
		t.Fatal("translated bitmaps wrong")
	}
	md := seg.Metadata()
	if md == nil || !md.Rollup || !reflect.DeepEqual(md.Aggregators, []string{"longSum"}) {
		t.Fatalf("metadata %+v", md)
	}
}

func TestRollupIdentityWithoutDuplicates(t *testing.T) {
	// property 1: with no duplicate keys, R equals the sum
	in0 := input(Interval{0, 100}, row(10, "x", 1), row(20, "x", 2))
	in1 := input(Interval{0, 100}, row(15, "y", 3))
	sum, _ := AggregatorByName("longSum")
	dir := filepath.Join(t.TempDir(), "out")
	var m Merger
	if err := m.Merge([]Adapter{in0, in1}, true, map[string]Aggregator{"m": sum}, dir); err != nil {
		t.Fatal(err)
	}
	seg := openSegment(t, dir)
	if seg.RowCount() != 3 {
		t.Fatalf("row count %d", seg.RowCount())
	}
	ts := []int64{}
	for _, r := range collectRows(t, seg) {
		ts = append(ts, r.Timestamp)
	}
	if !reflect.DeepEqual(ts, []int64{10, 15, 20}) {
		t.Fatalf("time column %v", ts)
	}
}

func TestNullOnlyDimension(t *testing.T) {
	// S3: declared dimension with only null rows
	build := func(dimSpec *DimensionsSpec) *Segment {
		t.Helper()
		rows := []Row{
			{Timestamp: 10, Dims: []DimValue{{"v"}, nil}, Metrics: []MetricValue{LongValue(1)}},
			{Timestamp: 20, Dims: []DimValue{{"w"}, nil}, Metrics: []MetricValue{LongValue(2)}},
		}
		in := NewMemoryAdapter(Interval{0, 100}, []string{"a", "z"}, []string{"m"},
			map[string]*column.Capabilities{"m": longCaps()}, rows, nil)
		dir := filepath.Join(t.TempDir(), "out")
		m := Merger{DimSpec: dimSpec}
		if err := m.Persist(in, dir); err != nil {
			t.Fatal(err)
		}
		return openSegment(t, dir)
	}

	seg := build(&DimensionsSpec{StoreEmptyColumns: true, IncludeAllDimensions: true})
	if !reflect.DeepEqual(seg.DimensionNames(), []string{"a", "z"}) {
		t.Fatalf("dimensions %v", seg.DimensionNames())
	}
	if seg.DimValues("z") != nil {
		t.Fatal("null-only placeholder should have no dictionary")
	}
	rows := collectRows(t, seg)
	if !rows[0].Dims[1].IsNull() || !rows[1].Dims[1].IsNull() {
		t.Fatal("placeholder rows should read null")
	}

	// either flag off: z vanishes
	for _, spec := range []*DimensionsSpec{
		nil,
		{StoreEmptyColumns: true},
		{IncludeAllDimensions: true},
	} {
		seg := build(spec)
		if !reflect.DeepEqual(seg.DimensionNames(), []string{"a"}) {
			t.Fatalf("spec %+v: dimensions %v", spec, seg.DimensionNames())
		}
	}

	// explicit declaration also qualifies
	seg = build(&DimensionsSpec{Dimensions: []string{"a", "z"}, StoreEmptyColumns: true})
	if !reflect.DeepEqual(seg.DimensionNames(), []string{"a", "z"}) {
		t.Fatalf("dimensions %v", seg.DimensionNames())
	}
}

func TestTypeMismatch(t *testing.T) {
	// S4: LONG vs DOUBLE metric
	in0 := NewMemoryAdapter(Interval{0, 100}, []string{"a"}, []string{"m"},
		map[string]*column.Capabilities{"m": longCaps()},
		[]Row{row(10, "x", 1)}, nil)
	in1 := NewMemoryAdapter(Interval{0, 100}, []string{"a"}, []string{"m"},
		map[string]*column.Capabilities{"m": doubleCaps()},
		[]Row{row(20, "y", 2)}, nil)
	var m Merger
	err := m.Merge([]Adapter{in0, in1}, false, nil, filepath.Join(t.TempDir(), "out"))
	var bad *column.IncompatibleTypesError
	if !errors.As(err, &bad) {
		t.Fatalf("expected IncompatibleTypesError, got %v", err)
	}
}

func TestEmptyInputRejected(t *testing.T) {
	in := input(Interval{0, 100})
	var m Merger
	err := m.Persist(in, filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTimestampOutsideInterval(t *testing.T) {
	in := input(Interval{0, 15}, row(10, "x", 1), row(20, "x", 2))
	var m Merger
	err := m.Persist(in, filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTightIntervalAccepted(t *testing.T) {
	in := input(Interval{10, 21}, row(10, "x", 1), row(20, "x", 2))
	var m Merger
	if err := m.Persist(in, filepath.Join(t.TempDir(), "out")); err != nil {
		t.Fatal(err)
	}
}

func TestAggregatorForMissingMetric(t *testing.T) {
	in := input(Interval{0, 100}, row(10, "x", 1))
	sum, _ := AggregatorByName("longSum")
	var m Merger
	err := m.Merge([]Adapter{in}, true, map[string]Aggregator{"nope": sum}, filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDisjointSchemasUnion(t *testing.T) {
	in0 := NewMemoryAdapter(Interval{0, 100}, []string{"a"}, []string{"m1"},
		map[string]*column.Capabilities{"m1": longCaps()},
		[]Row{row(10, "x", 1)}, nil)
	in1 := NewMemoryAdapter(Interval{0, 100}, []string{"b"}, []string{"m2"},
		map[string]*column.Capabilities{"m2": longCaps()},
		[]Row{row(20, "y", 2)}, nil)
	dir := filepath.Join(t.TempDir(), "out")
	var m Merger
	if err := m.Merge([]Adapter{in0, in1}, false, nil, dir); err != nil {
		t.Fatal(err)
	}
	seg := openSegment(t, dir)
	if !reflect.DeepEqual(seg.DimensionNames(), []string{"a", "b"}) {
		t.Fatalf("dimensions %v", seg.DimensionNames())
	}
	if !reflect.DeepEqual(seg.MetricNames(), []string{"m1", "m2"}) {
		t.Fatalf("metrics %v", seg.MetricNames())
	}
	rows := collectRows(t, seg)
	// row 0 comes from input0: b is null, m2 reads as zero
	if !rows[0].Dims[1].IsNull() || !reflect.DeepEqual(rows[0].Dims[0], DimValue{"x"}) {
		t.Fatalf("row 0 dims %v", rows[0].Dims)
	}
	if rows[0].Metrics[1].N != 0 {
		t.Fatalf("missing metric should read zero, got %v", rows[0].Metrics[1])
	}
	// row 1 from input1: a null, m1 zero
	if !rows[1].Dims[0].IsNull() || !reflect.DeepEqual(rows[1].Dims[1], DimValue{"y"}) {
		t.Fatalf("row 1 dims %v", rows[1].Dims)
	}
}

func TestMultiValueDimension(t *testing.T) {
	rows := []Row{
		{Timestamp: 10, Dims: []DimValue{{"p", "q"}}, Metrics: []MetricValue{LongValue(1)}},
		{Timestamp: 20, Dims: []DimValue{{"q"}}, Metrics: []MetricValue{LongValue(2)}},
	}
	in0 := NewMemoryAdapter(Interval{0, 100}, []string{"a"}, []string{"m"},
		map[string]*column.Capabilities{"m": longCaps()}, rows, nil)
	// single-valued rendition of the same dimension
	in1 := input(Interval{0, 100}, row(30, "p", 3))
	dir := filepath.Join(t.TempDir(), "out")
	var m Merger
	if err := m.Merge([]Adapter{in0, in1}, false, nil, dir); err != nil {
		t.Fatal(err)
	}
	seg := openSegment(t, dir)
	if !seg.Capabilities("a").HasMultipleValues.Istrue() {
		t.Fatal("merged dimension should be multi-valued")
	}
	got := collectRows(t, seg)
	if !reflect.DeepEqual(got[0].Dims[0], DimValue{"p", "q"}) {
		t.Fatalf("row 0 value %v", got[0].Dims[0])
	}
	lk := seg.DimValues("a")
	if lk.Cardinality() != 2 {
		t.Fatalf("cardinality %d", lk.Cardinality())
	}
	// "p" appears in rows 0 and 2; "q" in rows 0 and 1
	if !reflect.DeepEqual(lk.RowBitmap(0).ToArray(), []uint32{0, 2}) ||
		!reflect.DeepEqual(lk.RowBitmap(1).ToArray(), []uint32{0, 1}) {
		t.Fatal("multi-value bitmaps wrong")
	}
}

func TestRoundTrip(t *testing.T) {
	// build, reopen, rebuild from the reopened segment:
	// schema, interval, and values must survive
	rows := []Row{
		{Timestamp: 10, Dims: []DimValue{{"x"}, nil}, Metrics: []MetricValue{LongValue(5), DoubleValue(0.5)}},
		{Timestamp: 20, Dims: []DimValue{nil, {"k"}}, Metrics: []MetricValue{LongValue(7), DoubleValue(1.25)}},
		{Timestamp: 20, Dims: []DimValue{{"y"}, {"k"}}, Metrics: []MetricValue{LongValue(9), DoubleValue(-3)}},
	}
	in := NewMemoryAdapter(Interval{0, 50}, []string{"a", "b"}, []string{"m", "d"},
		map[string]*column.Capabilities{"m": longCaps(), "d": doubleCaps()}, rows, nil)
	spec := IndexSpec{NullHandling: "explicit"}
	dir := filepath.Join(t.TempDir(), "one")
	m := Merger{Spec: spec}
	if err := m.Persist(in, dir); err != nil {
		t.Fatal(err)
	}
	seg := openSegment(t, dir)
	if seg.Interval() != in.Interval() || seg.RowCount() != in.RowCount() {
		t.Fatalf("interval %v rows %d", seg.Interval(), seg.RowCount())
	}
	if !reflect.DeepEqual(collectRows(t, seg), collectRows(t, in)) {
		t.Fatal("rows changed across round trip")
	}

	// merge the opened segment again: still identical
	dir2 := filepath.Join(t.TempDir(), "two")
	if err := m.Persist(seg, dir2); err != nil {
		t.Fatal(err)
	}
	seg2 := openSegment(t, dir2)
	if !reflect.DeepEqual(collectRows(t, seg2), collectRows(t, in)) {
		t.Fatal("rows changed across second round trip")
	}
}

func TestUnsupportedIterator(t *testing.T) {
	var m Merger
	_, _, err := m.writeRows(fakeIterator{}, Interval{0, 100}, nil, nil, nil, 1, NopProgress{})
	if !errors.Is(err, ErrUnsupportedIterator) {
		t.Fatalf("expected ErrUnsupportedIterator, got %v", err)
	}
}

type fakeIterator struct{}

func (fakeIterator) Next() bool           { return false }
func (fakeIterator) Pointer() *RowPointer { return nil }

func TestSetConversion(t *testing.T) {
	var conv []int
	setConversion(&conv, 2, 0)
	if !reflect.DeepEqual(conv, []int{InvalidRow, InvalidRow, 0}) {
		t.Fatalf("conv %v", conv)
	}
	setConversion(&conv, 3, 1)
	setConversion(&conv, 0, 1)
	if !reflect.DeepEqual(conv, []int{1, InvalidRow, 0, 1}) {
		t.Fatalf("conv %v", conv)
	}
}
