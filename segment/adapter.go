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

// Package segment builds immutable columnar segments by
// merging one or more sorted row-oriented inputs: the k-way
// ordered merge (with optional rollup), the per-dimension
// dictionary and bitmap-index mergers, the segment
// assembler, and the tiered multi-phase merge driver.
package segment

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/chronicledb/chronicle/column"
)

// DimValue is one row's value for one dimension: an ordered
// sequence of strings for multi-valued dimensions, a single
// element otherwise. A nil (or empty) DimValue is null.
type DimValue []string

// IsNull reports whether the row value is null.
func (v DimValue) IsNull() bool { return len(v) == 0 }

// MetricValue is one row's value for one metric or for the
// time column. It implements column.Selector.
type MetricValue struct {
	Null bool
	N    int64
	F    float64
	Obj  any
}

// IsNull implements column.Selector.
func (m MetricValue) IsNull() bool { return m.Null }

// Long implements column.Selector.
func (m MetricValue) Long() int64 { return m.N }

// Double implements column.Selector.
func (m MetricValue) Double() float64 { return m.F }

// Object implements column.Selector.
func (m MetricValue) Object() any { return m.Obj }

// LongValue builds a non-null LONG metric value.
func LongValue(v int64) MetricValue { return MetricValue{N: v, F: float64(v)} }

// DoubleValue builds a non-null DOUBLE metric value.
func DoubleValue(v float64) MetricValue { return MetricValue{F: v, N: int64(v)} }

// NullValue builds a null metric value.
func NullValue() MetricValue { return MetricValue{Null: true} }

// ObjectValue builds a complex metric value.
func ObjectValue(v any) MetricValue { return MetricValue{Obj: v, Null: v == nil} }

// Row is one row of an input or of the merged output:
// a timestamp plus per-dimension and per-metric values in
// the owning schema's column order.
type Row struct {
	Timestamp int64
	Dims      []DimValue
	Metrics   []MetricValue
}

// RowReader is a single-pass cursor over rows in
// non-decreasing (timestamp, dims...) order. The Row
// returned by Row is only valid until the next call
// to Next.
type RowReader interface {
	Next() bool
	Row() *Row
}

// DimValueLookup exposes one input's dictionary for one
// dimension: the sorted non-null values and, per value, the
// bitmap of input rows containing it.
type DimValueLookup interface {
	// Cardinality is the number of distinct non-null values.
	Cardinality() int
	// Value returns the id-th value in sorted order.
	Value(id int) string
	// RowBitmap returns the input rows containing value id.
	RowBitmap(id int) *roaring.Bitmap
	// NullRows returns the input rows whose value is null,
	// or nil when no row is null.
	NullRows() *roaring.Bitmap
}

// Adapter exposes a sorted row-oriented dataset to the
// merge: an in-memory index about to be persisted, or an
// already-built segment being compacted. Rows must be
// cheaply re-openable: the dictionary pass and the row walk
// each take an independent cursor.
type Adapter interface {
	Interval() Interval
	DimensionNames() []string
	MetricNames() []string
	// Capabilities returns nil for columns the input
	// does not carry.
	Capabilities(col string) *column.Capabilities
	RowCount() int
	// Rows returns a fresh cursor over the input rows.
	Rows() RowReader
	// DimValues returns the dictionary for dim, or nil if
	// the input does not carry the dimension.
	DimValues(dim string) DimValueLookup
	// Metadata returns the input's aggregation metadata,
	// or nil.
	Metadata() *Metadata
}
