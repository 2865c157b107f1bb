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
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/exp/slices"

	"github.com/chronicledb/chronicle/column"
)

// MemoryAdapter exposes in-memory rows to the merge. The
// ingestion path uses it for intermediate persists of the
// in-memory index; tests use it as the canonical input.
type MemoryAdapter struct {
	span    Interval
	dims    []string
	mets    []string
	caps    map[string]*column.Capabilities
	rows    []Row
	meta    *Metadata
	lookups map[string]*memLookup
}

// NewMemoryAdapter builds an adapter over rows. Rows are
// sorted by composite key on construction, so callers may
// supply them in any order. caps must describe every
// metric; dimension capabilities are inferred from the data
// when absent.
func NewMemoryAdapter(span Interval, dims, mets []string, caps map[string]*column.Capabilities, rows []Row, meta *Metadata) *MemoryAdapter {
	a := &MemoryAdapter{
		span:    span,
		dims:    dims,
		mets:    mets,
		caps:    make(map[string]*column.Capabilities),
		rows:    rows,
		meta:    meta,
		lookups: make(map[string]*memLookup),
	}
	for name, c := range caps {
		a.caps[name] = c.Clone()
	}
	sort.SliceStable(a.rows, func(i, j int) bool {
		pi := TimeAndDimsPointer{Timestamp: a.rows[i].Timestamp, Dims: a.rows[i].Dims}
		pj := TimeAndDimsPointer{Timestamp: a.rows[j].Timestamp, Dims: a.rows[j].Dims}
		return compareKey(&pi, &pj) < 0
	})
	for i, d := range dims {
		if _, ok := a.caps[d]; !ok {
			a.caps[d] = a.inferDimCaps(i)
		}
	}
	return a
}

func (a *MemoryAdapter) inferDimCaps(dimIdx int) *column.Capabilities {
	caps := &column.Capabilities{
		Type:                   column.String(),
		DictionaryEncoded:      column.True,
		DictionaryValuesSorted: column.True,
		DictionaryValuesUnique: column.True,
		HasMultipleValues:      column.False,
		HasNulls:               column.False,
		HasBitmapIndexes:       true,
		Filterable:             true,
	}
	for _, r := range a.rows {
		v := r.Dims[dimIdx]
		if v.IsNull() {
			caps.HasNulls = column.True
		}
		if len(v) > 1 {
			caps.HasMultipleValues = column.True
		}
	}
	return caps
}

// Interval implements Adapter.
func (a *MemoryAdapter) Interval() Interval { return a.span }

// DimensionNames implements Adapter.
func (a *MemoryAdapter) DimensionNames() []string { return a.dims }

// MetricNames implements Adapter.
func (a *MemoryAdapter) MetricNames() []string { return a.mets }

// Capabilities implements Adapter.
func (a *MemoryAdapter) Capabilities(col string) *column.Capabilities { return a.caps[col] }

// RowCount implements Adapter.
func (a *MemoryAdapter) RowCount() int { return len(a.rows) }

// Metadata implements Adapter.
func (a *MemoryAdapter) Metadata() *Metadata { return a.meta }

// Rows implements Adapter.
func (a *MemoryAdapter) Rows() RowReader { return &memReader{rows: a.rows} }

type memReader struct {
	rows []Row
	i    int
}

func (r *memReader) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *memReader) Row() *Row { return &r.rows[r.i-1] }

// DimValues implements Adapter.
func (a *MemoryAdapter) DimValues(dim string) DimValueLookup {
	if lk, ok := a.lookups[dim]; ok {
		return lk
	}
	idx := slices.Index(a.dims, dim)
	if idx < 0 {
		return nil
	}
	lk := &memLookup{nulls: roaring.New()}
	byValue := make(map[string]*roaring.Bitmap)
	for rowNum, r := range a.rows {
		v := r.Dims[idx]
		if v.IsNull() {
			lk.nulls.Add(uint32(rowNum))
			continue
		}
		for _, s := range v {
			bm := byValue[s]
			if bm == nil {
				bm = roaring.New()
				byValue[s] = bm
				lk.values = append(lk.values, s)
			}
			bm.Add(uint32(rowNum))
		}
	}
	slices.Sort(lk.values)
	lk.bitmaps = make([]*roaring.Bitmap, len(lk.values))
	for i, v := range lk.values {
		lk.bitmaps[i] = byValue[v]
	}
	a.lookups[dim] = lk
	return lk
}

type memLookup struct {
	values  []string
	bitmaps []*roaring.Bitmap
	nulls   *roaring.Bitmap
}

func (lk *memLookup) Cardinality() int { return len(lk.values) }

func (lk *memLookup) Value(id int) string { return lk.values[id] }

func (lk *memLookup) RowBitmap(id int) *roaring.Bitmap { return lk.bitmaps[id] }

func (lk *memLookup) NullRows() *roaring.Bitmap {
	if lk.nulls.IsEmpty() {
		return nil
	}
	return lk.nulls
}
