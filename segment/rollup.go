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

// CombinedRange records that rows [MinRow, MaxRow] of one
// input were folded into the current combined output row.
type CombinedRange struct {
	Input  int
	MinRow int
	MaxRow int
}

// RowCombiningIterator merges like MergingRowIterator but
// combines consecutive rows with identical composite keys
// into a single output row by folding each metric through
// its aggregator. The emitted pointers have no single
// source row; CombinedRanges identifies every source row
// that contributed.
type RowCombiningIterator struct {
	src    *MergingRowIterator
	aggs   []Aggregator // one per metric in schema order
	cur    RowPointer
	ranges []CombinedRange
	byIn   map[int]int // input index -> position in ranges
	// pending is set when src already points at the first
	// row of the next group
	pending bool
}

// NewRowCombiningIterator combines the merged stream of
// readers using one aggregator per metric column.
func NewRowCombiningIterator(readers []RowReader, aggs []Aggregator) *RowCombiningIterator {
	return &RowCombiningIterator{
		src:  NewMergingRowIterator(readers),
		aggs: aggs,
		byIn: make(map[int]int),
	}
}

// cloneDims deep-copies row values: the source backing
// arrays are only valid until their reader advances, and
// the group head must outlive the whole group scan.
func cloneDims(dst, src []DimValue) []DimValue {
	dst = dst[:0]
	for _, v := range src {
		if v == nil {
			dst = append(dst, nil)
			continue
		}
		dst = append(dst, append(DimValue(nil), v...))
	}
	return dst
}

// Next implements TimeAndDimsIterator.
func (it *RowCombiningIterator) Next() bool {
	if !it.pending && !it.src.Next() {
		return false
	}
	it.pending = false
	head := it.src.Pointer()
	it.cur.Timestamp = head.Timestamp
	it.cur.Dims = cloneDims(it.cur.Dims, head.Dims)
	it.cur.Metrics = append(it.cur.Metrics[:0], head.Metrics...)
	it.cur.Input = -1
	it.cur.RowNum = -1
	it.ranges = it.ranges[:0]
	clear(it.byIn)
	it.extendRange(head.Input, head.RowNum)
	for it.src.Next() {
		p := it.src.Pointer()
		if compareKey(&p.TimeAndDimsPointer, &it.cur.TimeAndDimsPointer) != 0 {
			it.pending = true
			break
		}
		for i := range it.cur.Metrics {
			it.cur.Metrics[i] = it.aggs[i].Combine(it.cur.Metrics[i], p.Metrics[i])
		}
		it.extendRange(p.Input, p.RowNum)
	}
	return true
}

func (it *RowCombiningIterator) extendRange(input, rowNum int) {
	if i, ok := it.byIn[input]; ok {
		if rowNum < it.ranges[i].MinRow {
			it.ranges[i].MinRow = rowNum
		}
		if rowNum > it.ranges[i].MaxRow {
			it.ranges[i].MaxRow = rowNum
		}
		return
	}
	it.byIn[input] = len(it.ranges)
	it.ranges = append(it.ranges, CombinedRange{Input: input, MinRow: rowNum, MaxRow: rowNum})
}

// Pointer implements TimeAndDimsIterator.
func (it *RowCombiningIterator) Pointer() *RowPointer { return &it.cur }

// CombinedRanges returns, per contributing input, the range
// of source row numbers folded into the current output row.
// The slice is reused between calls to Next.
func (it *RowCombiningIterator) CombinedRanges() []CombinedRange { return it.ranges }
