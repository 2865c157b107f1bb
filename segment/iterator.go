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

import "github.com/chronicledb/chronicle/heap"

// TimeAndDimsIterator streams merged rows in composite-key
// order. The pointer returned by Pointer is only valid
// until the next call to Next.
type TimeAndDimsIterator interface {
	Next() bool
	Pointer() *RowPointer
}

// mergeCursor tracks one input's position in the k-way
// merge.
type mergeCursor struct {
	r     RowReader
	input int
	next  int // next source row number
	ptr   RowPointer
}

// load advances the cursor to its next row.
func (c *mergeCursor) load() bool {
	if !c.r.Next() {
		return false
	}
	row := c.r.Row()
	c.ptr.Timestamp = row.Timestamp
	c.ptr.Dims = row.Dims
	c.ptr.Metrics = row.Metrics
	c.ptr.Input = c.input
	c.ptr.RowNum = c.next
	c.next++
	return true
}

func cursorLess(a, b *mergeCursor) bool {
	if c := compareKey(&a.ptr.TimeAndDimsPointer, &b.ptr.TimeAndDimsPointer); c != 0 {
		return c < 0
	}
	// equal keys drain in input order
	return a.input < b.input
}

// MergingRowIterator is the k-way ordered merge over
// projected input readers. Every emitted RowPointer carries
// the source input index and source row number.
type MergingRowIterator struct {
	cursors []*mergeCursor
	started bool
	cur     *RowPointer
}

// NewMergingRowIterator merges readers, which must already
// be projected into a common schema and individually sorted
// by composite key.
func NewMergingRowIterator(readers []RowReader) *MergingRowIterator {
	m := &MergingRowIterator{}
	for i, r := range readers {
		m.cursors = append(m.cursors, &mergeCursor{r: r, input: i})
	}
	return m
}

// Next implements TimeAndDimsIterator.
func (m *MergingRowIterator) Next() bool {
	if !m.started {
		m.started = true
		live := m.cursors[:0]
		for _, c := range m.cursors {
			if c.load() {
				live = append(live, c)
			}
		}
		m.cursors = live
		heap.Init(m.cursors, cursorLess)
	} else if len(m.cursors) > 0 {
		if m.cursors[0].load() {
			heap.Fix(m.cursors, cursorLess)
		} else {
			heap.Pop(&m.cursors, cursorLess)
		}
	}
	if len(m.cursors) == 0 {
		m.cur = nil
		return false
	}
	m.cur = &m.cursors[0].ptr
	return true
}

// Pointer implements TimeAndDimsIterator.
func (m *MergingRowIterator) Pointer() *RowPointer { return m.cur }
