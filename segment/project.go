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

// projectedReader reorders an input's columns into the
// merged schema order. Columns the input does not carry
// read as null.
type projectedReader struct {
	src    RowReader
	dimIdx []int // merged dim position -> source position, -1 if absent
	metIdx []int
	row    Row
}

// newProjectedReader wraps a fresh cursor of a so that its
// rows come out in the merged (dims, metrics) order.
func newProjectedReader(a Adapter, dims, metrics []string) *projectedReader {
	srcDims := a.DimensionNames()
	srcMets := a.MetricNames()
	dimPos := make(map[string]int, len(srcDims))
	for i, d := range srcDims {
		dimPos[d] = i
	}
	metPos := make(map[string]int, len(srcMets))
	for i, m := range srcMets {
		metPos[m] = i
	}
	p := &projectedReader{
		src:    a.Rows(),
		dimIdx: make([]int, len(dims)),
		metIdx: make([]int, len(metrics)),
	}
	for i, d := range dims {
		if j, ok := dimPos[d]; ok {
			p.dimIdx[i] = j
		} else {
			p.dimIdx[i] = -1
		}
	}
	for i, m := range metrics {
		if j, ok := metPos[m]; ok {
			p.metIdx[i] = j
		} else {
			p.metIdx[i] = -1
		}
	}
	p.row.Dims = make([]DimValue, len(dims))
	p.row.Metrics = make([]MetricValue, len(metrics))
	return p
}

func (p *projectedReader) Next() bool {
	if !p.src.Next() {
		return false
	}
	src := p.src.Row()
	p.row.Timestamp = src.Timestamp
	for i, j := range p.dimIdx {
		if j < 0 {
			p.row.Dims[i] = nil
		} else {
			p.row.Dims[i] = src.Dims[j]
		}
	}
	for i, j := range p.metIdx {
		if j < 0 {
			p.row.Metrics[i] = NullValue()
		} else {
			p.row.Metrics[i] = src.Metrics[j]
		}
	}
	return true
}

func (p *projectedReader) Row() *Row { return &p.row }
