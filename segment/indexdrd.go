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
	"encoding/binary"
	"fmt"

	"github.com/chronicledb/chronicle/column"
)

// IndexDRDName is the container blob listing the segment's
// columns and top-level metadata.
const IndexDRDName = "index.drd"

// MetadataDRDName is the container blob holding the
// aggregation metadata JSON.
const MetadataDRDName = "metadata.drd"

// indexDRD is the decoded form of index.drd.
//
// The blob stores, in order: the non-null column names
// (metrics first, then non-null dimensions), the non-null
// dimension names, the data interval, the bitmap serde
// identifier, and finally the positional null-placeholder
// vectors. The placeholders sit at the tail so that older
// readers that stop after the serde identifier still
// function; zipping them with the non-null vectors
// reconstructs the user-declared column order.
type indexDRD struct {
	cols    []string // non-null: metrics, then dimensions
	dims    []string // non-null dimensions
	span    Interval
	bitmap  string
	allCols []*string // null at non-null positions, name at null-only positions
	allDims []*string
}

func (x *indexDRD) encode() []byte {
	out := column.AppendIndexedStrings(nil, x.cols, false)
	out = column.AppendIndexedStrings(out, x.dims, false)
	out = binary.BigEndian.AppendUint64(out, uint64(x.span.Start))
	out = binary.BigEndian.AppendUint64(out, uint64(x.span.End))
	out = binary.BigEndian.AppendUint16(out, uint16(len(x.bitmap)))
	out = append(out, x.bitmap...)
	out = column.AppendIndexed(out, x.allCols, false)
	return column.AppendIndexed(out, x.allDims, false)
}

func decodeIndexDRD(b []byte) (*indexDRD, error) {
	x := new(indexDRD)
	var err error
	if x.cols, b, err = column.ReadIndexedStrings(b); err != nil {
		return nil, fmt.Errorf("index.drd columns: %w", err)
	}
	if x.dims, b, err = column.ReadIndexedStrings(b); err != nil {
		return nil, fmt.Errorf("index.drd dimensions: %w", err)
	}
	if len(b) < 18 {
		return nil, fmt.Errorf("index.drd: truncated interval")
	}
	x.span.Start = int64(binary.BigEndian.Uint64(b))
	x.span.End = int64(binary.BigEndian.Uint64(b[8:]))
	n := int(binary.BigEndian.Uint16(b[16:]))
	b = b[18:]
	if len(b) < n {
		return nil, fmt.Errorf("index.drd: truncated bitmap serde")
	}
	x.bitmap = string(b[:n])
	b = b[n:]
	if x.allCols, b, err = column.ReadIndexed(b); err != nil {
		return nil, fmt.Errorf("index.drd column order: %w", err)
	}
	if x.allDims, _, err = column.ReadIndexed(b); err != nil {
		return nil, fmt.Errorf("index.drd dimension order: %w", err)
	}
	return x, nil
}

// reconstructOrder zips a non-null name vector with its
// positional placeholder vector: placeholder slots that are
// null take the next non-null name, the rest contribute
// their own (null-only) name.
func reconstructOrder(nonNull []string, placeholders []*string) ([]string, error) {
	out := make([]string, 0, len(placeholders))
	next := 0
	for i, p := range placeholders {
		if p == nil {
			if next >= len(nonNull) {
				return nil, fmt.Errorf("index.drd: placeholder %d has no matching non-null name", i)
			}
			out = append(out, nonNull[next])
			next++
			continue
		}
		out = append(out, *p)
	}
	if next != len(nonNull) {
		return nil, fmt.Errorf("index.drd: %d non-null names unplaced", len(nonNull)-next)
	}
	return out, nil
}

// placeholderVector builds the positional vector for the
// declared order: nil at positions whose column is
// materialized, the name itself at null-only positions.
func placeholderVector(declared []string, nullOnly map[string]bool) []*string {
	out := make([]*string, len(declared))
	for i, name := range declared {
		if nullOnly[name] {
			out[i] = &declared[i]
		}
	}
	return out
}
