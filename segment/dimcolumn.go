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
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/chronicledb/chronicle/column"
)

// dimColumn is a decoded dictionary-encoded dimension
// column. It doubles as the DimValueLookup of an opened
// segment.
type dimColumn struct {
	multi   bool
	hasNull bool
	indexed bool
	dict    []string // non-null values, sorted
	rowIDs  [][]uint32
	bitmaps []*roaring.Bitmap // by dictionary slot
}

func (dc *dimColumn) slot(pos int) int {
	if dc.hasNull {
		return pos + 1
	}
	return pos
}

func (dc *dimColumn) cardinality() int {
	if dc.hasNull {
		return len(dc.dict) + 1
	}
	return len(dc.dict)
}

func decodeDimColumn(b []byte) (*dimColumn, error) {
	if len(b) < 10 {
		return nil, errors.New("dimension: truncated header")
	}
	if b[0] != 1 {
		return nil, fmt.Errorf("dimension: unknown version %d", b[0])
	}
	flags := b[1]
	dc := &dimColumn{
		multi:   flags&1 != 0,
		hasNull: flags&2 != 0,
		indexed: flags&4 != 0,
	}
	rows := int(binary.BigEndian.Uint32(b[2:]))
	card := int(binary.BigEndian.Uint32(b[6:]))
	dict, b, err := column.ReadIndexed(b[10:])
	if err != nil {
		return nil, fmt.Errorf("dimension dictionary: %w", err)
	}
	if len(dict) != card {
		return nil, fmt.Errorf("dimension: dictionary size %d, want %d", len(dict), card)
	}
	for i, v := range dict {
		if v == nil {
			if i != 0 || !dc.hasNull {
				return nil, fmt.Errorf("dimension: stray null at dictionary slot %d", i)
			}
			continue
		}
		dc.dict = append(dc.dict, *v)
	}
	if len(b) < 4 {
		return nil, errors.New("dimension: truncated value stream")
	}
	streamLen := int(binary.BigEndian.Uint32(b))
	b = b[4:]
	if len(b) < streamLen {
		return nil, errors.New("dimension: truncated value stream")
	}
	stream := b[:streamLen]
	b = b[streamLen:]
	dc.rowIDs = make([][]uint32, 0, rows)
	for len(dc.rowIDs) < rows {
		n := 1
		if dc.multi {
			if len(stream) < 4 {
				return nil, errors.New("dimension: truncated multi-value count")
			}
			n = int(binary.BigEndian.Uint32(stream))
			stream = stream[4:]
		}
		if len(stream) < 4*n {
			return nil, errors.New("dimension: truncated row ids")
		}
		ids := make([]uint32, n)
		for i := 0; i < n; i++ {
			ids[i] = binary.BigEndian.Uint32(stream[4*i:])
			if int(ids[i]) >= card {
				return nil, fmt.Errorf("dimension: id %d out of range", ids[i])
			}
		}
		stream = stream[4*n:]
		dc.rowIDs = append(dc.rowIDs, ids)
	}
	if len(stream) != 0 {
		return nil, fmt.Errorf("dimension: %d trailing stream bytes", len(stream))
	}
	if dc.indexed {
		dc.bitmaps = make([]*roaring.Bitmap, card)
		for i := 0; i < card; i++ {
			if len(b) < 4 {
				return nil, errors.New("dimension: truncated bitmap")
			}
			n := int(binary.BigEndian.Uint32(b))
			if len(b) < 4+n {
				return nil, errors.New("dimension: truncated bitmap")
			}
			bm := roaring.New()
			if err := bm.UnmarshalBinary(b[4 : 4+n]); err != nil {
				return nil, fmt.Errorf("dimension bitmap %d: %w", i, err)
			}
			dc.bitmaps[i] = bm
			b = b[4+n:]
		}
	}
	return dc, nil
}

// rowValue materializes the row's DimValue from the
// dictionary.
func (dc *dimColumn) rowValue(row int) DimValue {
	ids := dc.rowIDs[row]
	if len(ids) == 1 && dc.hasNull && ids[0] == 0 {
		return nil
	}
	out := make(DimValue, len(ids))
	for i, id := range ids {
		pos := int(id)
		if dc.hasNull {
			pos--
		}
		out[i] = dc.dict[pos]
	}
	return out
}

// ensureBitmaps reconstructs per-value bitmaps from the
// value stream for segments written without an inverted
// index, so they can still act as merge inputs.
func (dc *dimColumn) ensureBitmaps() {
	if dc.bitmaps != nil {
		return
	}
	dc.bitmaps = make([]*roaring.Bitmap, dc.cardinality())
	for i := range dc.bitmaps {
		dc.bitmaps[i] = roaring.New()
	}
	for row, ids := range dc.rowIDs {
		for _, id := range ids {
			dc.bitmaps[id].Add(uint32(row))
		}
	}
}

// Cardinality implements DimValueLookup.
func (dc *dimColumn) Cardinality() int { return len(dc.dict) }

// Value implements DimValueLookup.
func (dc *dimColumn) Value(id int) string { return dc.dict[id] }

// RowBitmap implements DimValueLookup.
func (dc *dimColumn) RowBitmap(id int) *roaring.Bitmap { return dc.bitmaps[dc.slot(id)] }

// NullRows implements DimValueLookup.
func (dc *dimColumn) NullRows() *roaring.Bitmap {
	if !dc.hasNull || dc.bitmaps[0].IsEmpty() {
		return nil
	}
	return dc.bitmaps[0]
}
