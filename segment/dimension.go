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
	"io"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/exp/slices"

	"github.com/chronicledb/chronicle/column"
	"github.com/chronicledb/chronicle/writeout"
)

// InvalidRow is the conversion-buffer sentinel for input
// rows that did not contribute to any output row.
const InvalidRow = -1

// DimensionMerger builds one output dimension column in
// three phases: the value dictionary union, per-row value
// encoding, and the inverted bitmap index translated
// through the row-number conversion buffers.
type DimensionMerger interface {
	// MergeValueDictionaries unions the inputs' sorted
	// value dictionaries. It must run before any row is
	// processed.
	MergeValueDictionaries(inputs []Adapter) error
	// ProcessMergedRow encodes the value of one output
	// row. Called once per output row in key order.
	ProcessMergedRow(v DimValue) error
	// WriteIndexes builds the per-value bitmaps by mapping
	// each input's bitmaps through its conversion buffer.
	// It runs strictly after the row walk.
	WriteIndexes(conversions [][]int) error
	// HasOnlyNulls reports whether no output row carries a
	// non-null value.
	HasOnlyNulls() bool
	// Descriptor builds the column descriptor once the
	// phases above are complete.
	Descriptor() (*column.Descriptor, error)
	// Size and WriteTo flush the column payload.
	Size() (int64, error)
	WriteTo(w io.Writer) (int64, error)
}

// DimensionHandler creates mergers for one dimension kind.
// Only string dimensions are built in; the factory hook
// exists so callers can install custom kinds.
type DimensionHandler func(name string, caps *column.Capabilities, med *writeout.Medium) (DimensionMerger, error)

// StringDimensionHandler builds the dictionary-encoded
// string dimension merger.
func StringDimensionHandler(name string, caps *column.Capabilities, med *writeout.Medium) (DimensionMerger, error) {
	slab, err := med.Open("dim-" + name)
	if err != nil {
		return nil, err
	}
	return &stringDimMerger{name: name, caps: caps, slab: slab}, nil
}

// dimension column payload layout:
//
//	byte    version (1)
//	byte    flags (bit 0 multi-value, bit 1 null slot,
//	               bit 2 bitmap indexes)
//	uint32  row count
//	uint32  cardinality (dictionary size incl. null slot)
//	GenericIndexed dictionary (null slot first, if present)
//	uint32  value stream length + stream
//	if bitmap indexes: per dictionary slot,
//	uint32  bitmap length + roaring bytes

type stringDimMerger struct {
	name string
	caps *column.Capabilities
	slab *writeout.Slab

	inputs  []Adapter
	dict    []string // sorted non-null values
	dictIdx map[string]int
	hasNull bool

	rows     int
	nonNull  int
	nullRows *roaring.Bitmap

	bitmapBytes [][]byte
	indexed     bool
}

// slot maps a non-null dictionary position to its encoded
// id; the null token, when present, occupies id 0.
func (d *stringDimMerger) slot(dictPos int) int {
	if d.hasNull {
		return dictPos + 1
	}
	return dictPos
}

func (d *stringDimMerger) cardinality() int {
	if d.hasNull {
		return len(d.dict) + 1
	}
	return len(d.dict)
}

func (d *stringDimMerger) MergeValueDictionaries(inputs []Adapter) error {
	d.inputs = inputs
	var all []string
	for _, in := range inputs {
		lk := in.DimValues(d.name)
		if lk == nil {
			// input lacks the dimension entirely: every
			// one of its rows reads as null
			if in.RowCount() > 0 {
				d.hasNull = true
			}
			continue
		}
		for id := 0; id < lk.Cardinality(); id++ {
			all = append(all, lk.Value(id))
		}
		if nulls := lk.NullRows(); nulls != nil && !nulls.IsEmpty() {
			d.hasNull = true
		}
	}
	if d.caps.HasNulls.Istrue() {
		d.hasNull = true
	}
	slices.Sort(all)
	d.dict = slices.Compact(all)
	d.dictIdx = make(map[string]int, len(d.dict))
	for i, v := range d.dict {
		d.dictIdx[v] = i
	}
	d.nullRows = roaring.New()
	return nil
}

func (d *stringDimMerger) ProcessMergedRow(v DimValue) error {
	if d.dictIdx == nil {
		return fmt.Errorf("dimension %q: row processed before dictionary merge", d.name)
	}
	row := d.rows
	d.rows++
	multi := d.caps.HasMultipleValues.Istrue()
	if v.IsNull() {
		if !d.hasNull {
			return fmt.Errorf("dimension %q: null row %d but no null in any dictionary", d.name, row)
		}
		d.nullRows.Add(uint32(row))
		return d.appendIDs(multi, []int{0})
	}
	if len(v) > 1 && !multi {
		return fmt.Errorf("dimension %q: multi-valued row %d in single-valued column", d.name, row)
	}
	d.nonNull++
	ids := make([]int, len(v))
	for i, s := range v {
		pos, ok := d.dictIdx[s]
		if !ok {
			return fmt.Errorf("dimension %q: value %q missing from merged dictionary", d.name, s)
		}
		ids[i] = d.slot(pos)
	}
	return d.appendIDs(multi, ids)
}

func (d *stringDimMerger) appendIDs(multi bool, ids []int) error {
	var buf [4]byte
	if multi {
		binary.BigEndian.PutUint32(buf[:], uint32(len(ids)))
		if _, err := d.slab.Write(buf[:]); err != nil {
			return err
		}
	}
	for _, id := range ids {
		binary.BigEndian.PutUint32(buf[:], uint32(id))
		if _, err := d.slab.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// translate maps an input bitmap through the input's
// conversion buffer into dst.
func translate(dst, src *roaring.Bitmap, conv []int) {
	it := src.Iterator()
	for it.HasNext() {
		orig := int(it.Next())
		if orig >= len(conv) || conv[orig] == InvalidRow {
			continue
		}
		dst.Add(uint32(conv[orig]))
	}
}

func (d *stringDimMerger) WriteIndexes(conversions [][]int) error {
	if !d.caps.HasBitmapIndexes {
		return nil
	}
	if len(conversions) != len(d.inputs) {
		return fmt.Errorf("dimension %q: %d conversion buffers for %d inputs", d.name, len(conversions), len(d.inputs))
	}
	bitmaps := make([]*roaring.Bitmap, d.cardinality())
	for i := range bitmaps {
		bitmaps[i] = roaring.New()
	}
	if d.hasNull {
		// rows that read as null were recorded directly
		// during the row walk
		bitmaps[0] = d.nullRows
	}
	for i, in := range d.inputs {
		lk := in.DimValues(d.name)
		if lk == nil {
			continue
		}
		for id := 0; id < lk.Cardinality(); id++ {
			pos, ok := d.dictIdx[lk.Value(id)]
			if !ok {
				return fmt.Errorf("dimension %q: input %d value %q not in merged dictionary", d.name, i, lk.Value(id))
			}
			translate(bitmaps[d.slot(pos)], lk.RowBitmap(id), conversions[i])
		}
	}
	d.bitmapBytes = make([][]byte, len(bitmaps))
	for i, bm := range bitmaps {
		bm.RunOptimize()
		b, err := bm.ToBytes()
		if err != nil {
			return err
		}
		d.bitmapBytes[i] = b
	}
	d.indexed = true
	return nil
}

func (d *stringDimMerger) HasOnlyNulls() bool { return d.nonNull == 0 }

func (d *stringDimMerger) Descriptor() (*column.Descriptor, error) {
	desc := &column.Descriptor{
		ValueType:         "string",
		HasMultipleValues: d.caps.HasMultipleValues.Istrue(),
		Cardinality:       d.cardinality(),
		HasBitmapIndexes:  d.indexed,
	}
	if d.indexed {
		desc.BitmapSerde = column.BitmapSerdeName
	}
	return desc, nil
}

func (d *stringDimMerger) header() []byte {
	var flags byte
	if d.caps.HasMultipleValues.Istrue() {
		flags |= 1
	}
	if d.hasNull {
		flags |= 2
	}
	if d.indexed {
		flags |= 4
	}
	hdr := []byte{1, flags}
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(d.rows))
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(d.cardinality()))
	dict := make([]*string, 0, d.cardinality())
	if d.hasNull {
		dict = append(dict, nil)
	}
	for i := range d.dict {
		dict = append(dict, &d.dict[i])
	}
	hdr = column.AppendIndexed(hdr, dict, true)
	return binary.BigEndian.AppendUint32(hdr, uint32(d.slab.Size()))
}

func (d *stringDimMerger) tail() []byte {
	if !d.indexed {
		return nil
	}
	var out []byte
	for _, b := range d.bitmapBytes {
		out = binary.BigEndian.AppendUint32(out, uint32(len(b)))
		out = append(out, b...)
	}
	return out
}

func (d *stringDimMerger) Size() (int64, error) {
	return int64(len(d.header())) + d.slab.Size() + int64(len(d.tail())), nil
}

func (d *stringDimMerger) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(d.header())
	written := int64(n)
	if err != nil {
		return written, err
	}
	c, err := d.slab.WriteTo(w)
	written += c
	if err != nil {
		return written, err
	}
	n, err = w.Write(d.tail())
	return written + int64(n), err
}
