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

package column

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/chronicledb/chronicle/compr"
	"github.com/chronicledb/chronicle/writeout"
)

// Serializer is the contract every column serializer
// implements. Open is called once, Serialize once per
// merged output row in row order, and WriteTo once when
// the column is flushed into the container.
type Serializer interface {
	Open() error
	Serialize(sel Selector) error
	Size() (int64, error)
	WriteTo(w io.Writer) (int64, error)
}

// BitmapSerdeName identifies the bitmap serialization
// used throughout a segment.
const BitmapSerdeName = "roaring"

// numeric column payload layout:
//
//	byte    version (1 legacy, 2 explicit-null)
//	byte    kind
//	uint32  values per block
//	uint32  row count
//	uint16  compression name length + name
//	uint32  block count
//	uint32 × blockCount  compressed block lengths
//	blocks (little-endian fixed-width values per block)
//	version 2 only:
//	uint16  bitmap serde name length + name
//	uint32  null bitmap length + bitmap bytes

const valuesPerBlock = 8192

// NumericSerializer serializes LONG, FLOAT and DOUBLE
// columns (the time column is a LONG column).
type NumericSerializer struct {
	kind  Kind
	mode  NullMode
	comp  compr.Compressor
	slab  *writeout.Slab
	block []byte
	lens  []uint32
	rows  uint32
	nulls *roaring.Bitmap

	finished  bool
	nullBytes []byte
	scratch   []byte
}

// NewNumericSerializer creates a serializer for the given
// primitive kind. comp may be nil to disable block
// compression. Scratch blocks are written to slab.
func NewNumericSerializer(kind Kind, mode NullMode, comp compr.Compressor, slab *writeout.Slab) *NumericSerializer {
	return &NumericSerializer{kind: kind, mode: mode, comp: comp, slab: slab}
}

func (s *NumericSerializer) width() int {
	if s.kind == KindFloat {
		return 4
	}
	return 8
}

// Open implements Serializer.
func (s *NumericSerializer) Open() error {
	switch s.kind {
	case KindLong, KindFloat, KindDouble:
	default:
		return fmt.Errorf("numeric serializer: bad kind %s", s.kind)
	}
	if s.mode == NullExplicit {
		s.nulls = roaring.New()
	}
	return nil
}

// Serialize implements Serializer. A nil selector or a
// selector reporting null encodes the type's zero value;
// in explicit-null mode the row is additionally recorded
// in the null bitmap.
func (s *NumericSerializer) Serialize(sel Selector) error {
	if s.finished {
		return errors.New("numeric serializer: Serialize after Size/WriteTo")
	}
	null := sel == nil || sel.IsNull()
	var bits uint64
	if !null {
		switch s.kind {
		case KindLong:
			bits = uint64(sel.Long())
		case KindFloat:
			bits = uint64(math.Float32bits(float32(sel.Double())))
		case KindDouble:
			bits = math.Float64bits(sel.Double())
		}
	}
	if null && s.mode == NullExplicit {
		s.nulls.Add(s.rows)
	}
	if s.kind == KindFloat {
		s.block = binary.LittleEndian.AppendUint32(s.block, uint32(bits))
	} else {
		s.block = binary.LittleEndian.AppendUint64(s.block, bits)
	}
	s.rows++
	if len(s.block) >= valuesPerBlock*s.width() {
		return s.flushBlock()
	}
	return nil
}

func (s *NumericSerializer) flushBlock() error {
	if len(s.block) == 0 {
		return nil
	}
	out := s.block
	if s.comp != nil {
		s.scratch = s.comp.Compress(s.block, s.scratch[:0])
		out = s.scratch
	}
	if _, err := s.slab.Write(out); err != nil {
		return err
	}
	s.lens = append(s.lens, uint32(len(out)))
	s.block = s.block[:0]
	return nil
}

func (s *NumericSerializer) finish() error {
	if s.finished {
		return nil
	}
	if err := s.flushBlock(); err != nil {
		return err
	}
	if s.mode == NullExplicit {
		s.nulls.RunOptimize()
		b, err := s.nulls.ToBytes()
		if err != nil {
			return err
		}
		s.nullBytes = b
	}
	s.finished = true
	return nil
}

func (s *NumericSerializer) compName() string {
	if s.comp == nil {
		return "none"
	}
	return s.comp.Name()
}

func (s *NumericSerializer) header() []byte {
	version := byte(1)
	if s.mode == NullExplicit {
		version = 2
	}
	hdr := []byte{version, byte(s.kind)}
	hdr = binary.BigEndian.AppendUint32(hdr, valuesPerBlock)
	hdr = binary.BigEndian.AppendUint32(hdr, s.rows)
	name := s.compName()
	hdr = binary.BigEndian.AppendUint16(hdr, uint16(len(name)))
	hdr = append(hdr, name...)
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(len(s.lens)))
	for _, n := range s.lens {
		hdr = binary.BigEndian.AppendUint32(hdr, n)
	}
	return hdr
}

// Size implements Serializer.
func (s *NumericSerializer) Size() (int64, error) {
	if err := s.finish(); err != nil {
		return 0, err
	}
	n := int64(len(s.header())) + s.slab.Size()
	if s.mode == NullExplicit {
		n += int64(2 + len(BitmapSerdeName) + 4 + len(s.nullBytes))
	}
	return n, nil
}

// WriteTo implements Serializer.
func (s *NumericSerializer) WriteTo(w io.Writer) (int64, error) {
	if err := s.finish(); err != nil {
		return 0, err
	}
	var written int64
	n, err := w.Write(s.header())
	written += int64(n)
	if err != nil {
		return written, err
	}
	c, err := s.slab.WriteTo(w)
	written += c
	if err != nil {
		return written, err
	}
	if s.mode == NullExplicit {
		tail := binary.BigEndian.AppendUint16(nil, uint16(len(BitmapSerdeName)))
		tail = append(tail, BitmapSerdeName...)
		tail = binary.BigEndian.AppendUint32(tail, uint32(len(s.nullBytes)))
		tail = append(tail, s.nullBytes...)
		n, err = w.Write(tail)
		written += int64(n)
	}
	return written, err
}

// Numeric is a decoded numeric column payload.
type Numeric struct {
	Kind     Kind
	Encoding string
	RowCount int

	bits  []uint64
	nulls *roaring.Bitmap
}

// IsNull reports whether the value at row is null.
// Legacy-encoded columns never report null.
func (n *Numeric) IsNull(row int) bool {
	return n.nulls != nil && n.nulls.Contains(uint32(row))
}

// Long returns the row value as an int64.
func (n *Numeric) Long(row int) int64 {
	switch n.Kind {
	case KindFloat:
		return int64(math.Float32frombits(uint32(n.bits[row])))
	case KindDouble:
		return int64(math.Float64frombits(n.bits[row]))
	default:
		return int64(n.bits[row])
	}
}

// Double returns the row value as a float64.
func (n *Numeric) Double(row int) float64 {
	switch n.Kind {
	case KindFloat:
		return float64(math.Float32frombits(uint32(n.bits[row])))
	case KindDouble:
		return math.Float64frombits(n.bits[row])
	default:
		return float64(int64(n.bits[row]))
	}
}

// DecodeNumeric decodes a numeric column payload produced
// by NumericSerializer.
func DecodeNumeric(b []byte) (*Numeric, error) {
	if len(b) < 10 {
		return nil, errors.New("numeric: truncated header")
	}
	version := b[0]
	if version != 1 && version != 2 {
		return nil, fmt.Errorf("numeric: unknown version %d", version)
	}
	kind := Kind(b[1])
	perBlock := int(binary.BigEndian.Uint32(b[2:]))
	rows := int(binary.BigEndian.Uint32(b[6:]))
	b = b[10:]
	if len(b) < 2 {
		return nil, errors.New("numeric: truncated compression name")
	}
	nameLen := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+nameLen {
		return nil, errors.New("numeric: truncated compression name")
	}
	compName := string(b[2 : 2+nameLen])
	b = b[2+nameLen:]
	var dec compr.Decompressor
	if compName != "none" {
		dec = compr.Decompression(compName)
		if dec == nil {
			return nil, fmt.Errorf("numeric: unknown compression %q", compName)
		}
	}
	if len(b) < 4 {
		return nil, errors.New("numeric: truncated block count")
	}
	blockCount := int(binary.BigEndian.Uint32(b))
	b = b[4:]
	if len(b) < 4*blockCount {
		return nil, errors.New("numeric: truncated block lengths")
	}
	lens := make([]int, blockCount)
	for i := range lens {
		lens[i] = int(binary.BigEndian.Uint32(b[4*i:]))
	}
	b = b[4*blockCount:]

	width := 8
	if kind == KindFloat {
		width = 4
	}
	out := &Numeric{Kind: kind, RowCount: rows, Encoding: "legacy"}
	if version == 2 {
		out.Encoding = "v2"
	}
	out.bits = make([]uint64, 0, rows)
	remaining := rows
	raw := make([]byte, perBlock*width)
	for i := 0; i < blockCount; i++ {
		if len(b) < lens[i] {
			return nil, fmt.Errorf("numeric: truncated block %d", i)
		}
		nvals := perBlock
		if remaining < nvals {
			nvals = remaining
		}
		block := raw[:nvals*width]
		if dec == nil {
			copy(block, b[:lens[i]])
		} else if err := dec.Decompress(b[:lens[i]], block); err != nil {
			return nil, fmt.Errorf("numeric: block %d: %w", i, err)
		}
		for j := 0; j < nvals; j++ {
			if width == 4 {
				out.bits = append(out.bits, uint64(binary.LittleEndian.Uint32(block[j*4:])))
			} else {
				out.bits = append(out.bits, binary.LittleEndian.Uint64(block[j*8:]))
			}
		}
		remaining -= nvals
		b = b[lens[i]:]
	}
	if remaining != 0 {
		return nil, fmt.Errorf("numeric: %d rows missing from blocks", remaining)
	}
	if version == 2 {
		if len(b) < 2 {
			return nil, errors.New("numeric: truncated bitmap serde")
		}
		serdeLen := int(binary.BigEndian.Uint16(b))
		if len(b) < 2+serdeLen+4 {
			return nil, errors.New("numeric: truncated null bitmap")
		}
		serde := string(b[2 : 2+serdeLen])
		if serde != BitmapSerdeName {
			return nil, fmt.Errorf("numeric: unknown bitmap serde %q", serde)
		}
		b = b[2+serdeLen:]
		bmLen := int(binary.BigEndian.Uint32(b))
		if len(b) < 4+bmLen {
			return nil, errors.New("numeric: truncated null bitmap")
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(b[4 : 4+bmLen]); err != nil {
			return nil, fmt.Errorf("numeric: null bitmap: %w", err)
		}
		out.nulls = bm
	}
	return out, nil
}
