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
	"encoding/json"
	"fmt"
	"io"
)

// Descriptor is the machine-readable header stored in front
// of every column payload inside the container. The JSON
// encoding is embedded in the segment, so fields must keep
// a stable shape.
type Descriptor struct {
	// ValueType is the column kind: "long", "float",
	// "double", "complex", "string", or "null" for a
	// null-only placeholder column.
	ValueType string `json:"valueType"`
	// TypeName is the registered serde name for complex
	// columns.
	TypeName string `json:"typeName,omitempty"`
	// HasMultipleValues is set on multi-valued dimensions.
	HasMultipleValues bool `json:"hasMultipleValues,omitempty"`
	// Encoding is "legacy" or "v2" for numeric columns.
	Encoding string `json:"encoding,omitempty"`
	// Compression names the block compression algorithm
	// for numeric payloads.
	Compression string `json:"compression,omitempty"`
	// BitmapSerde names the bitmap serialization used by
	// dimension indexes and V2 null bitmaps.
	BitmapSerde string `json:"bitmapSerde,omitempty"`
	// Cardinality is the dictionary size of a dimension
	// column, including the null slot if present.
	Cardinality int `json:"cardinality,omitempty"`
	// HasBitmapIndexes is set when the payload carries an
	// inverted index section.
	HasBitmapIndexes bool `json:"hasBitmapIndexes,omitempty"`
	// RowCount is only set on null-only placeholder
	// columns, which have no payload at all.
	RowCount int `json:"rowCount,omitempty"`
}

// WriteTo writes the length-prefixed JSON encoding of d.
func (d *Descriptor) WriteTo(w io.Writer) (int64, error) {
	enc, err := json.Marshal(d)
	if err != nil {
		return 0, err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(enc)))
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, err
	}
	n, err := w.Write(enc)
	return int64(4 + n), err
}

// EncodedSize returns the number of bytes WriteTo will emit.
func (d *Descriptor) EncodedSize() (int64, error) {
	enc, err := json.Marshal(d)
	if err != nil {
		return 0, err
	}
	return int64(4 + len(enc)), nil
}

// ReadDescriptor decodes a length-prefixed descriptor from
// the front of b and returns the remaining payload bytes.
func ReadDescriptor(b []byte) (*Descriptor, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("descriptor: truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(b))
	if len(b) < 4+n {
		return nil, nil, fmt.Errorf("descriptor: need %d bytes, have %d", 4+n, len(b))
	}
	d := new(Descriptor)
	if err := json.Unmarshal(b[4:4+n], d); err != nil {
		return nil, nil, fmt.Errorf("descriptor: %w", err)
	}
	return d, b[4+n:], nil
}
