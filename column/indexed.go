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
	"fmt"
)

// GenericIndexed is a random-access serialization of a
// sequence of nullable byte-strings. The layout is
//
//	byte    version (1)
//	byte    flags (bit 0: values are sorted)
//	uint32  element count (big-endian)
//	uint32  payload length
//	uint32 × count  end offset of each element within the payload
//	payload: per element, a presence byte (0 present, 1 null)
//	         followed by the element bytes
//
// Null elements are legal; a nil *string encodes as null.

const indexedVersion = 1

// AppendIndexed appends the GenericIndexed encoding of vals
// to dst and returns the extended slice.
func AppendIndexed(dst []byte, vals []*string, sorted bool) []byte {
	var flags byte
	if sorted {
		flags = 1
	}
	dst = append(dst, indexedVersion, flags)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(vals)))

	// build payload and offsets in one pass
	payload := make([]byte, 0, 16*len(vals))
	offsets := make([]uint32, len(vals))
	for i, v := range vals {
		if v == nil {
			payload = append(payload, 1)
		} else {
			payload = append(payload, 0)
			payload = append(payload, *v...)
		}
		offsets[i] = uint32(len(payload))
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	for _, off := range offsets {
		dst = binary.BigEndian.AppendUint32(dst, off)
	}
	return append(dst, payload...)
}

// AppendIndexedStrings is AppendIndexed for a value set
// with no nulls.
func AppendIndexedStrings(dst []byte, vals []string, sorted bool) []byte {
	ptrs := make([]*string, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	return AppendIndexed(dst, ptrs, sorted)
}

// ReadIndexed decodes a GenericIndexed blob from the front
// of b and returns the decoded values plus the remaining
// bytes.
func ReadIndexed(b []byte) (vals []*string, rest []byte, err error) {
	if len(b) < 10 {
		return nil, nil, fmt.Errorf("indexed: truncated header (%d bytes)", len(b))
	}
	if b[0] != indexedVersion {
		return nil, nil, fmt.Errorf("indexed: unknown version %d", b[0])
	}
	count := int(binary.BigEndian.Uint32(b[2:]))
	payloadLen := int(binary.BigEndian.Uint32(b[6:]))
	need := 10 + 4*count + payloadLen
	if len(b) < need {
		return nil, nil, fmt.Errorf("indexed: need %d bytes, have %d", need, len(b))
	}
	offsets := b[10 : 10+4*count]
	payload := b[10+4*count : need]
	vals = make([]*string, count)
	start := uint32(0)
	for i := 0; i < count; i++ {
		end := binary.BigEndian.Uint32(offsets[4*i:])
		if end < start || int(end) > payloadLen {
			return nil, nil, fmt.Errorf("indexed: element %d: bad offset %d", i, end)
		}
		entry := payload[start:end]
		if len(entry) == 0 {
			return nil, nil, fmt.Errorf("indexed: element %d: empty entry", i)
		}
		if entry[0] == 0 {
			s := string(entry[1:])
			vals[i] = &s
		}
		start = end
	}
	return vals, b[need:], nil
}

// ReadIndexedStrings decodes a GenericIndexed blob that is
// not expected to contain nulls.
func ReadIndexedStrings(b []byte) (vals []string, rest []byte, err error) {
	ptrs, rest, err := ReadIndexed(b)
	if err != nil {
		return nil, nil, err
	}
	vals = make([]string, len(ptrs))
	for i, p := range ptrs {
		if p == nil {
			return nil, nil, fmt.Errorf("indexed: unexpected null at element %d", i)
		}
		vals[i] = *p
	}
	return vals, rest, nil
}
