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
	"sync"

	"github.com/chronicledb/chronicle/writeout"
)

// ComplexSerde converts the values of one complex column
// type to and from bytes. Implementations register at
// process start with RegisterComplex.
type ComplexSerde interface {
	TypeName() string
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte) (any, error)
}

var complexReg struct {
	sync.RWMutex
	serdes map[string]ComplexSerde
}

// RegisterComplex registers a serde under its type name.
// Registering the same name twice panics.
func RegisterComplex(serde ComplexSerde) {
	complexReg.Lock()
	defer complexReg.Unlock()
	if complexReg.serdes == nil {
		complexReg.serdes = make(map[string]ComplexSerde)
	}
	name := serde.TypeName()
	if _, ok := complexReg.serdes[name]; ok {
		panic("column: complex serde " + name + " registered twice")
	}
	complexReg.serdes[name] = serde
}

// SerdeFor looks up the serde registered under name.
func SerdeFor(name string) (ComplexSerde, bool) {
	complexReg.RLock()
	defer complexReg.RUnlock()
	s, ok := complexReg.serdes[name]
	return s, ok
}

// UnknownComplexTypeError is returned when a complex
// column references a type name with no registered serde.
type UnknownComplexTypeError struct {
	TypeName string
}

func (e *UnknownComplexTypeError) Error() string {
	return fmt.Sprintf("unknown complex type %q", e.TypeName)
}

// complex column payload layout:
//
//	byte    version (1)
//	uint32  row count
//	uint16  type name length + name
//	per row: uint32 length + bytes, or 0xffffffff for null

const complexNull = 0xffffffff

// ComplexSerializer serializes a complex column through
// its registered serde.
type ComplexSerializer struct {
	typeName string
	serde    ComplexSerde
	slab     *writeout.Slab
	rows     uint32
}

// NewComplexSerializer creates a serializer for the given
// registered type name. The serde is resolved at Open.
func NewComplexSerializer(typeName string, slab *writeout.Slab) *ComplexSerializer {
	return &ComplexSerializer{typeName: typeName, slab: slab}
}

// Open implements Serializer.
func (s *ComplexSerializer) Open() error {
	serde, ok := SerdeFor(s.typeName)
	if !ok {
		return &UnknownComplexTypeError{TypeName: s.typeName}
	}
	s.serde = serde
	return nil
}

// Serialize implements Serializer.
func (s *ComplexSerializer) Serialize(sel Selector) error {
	var frame [4]byte
	if sel == nil || sel.IsNull() {
		binary.BigEndian.PutUint32(frame[:], complexNull)
		_, err := s.slab.Write(frame[:])
		s.rows++
		return err
	}
	enc, err := s.serde.Marshal(sel.Object())
	if err != nil {
		return fmt.Errorf("complex %s: %w", s.typeName, err)
	}
	binary.BigEndian.PutUint32(frame[:], uint32(len(enc)))
	if _, err := s.slab.Write(frame[:]); err != nil {
		return err
	}
	_, err = s.slab.Write(enc)
	s.rows++
	return err
}

func (s *ComplexSerializer) header() []byte {
	hdr := []byte{1}
	hdr = binary.BigEndian.AppendUint32(hdr, s.rows)
	hdr = binary.BigEndian.AppendUint16(hdr, uint16(len(s.typeName)))
	return append(hdr, s.typeName...)
}

// Size implements Serializer.
func (s *ComplexSerializer) Size() (int64, error) {
	return int64(len(s.header())) + s.slab.Size(), nil
}

// WriteTo implements Serializer.
func (s *ComplexSerializer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.header())
	written := int64(n)
	if err != nil {
		return written, err
	}
	c, err := s.slab.WriteTo(w)
	return written + c, err
}

// ComplexColumn is a decoded complex column payload.
type ComplexColumn struct {
	TypeName string
	values   []any
}

// RowCount returns the number of rows in the column.
func (c *ComplexColumn) RowCount() int { return len(c.values) }

// Value returns the decoded value at row, or nil for null.
func (c *ComplexColumn) Value(row int) any { return c.values[row] }

// DecodeComplex decodes a complex column payload. The
// column's serde must be registered.
func DecodeComplex(b []byte) (*ComplexColumn, error) {
	if len(b) < 7 {
		return nil, errors.New("complex: truncated header")
	}
	if b[0] != 1 {
		return nil, fmt.Errorf("complex: unknown version %d", b[0])
	}
	rows := int(binary.BigEndian.Uint32(b[1:]))
	nameLen := int(binary.BigEndian.Uint16(b[5:]))
	if len(b) < 7+nameLen {
		return nil, errors.New("complex: truncated type name")
	}
	typeName := string(b[7 : 7+nameLen])
	serde, ok := SerdeFor(typeName)
	if !ok {
		return nil, &UnknownComplexTypeError{TypeName: typeName}
	}
	b = b[7+nameLen:]
	out := &ComplexColumn{TypeName: typeName, values: make([]any, 0, rows)}
	for i := 0; i < rows; i++ {
		if len(b) < 4 {
			return nil, fmt.Errorf("complex: truncated row %d", i)
		}
		n := binary.BigEndian.Uint32(b)
		b = b[4:]
		if n == complexNull {
			out.values = append(out.values, nil)
			continue
		}
		if len(b) < int(n) {
			return nil, fmt.Errorf("complex: truncated row %d", i)
		}
		v, err := serde.Unmarshal(b[:n])
		if err != nil {
			return nil, fmt.Errorf("complex row %d: %w", i, err)
		}
		out.values = append(out.values, v)
		b = b[n:]
	}
	return out, nil
}
