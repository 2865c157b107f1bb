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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chronicledb/chronicle/column"
	"github.com/chronicledb/chronicle/smoosh"
)

// Segment is a built segment opened for reading. It
// implements Adapter, so built segments feed directly back
// into further merges (compaction, tiered merging).
type Segment struct {
	rd   *smoosh.Reader
	span Interval
	dims []string // materialized dims in declared order
	mets []string
	caps map[string]*column.Capabilities
	rows int

	time      *column.Numeric
	numerics  map[string]*column.Numeric
	complexes map[string]*column.ComplexColumn
	dimCols   map[string]*dimColumn // nil entry: null-only placeholder
	meta      *Metadata
}

// Open maps the segment at dir and decodes its columns.
// The returned Segment must be closed to release the
// mapped container files.
func Open(dir string) (*Segment, error) {
	vb, err := os.ReadFile(filepath.Join(dir, VersionFileName))
	if err != nil {
		return nil, err
	}
	if len(vb) != 4 {
		return nil, fmt.Errorf("segment %s: malformed %s", dir, VersionFileName)
	}
	if v := binary.BigEndian.Uint32(vb); v != FormatVersion {
		return nil, fmt.Errorf("segment %s: version %d, want %d", dir, v, FormatVersion)
	}
	rd, err := smoosh.Open(dir)
	if err != nil {
		return nil, err
	}
	s := &Segment{
		rd:        rd,
		caps:      make(map[string]*column.Capabilities),
		numerics:  make(map[string]*column.Numeric),
		complexes: make(map[string]*column.ComplexColumn),
		dimCols:   make(map[string]*dimColumn),
	}
	if err := s.load(); err != nil {
		rd.Close()
		return nil, err
	}
	return s, nil
}

func (s *Segment) load() error {
	blob, err := s.rd.Get(IndexDRDName)
	if err != nil {
		return err
	}
	x, err := decodeIndexDRD(blob)
	if err != nil {
		return err
	}
	s.span = x.span
	allDims, err := reconstructOrder(x.dims, x.allDims)
	if err != nil {
		return err
	}
	s.dims = allDims

	// the time column fixes the row count
	if err := s.loadColumn(column.TimeColumnName, true); err != nil {
		return err
	}
	for _, name := range x.cols {
		isDim := false
		for _, d := range x.dims {
			if d == name {
				isDim = true
				break
			}
		}
		if !isDim {
			s.mets = append(s.mets, name)
		}
		if err := s.loadColumn(name, false); err != nil {
			return err
		}
	}
	// stored null-only placeholders
	for _, name := range allDims {
		if _, ok := s.dimCols[name]; ok {
			continue
		}
		if err := s.loadColumn(name, false); err != nil {
			return err
		}
	}
	if s.rd.Has(MetadataDRDName) {
		mb, err := s.rd.Get(MetadataDRDName)
		if err != nil {
			return err
		}
		s.meta = new(Metadata)
		if err := json.Unmarshal(mb, s.meta); err != nil {
			return fmt.Errorf("metadata.drd: %w", err)
		}
	}
	return nil
}

func (s *Segment) loadColumn(name string, isTime bool) error {
	blob, err := s.rd.Get(name)
	if err != nil {
		return err
	}
	desc, payload, err := column.ReadDescriptor(blob)
	if err != nil {
		return fmt.Errorf("column %q: %w", name, err)
	}
	switch desc.ValueType {
	case "long", "float", "double":
		num, err := column.DecodeNumeric(payload)
		if err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		if isTime {
			s.time = num
			s.rows = num.RowCount
			return nil
		}
		s.numerics[name] = num
		caps := &column.Capabilities{Type: column.Type{Kind: num.Kind}}
		if desc.Encoding == "v2" {
			caps.HasNulls = column.Of(anyNull(num))
		} else {
			caps.HasNulls = column.False
		}
		s.caps[name] = caps
	case "complex":
		cc, err := column.DecodeComplex(payload)
		if err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		s.complexes[name] = cc
		s.caps[name] = &column.Capabilities{Type: column.Complex(desc.TypeName)}
	case "string":
		dc, err := decodeDimColumn(payload)
		if err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		s.dimCols[name] = dc
		s.caps[name] = &column.Capabilities{
			Type:                   column.String(),
			DictionaryEncoded:      column.True,
			DictionaryValuesSorted: column.True,
			DictionaryValuesUnique: column.True,
			HasMultipleValues:      column.Of(dc.multi),
			HasNulls:               column.Of(dc.hasNull),
			HasBitmapIndexes:       dc.indexed,
			Filterable:             true,
		}
	case "null":
		s.dimCols[name] = nil
		s.caps[name] = &column.Capabilities{
			Type:     column.String(),
			HasNulls: column.True,
		}
	default:
		return fmt.Errorf("column %q: unknown value type %q", name, desc.ValueType)
	}
	return nil
}

func anyNull(n *column.Numeric) bool {
	for i := 0; i < n.RowCount; i++ {
		if n.IsNull(i) {
			return true
		}
	}
	return false
}

// Close unmaps the container files.
func (s *Segment) Close() error { return s.rd.Close() }

// Interval implements Adapter.
func (s *Segment) Interval() Interval { return s.span }

// DimensionNames implements Adapter.
func (s *Segment) DimensionNames() []string { return s.dims }

// MetricNames implements Adapter.
func (s *Segment) MetricNames() []string { return s.mets }

// Capabilities implements Adapter.
func (s *Segment) Capabilities(col string) *column.Capabilities { return s.caps[col] }

// RowCount implements Adapter.
func (s *Segment) RowCount() int { return s.rows }

// Metadata implements Adapter.
func (s *Segment) Metadata() *Metadata { return s.meta }

// Rows implements Adapter.
func (s *Segment) Rows() RowReader {
	return &segmentReader{s: s}
}

type segmentReader struct {
	s   *Segment
	i   int
	row Row
}

func (r *segmentReader) Next() bool {
	if r.i >= r.s.rows {
		return false
	}
	s := r.s
	i := r.i
	r.row.Timestamp = s.time.Long(i)
	r.row.Dims = r.row.Dims[:0]
	for _, d := range s.dims {
		dc := s.dimCols[d]
		if dc == nil {
			r.row.Dims = append(r.row.Dims, nil)
			continue
		}
		r.row.Dims = append(r.row.Dims, dc.rowValue(i))
	}
	r.row.Metrics = r.row.Metrics[:0]
	for _, m := range s.mets {
		if num, ok := s.numerics[m]; ok {
			r.row.Metrics = append(r.row.Metrics, numericValue(num, i))
			continue
		}
		cc := s.complexes[m]
		r.row.Metrics = append(r.row.Metrics, ObjectValue(cc.Value(i)))
	}
	r.i++
	return true
}

func (r *segmentReader) Row() *Row { return &r.row }

func numericValue(n *column.Numeric, row int) MetricValue {
	if n.IsNull(row) {
		return NullValue()
	}
	if n.Kind == column.KindLong {
		return LongValue(n.Long(row))
	}
	return DoubleValue(n.Double(row))
}

// DimValues implements Adapter.
func (s *Segment) DimValues(dim string) DimValueLookup {
	dc, ok := s.dimCols[dim]
	if !ok || dc == nil {
		return nil
	}
	dc.ensureBitmaps()
	return dc
}
