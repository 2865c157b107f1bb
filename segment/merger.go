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
	"io"
	"os"
	"path/filepath"

	"github.com/chronicledb/chronicle/column"
	"github.com/chronicledb/chronicle/smoosh"
	"github.com/chronicledb/chronicle/writeout"
)

// FormatVersion is the segment format version written to
// version.bin.
const FormatVersion = 9

const (
	// VersionFileName holds the 4-byte big-endian format
	// version at the segment root.
	VersionFileName = "version.bin"
	// FactoryFileName holds the serialized segmentizer
	// descriptor at the segment root.
	FactoryFileName = "factory.json"
)

// Merger builds segments. The zero value uses the default
// IndexSpec, the string dimension handler, and no progress
// reporting. A single Merger may serve many sequential
// merges; two merges targeting the same output directory
// must not run concurrently.
type Merger struct {
	// Spec selects the encodings of final outputs.
	Spec IndexSpec
	// IntermediateSpec, when set, is used for the inner
	// tiers of multi-phase merges instead of Spec.
	IntermediateSpec *IndexSpec
	// DimSpec carries the declared dimension order and the
	// null-only materialization policy.
	DimSpec *DimensionsSpec
	// Handler creates dimension mergers; nil means
	// StringDimensionHandler.
	Handler DimensionHandler
	// Progress receives lifecycle events; nil discards.
	Progress Progress
	// Logf, when set, receives diagnostics (tier layout,
	// swallowed cleanup failures).
	Logf func(string, ...any)
}

func (m *Merger) logf(format string, args ...any) {
	if m.Logf != nil {
		m.Logf(format, args...)
	}
}

func (m *Merger) progress() Progress {
	if m.Progress != nil {
		return m.Progress
	}
	return NopProgress{}
}

func (m *Merger) handler() DimensionHandler {
	if m.Handler != nil {
		return m.Handler
	}
	return StringDimensionHandler
}

// Persist writes a single input as a segment without
// rollup.
func (m *Merger) Persist(in Adapter, dir string) error {
	return m.Merge([]Adapter{in}, false, nil, dir)
}

// Merge merges inputs into a segment at dir. When rollup is
// set, rows with equal (time, dims...) keys are combined
// and aggs must supply an aggregator per metric. The output
// directory is created if needed; on error no committed
// container is left behind, and the caller is expected to
// wipe dir before retrying.
func (m *Merger) Merge(inputs []Adapter, rollup bool, aggs map[string]Aggregator, dir string) error {
	return m.merge(inputs, rollup, aggs, dir, &m.Spec)
}

func (m *Merger) merge(inputs []Adapter, rollup bool, aggs map[string]Aggregator, dir string, spec *IndexSpec) (err error) {
	if err := spec.validate(); err != nil {
		return err
	}
	if len(inputs) == 0 {
		return invalidf("no inputs")
	}
	total := 0
	span := inputs[0].Interval()
	for _, in := range inputs {
		total += in.RowCount()
		span = span.Union(in.Interval())
	}
	if total == 0 {
		return invalidf("persisting empty index")
	}
	schema, err := mergeSchema(inputs, m.DimSpec)
	if err != nil {
		return err
	}
	orderedAggs, err := orderAggregators(schema.mets, aggs, rollup)
	if err != nil {
		return err
	}

	prog := m.progress()
	prog.Start()
	defer prog.Stop()

	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	medium, err := writeout.New(filepath.Join(dir, "tmp-writeout"), spec.mediumKind())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := medium.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := writeVersion(dir); err != nil {
		return err
	}
	if err := writeFactory(dir, span, schema); err != nil {
		return err
	}

	writer, err := smoosh.NewWriter(dir, spec.MaxContainerFileSize)
	if err != nil {
		return err
	}
	// an error anywhere below must not commit the manifest
	medium.OnClose(writer.Abort)

	prog.StartSection("dictionaries")
	mergers := make([]DimensionMerger, len(schema.dims))
	for i, d := range schema.dims {
		dm, err := m.handler()(d, schema.dimCaps[d], medium)
		if err != nil {
			return err
		}
		if err := dm.MergeValueDictionaries(inputs); err != nil {
			return err
		}
		mergers[i] = dm
	}
	prog.StopSection("dictionaries")

	timeSer, metSers, err := openSerializers(schema, spec, medium)
	if err != nil {
		return err
	}

	readers := make([]RowReader, len(inputs))
	for i, in := range inputs {
		readers[i] = newProjectedReader(in, schema.dims, schema.mets)
	}
	var iter TimeAndDimsIterator
	if rollup {
		iter = NewRowCombiningIterator(readers, orderedAggs)
	} else {
		iter = NewMergingRowIterator(readers)
	}

	prog.StartSection("walk")
	rowCount, conversions, err := m.writeRows(iter, span, timeSer, metSers, mergers, len(inputs), prog)
	if err != nil {
		return err
	}
	prog.StopSection("walk")

	prog.StartSection("columns")
	desc := &column.Descriptor{
		ValueType:   "long",
		Encoding:    encodingName(spec),
		Compression: spec.compressionName(),
	}
	if spec.nullMode() == column.NullExplicit {
		desc.BitmapSerde = column.BitmapSerdeName
	}
	if err := writeColumn(writer, column.TimeColumnName, desc, timeSer); err != nil {
		return err
	}
	for i, name := range schema.mets {
		desc, err := metricDescriptor(schema.metCaps[name], spec)
		if err != nil {
			return err
		}
		if err := writeColumn(writer, name, desc, metSers[i]); err != nil {
			return err
		}
	}
	prog.StopSection("columns")

	prog.StartSection("indexes")
	nullOnly := make(map[string]bool)
	var nonNullDims, allDims []string
	for i, name := range schema.dims {
		dm := mergers[i]
		if err := dm.WriteIndexes(conversions); err != nil {
			return err
		}
		if !dm.HasOnlyNulls() {
			d, err := dm.Descriptor()
			if err != nil {
				return err
			}
			if err := writeColumn(writer, name, d, dm); err != nil {
				return err
			}
			nonNullDims = append(nonNullDims, name)
			allDims = append(allDims, name)
			continue
		}
		if m.DimSpec.shouldStore(name) {
			d := &column.Descriptor{ValueType: "null", RowCount: rowCount}
			if err := writeColumn(writer, name, d, nil); err != nil {
				return err
			}
			nullOnly[name] = true
			allDims = append(allDims, name)
		}
		// otherwise the dimension is dropped entirely
	}
	prog.StopSection("indexes")

	x := &indexDRD{
		cols:   append(append([]string(nil), schema.mets...), nonNullDims...),
		dims:   nonNullDims,
		span:   span,
		bitmap: column.BitmapSerdeName,
	}
	allCols := append(append([]string(nil), schema.mets...), allDims...)
	x.allCols = placeholderVector(allCols, nullOnly)
	x.allDims = placeholderVector(allDims, nullOnly)
	if err := writer.Add(IndexDRDName, x.encode()); err != nil {
		return err
	}

	if md := mergeMetadata(inputs, rollup, orderedAggs); md != nil {
		enc, err := json.Marshal(md)
		if err != nil {
			return err
		}
		if err := writer.Add(MetadataDRDName, enc); err != nil {
			return err
		}
	}
	return writer.Close()
}

// writeRows walks the merged iterator, feeding every
// serializer and dimension merger, and fills the per-input
// row-number conversion buffers.
func (m *Merger) writeRows(iter TimeAndDimsIterator, span Interval, timeSer column.Serializer, metSers []column.Serializer, mergers []DimensionMerger, numInputs int, prog Progress) (int, [][]int, error) {
	combining := false
	switch iter.(type) {
	case *MergingRowIterator:
	case *RowCombiningIterator:
		combining = true
	default:
		return 0, nil, fmt.Errorf("%w (%T)", ErrUnsupportedIterator, iter)
	}
	conversions := make([][]int, numInputs)
	rowCount := 0
	for iter.Next() {
		p := iter.Pointer()
		if !span.Contains(p.Timestamp) {
			return 0, nil, invalidf("row %d timestamp %d outside interval %s", rowCount, p.Timestamp, span)
		}
		if err := timeSer.Serialize(LongValue(p.Timestamp)); err != nil {
			return 0, nil, err
		}
		for i, ser := range metSers {
			if err := ser.Serialize(p.Metrics[i]); err != nil {
				return 0, nil, err
			}
		}
		for i, dm := range mergers {
			if err := dm.ProcessMergedRow(p.Dims[i]); err != nil {
				return 0, nil, err
			}
		}
		if combining {
			for _, rg := range iter.(*RowCombiningIterator).CombinedRanges() {
				for orig := rg.MinRow; orig <= rg.MaxRow; orig++ {
					setConversion(&conversions[rg.Input], orig, rowCount)
				}
			}
		} else {
			setConversion(&conversions[p.Input], p.RowNum, rowCount)
		}
		rowCount++
		prog.Progress()
	}
	return rowCount, conversions, nil
}

// setConversion records that input row orig folded into
// output row out, padding skipped input rows with
// InvalidRow.
func setConversion(conv *[]int, orig, out int) {
	for len(*conv) < orig {
		*conv = append(*conv, InvalidRow)
	}
	if len(*conv) == orig {
		*conv = append(*conv, out)
	} else {
		(*conv)[orig] = out
	}
}

func orderAggregators(mets []string, aggs map[string]Aggregator, rollup bool) ([]Aggregator, error) {
	for name := range aggs {
		found := false
		for _, m := range mets {
			if m == name {
				found = true
				break
			}
		}
		if !found {
			return nil, invalidf("aggregator metric %q absent from inputs", name)
		}
	}
	if !rollup && len(aggs) == 0 {
		return nil, nil
	}
	out := make([]Aggregator, len(mets))
	for i, name := range mets {
		agg, ok := aggs[name]
		if !ok {
			if rollup {
				return nil, invalidf("rollup requested but metric %q has no aggregator", name)
			}
			continue
		}
		out[i] = agg
	}
	return out, nil
}

func encodingName(spec *IndexSpec) string {
	if spec.nullMode() == column.NullExplicit {
		return "v2"
	}
	return "legacy"
}

func metricDescriptor(caps *column.Capabilities, spec *IndexSpec) (*column.Descriptor, error) {
	switch caps.Type.Kind {
	case column.KindLong, column.KindFloat, column.KindDouble:
		d := &column.Descriptor{
			ValueType:   caps.Type.Kind.String(),
			Encoding:    encodingName(spec),
			Compression: spec.compressionName(),
		}
		if spec.nullMode() == column.NullExplicit {
			d.BitmapSerde = column.BitmapSerdeName
		}
		return d, nil
	case column.KindComplex:
		return &column.Descriptor{ValueType: "complex", TypeName: caps.Type.Name}, nil
	default:
		return nil, invalidf("metric of unsupported kind %s", caps.Type.Kind)
	}
}

func openSerializers(schema *mergedSchema, spec *IndexSpec, medium *writeout.Medium) (column.Serializer, []column.Serializer, error) {
	slab, err := medium.Open(column.TimeColumnName)
	if err != nil {
		return nil, nil, err
	}
	timeSer := column.NewNumericSerializer(column.KindLong, spec.nullMode(), spec.compressor(), slab)
	if err := timeSer.Open(); err != nil {
		return nil, nil, err
	}
	metSers := make([]column.Serializer, len(schema.mets))
	for i, name := range schema.mets {
		slab, err := medium.Open("met-" + name)
		if err != nil {
			return nil, nil, err
		}
		caps := schema.metCaps[name]
		var ser column.Serializer
		switch caps.Type.Kind {
		case column.KindLong, column.KindFloat, column.KindDouble:
			ser = column.NewNumericSerializer(caps.Type.Kind, spec.nullMode(), spec.compressor(), slab)
		case column.KindComplex:
			ser = column.NewComplexSerializer(caps.Type.Name, slab)
		default:
			return nil, nil, invalidf("metric %q has unsupported kind %s", name, caps.Type.Kind)
		}
		if err := ser.Open(); err != nil {
			return nil, nil, err
		}
		metSers[i] = ser
	}
	return timeSer, metSers, nil
}

// payloadWriter is the subset of the serializer contract
// needed to flush a column body.
type payloadWriter interface {
	Size() (int64, error)
	WriteTo(w io.Writer) (int64, error)
}

// writeColumn reserves descriptor+payload space in the
// container and flushes both. body may be nil for
// placeholder columns with no payload.
func writeColumn(w *smoosh.Writer, name string, desc *column.Descriptor, body payloadWriter) error {
	dsize, err := desc.EncodedSize()
	if err != nil {
		return err
	}
	var psize int64
	if body != nil {
		if psize, err = body.Size(); err != nil {
			return err
		}
	}
	dst, err := w.Reserve(name, dsize+psize)
	if err != nil {
		return err
	}
	if _, err := desc.WriteTo(dst); err != nil {
		return err
	}
	if body != nil {
		if _, err := body.WriteTo(dst); err != nil {
			return err
		}
	}
	return nil
}

func writeVersion(dir string) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], FormatVersion)
	return os.WriteFile(filepath.Join(dir, VersionFileName), b[:], 0640)
}

func writeFactory(dir string, span Interval, schema *mergedSchema) error {
	f := SegmentizerFactory{
		Type:      DefaultSegmentizer,
		SegmentID: segmentID(span, schema.dims, schema.mets),
	}
	enc, err := json.Marshal(&f)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, FactoryFileName), enc, 0640)
}
