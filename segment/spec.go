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
	"fmt"

	"golang.org/x/exp/slices"
	"sigs.k8s.io/yaml"

	"github.com/chronicledb/chronicle/column"
	"github.com/chronicledb/chronicle/compr"
	"github.com/chronicledb/chronicle/writeout"
)

// IndexSpec selects the encodings of a segment build.
// The zero value is usable: roaring bitmaps, zstd metric
// compression, legacy null handling, on-heap scratch.
type IndexSpec struct {
	// Bitmap names the bitmap serialization. Only
	// "roaring" is supported.
	Bitmap string `json:"bitmap,omitempty"`
	// MetricCompression names the block compression for
	// numeric columns: "zstd", "s2", or "none".
	MetricCompression string `json:"metricCompression,omitempty"`
	// NullHandling is "default" (legacy encoding, nulls
	// read as zero) or "explicit" (null bitmaps).
	NullHandling string `json:"nullHandling,omitempty"`
	// WriteOutMedium is "heap" or "tempfile".
	WriteOutMedium string `json:"writeOutMedium,omitempty"`
	// MaxContainerFileSize bounds each physical container
	// file; zero means the container default.
	MaxContainerFileSize int64 `json:"maxContainerFileSize,omitempty"`
}

// DecodeIndexSpec parses an IndexSpec document from YAML
// or JSON bytes.
func DecodeIndexSpec(b []byte) (*IndexSpec, error) {
	spec := new(IndexSpec)
	if err := yaml.UnmarshalStrict(b, spec); err != nil {
		return nil, fmt.Errorf("index spec: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (s *IndexSpec) validate() error {
	if s.Bitmap != "" && s.Bitmap != column.BitmapSerdeName {
		return fmt.Errorf("index spec: unknown bitmap serde %q", s.Bitmap)
	}
	switch s.MetricCompression {
	case "", "none":
	default:
		if compr.Compression(s.MetricCompression) == nil {
			return fmt.Errorf("index spec: unknown compression %q", s.MetricCompression)
		}
	}
	switch s.NullHandling {
	case "", "default", "explicit":
	default:
		return fmt.Errorf("index spec: unknown null handling %q", s.NullHandling)
	}
	switch s.WriteOutMedium {
	case "", "heap", "tempfile":
	default:
		return fmt.Errorf("index spec: unknown write-out medium %q", s.WriteOutMedium)
	}
	return nil
}

func (s *IndexSpec) nullMode() column.NullMode {
	if s.NullHandling == "explicit" {
		return column.NullExplicit
	}
	return column.NullReplaceWithDefault
}

func (s *IndexSpec) compressor() compr.Compressor {
	switch s.MetricCompression {
	case "none":
		return nil
	case "":
		return compr.Compression("zstd")
	default:
		return compr.Compression(s.MetricCompression)
	}
}

func (s *IndexSpec) compressionName() string {
	if c := s.compressor(); c != nil {
		return c.Name()
	}
	return "none"
}

func (s *IndexSpec) mediumKind() writeout.Kind {
	if s.WriteOutMedium == "tempfile" {
		return writeout.TempFile
	}
	return writeout.OnHeap
}

// DimensionsSpec carries the user-declared dimension order
// and the null-only materialization policy.
type DimensionsSpec struct {
	// Dimensions is the declared dimension order. Merged
	// outputs preserve it and append discovered dimensions.
	Dimensions []string `json:"dimensions,omitempty"`
	// IncludeAllDimensions extends the null-only store
	// policy to dimensions that were discovered rather
	// than declared.
	IncludeAllDimensions bool `json:"includeAllDimensions,omitempty"`
	// StoreEmptyColumns materializes placeholder columns
	// for dimensions whose merged content is entirely null.
	StoreEmptyColumns bool `json:"storeEmptyColumns,omitempty"`
}

// shouldStore reports whether a null-only dimension gets a
// placeholder column. With no DimensionsSpec at all the
// column is dropped.
func (d *DimensionsSpec) shouldStore(dim string) bool {
	if d == nil || !d.StoreEmptyColumns {
		return false
	}
	return d.IncludeAllDimensions || slices.Contains(d.Dimensions, dim)
}
