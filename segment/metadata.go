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
	"encoding/base32"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Metadata is the aggregation metadata embedded in a
// segment as metadata.drd (UTF-8 JSON).
type Metadata struct {
	// IngestionID identifies the ingestion run that
	// produced the segment.
	IngestionID string `json:"ingestionId,omitempty"`
	// IngestedAt is the build timestamp in epoch millis.
	IngestedAt int64 `json:"ingestedAt,omitempty"`
	// Rollup records whether rows were combined at
	// ingestion time.
	Rollup bool `json:"rollup"`
	// Aggregators names the per-metric aggregators, in
	// metric order. After a merge these are the combining
	// forms.
	Aggregators []string `json:"aggregators,omitempty"`
	// QueryGranularity is the ingestion-time truncation
	// granularity, or empty when inputs disagree.
	QueryGranularity string `json:"queryGranularity,omitempty"`
}

// mergeMetadata folds the metadata of all inputs. Inputs
// without metadata are ignored; the result is nil, and no
// metadata.drd is written, only when no input carries any
// and no aggregators are supplied. The merged
// aggregators are the combining forms, because input rows
// may already be partially aggregated.
func mergeMetadata(inputs []Adapter, rollup bool, aggs []Aggregator) *Metadata {
	var found []*Metadata
	for _, in := range inputs {
		if md := in.Metadata(); md != nil {
			found = append(found, md)
		}
	}
	if len(found) == 0 && len(aggs) == 0 {
		return nil
	}
	out := &Metadata{
		IngestionID: uuid.NewString(),
		IngestedAt:  time.Now().UnixMilli(),
		Rollup:      rollup,
	}
	for _, agg := range aggs {
		if agg == nil {
			continue
		}
		out.Aggregators = append(out.Aggregators, agg.Combining().Name())
	}
	for i, md := range found {
		if !md.Rollup {
			out.Rollup = false
		}
		if i == 0 {
			out.QueryGranularity = md.QueryGranularity
		} else if out.QueryGranularity != md.QueryGranularity {
			out.QueryGranularity = ""
		}
	}
	return out
}

// SegmentizerFactory is the factory.json descriptor that
// tells a loader how to open the segment.
type SegmentizerFactory struct {
	Type      string `json:"type"`
	SegmentID string `json:"segmentId,omitempty"`
}

// DefaultSegmentizer is the descriptor of the built-in
// mmap loader.
const DefaultSegmentizer = "mmap"

// segmentID derives a stable printable identifier from the
// merged schema and interval plus a per-build nonce.
func segmentID(iv Interval, dims, mets []string) string {
	h, _ := blake2b.New(20, nil)
	var buf [8]byte
	for _, v := range []int64{iv.Start, iv.End} {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	for _, names := range [][]string{dims, mets} {
		for _, name := range names {
			h.Write([]byte(name))
			h.Write([]byte{0})
		}
	}
	h.Write([]byte(uuid.NewString()))
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(h.Sum(nil))
}
