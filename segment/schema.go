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
	"golang.org/x/exp/slices"

	"github.com/chronicledb/chronicle/column"
)

// mergedSchema is the unified column layout of a merge:
// dimension and metric names in output order plus the
// merged, coercion-snapshotted capabilities of each.
type mergedSchema struct {
	dims    []string
	mets    []string
	dimCaps map[string]*column.Capabilities
	metCaps map[string]*column.Capabilities
}

// mergeSchema unions the inputs' columns. Declared
// dimensions (from dimSpec) come first in declared order;
// discovered dimensions append in first-seen order.
// Metrics union in first-seen order. Column names must be
// unique across dimensions and metrics.
func mergeSchema(inputs []Adapter, dimSpec *DimensionsSpec) (*mergedSchema, error) {
	s := &mergedSchema{
		dimCaps: make(map[string]*column.Capabilities),
		metCaps: make(map[string]*column.Capabilities),
	}
	if dimSpec != nil {
		for _, d := range dimSpec.Dimensions {
			if slices.Contains(s.dims, d) {
				return nil, invalidf("dimension %q declared twice", d)
			}
			s.dims = append(s.dims, d)
		}
	}
	for _, in := range inputs {
		for _, d := range in.DimensionNames() {
			if !slices.Contains(s.dims, d) {
				s.dims = append(s.dims, d)
			}
		}
		for _, m := range in.MetricNames() {
			if !slices.Contains(s.mets, m) {
				s.mets = append(s.mets, m)
			}
		}
	}
	for _, d := range s.dims {
		if d == column.TimeColumnName {
			return nil, invalidf("dimension %q shadows the time column", d)
		}
		if slices.Contains(s.mets, d) {
			return nil, invalidf("column %q is both a dimension and a metric", d)
		}
	}
	for _, m := range s.mets {
		if m == column.TimeColumnName {
			return nil, invalidf("metric %q shadows the time column", m)
		}
	}

	for _, d := range s.dims {
		merged, err := foldCapabilities(inputs, d)
		if err != nil {
			return nil, err
		}
		if merged == nil {
			// declared but absent everywhere: a null-only
			// string dimension
			merged = &column.Capabilities{Type: column.String(), HasNulls: column.True}
		}
		s.dimCaps[d] = merged.Snapshot(column.DimensionCoercion)
	}
	for _, m := range s.mets {
		merged, err := foldCapabilities(inputs, m)
		if err != nil {
			return nil, err
		}
		if merged == nil {
			return nil, invalidf("metric %q has no capabilities in any input", m)
		}
		s.metCaps[m] = merged.Snapshot(column.MetricCoercion)
	}
	return s, nil
}

// foldCapabilities merges one column's capabilities across
// every input. Inputs lacking the column contribute nil.
func foldCapabilities(inputs []Adapter, name string) (*column.Capabilities, error) {
	var merged *column.Capabilities
	for _, in := range inputs {
		next, err := column.Merge(name, merged, in.Capabilities(name))
		if err != nil {
			return nil, err
		}
		merged = next
	}
	return merged, nil
}
