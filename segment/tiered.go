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
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// columnCount is one input's contribution to a merge's
// column fan-in: its dimensions and metrics plus the time
// column.
func columnCount(in Adapter) int {
	return len(in.DimensionNames()) + len(in.MetricNames()) + 1
}

func totalColumnCount(inputs []Adapter) int {
	n := 0
	for _, in := range inputs {
		n += columnCount(in)
	}
	return n
}

// partitionPhases greedily groups inputs so that each
// phase's column fan-in stays at or under maxCols. A phase
// always holds at least two inputs, even when those two
// alone exceed the cap; a trailing singleton folds into the
// previous phase.
func partitionPhases(inputs []Adapter, maxCols int) [][]Adapter {
	var phases [][]Adapter
	var cur []Adapter
	cost := 0
	for _, in := range inputs {
		c := columnCount(in)
		if len(cur) >= 2 && cost+c > maxCols {
			phases = append(phases, cur)
			cur, cost = nil, 0
		}
		cur = append(cur, in)
		cost += c
	}
	if len(cur) == 1 && len(phases) > 0 {
		phases[len(phases)-1] = append(phases[len(phases)-1], cur[0])
	} else if len(cur) > 0 {
		phases = append(phases, cur)
	}
	return phases
}

func (m *Merger) intermediate() *IndexSpec {
	if m.IntermediateSpec != nil {
		return m.IntermediateSpec
	}
	return &m.Spec
}

// MergeTiered merges inputs into outDir, bounding the
// column fan-in of any single merge by maxColumnsToMerge.
// The fan-in is the sum of every input's column count
// (time included). When it exceeds the cap, inputs merge in
// tiers: each phase lands in a temporary directory using
// the intermediate IndexSpec and reopens as an input for
// the next tier; the last tier writes outDir with the
// final IndexSpec. Temporary directories are removed on
// every exit path.
func (m *Merger) MergeTiered(inputs []Adapter, rollup bool, aggs map[string]Aggregator, outDir string, maxColumnsToMerge int) (err error) {
	if maxColumnsToMerge <= 0 || len(inputs) < 2 || totalColumnCount(inputs) <= maxColumnsToMerge {
		return m.Merge(inputs, rollup, aggs, outDir)
	}
	tmpBase, err := os.MkdirTemp(filepath.Dir(outDir), "tiers-")
	if err != nil {
		return err
	}
	var opened []*Segment
	defer func() {
		for _, seg := range opened {
			if cerr := seg.Close(); cerr != nil {
				m.logf("closing intermediate segment: %v", cerr)
			}
		}
		// cleanup failures never shadow the merge error
		if rmerr := os.RemoveAll(tmpBase); rmerr != nil {
			m.logf("removing %s: %v", tmpBase, rmerr)
		}
	}()

	current := inputs
	tier := 0
	for len(current) > 1 && totalColumnCount(current) > maxColumnsToMerge {
		phases := partitionPhases(current, maxColumnsToMerge)
		if len(phases) == 1 {
			break
		}
		m.logf("tier %d: %d inputs in %d phases", tier, len(current), len(phases))
		next := make([]Adapter, 0, len(phases))
		for _, phase := range phases {
			dir := filepath.Join(tmpBase, uuid.NewString())
			if err := m.merge(phase, rollup, aggs, dir, m.intermediate()); err != nil {
				return err
			}
			seg, err := Open(dir)
			if err != nil {
				return err
			}
			opened = append(opened, seg)
			next = append(next, seg)
		}
		current = next
		tier++
	}
	return m.merge(current, rollup, aggs, outDir, &m.Spec)
}
