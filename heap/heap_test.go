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

package heap

import (
	"math/rand"
	"slices"
	"testing"
)

func TestPushPop(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	var x []int
	for i := 0; i < 1000; i++ {
		Push(&x, rand.Int(), less)
	}
	var sorted []int
	for len(x) > 0 {
		sorted = append(sorted, Pop(&x, less))
	}
	if !slices.IsSorted(sorted) {
		t.Fatal("pop order not sorted")
	}
}

func TestFix(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	x := make([]int, 100)
	for i := range x {
		x[i] = rand.Intn(1000)
	}
	Init(x, less)
	// repeatedly replace the front element and Fix,
	// the way a k-way merge advances its winning cursor
	for i := 0; i < 100; i++ {
		x[0] = rand.Intn(1000)
		Fix(x, less)
		for j := 1; j < len(x); j++ {
			parent := (j - 1) / 2
			if less(x[j], x[parent]) {
				t.Fatalf("heap invariant broken at %d", j)
			}
		}
	}
}
