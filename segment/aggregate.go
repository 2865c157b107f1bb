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

// Aggregator folds the values of one metric when rollup
// combines rows with equal composite keys. Combine must be
// associative and commutative; inputs may already be
// partially aggregated, so the merged metadata records the
// combining form.
type Aggregator interface {
	Name() string
	Combine(a, b MetricValue) MetricValue
	// Combining returns the aggregator to apply on
	// already-aggregated values. For the built-in numeric
	// aggregators it is the aggregator itself.
	Combining() Aggregator
}

type numericAgg struct {
	name string
	fold func(a, b MetricValue) MetricValue
}

func (g *numericAgg) Name() string          { return g.name }
func (g *numericAgg) Combining() Aggregator { return g }

func (g *numericAgg) Combine(a, b MetricValue) MetricValue {
	if a.Null {
		return b
	}
	if b.Null {
		return a
	}
	return g.fold(a, b)
}

var builtinAggs = map[string]Aggregator{
	"longSum": &numericAgg{name: "longSum", fold: func(a, b MetricValue) MetricValue {
		return LongValue(a.N + b.N)
	}},
	"doubleSum": &numericAgg{name: "doubleSum", fold: func(a, b MetricValue) MetricValue {
		return DoubleValue(a.F + b.F)
	}},
	"longMin": &numericAgg{name: "longMin", fold: func(a, b MetricValue) MetricValue {
		if b.N < a.N {
			return b
		}
		return a
	}},
	"longMax": &numericAgg{name: "longMax", fold: func(a, b MetricValue) MetricValue {
		if b.N > a.N {
			return b
		}
		return a
	}},
	"doubleMin": &numericAgg{name: "doubleMin", fold: func(a, b MetricValue) MetricValue {
		if b.F < a.F {
			return b
		}
		return a
	}},
	"doubleMax": &numericAgg{name: "doubleMax", fold: func(a, b MetricValue) MetricValue {
		if b.F > a.F {
			return b
		}
		return a
	}},
}

// AggregatorByName looks up a built-in aggregator.
func AggregatorByName(name string) (Aggregator, bool) {
	a, ok := builtinAggs[name]
	return a, ok
}
