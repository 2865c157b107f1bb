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

// Package column defines the typed building blocks of a
// columnar segment: column types and capabilities, the
// GenericIndexed byte-string layout, column descriptors,
// and the value serializers that turn merged row streams
// into column payloads.
package column

// TimeColumnName is the reserved name of the primary
// timestamp column. It is always a LONG column holding
// milliseconds and sorts before every other column.
const TimeColumnName = "__time"

// Kind enumerates the primitive column kinds.
type Kind uint8

const (
	KindNull Kind = iota
	KindLong
	KindFloat
	KindDouble
	KindString
	KindComplex
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindComplex:
		return "complex"
	default:
		return "invalid"
	}
}

// Type is the full type of a column: its kind, the element
// kind for multi-valued columns, and the registered subtype
// name for complex columns.
type Type struct {
	Kind Kind
	// Elem is the element kind for columns whose rows
	// hold sequences of values. Zero (KindNull) means
	// the column is scalar.
	Elem Kind
	// Name is the registered serde name for KindComplex.
	Name string
}

func (t Type) String() string {
	if t.Kind == KindComplex && t.Name != "" {
		return "complex<" + t.Name + ">"
	}
	return t.Kind.String()
}

// Equal reports whether two types match exactly.
func (t Type) Equal(other Type) bool {
	return t.Kind == other.Kind && t.Elem == other.Elem && t.Name == other.Name
}

// Long is the type of LONG (and time) columns.
func Long() Type { return Type{Kind: KindLong} }

// Float is the type of 32-bit float columns.
func Float() Type { return Type{Kind: KindFloat} }

// Double is the type of 64-bit float columns.
func Double() Type { return Type{Kind: KindDouble} }

// String is the type of dictionary-encoded dimension columns.
func String() Type { return Type{Kind: KindString} }

// Complex is the type of a complex column with the given
// registered serde name.
func Complex(name string) Type { return Type{Kind: KindComplex, Name: name} }

// NullMode selects how numeric columns encode null values.
type NullMode int

const (
	// NullReplaceWithDefault emits the legacy numeric
	// encoding: nulls are stored as the type's zero and
	// no null bitmap is written. Segments written this
	// way remain readable by older loaders.
	NullReplaceWithDefault NullMode = iota
	// NullExplicit emits the V2 numeric encoding with an
	// explicit null bitmap next to the values.
	NullExplicit
)

// Selector reads the current value of a time or metric
// column during a row walk. A nil Selector reads as null.
type Selector interface {
	IsNull() bool
	Long() int64
	Double() float64
	Object() any
}
