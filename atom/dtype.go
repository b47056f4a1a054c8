/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package atom implements the scalar/primitive value model (spec §4.1):
// a closed set of data types, each with a fixed or variable byte width,
// and the conversions between a logical Value and its constituent atoms.
package atom

import "github.com/segcolumn/segstore/internal/dberr"

// DType is the closed set of scalar data types a column may hold.
type DType uint8

const (
	Int64 DType = iota
	Float64
	Float32
	Bool
	Timestamp // nanosecond precision, UTC
	String
	Bytes
)

var dtypeNames = map[DType]string{
	Int64:     "int64",
	Float64:   "float64",
	Float32:   "float32",
	Bool:      "bool",
	Timestamp: "timestamp",
	String:    "string",
	Bytes:     "bytes",
}

func (d DType) String() string {
	if s, ok := dtypeNames[d]; ok {
		return s
	}
	return "unknown"
}

func ParseDType(s string) (DType, error) {
	for d, name := range dtypeNames {
		if name == s {
			return d, nil
		}
	}
	return 0, dberr.Invalidf("unknown dtype %q", s)
}

// ByteWidth returns the fixed encoded width of one atom of this dtype,
// or 0 when the type is variable-width (String, Bytes — a sequence of
// 8-bit atoms, one per byte).
func (d DType) ByteWidth() int {
	switch d {
	case Int64, Float64, Timestamp:
		return 8
	case Float32:
		return 4
	case Bool:
		return 1
	default:
		return 0
	}
}

// IsVariableWidth reports whether values of this dtype decompose into a
// length-dependent run of 8-bit atoms rather than exactly one fixed
// width atom (spec §3: "Strings and byte strings are treated as
// length-prefixed sequences of an 8-bit atom; all other types are
// atomic").
func (d DType) IsVariableWidth() bool {
	return d == String || d == Bytes
}

// Valid reports whether d is one of the seven recognized scalar types.
func (d DType) Valid() bool {
	_, ok := dtypeNames[d]
	return ok
}
