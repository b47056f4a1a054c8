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
package atom

import "github.com/segcolumn/segstore/internal/dberr"

// Generic is a dtype-agnostic JSON-friendly projection of a Value, used
// at boundaries that need a wire format but don't carry a DType of
// their own (the RPC surface, the staging row log). Decoding back to a
// Value needs the column's declared dtype to disambiguate, e.g. Int64
// vs Timestamp both live in I.
type Generic struct {
	Null  bool      `json:"null,omitempty"`
	List  []Generic `json:"list,omitempty"`
	I     int64     `json:"i,omitempty"`
	F     float64   `json:"f,omitempty"`
	F32   float32   `json:"f32,omitempty"`
	Bool  bool      `json:"bool,omitempty"`
	Str   string    `json:"str,omitempty"`
	Bytes []byte    `json:"bytes,omitempty"`
}

// ToGeneric projects v into its JSON-friendly form.
func (v Value) ToGeneric() Generic {
	if v.IsNull {
		return Generic{Null: true}
	}
	if v.IsList {
		items := make([]Generic, len(v.Items))
		for i, it := range v.Items {
			items[i] = it.ToGeneric()
		}
		return Generic{List: items}
	}
	return Generic{I: v.i64, F: v.f64, F32: v.f32, Bool: v.b, Str: v.str, Bytes: v.byt}
}

// FromGeneric reconstructs a Value of dtype from its generic
// projection, recursing through list levels.
func FromGeneric(dtype DType, depth int, g Generic) (Value, error) {
	if g.Null {
		return Null(), nil
	}
	if depth > 0 {
		items := make([]Value, len(g.List))
		for i, gi := range g.List {
			v, err := FromGeneric(dtype, depth-1, gi)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items), nil
	}
	switch dtype {
	case Int64:
		return IntVal(g.I), nil
	case Timestamp:
		return Value{i64: g.I}, nil
	case Float64:
		return FloatVal(g.F), nil
	case Float32:
		return Float32Val(g.F32), nil
	case Bool:
		return BoolVal(g.Bool), nil
	case String:
		return StringVal(g.Str), nil
	case Bytes:
		return BytesVal(g.Bytes), nil
	default:
		return Value{}, dberr.Invalidf("FromGeneric: unknown dtype %v", dtype)
	}
}
