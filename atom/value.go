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

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/segcolumn/segstore/internal/dberr"
)

// Value is one field value: either null, a scalar of some DType, or a
// (possibly nested, up to the column's declared depth) list of Values.
// Only one of the fields below is meaningful at a time, selected by
// IsNull/IsList.
type Value struct {
	IsNull bool
	IsList bool
	Items  []Value // valid when IsList

	i64 int64
	f64 float64
	f32 float32
	b   bool
	str string
	byt []byte
}

func Null() Value                { return Value{IsNull: true} }
func List(items []Value) Value   { return Value{IsList: true, Items: items} }
func IntVal(v int64) Value       { return Value{i64: v} }
func FloatVal(v float64) Value   { return Value{f64: v} }
func Float32Val(v float32) Value { return Value{f32: v} }
func BoolVal(v bool) Value       { return Value{b: v} }
func TimeVal(t time.Time) Value  { return Value{i64: t.UnixNano()} }
func StringVal(s string) Value   { return Value{str: s} }
func BytesVal(b []byte) Value    { return Value{byt: b} }

func (v Value) Int64() int64        { return v.i64 }
func (v Value) Float64() float64    { return v.f64 }
func (v Value) Float32() float32    { return v.f32 }
func (v Value) Bool() bool          { return v.b }
func (v Value) Time() time.Time     { return time.Unix(0, v.i64).UTC() }
func (v Value) String() string      { return v.str }
func (v Value) Bytes() []byte       { return v.byt }
func (v Value) IsScalar() bool      { return !v.IsNull && !v.IsList }

// AtomBytes returns the raw atom byte sequence for a scalar Value under
// dtype: exactly ByteWidth(dtype) bytes for fixed-width types (big
// endian, spec §4.1), or the variable number of one-byte atoms (the raw
// string/byte content) for String/Bytes.
func AtomBytes(dtype DType, v Value) ([]byte, error) {
	if v.IsNull || v.IsList {
		return nil, dberr.Invalidf("AtomBytes: value is not scalar")
	}
	switch dtype {
	case Int64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v.i64))
		return b, nil
	case Float64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, math.Float64bits(v.f64))
		return b, nil
	case Float32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, math.Float32bits(v.f32))
		return b, nil
	case Bool:
		if v.b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case Timestamp:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v.i64))
		return b, nil
	case String:
		return []byte(v.str), nil
	case Bytes:
		return v.byt, nil
	default:
		return nil, dberr.Invalidf("AtomBytes: unknown dtype %v", dtype)
	}
}

// FromAtomBytes reconstructs a scalar Value of dtype from its atom byte
// sequence. For fixed-width dtypes b must be exactly ByteWidth(dtype)
// bytes.
func FromAtomBytes(dtype DType, b []byte) (Value, error) {
	switch dtype {
	case Int64:
		if len(b) != 8 {
			return Value{}, dberr.Corruptf("int64 atom: want 8 bytes, got %d", len(b))
		}
		return IntVal(int64(binary.BigEndian.Uint64(b))), nil
	case Float64:
		if len(b) != 8 {
			return Value{}, dberr.Corruptf("float64 atom: want 8 bytes, got %d", len(b))
		}
		return FloatVal(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case Float32:
		if len(b) != 4 {
			return Value{}, dberr.Corruptf("float32 atom: want 4 bytes, got %d", len(b))
		}
		return Float32Val(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case Bool:
		if len(b) != 1 {
			return Value{}, dberr.Corruptf("bool atom: want 1 byte, got %d", len(b))
		}
		return BoolVal(b[0] != 0), nil
	case Timestamp:
		if len(b) != 8 {
			return Value{}, dberr.Corruptf("timestamp atom: want 8 bytes, got %d", len(b))
		}
		return Value{i64: int64(binary.BigEndian.Uint64(b))}, nil
	case String:
		return StringVal(string(b)), nil
	case Bytes:
		cp := make([]byte, len(b))
		copy(cp, b)
		return BytesVal(cp), nil
	default:
		return Value{}, dberr.Invalidf("FromAtomBytes: unknown dtype %v", dtype)
	}
}

// CheckType fails with Invalid when v is null or a list, when dtype is
// Bytes and v holds no byte slice, or when dtype is not a known dtype.
// Value carries no dtype tag of its own, so a scalar built for one
// dtype is not rejected when checked against a different one.
func CheckType(dtype DType, v Value) error {
	if v.IsNull || v.IsList {
		return dberr.Invalidf("CheckType: expected scalar of %v", dtype)
	}
	switch dtype {
	case String:
		// str field is always valid, even empty
	case Bytes:
		if v.byt == nil {
			return dberr.Invalidf("CheckType: expected bytes value")
		}
	}
	if !dtype.Valid() {
		return dberr.Invalidf("CheckType: invalid dtype %v", dtype)
	}
	return nil
}
