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

// Package rowcodec implements the escape-safe, seekable, nullable
// columnar byte stream (spec §4.4): the self-delimiting on-disk format
// one column's flush file (f_<col>) is written in.
package rowcodec

import (
	"encoding/binary"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/internal/dberr"
)

// Reserved bytes (spec §4.4). Any payload byte colliding with one of
// these is emitted as ESCAPE followed by the bitwise complement of the
// original byte.
const (
	Null   byte = 253
	Count  byte = 254
	Escape byte = 255
)

func isReserved(b byte) bool {
	return b == Null || b == Count || b == Escape
}

func writeByte(buf *[]byte, b byte) {
	if isReserved(b) {
		*buf = append(*buf, Escape, ^b)
	} else {
		*buf = append(*buf, b)
	}
}

func writeBytes(buf *[]byte, bs []byte) {
	for _, b := range bs {
		writeByte(buf, b)
	}
}

func writeUint16(buf *[]byte, n uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], n)
	writeBytes(buf, tmp[:])
}

// EncodeRow appends the encoding of one field value (null, or a value
// nested to schema depth `depth` of leaf dtype `dtype`) to buf.
func EncodeRow(buf []byte, depth int, dtype atom.DType, v atom.Value) ([]byte, error) {
	if v.IsNull {
		return append(buf, Null), nil
	}
	if err := encodeValue(&buf, depth, dtype, v); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeValue(buf *[]byte, depth int, dtype atom.DType, v atom.Value) error {
	if depth > 0 {
		if !v.IsList {
			return dberr.Invalidf("rowcodec: expected list at nesting depth %d", depth)
		}
		if len(v.Items) > 0xFFFF {
			return dberr.Invalidf("rowcodec: list length %d exceeds 2-byte prefix", len(v.Items))
		}
		writeUint16(buf, uint16(len(v.Items)))
		for _, item := range v.Items {
			if item.IsNull {
				return dberr.Invalidf("rowcodec: null value in nested position")
			}
			if err := encodeValue(buf, depth-1, dtype, item); err != nil {
				return err
			}
		}
		return nil
	}
	if v.IsList {
		return dberr.Invalidf("rowcodec: value nests deeper than schema depth")
	}
	b, err := atom.AtomBytes(dtype, v)
	if err != nil {
		return err
	}
	if dtype.IsVariableWidth() {
		if len(b) > 0xFFFF {
			return dberr.Invalidf("rowcodec: atom length %d exceeds 2-byte prefix", len(b))
		}
		writeUint16(buf, uint16(len(b)))
	}
	writeBytes(buf, b)
	return nil
}

// EncodeCountRun appends a count-prefix entry asserting that n rows
// follow, all null, without enumerating them (spec §4.4 "count prefix").
func EncodeCountRun(buf []byte, n uint32) []byte {
	buf = append(buf, Count)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], n)
	return append(buf, tmp[:]...)
}

// cursor reads an escaped byte stream, unescaping on the fly.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) peekMarker() (byte, bool) {
	if c.pos >= len(c.buf) {
		return 0, false
	}
	return c.buf[c.pos], true
}

// readByte reads one logical (already-unescaped) payload byte.
func (c *cursor) readByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, dberr.Corruptf("rowcodec: read past end of buffer")
	}
	b := c.buf[c.pos]
	if b == Escape {
		c.pos++
		if c.pos >= len(c.buf) {
			return 0, dberr.Corruptf("rowcodec: escape byte at end of buffer")
		}
		orig := ^c.buf[c.pos]
		c.pos++
		return orig, nil
	}
	if isReserved(b) {
		return 0, dberr.Corruptf("rowcodec: unescaped reserved byte 0x%x mid-value", b)
	}
	c.pos++
	return b, nil
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := c.readByte()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (c *cursor) readUint16() (uint16, error) {
	b, err := c.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// DecodeLimited decodes up to `limit` field values (limit < 0 means
// "all that remain") from the front of buf, returning the values and
// the number of bytes consumed.
func DecodeLimited(buf []byte, depth int, dtype atom.DType, limit int) (values []atom.Value, consumed int, err error) {
	c := &cursor{buf: buf}
	for limit < 0 || len(values) < limit {
		marker, ok := c.peekMarker()
		if !ok {
			break
		}
		switch marker {
		case Null:
			c.pos++
			values = append(values, atom.Null())
		case Count:
			c.pos++
			raw, err := c.rawBytes(4)
			if err != nil {
				return values, c.pos, err
			}
			n := binary.BigEndian.Uint32(raw)
			// a count run is one atomic on-disk entry; it is always
			// fully consumed even if that yields more than limit values
			for i := uint32(0); i < n; i++ {
				values = append(values, atom.Null())
			}
		default:
			v, err := decodeValue(c, depth, dtype)
			if err != nil {
				return values, c.pos, err
			}
			values = append(values, v)
		}
	}
	return values, c.pos, nil
}

// rawBytes reads n literal (non-escaped) bytes, used only for the fixed
// 4-byte count field that immediately follows a Count marker.
func (c *cursor) rawBytes(n int) ([]byte, error) {
	if c.pos+n > len(c.buf) {
		return nil, dberr.Corruptf("rowcodec: read past end of buffer")
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func decodeValue(c *cursor, depth int, dtype atom.DType) (atom.Value, error) {
	if depth > 0 {
		n, err := c.readUint16()
		if err != nil {
			return atom.Value{}, err
		}
		items := make([]atom.Value, n)
		for i := range items {
			v, err := decodeValue(c, depth-1, dtype)
			if err != nil {
				return atom.Value{}, err
			}
			items[i] = v
		}
		return atom.List(items), nil
	}
	var b []byte
	var err error
	if dtype.IsVariableWidth() {
		n, err := c.readUint16()
		if err != nil {
			return atom.Value{}, err
		}
		b, err = c.readBytes(int(n))
		if err != nil {
			return atom.Value{}, err
		}
	} else {
		b, err = c.readBytes(dtype.ByteWidth())
		if err != nil {
			return atom.Value{}, err
		}
	}
	return atom.FromAtomBytes(dtype, b)
}

// RowOffsets returns, for every row i in buf (0-indexed), the byte
// offset immediately past row i-1 — i.e. offsets[i] is where row i
// begins and offsets[len(offsets)-1] is the end of the last fully
// decoded row. Used by recovery (§4.11) to truncate partially-written
// flush files to a known row boundary.
func RowOffsets(buf []byte, depth int, dtype atom.DType) ([]int, error) {
	c := &cursor{buf: buf}
	offsets := []int{0}
	for {
		marker, ok := c.peekMarker()
		if !ok {
			break
		}
		switch marker {
		case Null:
			c.pos++
		case Count:
			c.pos++
			raw, err := c.rawBytes(4)
			if err != nil {
				return offsets, nil // trailing partial count entry: stop before it
			}
			n := binary.BigEndian.Uint32(raw)
			for i := uint32(0); i < n; i++ {
				offsets = append(offsets, c.pos)
			}
			continue
		default:
			startPos := c.pos
			if _, err := decodeValue(c, depth, dtype); err != nil {
				c.pos = startPos
				return offsets, nil // trailing partial row: stop before it
			}
		}
		offsets = append(offsets, c.pos)
	}
	return offsets, nil
}
