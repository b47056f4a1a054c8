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

// Package replevel implements the repetition-level engine (spec §4.3):
// encoding/decoding nested list values as a flat sequence of per-position
// levels, without storing explicit tree shapes.
package replevel

import (
	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/internal/dberr"
)

// AtomCursor is a flat, already-decompressed atom byte stream with a
// read position; leaf decoding pulls exactly as many bytes as the dtype
// dictates (ByteWidth() for fixed types, one byte per D+2 marker for
// variable-width types).
type AtomCursor struct {
	Buf []byte
	Pos int
}

func (c *AtomCursor) next(n int) ([]byte, error) {
	if c.Pos+n > len(c.Buf) {
		return nil, dberr.Corruptf("replevel: atom cursor ran past end of buffer")
	}
	b := c.Buf[c.Pos : c.Pos+n]
	c.Pos += n
	return b, nil
}

// Encode flattens v (schema nesting depth D, leaf dtype dtype) into its
// repetition levels and the concatenated atom bytes of its leaves.
func Encode(d int, dtype atom.DType, v atom.Value) (levels []uint8, atoms []byte, err error) {
	if v.IsNull {
		return []uint8{0}, nil, nil
	}
	lv := make([]uint8, 0, 8)
	ab := make([]byte, 0, 16)
	if err := encodeNode(d, 0, dtype, v, &lv, &ab); err != nil {
		return nil, nil, err
	}
	return lv, ab, nil
}

func encodeNode(d, curDepth int, dtype atom.DType, v atom.Value, levels *[]uint8, atoms *[]byte) error {
	if curDepth < d {
		if !v.IsList {
			return dberr.Invalidf("replevel: expected list at nesting depth %d, got scalar", curDepth)
		}
		for _, item := range v.Items {
			if item.IsNull {
				return dberr.Invalidf("replevel: null value in nested position")
			}
			if err := encodeNode(d, curDepth+1, dtype, item, levels, atoms); err != nil {
				return err
			}
		}
		*levels = append(*levels, uint8(curDepth+1))
		return nil
	}
	// leaf position
	if v.IsList {
		return dberr.Invalidf("replevel: value nests deeper than schema depth %d", d)
	}
	b, err := atom.AtomBytes(dtype, v)
	if err != nil {
		return err
	}
	if dtype.IsVariableWidth() {
		for range b {
			*levels = append(*levels, uint8(d+2))
		}
		*levels = append(*levels, uint8(d+1))
	} else {
		*levels = append(*levels, uint8(d+1))
	}
	*atoms = append(*atoms, b...)
	return nil
}

// Decode consumes up to limit values (limit < 0 means "as many as the
// levels stream holds") from the front of levels, pulling leaf atom
// bytes from cur, and returns the decoded values plus the number of
// level entries consumed.
func Decode(d int, dtype atom.DType, levels []uint8, cur *AtomCursor, limit int) (values []atom.Value, consumed int, err error) {
	pos := 0
	for limit < 0 || len(values) < limit {
		if pos >= len(levels) {
			break
		}
		v, n, err := decodeOne(d, dtype, levels[pos:], cur)
		if err != nil {
			return values, pos, err
		}
		pos += n
		values = append(values, v)
	}
	return values, pos, nil
}

func decodeOne(d int, dtype atom.DType, levels []uint8, cur *AtomCursor) (atom.Value, int, error) {
	if len(levels) == 0 {
		return atom.Value{}, 0, dberr.Corruptf("replevel: unexpected end of level stream")
	}
	if levels[0] == 0 {
		return atom.Null(), 1, nil
	}
	pos := 0
	v, err := decodeNode(d, 0, dtype, levels, &pos, cur)
	return v, pos, err
}

func decodeNode(d, curDepth int, dtype atom.DType, levels []uint8, pos *int, cur *AtomCursor) (atom.Value, error) {
	if curDepth < d {
		var items []atom.Value
		for {
			if *pos >= len(levels) {
				return atom.Value{}, dberr.Corruptf("replevel: level stream ended inside list at depth %d", curDepth)
			}
			lv := int(levels[*pos])
			if lv == curDepth+1 {
				*pos++
				return atom.List(items), nil
			}
			if lv < curDepth+1 || lv > d+2 {
				return atom.Value{}, dberr.Corruptf("replevel: inconsistent level %d at depth %d for schema depth %d", lv, curDepth, d)
			}
			child, err := decodeNode(d, curDepth+1, dtype, levels, pos, cur)
			if err != nil {
				return atom.Value{}, err
			}
			items = append(items, child)
		}
	}
	// leaf position
	if *pos >= len(levels) {
		return atom.Value{}, dberr.Corruptf("replevel: level stream ended at leaf position")
	}
	lv := int(levels[*pos])
	if dtype.IsVariableWidth() {
		var buf []byte
		for lv == d+2 {
			b, err := cur.next(1)
			if err != nil {
				return atom.Value{}, err
			}
			buf = append(buf, b...)
			*pos++
			if *pos >= len(levels) {
				return atom.Value{}, dberr.Corruptf("replevel: level stream ended mid-value")
			}
			lv = int(levels[*pos])
		}
		if lv != d+1 {
			return atom.Value{}, dberr.Corruptf("replevel: expected terminator level %d, got %d", d+1, lv)
		}
		*pos++
		return atom.FromAtomBytes(dtype, buf)
	}
	if lv != d+1 {
		return atom.Value{}, dberr.Corruptf("replevel: expected terminator level %d, got %d", d+1, lv)
	}
	*pos++
	b, err := cur.next(dtype.ByteWidth())
	if err != nil {
		return atom.Value{}, err
	}
	return atom.FromAtomBytes(dtype, b)
}
