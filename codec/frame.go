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

// Package codec is the (dtype, codec-name) -> value codec registry
// (spec §4.2): every codec prefixes its output with repetition levels
// compressed by the q_compress codec at a fixed setting, followed by
// the codec's own native compression of the atom bytes.
package codec

import (
	"encoding/binary"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/replevel"
)

// Codec is a value codec for one dtype: it compresses/decompresses a
// run of field values into a single self-delimiting byte blob.
type Codec interface {
	Name() string
	Compress(values []atom.Value, dtype atom.DType, depth int) ([]byte, error)
	Decompress(data []byte, dtype atom.DType, depth int) ([]atom.Value, error)
	// DecompressRepLevels recovers the repetition levels of every value
	// in data and returns the not-yet-atom-decompressed remainder.
	DecompressRepLevels(data []byte) (levels []uint8, remaining []byte, err error)
}

// buildFrame assembles the canonical wire layout: a 4-byte big-endian
// length of the q_compress-compressed level block, that block, then the
// codec-native compressed atom block.
func buildFrame(levels []uint8, atomBlock []byte) []byte {
	levelBlock := compressLevels(levels)
	out := make([]byte, 4+len(levelBlock)+len(atomBlock))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(levelBlock)))
	copy(out[4:], levelBlock)
	copy(out[4+len(levelBlock):], atomBlock)
	return out
}

// splitFrame is the inverse of buildFrame: it decompresses the level
// block and returns the levels plus the still-compressed atom block.
func splitFrame(data []byte) (levels []uint8, atomBlock []byte, err error) {
	if len(data) < 4 {
		return nil, nil, dberr.Corruptf("codec: frame too short for level-block length prefix")
	}
	n := binary.BigEndian.Uint32(data[0:4])
	if int(4+n) > len(data) {
		return nil, nil, dberr.Corruptf("codec: level-block length %d exceeds frame size", n)
	}
	levelBlock := data[4 : 4+n]
	atomBlock := data[4+n:]
	levels, err = decompressLevels(levelBlock)
	if err != nil {
		return nil, nil, err
	}
	return levels, atomBlock, nil
}

// encodeAll flattens every value into concatenated levels/atoms, the
// shared first stage of every registered codec (q_compress, zstd, xz).
func encodeAll(values []atom.Value, dtype atom.DType, depth int) (levels []uint8, atoms []byte, err error) {
	for _, v := range values {
		lv, ab, err := replevel.Encode(depth, dtype, v)
		if err != nil {
			return nil, nil, err
		}
		levels = append(levels, lv...)
		atoms = append(atoms, ab...)
	}
	return levels, atoms, nil
}

// decodeAll reconstructs all values described by levels from the atom
// bytes already decompressed into atoms.
func decodeAll(levels []uint8, atoms []byte, dtype atom.DType, depth int) ([]atom.Value, error) {
	cur := &replevel.AtomCursor{Buf: atoms}
	values, consumed, err := replevel.Decode(depth, dtype, levels, cur, -1)
	if err != nil {
		return nil, err
	}
	if consumed != len(levels) {
		return nil, dberr.Corruptf("codec: %d level entries left unconsumed after decoding %d values", len(levels)-consumed, len(values))
	}
	return values, nil
}
