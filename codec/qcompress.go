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
package codec

import (
	"encoding/binary"
	"math/bits"

	"github.com/pierrec/lz4/v4"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/internal/dberr"
)

// lz4CompressionLevel is the single, non-adaptive compression setting
// every q_compress-backed stream uses (spec §4.2: "compressed by
// q_compress at a fixed level"). pierrec/lz4 is the teacher's own
// compressor of choice for int-shaped data (go.mod already requires it).
const lz4CompressionLevel = lz4.CompressionLevel(9)

// lz4Compress compresses raw with LZ4's raw block format. The output is
// an 8-byte header (raw length, compressed length — zero compressed
// length means "stored uncompressed", LZ4's usual fallback for
// incompressible input) followed by the payload.
func lz4Compress(raw []byte) []byte {
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(raw)))
	if len(raw) == 0 {
		return header
	}
	dst := make([]byte, lz4.CompressBlockBound(len(raw)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlockHC(raw, dst, lz4CompressionLevel, ht[:], nil)
	if err != nil {
		panic(err)
	}
	if n == 0 || n >= len(raw) {
		// incompressible: store raw, compressed length 0 signals "stored"
		return append(header, raw...)
	}
	binary.BigEndian.PutUint32(header[4:8], uint32(n))
	return append(header, dst[:n]...)
}

func lz4Decompress(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, dberr.Corruptf("qcompress: lz4 block too short")
	}
	rawLen := binary.BigEndian.Uint32(data[0:4])
	compLen := binary.BigEndian.Uint32(data[4:8])
	payload := data[8:]
	if rawLen == 0 {
		return nil, nil
	}
	if compLen == 0 {
		if uint32(len(payload)) != rawLen {
			return nil, dberr.Corruptf("qcompress: stored block length mismatch")
		}
		out := make([]byte, rawLen)
		copy(out, payload)
		return out, nil
	}
	if uint32(len(payload)) != compLen {
		return nil, dberr.Corruptf("qcompress: compressed block length mismatch")
	}
	dst := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return nil, dberr.Corruptf("qcompress: lz4 decode: %v", err)
	}
	return dst[:n], nil
}

// bitpackUints packs n values, each known to fit in bitwidth bits, into
// a tightly packed byte slice (LSB-first within each uint64 accumulator),
// the technique the teacher used for in-memory int columns
// (storage/storage-int.go's bitsize/offset scheme), generalized here to
// an on-disk q_compress-style block.
func bitpackUints(values []uint64, bitwidth int) []byte {
	if bitwidth == 0 {
		return nil
	}
	totalBits := len(values) * bitwidth
	out := make([]byte, (totalBits+7)/8)
	bitpos := 0
	for _, v := range values {
		v &= (uint64(1) << uint(bitwidth)) - 1
		for b := 0; b < bitwidth; b++ {
			if v&(1<<uint(b)) != 0 {
				byteIdx := (bitpos + b) / 8
				bitIdx := (bitpos + b) % 8
				out[byteIdx] |= 1 << uint(bitIdx)
			}
		}
		bitpos += bitwidth
	}
	return out
}

func bitunpackUints(packed []byte, bitwidth, count int) []uint64 {
	if bitwidth == 0 {
		out := make([]uint64, count)
		return out
	}
	out := make([]uint64, count)
	bitpos := 0
	for i := 0; i < count; i++ {
		var v uint64
		for b := 0; b < bitwidth; b++ {
			byteIdx := (bitpos + b) / 8
			bitIdx := (bitpos + b) % 8
			if byteIdx < len(packed) && packed[byteIdx]&(1<<uint(bitIdx)) != 0 {
				v |= 1 << uint(b)
			}
		}
		out[i] = v
		bitpos += bitwidth
	}
	return out
}

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// packIntBlock delta-offsets and bit-packs a run of int64s (levels or
// int64/timestamp atoms), then lz4-compresses the packed bytes.
func packIntBlock(nums []int64) []byte {
	count := len(nums)
	header := make([]byte, 13) // count(4) + min(8 zigzag-free, raw int64) + bitwidth(1)
	binary.BigEndian.PutUint32(header[0:4], uint32(count))
	if count == 0 {
		header[12] = 0
		return lz4Compress(header)
	}
	min := nums[0]
	for _, v := range nums {
		if v < min {
			min = v
		}
	}
	var maxOffset uint64
	offsets := make([]uint64, count)
	for i, v := range nums {
		o := zigzag(v - min)
		offsets[i] = o
		if o > maxOffset {
			maxOffset = o
		}
	}
	bitwidth := bits.Len64(maxOffset)
	binary.BigEndian.PutUint64(header[4:12], uint64(min))
	header[12] = byte(bitwidth)
	packed := bitpackUints(offsets, bitwidth)
	return lz4Compress(append(header, packed...))
}

func unpackIntBlock(data []byte) ([]int64, error) {
	raw, err := lz4Decompress(data)
	if err != nil {
		return nil, err
	}
	if len(raw) < 13 {
		return nil, dberr.Corruptf("qcompress: int block header truncated")
	}
	count := int(binary.BigEndian.Uint32(raw[0:4]))
	min := int64(binary.BigEndian.Uint64(raw[4:12]))
	bitwidth := int(raw[12])
	packed := raw[13:]
	offsets := bitunpackUints(packed, bitwidth, count)
	out := make([]int64, count)
	for i, o := range offsets {
		out[i] = min + unzigzag(o)
	}
	return out, nil
}

// compressLevels is the single q_compress routine every codec's
// level-prefix goes through, regardless of which codec compresses the
// atoms (spec §4.2).
func compressLevels(levels []uint8) []byte {
	nums := make([]int64, len(levels))
	for i, l := range levels {
		nums[i] = int64(l)
	}
	return packIntBlock(nums)
}

func decompressLevels(data []byte) ([]uint8, error) {
	nums, err := unpackIntBlock(data)
	if err != nil {
		return nil, err
	}
	out := make([]uint8, len(nums))
	for i, n := range nums {
		out[i] = uint8(n)
	}
	return out, nil
}

// qCompressCodec handles the numeric/bool/timestamp dtypes: Int64 and
// Timestamp atoms are delta-offset and bit-packed before lz4 (the
// teacher's int bit-packing technique promoted to the wire format);
// Float32/Float64/Bool atoms are lz4-compressed directly, since bit
// widths computed from their raw bit patterns rarely help.
type qCompressCodec struct{}

func (qCompressCodec) Name() string { return "q_compress" }

func (qCompressCodec) Compress(values []atom.Value, dtype atom.DType, depth int) ([]byte, error) {
	if dtype.IsVariableWidth() {
		return nil, dberr.Invalidf("q_compress: dtype %v is not numeric/bool/timestamp", dtype)
	}
	levels, atoms, err := encodeAll(values, dtype, depth)
	if err != nil {
		return nil, err
	}
	var atomBlock []byte
	switch dtype {
	case atom.Int64, atom.Timestamp:
		nums := bytesToInt64s(atoms)
		atomBlock = packIntBlock(nums)
	default:
		atomBlock = lz4Compress(atoms)
	}
	return buildFrame(levels, atomBlock), nil
}

func (qCompressCodec) Decompress(data []byte, dtype atom.DType, depth int) ([]atom.Value, error) {
	levels, atomBlock, err := splitFrame(data)
	if err != nil {
		return nil, err
	}
	var atoms []byte
	switch dtype {
	case atom.Int64, atom.Timestamp:
		nums, err := unpackIntBlock(atomBlock)
		if err != nil {
			return nil, err
		}
		atoms = int64sToBytes(nums)
	default:
		atoms, err = lz4Decompress(atomBlock)
		if err != nil {
			return nil, err
		}
	}
	return decodeAll(levels, atoms, dtype, depth)
}

func (qCompressCodec) DecompressRepLevels(data []byte) ([]uint8, []byte, error) {
	return splitFrame(data)
}

func bytesToInt64s(b []byte) []int64 {
	n := len(b) / 8
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = int64(binary.BigEndian.Uint64(b[i*8 : i*8+8]))
	}
	return out
}

func int64sToBytes(nums []int64) []byte {
	out := make([]byte, len(nums)*8)
	for i, n := range nums {
		binary.BigEndian.PutUint64(out[i*8:i*8+8], uint64(n))
	}
	return out
}
