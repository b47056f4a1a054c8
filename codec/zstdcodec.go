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
	"github.com/klauspost/compress/zstd"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/internal/dberr"
)

// zstdEncoderLevel is the single, non-adaptive level every zstd-backed
// stream uses, mirroring q_compress's own "fixed level" rule (spec §4.2)
// for the string/bytes side of the registry.
const zstdEncoderLevel = zstd.SpeedDefault

func zstdCompress(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdEncoderLevel))
	if err != nil {
		return nil, dberr.Internalf("zstd encoder: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func zstdDecompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, dberr.Internalf("zstd decoder: %v", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, dberr.Corruptf("zstdcodec: decode: %v", err)
	}
	return out, nil
}

// zstdCodec handles the variable-width dtypes (String, Bytes): atom
// content is the raw concatenated string/byte bytes, compressed with
// zstd, which is built for exactly this kind of run-of-text payload
// (klauspost/compress/zstd, grounded the same way the rest of the pack
// reaches for it over the teacher's own in-memory column compression).
type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Compress(values []atom.Value, dtype atom.DType, depth int) ([]byte, error) {
	if !dtype.IsVariableWidth() {
		return nil, dberr.Invalidf("zstd: dtype %v is not string/bytes", dtype)
	}
	levels, atoms, err := encodeAll(values, dtype, depth)
	if err != nil {
		return nil, err
	}
	atomBlock, err := zstdCompress(atoms)
	if err != nil {
		return nil, err
	}
	return buildFrame(levels, atomBlock), nil
}

func (zstdCodec) Decompress(data []byte, dtype atom.DType, depth int) ([]atom.Value, error) {
	levels, atomBlock, err := splitFrame(data)
	if err != nil {
		return nil, err
	}
	atoms, err := zstdDecompress(atomBlock)
	if err != nil {
		return nil, err
	}
	return decodeAll(levels, atoms, dtype, depth)
}

func (zstdCodec) DecompressRepLevels(data []byte) ([]uint8, []byte, error) {
	return splitFrame(data)
}
