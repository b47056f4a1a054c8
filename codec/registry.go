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
	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/internal/dberr"
)

var registry = map[string]Codec{
	"q_compress": qCompressCodec{},
	"zstd":       zstdCodec{},
	"xz":         xzCodec{},
}

// Get resolves the (dtype, codec-name) pair to its Codec, failing with
// Invalid when the pair is not one of the wired combinations
// (numeric/bool/timestamp -> q_compress, string/bytes -> zstd; xz
// operates on the same generic atom block either codec produces and so
// accepts any dtype — it is never ChooseCodec's default, only the
// constant-recompaction pass's explicit upgrade).
func Get(dtype atom.DType, name string) (Codec, error) {
	c, ok := registry[name]
	if !ok {
		return nil, dberr.Invalidf("codec: unknown codec %q", name)
	}
	if name == "xz" {
		return c, nil
	}
	if dtype.IsVariableWidth() != (name == "zstd") {
		return nil, dberr.Invalidf("codec: %q does not support dtype %v", name, dtype)
	}
	return c, nil
}

// ChooseCodec is the default codec name a column of dtype is written
// with absent an explicit override.
func ChooseCodec(dtype atom.DType) string {
	if dtype.IsVariableWidth() {
		return "zstd"
	}
	return "q_compress"
}
