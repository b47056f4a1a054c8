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
package segment

import (
	"encoding/binary"
	"encoding/json"
	"os"

	"github.com/segcolumn/segstore/internal/dberr"
)

// AppendStagedRow appends one row to segDir/staged_rows as a 4-byte
// big-endian length prefix followed by its JSON encoding (spec §4.6).
// The append, plus the fsync that follows it, are the cooperative
// suspension points of spec §5.
func AppendStagedRow(segDir string, row map[string]any) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return dberr.Wrap(dberr.Internal, "marshal staged row", err)
	}
	f, err := os.OpenFile(StagedRowsPath(segDir), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return wrapFSErr(err)
	}
	defer f.Close()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return wrapFSErr(err)
	}
	if _, err := f.Write(payload); err != nil {
		return wrapFSErr(err)
	}
	return f.Sync()
}

// ReadStagedRows decodes every fully-framed row in segDir/staged_rows.
// A trailing, partially-written frame (length prefix present but not
// enough payload bytes yet, or neither) is silently ignored: the
// staging file's trailing rows beyond staged_n are tolerated and used
// by recovery to replay (spec §4.6).
func ReadStagedRows(segDir string) ([]map[string]any, error) {
	data, err := ReadFileOrEmpty(StagedRowsPath(segDir))
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	pos := 0
	for pos+4 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		if pos+4+n > len(data) {
			break // trailing partial frame: tolerated, not decoded
		}
		var row map[string]any
		if err := json.Unmarshal(data[pos+4:pos+4+n], &row); err != nil {
			return nil, dberr.Corruptf("segment: corrupt staged row at offset %d: %v", pos, err)
		}
		rows = append(rows, row)
		pos += 4 + n
	}
	return rows, nil
}

// CountFramedStagedRows returns how many complete frames staged_rows
// holds, without decoding them — used by recovery step 4 to reconcile
// staged_n against what actually persisted (spec §4.11).
func CountFramedStagedRows(segDir string) (int, error) {
	data, err := ReadFileOrEmpty(StagedRowsPath(segDir))
	if err != nil {
		return 0, err
	}
	count := 0
	pos := 0
	for pos+4 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		if pos+4+n > len(data) {
			break
		}
		count++
		pos += 4 + n
	}
	return count, nil
}

// TruncateStaging empties segDir/staged_rows (spec §4.7 step 3: "the
// staging truncate happens after every column's flush-file append has
// been durably written").
func TruncateStaging(segDir string) error {
	f, err := os.OpenFile(StagedRowsPath(segDir), os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return wrapFSErr(err)
	}
	return f.Close()
}
