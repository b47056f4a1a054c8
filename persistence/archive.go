/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

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
package persistence

import (
	"bytes"
	"fmt"
	"os"
)

// ArchiveVersion uploads every column file in versionDir to store under
// its VersionColumnKey and, once every upload succeeds, removes the
// local copies — a segment marked is_cold (spec §3) no longer needs
// them on local disk, since compaction never writes to an already-cold
// version again.
func ArchiveVersion(store ColdStore, versionDir, table, partitionPath, segmentID string, version uint64, columns []string) error {
	uploaded := make([]string, 0, len(columns))
	for _, col := range columns {
		path := versionDir + "/c_" + col
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("persistence: read %s: %w", path, err)
		}
		key := VersionColumnKey(table, partitionPath, segmentID, version, col)
		if err := store.Put(key, bytes.NewReader(data)); err != nil {
			return err
		}
		uploaded = append(uploaded, path)
	}
	for _, path := range uploaded {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("persistence: remove archived local copy %s: %w", path, err)
		}
	}
	return nil
}

// RestoreColumn downloads one archived column's bytes. The column read
// pipeline (store/read.go) reads only local files and does not call it:
// a cold segment whose local c_<col> is missing is not restored from
// the cold store on read.
func RestoreColumn(store ColdStore, table, partitionPath, segmentID string, version uint64, column string) ([]byte, error) {
	key := VersionColumnKey(table, partitionPath, segmentID, version, column)
	r, err := store.Get(key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("persistence: read archived column %q: %w", key, err)
	}
	return buf.Bytes(), nil
}
