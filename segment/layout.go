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

// Package segment implements the per-segment metadata state machine
// (C5), the staging buffer (C6), and the deletion tracker (C9) — the
// on-disk layout and transitions of spec §3–§4.9, grounded on the
// teacher's schema.json / segment-directory conventions
// (storage/database.go's load/save, storage/persistence-files.go's
// atomic rename discipline).
package segment

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/segcolumn/segstore/schema"
)

// Dir-name helpers implementing the on-disk layout of spec §6.

func GlobalMetadataPath(root string) string { return root + "/global_metadata.json" }
func TmpDir(root string) string             { return root + "/tmp" }

func TableDir(root, table string) string         { return root + "/" + table }
func TableMetadataPath(root, table string) string { return TableDir(root, table) + "/table_metadata.json" }
func TableDataDir(root, table string) string      { return TableDir(root, table) + "/data" }

func PartitionDir(root, table string, key schema.PartitionKey) string {
	p := key.Path()
	if p == "" {
		return TableDataDir(root, table)
	}
	return TableDataDir(root, table) + "/" + p
}
func PartitionMetadataPath(root, table string, key schema.PartitionKey) string {
	return PartitionDir(root, table, key) + "/partition_metadata.json"
}

func SegmentDirName(id uuid.UUID) string { return "s_" + id.String() }
func SegmentDir(root, table string, key schema.PartitionKey, id uuid.UUID) string {
	return PartitionDir(root, table, key) + "/" + SegmentDirName(id)
}
func SegmentMetadataPath(segDir string) string { return segDir + "/segment_metadata.json" }
func StagedRowsPath(segDir string) string      { return segDir + "/staged_rows" }

func VersionDirName(version uint64) string { return "v" + strconv.FormatUint(version, 10) }
func VersionDir(segDir string, version uint64) string {
	return segDir + "/" + VersionDirName(version)
}
func CompactionMetadataPath(versionDir string) string { return versionDir + "/compaction.json" }
func FlushFilePath(versionDir, column string) string  { return versionDir + "/f_" + column }
func CompactFilePath(versionDir, column string) string { return versionDir + "/c_" + column }
func PreDeletionsPath(versionDir string) string       { return versionDir + "/pre.deletions" }
func PostDeletionsPath(versionDir string, deletionID uint64) string {
	return versionDir + fmt.Sprintf("/post_%d.deletions", deletionID)
}
