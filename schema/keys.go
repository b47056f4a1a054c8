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
package schema

import (
	"strings"

	"github.com/google/uuid"
)

// PartitionKey identifies one partition of one table (spec §3).
type PartitionKey struct {
	Table     string
	Partition []PartitionField
}

// Path returns the deterministic `<partition_field>=<value>/…` path
// component under a table's data directory (spec §6 on-disk layout).
func (k PartitionKey) Path() string {
	var b strings.Builder
	for i, f := range k.Partition {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(f.Value)
	}
	return b.String()
}

// ParsePartitionPath reconstructs the PartitionKey a Path() value came
// from, the inverse operation startup recovery needs when it walks a
// table's data directory and finds partition subdirectories by name
// rather than by holding the original PartitionKey in memory.
func ParsePartitionPath(table, path string) PartitionKey {
	if path == "" {
		return PartitionKey{Table: table}
	}
	parts := strings.Split(path, "/")
	fields := make([]PartitionField, 0, len(parts))
	for _, p := range parts {
		name, value, _ := strings.Cut(p, "=")
		fields = append(fields, PartitionField{Name: name, Value: value})
	}
	return PartitionKey{Table: table, Partition: fields}
}

// SegmentKey identifies one segment within a partition: a PartitionKey
// plus a 128-bit segment id (spec §3).
type SegmentKey struct {
	PartitionKey
	SegmentID uuid.UUID
}

// CompactionKey identifies one version of one segment (spec §3).
type CompactionKey struct {
	SegmentKey
	Version uint64
}

// ShardOf returns the shard a segment id belongs to under a sharding
// depth of nShardsLog bits, taken from the id's high bits (spec §3
// invariant 7). It only reads those bits: segment ids are created with
// uuid.New(), so no shard is written into them and the result comes
// from random bits.
func ShardOf(id uuid.UUID, nShardsLog uint) uint32 {
	if nShardsLog == 0 {
		return 0
	}
	if nShardsLog > 32 {
		nShardsLog = 32
	}
	high := uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
	return high >> (32 - nShardsLog)
}
