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
package catalog

import (
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/segcolumn/segstore/schema"
)

// SegmentInfo is the listing-level view of one segment — enough to
// answer ListSegments (spec §6) without loading the segment's full,
// frequently-mutated metadata.json off disk.
type SegmentInfo struct {
	ID       uuid.UUID
	IsCold   bool
	AllTimeN uint32
}

func segmentLess(a, b SegmentInfo) bool {
	return uuidLess(a.ID, b.ID)
}

func uuidLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// partitionIndex keeps one partition's segments ordered by id in a
// google/btree BTreeG, the pack's own choice (via the rest of the
// examples) for an ordered in-memory index cheaper to keep sorted than
// a repeatedly-resorted slice — NonLockingReadMap's own rebuild-on-Set
// strategy (segment.Store's per-partition registry is unordered, so
// listing must sort elsewhere) would be wasteful here given how often
// ListSegments is called relative to segment creation.
type partitionIndex struct {
	mu   sync.RWMutex
	key  schema.PartitionKey
	tree *btree.BTreeG[SegmentInfo]
}

func newPartitionIndex(key schema.PartitionKey) *partitionIndex {
	return &partitionIndex{key: key, tree: btree.NewG[SegmentInfo](32, segmentLess)}
}

func (p *partitionIndex) upsert(info SegmentInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tree.ReplaceOrInsert(info)
}

func (p *partitionIndex) remove(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tree.Delete(SegmentInfo{ID: id})
}

// list returns every segment at or after after, in id order, capped at
// limit (0 means unlimited) — backing ListSegments' continuation-token
// style pagination (spec §4.10's pattern applied one level up, to
// segment listing rather than row batches).
func (p *partitionIndex) list(after uuid.UUID, limit int) []SegmentInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]SegmentInfo, 0)
	p.tree.AscendGreaterOrEqual(SegmentInfo{ID: after}, func(item SegmentInfo) bool {
		out = append(out, item)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// SegmentIndex maps each table's partitions to an ordered segment
// index. Partitions come and go far less often than segments within
// them, so a plain mutex-guarded map of partition path to
// *partitionIndex is adequate here; it's the per-partition contents
// that need the ordered structure.
type SegmentIndex struct {
	mu         sync.RWMutex
	partitions map[string]*partitionIndex
}

func NewSegmentIndex() *SegmentIndex {
	return &SegmentIndex{partitions: make(map[string]*partitionIndex)}
}

func partitionMapKey(k schema.PartitionKey) string { return k.Table + "\x00" + k.Path() }

func (s *SegmentIndex) partition(k schema.PartitionKey) *partitionIndex {
	key := partitionMapKey(k)
	s.mu.RLock()
	p, ok := s.partitions[key]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[key]; ok {
		return p
	}
	p = newPartitionIndex(k)
	s.partitions[key] = p
	return p
}

// Put registers or updates a segment's listing-level info under its
// partition.
func (s *SegmentIndex) Put(k schema.PartitionKey, info SegmentInfo) {
	s.partition(k).upsert(info)
}

// Remove drops a segment from its partition's index (spec §3: a
// segment disappears once merged away or its table is dropped).
func (s *SegmentIndex) Remove(k schema.PartitionKey, id uuid.UUID) {
	s.partition(k).remove(id)
}

// List returns up to limit segments of partition k, ordered by id,
// starting at or after the continuation cursor after.
func (s *SegmentIndex) List(k schema.PartitionKey, after uuid.UUID, limit int) []SegmentInfo {
	return s.partition(k).list(after, limit)
}

// DropTable discards every partition index held for table (spec §3:
// "Dropping a table flips a dropped flag, then removes data").
func (s *SegmentIndex) DropTable(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := table + "\x00"
	for key := range s.partitions {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.partitions, key)
		}
	}
}

// Partitions returns every partition path currently indexed for table,
// sorted for deterministic listing output.
func (s *SegmentIndex) Partitions(table string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := table + "\x00"
	out := make([]string, 0)
	for key := range s.partitions {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, key[len(prefix):])
		}
	}
	sort.Strings(out)
	return out
}

// PartitionKeys returns every partition currently indexed for table as
// the full schema.PartitionKey a caller needs to re-enter List or
// SegmentDir with — Partitions alone only hands back the flattened
// path string, which isn't reversible into its []PartitionField form.
// Used by the background compaction sweep (store package) to walk
// every partition without a table needing to track its own key set.
func (s *SegmentIndex) PartitionKeys(table string) []schema.PartitionKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := table + "\x00"
	out := make([]schema.PartitionKey, 0)
	for mapKey, p := range s.partitions {
		if len(mapKey) >= len(prefix) && mapKey[:len(prefix)] == prefix {
			out = append(out, p.key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}
