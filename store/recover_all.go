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
package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/segcolumn/segstore/catalog"
	"github.com/segcolumn/segstore/schema"
	"github.com/segcolumn/segstore/segment"
)

// Load reconstructs a Store from root's on-disk catalog
// (table_metadata.json files); the segment and partition index stay
// empty until RecoverAll walks the tree, the table-granularity half of
// the startup resume protocol that recovery.Segment alone doesn't
// cover (spec §4.11).
func Load(root string, opts Options) (*Store, error) {
	cat, err := catalog.Load(root)
	if err != nil {
		return nil, err
	}
	return &Store{
		root:   root,
		opts:   opts,
		cat:    cat,
		index:  catalog.NewSegmentIndex(),
		seg:    segment.NewStore(root, opts.PerBucketCap),
		active: make(map[string]uuid.UUID),
		pins:   make(map[string]uint64),
	}, nil
}

// RecoverAll runs the full startup resume protocol (spec §4.11): it
// first finishes any DropTable interrupted by the last crash, then
// walks every remaining table's data directory depth-first, running
// RecoverSegment on every segment it discovers on disk, and returns
// the ones recovery flagged as flush candidates so the caller can
// queue them once serving starts. Must run to completion before the
// RPC surface becomes reachable (SPEC_FULL §C item 5) - the depth-first
// walk order mirrors the teacher's own directory-recursive startup
// scan, generalized from "open every file" to "repair every segment".
func (s *Store) RecoverAll() ([]schema.SegmentKey, error) {
	for _, name := range s.cat.DroppedTables() {
		if err := os.RemoveAll(segment.TableDir(s.root, name)); err != nil {
			return nil, err
		}
		s.cat.Forget(name)
	}

	var candidates []schema.SegmentKey
	for _, table := range s.cat.ListTables() {
		found, err := discoverSegments(s.root, table)
		if err != nil {
			return nil, err
		}
		for _, key := range found {
			flushCandidate, err := s.RecoverSegment(table, key.PartitionKey, key.SegmentID)
			if err != nil {
				return nil, err
			}
			if flushCandidate {
				candidates = append(candidates, key)
			}
		}
	}
	return candidates, nil
}

// discoverSegments walks table's data directory and returns every
// segment directory it finds as a full SegmentKey, reconstructing each
// PartitionKey from its directory path via schema.ParsePartitionPath -
// the segment index itself isn't persisted, so a restart has no record
// of partitions except what the directory tree still shows.
func discoverSegments(root, table string) ([]schema.SegmentKey, error) {
	base := segment.TableDataDir(root, table)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, nil
	}
	var out []schema.SegmentKey
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == base {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, "s_") {
			return nil
		}
		id, perr := uuid.Parse(strings.TrimPrefix(name, "s_"))
		if perr != nil {
			return nil // not a segment dir, e.g. a stray "s_" prefixed user dir
		}
		rel, rerr := filepath.Rel(base, filepath.Dir(path))
		if rerr != nil {
			return rerr
		}
		if rel == "." {
			rel = ""
		}
		key := schema.ParsePartitionPath(table, filepath.ToSlash(rel))
		out = append(out, schema.SegmentKey{PartitionKey: key, SegmentID: id})
		return filepath.SkipDir // a segment directory holds no nested segments
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
