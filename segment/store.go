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
	"encoding/json"
	"os"

	"github.com/segcolumn/segstore/cache"
	"github.com/segcolumn/segstore/internal/dberr"
)

// metaSlot is what the lock cache actually stores: either the loaded
// metadata, a not-yet-created segment (meta == nil, err == nil), or a
// load failure that must propagate (spec §7: "Corrupt from the decoder
// is never interpreted locally").
type metaSlot struct {
	meta *Metadata
	err  error
}

// Store is the segment metadata store (C5): a size-bounded cache of
// per-segment async RW locks (cache.LockMap), each guarding the
// segment's JSON metadata file, written atomically through
// AtomicWrite (spec §4.5).
type Store struct {
	root  string
	locks *cache.LockMap[string, *metaSlot]
}

// NewStore opens a metadata store rooted at root, with perBucketCap
// entries cached per lock-map bucket before pruning (spec §5's
// "bucketed hash maps with per-bucket size cap").
func NewStore(root string, perBucketCap int) *Store {
	return &Store{
		root: root,
		locks: cache.New[string, *metaSlot](cache.HashString, perBucketCap, func(segDir string) *metaSlot {
			return loadSlot(segDir)
		}),
	}
}

func loadSlot(segDir string) *metaSlot {
	data, err := ReadFileOrEmpty(SegmentMetadataPath(segDir))
	if err != nil {
		return &metaSlot{err: err}
	}
	if data == nil {
		return &metaSlot{}
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return &metaSlot{err: dberr.Corruptf("segment: corrupt metadata at %s: %v", segDir, err)}
	}
	return &metaSlot{meta: &m}
}

// Load returns a clone of segDir's current metadata.
func (s *Store) Load(segDir string) (*Metadata, error) {
	e, release := s.locks.Get(segDir)
	defer release()
	e.RLock()
	defer e.RUnlock()
	if e.Value.err != nil {
		return nil, e.Value.err
	}
	if e.Value.meta == nil {
		return nil, dberr.NotFoundf("segment: no metadata at %s", segDir)
	}
	return e.Value.meta.Clone(), nil
}

// Create creates metadata for a brand new segment, failing Invalid if
// one already exists at segDir.
func (s *Store) Create(segDir string) (*Metadata, error) {
	e, release := s.locks.Get(segDir)
	defer release()
	e.Lock()
	defer e.Unlock()
	if e.Value.err != nil {
		return nil, e.Value.err
	}
	if e.Value.meta != nil {
		return nil, dberr.Invalidf("segment: metadata already exists at %s", segDir)
	}
	if err := os.MkdirAll(segDir, 0750); err != nil {
		return nil, wrapFSErr(err)
	}
	m := New()
	if err := s.persist(segDir, m); err != nil {
		return nil, err
	}
	e.Value = &metaSlot{meta: m}
	return m.Clone(), nil
}

// Mutate loads segDir's metadata under a write lock, applies fn to a
// working copy, and persists the result atomically only if fn
// succeeds — every state transition in spec §4 goes through this.
func (s *Store) Mutate(segDir string, fn func(m *Metadata) error) (*Metadata, error) {
	e, release := s.locks.Get(segDir)
	defer release()
	e.Lock()
	defer e.Unlock()
	if e.Value.err != nil {
		return nil, e.Value.err
	}
	if e.Value.meta == nil {
		return nil, dberr.NotFoundf("segment: no metadata at %s", segDir)
	}
	working := e.Value.meta.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	if err := s.persist(segDir, working); err != nil {
		return nil, err
	}
	e.Value = &metaSlot{meta: working}
	return working.Clone(), nil
}

// Root returns the filesystem root this store was opened against, used
// by callers (flush, compact) that need AtomicWrite's tmp-dir anchor
// for files this store doesn't itself manage (flush/compact/deletion
// files).
func (s *Store) Root() string { return s.root }

// Forget drops segDir's cached lock (used once a segment's directory
// has actually been removed, e.g. after a grace-period GC sweep).
func (s *Store) Forget(segDir string) { s.locks.Remove(segDir) }

func (s *Store) persist(segDir string, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return dberr.Wrap(dberr.Internal, "marshal segment metadata", err)
	}
	return AtomicWrite(s.root, SegmentMetadataPath(segDir), data)
}
