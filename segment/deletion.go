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

// Deletion tracker (C9, spec §4.9): two bitmap files per version, a
// pre-compaction bitmap and a post-compaction bitmap. Both are indexed
// by row id (bit i of either file refers to row i); the post bitmap is
// not re-indexed to the rows surviving pre-deletion. The
// post bitmap grows lazily rather than preallocating to all_time_n
// (spec §9 SUPPLEMENTED FEATURES item 3).
package segment

import (
	"os"

	"github.com/segcolumn/segstore/internal/dberr"
)

// Bitmap is a growable bit vector backed by a plain []byte, doubling in
// size on demand rather than preallocating (SPEC_FULL §C item 3).
type Bitmap struct {
	bits []byte
}

func NewBitmap() *Bitmap { return &Bitmap{} }

func LoadBitmap(path string) (*Bitmap, error) {
	data, err := ReadFileOrEmpty(path)
	if err != nil {
		return nil, err
	}
	return &Bitmap{bits: data}, nil
}

func (b *Bitmap) Save(root, path string) error {
	return AtomicWrite(root, path, b.bits)
}

func (b *Bitmap) ensure(row uint32) {
	need := int(row/8) + 1
	if len(b.bits) >= need {
		return
	}
	grown := len(b.bits)
	if grown == 0 {
		grown = 64
	}
	for grown < need {
		grown *= 2
	}
	n := make([]byte, grown)
	copy(n, b.bits)
	b.bits = n
}

func (b *Bitmap) Get(row uint32) bool {
	idx := int(row / 8)
	if idx >= len(b.bits) {
		return false
	}
	return b.bits[idx]&(1<<(row%8)) != 0
}

// Set marks row deleted, returning true iff it was not already set.
func (b *Bitmap) Set(row uint32) bool {
	if b.Get(row) {
		return false
	}
	b.ensure(row)
	b.bits[row/8] |= 1 << (row % 8)
	return true
}

// Count returns the number of set bits up to (but excluding) n.
func (b *Bitmap) Count(n uint32) uint32 {
	var c uint32
	for i := uint32(0); i < n; i++ {
		if b.Get(i) {
			c++
		}
	}
	return c
}

// Len returns the number of rows the bitmap has storage for; it is not
// the logical row count (SPEC_FULL §C item 3: the logical count must
// come from the pre-bitmap / segment metadata, never the file length).
func (b *Bitmap) Len() int { return len(b.bits) * 8 }

// RawBits exposes the underlying byte slice directly, for callers (the
// column read pipeline's ReadSegmentDeletions) that need to combine two
// bitmaps of possibly different lengths without going through Get/Set
// one bit at a time.
func (b *Bitmap) RawBits() []byte { return b.bits }

// DeletionTracker manages the pre/post bitmap pair for one version
// directory.
type DeletionTracker struct {
	root       string
	versionDir string
}

func NewDeletionTracker(root, versionDir string) *DeletionTracker {
	return &DeletionTracker{root: root, versionDir: versionDir}
}

func (d *DeletionTracker) LoadPre() (*Bitmap, error) {
	return LoadBitmap(PreDeletionsPath(d.versionDir))
}

func (d *DeletionTracker) SavePre(b *Bitmap) error {
	return b.Save(d.root, PreDeletionsPath(d.versionDir))
}

func (d *DeletionTracker) LoadPost(deletionID uint64) (*Bitmap, error) {
	return LoadBitmap(PostDeletionsPath(d.versionDir, deletionID))
}

func (d *DeletionTracker) SavePost(deletionID uint64, b *Bitmap) error {
	return b.Save(d.root, PostDeletionsPath(d.versionDir, deletionID))
}

// ApplyDelete validates and applies row-id deletions against this
// version's pre/post bitmaps (spec §4.9 steps 1-2): row ids already
// pre-deleted are not double counted; the caller is responsible for
// persisting the returned bitmap under a fresh deletion id and for
// checking that every write_versions entry agrees on newlyDeleted.
func (d *DeletionTracker) ApplyDelete(prevDeletionID uint64, rowIDs []uint32) (next *Bitmap, newlyDeleted uint32, err error) {
	pre, err := d.LoadPre()
	if err != nil {
		return nil, 0, err
	}
	post, err := d.LoadPost(prevDeletionID)
	if err != nil {
		return nil, 0, err
	}
	for _, rid := range rowIDs {
		if pre.Get(rid) {
			continue // already omitted from compacted columns
		}
		if post.Set(rid) {
			newlyDeleted++
		}
	}
	return post, newlyDeleted, nil
}

// PreDeletionsExist reports whether segDir/version's pre bitmap file
// has ever been written; its absence is the common case (no deletes
// occurred before this version was compacted) and is interpreted as
// all-zero, not an error (spec §7).
func PreDeletionsExist(versionDir string) (bool, error) {
	_, err := os.Stat(PreDeletionsPath(versionDir))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, wrapFSErr(err)
}

// MergeForCompaction merges a prior version's pre- and post-compaction
// deletion bitmaps into a new version's pre-compaction bitmap (spec
// §4.8 step 3): a row is pre-deleted in the new version iff it was
// pre-deleted in the old version or tombstoned by the old version's
// post bitmap. survivingRows bounds the iteration to rows the old
// version actually compacted.
func MergeForCompaction(oldPre, oldPost *Bitmap, survivingRows uint32) (newPre *Bitmap, omitted uint32) {
	newPre = NewBitmap()
	for i := uint32(0); i < survivingRows; i++ {
		if oldPre.Get(i) || oldPost.Get(i) {
			newPre.Set(i)
			omitted++
		}
	}
	return newPre, omitted
}

// DeleteRows runs the full delete-request protocol of spec §4.9 against
// segDir: validates row ids, applies them to every write_versions
// bitmap pair, requires every version to agree on how many rows were
// newly deleted, persists the new post bitmaps, and only then commits
// deletion_id/all_time_deleted_n through store.Mutate — so a
// disagreement or a write failure leaves no version updated.
func DeleteRows(store *Store, segDir string, rowIDs []uint32) (*Metadata, uint32, error) {
	m, err := store.Load(segDir)
	if err != nil {
		return nil, 0, err
	}
	for _, rid := range rowIDs {
		if rid >= m.AllTimeN {
			return nil, 0, dberr.Invalidf("segment: delete row id %d >= all_time_n %d", rid, m.AllTimeN)
		}
	}
	type pending struct {
		version uint64
		bitmap  *Bitmap
	}
	var writes []pending
	var agreedCount uint32
	for i, v := range m.WriteVersions {
		vdir := VersionDir(segDir, v)
		tr := NewDeletionTracker(store.root, vdir)
		post, newly, err := tr.ApplyDelete(m.DeletionID, rowIDs)
		if err != nil {
			return nil, 0, err
		}
		if i == 0 {
			agreedCount = newly
		} else if newly != agreedCount {
			return nil, 0, dberr.Internalf("segment: write_versions disagree on deletion count for %s", segDir)
		}
		writes = append(writes, pending{version: v, bitmap: post})
	}
	nextDeletionID := m.DeletionID + 1
	for _, w := range writes {
		vdir := VersionDir(segDir, w.version)
		if err := w.bitmap.Save(store.root, PostDeletionsPath(vdir, nextDeletionID)); err != nil {
			return nil, 0, err
		}
	}
	mm, err := store.Mutate(segDir, func(mm *Metadata) error {
		mm.DeletionID = nextDeletionID
		mm.AllTimeDeletedN += agreedCount
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return mm, agreedCount, nil
}
