package segment

import (
	"os"
	"testing"
)

func TestBitmapSetGet(t *testing.T) {
	b := NewBitmap()
	if b.Get(5) {
		t.Fatalf("fresh bitmap should read false everywhere")
	}
	if !b.Set(5) {
		t.Fatalf("first Set should report newly set")
	}
	if b.Set(5) {
		t.Fatalf("second Set of the same bit should report already set")
	}
	if !b.Get(5) {
		t.Fatalf("bit 5 should read true after Set")
	}
	if b.Get(4) || b.Get(6) {
		t.Fatalf("neighboring bits must stay false")
	}
}

func TestBitmapGrowsLazily(t *testing.T) {
	b := NewBitmap()
	if b.Len() != 0 {
		t.Fatalf("fresh bitmap should hold no storage, got Len=%d", b.Len())
	}
	b.Set(1000)
	if b.Len() < 1001 {
		t.Fatalf("bitmap should have grown to cover row 1000, got Len=%d", b.Len())
	}
	if !b.Get(1000) {
		t.Fatalf("row 1000 should read true")
	}
}

func TestBitmapCount(t *testing.T) {
	b := NewBitmap()
	b.Set(0)
	b.Set(2)
	b.Set(4)
	if got := b.Count(5); got != 3 {
		t.Fatalf("Count(5) = %d, want 3", got)
	}
	if got := b.Count(2); got != 1 {
		t.Fatalf("Count(2) = %d, want 1", got)
	}
}

func TestApplyDeleteSkipsAlreadyPreDeleted(t *testing.T) {
	dir := t.TempDir()
	vdir := VersionDir(dir, 1)
	if err := os.MkdirAll(vdir, 0750); err != nil {
		t.Fatal(err)
	}
	pre := NewBitmap()
	pre.Set(3)
	if err := pre.Save(dir, PreDeletionsPath(vdir)); err != nil {
		t.Fatal(err)
	}
	tr := NewDeletionTracker(dir, vdir)
	next, newly, err := tr.ApplyDelete(0, []uint32{3, 7, 7, 9})
	if err != nil {
		t.Fatal(err)
	}
	if newly != 2 {
		t.Fatalf("newly deleted = %d, want 2 (row 3 already pre-deleted, row 7 deduped)", newly)
	}
	if next.Get(3) {
		t.Fatalf("pre-deleted row 3 should not be set in the post bitmap")
	}
	if !next.Get(7) || !next.Get(9) {
		t.Fatalf("rows 7 and 9 should be set in the post bitmap")
	}
}

func TestMergeForCompaction(t *testing.T) {
	oldPre := NewBitmap()
	oldPre.Set(0)
	oldPost := NewBitmap()
	oldPost.Set(2)
	merged, omitted := MergeForCompaction(oldPre, oldPost, 4)
	if omitted != 2 {
		t.Fatalf("omitted = %d, want 2", omitted)
	}
	if !merged.Get(0) || !merged.Get(2) {
		t.Fatalf("merged pre bitmap should carry forward both tombstones")
	}
	if merged.Get(1) || merged.Get(3) {
		t.Fatalf("rows never deleted must stay false in the merged bitmap")
	}
}
