package compact

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/flush"
	"github.com/segcolumn/segstore/schema"
	"github.com/segcolumn/segstore/segment"
)

func newSegment(t *testing.T) (*segment.Store, string) {
	t.Helper()
	root := t.TempDir()
	store := segment.NewStore(root, 64)
	segDir := segment.SegmentDir(root, "t", schema.PartitionKey{}, uuid.New())
	if _, err := store.Create(segDir); err != nil {
		t.Fatal(err)
	}
	return store, segDir
}

func TestRunCompactsFlushFileIntoNewVersion(t *testing.T) {
	store, segDir := newSegment(t)

	rows := []map[string]any{
		{"n": atom.IntVal(1).ToGeneric(), "_row_id": atom.IntVal(0).ToGeneric(), "_written_at": atom.Value{}.ToGeneric()},
		{"n": atom.IntVal(2).ToGeneric(), "_row_id": atom.IntVal(1).ToGeneric(), "_written_at": atom.Value{}.ToGeneric()},
	}
	for _, r := range rows {
		if err := segment.AppendStagedRow(segDir, r); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Mutate(segDir, func(m *segment.Metadata) error {
		m.StagedN = uint32(len(rows))
		m.AllTimeN = uint32(len(rows))
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	cols := []flush.Column{{Name: "n", DType: atom.Int64}}
	if err := flush.Run(store, segDir, cols); err != nil {
		t.Fatal(err)
	}

	if err := Run(store, segDir, cols); err != nil {
		t.Fatal(err)
	}

	meta, err := store.Load(segDir)
	if err != nil {
		t.Fatal(err)
	}
	if meta.ReadVersion != 1 {
		t.Fatalf("read_version should advance to 1, got %d", meta.ReadVersion)
	}
	if meta.IsCompacting() {
		t.Fatalf("write_versions should collapse to {read_version} after compaction")
	}

	newVDir := segment.VersionDir(segDir, 1)
	data, err := segment.ReadFileOrEmpty(segment.CompactFilePath(newVDir, "n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty compact file for column n")
	}
}

func TestShouldCompactHeuristics(t *testing.T) {
	opts := DefaultOptions()
	now := time.Now()
	m := &segment.Metadata{
		AllTimeN:         2000,
		ReadVersionSince: now.Add(-time.Hour),
		LastFlushAt:      now.Add(-time.Hour),
		WriteVersions:    []uint64{0},
	}
	if !ShouldCompact(m, 500, now, opts) {
		t.Fatalf("row count more than doubled since last compaction: should compact")
	}
	mRecentFlush := &segment.Metadata{
		AllTimeN:         2000,
		ReadVersionSince: now.Add(-time.Hour),
		LastFlushAt:      now,
		WriteVersions:    []uint64{0},
	}
	if ShouldCompact(mRecentFlush, 1800, now, opts) {
		t.Fatalf("grown but not doubled and not idle: should not compact yet")
	}
	mCompacting := &segment.Metadata{WriteVersions: []uint64{0, 1}}
	if ShouldCompact(mCompacting, 0, now, opts) {
		t.Fatalf("a segment already compacting should never be selected again")
	}
}
