package recovery

import (
	"testing"

	"github.com/google/uuid"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/flush"
	"github.com/segcolumn/segstore/rowcodec"
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

func TestSegmentResetsCompactingWriteVersions(t *testing.T) {
	store, segDir := newSegment(t)
	if _, err := store.Mutate(segDir, func(m *segment.Metadata) error {
		m.ReadVersion = 0
		m.WriteVersions = []uint64{0, 1}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := Segment(store, segDir, nil); err != nil {
		t.Fatal(err)
	}
	meta, err := store.Load(segDir)
	if err != nil {
		t.Fatal(err)
	}
	if meta.IsCompacting() {
		t.Fatalf("recovery should collapse write_versions to {read_version}")
	}
	if meta.WriteVersions[0] != 0 {
		t.Fatalf("write_versions should be {read_version}=0, got %v", meta.WriteVersions)
	}
}

func TestSegmentTruncatesStagingWhenFlushingWithNoStagedRows(t *testing.T) {
	store, segDir := newSegment(t)
	if err := segment.AppendStagedRow(segDir, map[string]any{"_row_id": atom.IntVal(0).ToGeneric()}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Mutate(segDir, func(m *segment.Metadata) error {
		m.Flushing = true
		m.StagedN = 0
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := Segment(store, segDir, nil); err != nil {
		t.Fatal(err)
	}
	meta, err := store.Load(segDir)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Flushing {
		t.Fatalf("flushing flag should be cleared after recovery")
	}
	rows, err := segment.ReadStagedRows(segDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("staging file should be truncated, found %d rows", len(rows))
	}
}

func TestSegmentReconcilesStagedNFromStagingFile(t *testing.T) {
	store, segDir := newSegment(t)
	for i := 0; i < 3; i++ {
		if err := segment.AppendStagedRow(segDir, map[string]any{"_row_id": atom.IntVal(int64(i)).ToGeneric()}); err != nil {
			t.Fatal(err)
		}
	}
	flushCandidate, err := Segment(store, segDir, []flush.Column{{Name: "x", DType: atom.Int64}})
	if err != nil {
		t.Fatal(err)
	}
	if !flushCandidate {
		t.Fatalf("a segment with reconciled staged_n > 0 should be marked a flush candidate")
	}
	meta, err := store.Load(segDir)
	if err != nil {
		t.Fatal(err)
	}
	if meta.StagedN != 3 {
		t.Fatalf("staged_n should reconcile to 3 framed rows, got %d", meta.StagedN)
	}
	if meta.AllTimeN != 3 {
		t.Fatalf("all_time_n should also advance by the reconciled delta, got %d", meta.AllTimeN)
	}
}

func TestSegmentTrimsFlushFilesOnCrashedFlush(t *testing.T) {
	store, segDir := newSegment(t)
	cols := []flush.Column{{Name: "n", DType: atom.Int64}}

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
	if err := flush.Run(store, segDir, cols); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-flush: a second write landed in staging and
	// bumped all_time_n/staged_n, but flushing=true never got cleared
	// and the flush file never actually grew to cover it.
	if err := segment.AppendStagedRow(segDir, map[string]any{
		"n": atom.IntVal(3).ToGeneric(), "_row_id": atom.IntVal(2).ToGeneric(), "_written_at": atom.Value{}.ToGeneric(),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Mutate(segDir, func(m *segment.Metadata) error {
		m.Flushing = true
		m.StagedN = 1
		m.AllTimeN = 3
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := Segment(store, segDir, cols); err != nil {
		t.Fatal(err)
	}

	meta, err := store.Load(segDir)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Flushing {
		t.Fatalf("flushing flag should be cleared after recovery")
	}

	vdir := segment.VersionDir(segDir, meta.ReadVersion)
	data, err := segment.ReadFileOrEmpty(segment.FlushFilePath(vdir, "n"))
	if err != nil {
		t.Fatal(err)
	}
	values, _, err := rowcodec.DecodeLimited(data, 0, atom.Int64, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 2 {
		t.Fatalf("flush file for column n should be trimmed back to 2 rows (flush_only_n), got %d", len(values))
	}
}
