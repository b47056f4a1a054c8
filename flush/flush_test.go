package flush

import (
	"testing"

	"github.com/google/uuid"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/rowcodec"
	"github.com/segcolumn/segstore/schema"
	"github.com/segcolumn/segstore/segment"
)

func newStore(t *testing.T) (*segment.Store, string) {
	t.Helper()
	root := t.TempDir()
	return segment.NewStore(root, 64), root
}

func TestRunFlushesStagedRowsIntoColumnFiles(t *testing.T) {
	store, root := newStore(t)
	segDir := segment.SegmentDir(root, "t", schema.PartitionKey{}, uuid.New())
	if _, err := store.Create(segDir); err != nil {
		t.Fatal(err)
	}

	rows := []map[string]any{
		{"name": atom.StringVal("a").ToGeneric(), "_row_id": atom.IntVal(0).ToGeneric(), "_written_at": atom.Value{}.ToGeneric()},
		{"_row_id": atom.IntVal(1).ToGeneric(), "_written_at": atom.Value{}.ToGeneric()},
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

	cols := []Column{{Name: "name", DType: atom.String}}
	if err := Run(store, segDir, cols); err != nil {
		t.Fatal(err)
	}

	meta, err := store.Load(segDir)
	if err != nil {
		t.Fatal(err)
	}
	if meta.StagedN != 0 {
		t.Fatalf("staged_n should reset to 0 after flush, got %d", meta.StagedN)
	}
	if meta.Flushing {
		t.Fatalf("flushing flag should be cleared after a successful flush")
	}
	if !meta.ExplicitColumns["name"] {
		t.Fatalf("name should be explicit after its first flush")
	}

	vdir := segment.VersionDir(segDir, 0)
	data, err := segment.ReadFileOrEmpty(segment.FlushFilePath(vdir, "name"))
	if err != nil {
		t.Fatal(err)
	}
	values, _, err := rowcodec.DecodeLimited(data, 0, atom.String, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 2 {
		t.Fatalf("expected 2 encoded values for column name, got %d", len(values))
	}
	if values[0].IsNull || values[0].String() != "a" {
		t.Fatalf("row 0's name should decode to %q, got %+v", "a", values[0])
	}
	if !values[1].IsNull {
		t.Fatalf("row 1's name should decode to null (absent field), got %+v", values[1])
	}
}

func TestRunRejectsZeroStagedRows(t *testing.T) {
	store, root := newStore(t)
	segDir := segment.SegmentDir(root, "t", schema.PartitionKey{}, uuid.New())
	if _, err := store.Create(segDir); err != nil {
		t.Fatal(err)
	}
	if err := Run(store, segDir, nil); err == nil {
		t.Fatalf("Run should fail precondition when staged_n == 0")
	}
}
