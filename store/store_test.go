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
	"testing"

	"github.com/google/uuid"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/rowcodec"
	"github.com/segcolumn/segstore/schema"
	"github.com/segcolumn/segstore/segment"
)

func testOptions() Options {
	o := DefaultOptions()
	o.TargetRowsPerSegment = 4
	o.PageRows = 2
	return o
}

func numSchema(t *testing.T) schema.Schema {
	t.Helper()
	s := schema.New()
	if err := s.AddColumns(map[string]schema.ColumnSpec{
		"x": {DType: atom.Int64},
	}); err != nil {
		t.Fatalf("AddColumns: %v", err)
	}
	return s
}

func partKey(table string) schema.PartitionKey {
	return schema.PartitionKey{Table: table}
}

func writeRows(t *testing.T, s *Store, table string, xs ...int64) {
	t.Helper()
	rows := make([]map[string]atom.Generic, len(xs))
	for i, x := range xs {
		rows[i] = map[string]atom.Generic{"x": {I: x}}
	}
	if err := s.WriteToPartition(table, nil, rows); err != nil {
		t.Fatalf("WriteToPartition: %v", err)
	}
}

func decodeInts(t *testing.T, data []byte) []int64 {
	t.Helper()
	values, _, err := rowcodec.DecodeLimited(data, 0, atom.Int64, len(data))
	if err != nil {
		t.Fatalf("DecodeLimited: %v", err)
	}
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = v.Int64()
	}
	return out
}

func TestCreateTableModes(t *testing.T) {
	s := New(t.TempDir(), DefaultOptions())
	sch := numSchema(t)
	if err := s.CreateTable("t", sch, FailIfExists); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateTable("t", sch, FailIfExists); err == nil {
		t.Fatalf("expected FailIfExists to reject duplicate create")
	}
	if err := s.CreateTable("t", sch, OkIfExact); err != nil {
		t.Fatalf("OkIfExact on identical schema: %v", err)
	}
	got, err := s.GetSchema("t")
	if err != nil || !got.Equal(sch) {
		t.Fatalf("GetSchema mismatch: %v %+v", err, got)
	}

	wider := numSchema(t)
	if err := wider.AddColumns(map[string]schema.ColumnSpec{"y": {DType: atom.String}}); err != nil {
		t.Fatalf("AddColumns: %v", err)
	}
	if err := s.CreateTable("t", wider, AddNewColumns); err != nil {
		t.Fatalf("AddNewColumns: %v", err)
	}
	got, err = s.GetSchema("t")
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	if _, ok := got.Columns["y"]; !ok {
		t.Fatalf("expected column y to have been added, got %+v", got.Columns)
	}

	tables := s.ListTables()
	if len(tables) != 1 || tables[0] != "t" {
		t.Fatalf("ListTables = %v", tables)
	}
}

func TestDropTableRemovesEverything(t *testing.T) {
	s := New(t.TempDir(), DefaultOptions())
	if err := s.CreateTable("t", numSchema(t), FailIfExists); err != nil {
		t.Fatalf("create: %v", err)
	}
	writeRows(t, s, "t", 1, 2, 3)

	if err := s.DropTable("t"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if _, err := s.GetSchema("t"); err == nil {
		t.Fatalf("expected GetSchema to fail after drop")
	}
	if segs, err := s.ListSegments("t", partKey("t"), uuid.UUID{}, 0); err == nil {
		t.Fatalf("expected ListSegments to fail after drop, got %v", segs)
	}
}

func TestWriteToPartitionAssignsRowIDsAndRollsSegmentsCold(t *testing.T) {
	opts := testOptions() // TargetRowsPerSegment = 4
	s := New(t.TempDir(), opts)
	if err := s.CreateTable("t", numSchema(t), FailIfExists); err != nil {
		t.Fatalf("create: %v", err)
	}

	writeRows(t, s, "t", 10, 11, 12) // 3 rows, still warm
	segs, err := s.ListSegments("t", partKey("t"), uuid.UUID{}, 0)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment after first write, got %d", len(segs))
	}
	if segs[0].IsCold {
		t.Fatalf("segment should still be warm at 3/4 rows")
	}
	firstID := segs[0].ID

	writeRows(t, s, "t", 13) // crosses the 4-row cap -> goes cold
	segs, err = s.ListSegments("t", partKey("t"), uuid.UUID{}, 0)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 1 || !segs[0].IsCold || segs[0].ID != firstID {
		t.Fatalf("expected the same segment now cold, got %+v", segs)
	}

	writeRows(t, s, "t", 14) // must open a second, fresh segment
	segs, err = s.ListSegments("t", partKey("t"), uuid.UUID{}, 0)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments after rollover, got %d: %+v", len(segs), segs)
	}
}

func TestDeleteFromSegment(t *testing.T) {
	s := New(t.TempDir(), DefaultOptions())
	if err := s.CreateTable("t", numSchema(t), FailIfExists); err != nil {
		t.Fatalf("create: %v", err)
	}
	writeRows(t, s, "t", 1, 2, 3)
	segs, err := s.ListSegments("t", partKey("t"), uuid.UUID{}, 0)
	if err != nil || len(segs) != 1 {
		t.Fatalf("ListSegments: %v %+v", err, segs)
	}
	id := segs[0].ID

	if n, err := s.DeleteFromSegment("t", partKey("t"), id, []uint32{1}); err != nil {
		t.Fatalf("DeleteFromSegment: %v", err)
	} else if n != 1 {
		t.Fatalf("expected n_deleted=1, got %d", n)
	}
	del, err := s.ReadSegmentDeletions("t", partKey("t"), id, "corr-1")
	if err != nil {
		t.Fatalf("ReadSegmentDeletions: %v", err)
	}
	if del.DeletionCount != 1 {
		t.Fatalf("expected DeletionCount=1, got %d", del.DeletionCount)
	}

	// Re-deleting the same row id is not double counted (spec §4.9 step 2).
	if n, err := s.DeleteFromSegment("t", partKey("t"), id, []uint32{1}); err != nil {
		t.Fatalf("DeleteFromSegment (repeat): %v", err)
	} else if n != 0 {
		t.Fatalf("expected n_deleted=0 for an already-deleted row, got %d", n)
	}

	if _, err := s.DeleteFromSegment("t", partKey("t"), id, []uint32{5}); err == nil {
		t.Fatalf("expected delete of out-of-range row id to fail")
	}
}

func TestFlushAndCompactThenReadColumn(t *testing.T) {
	s := New(t.TempDir(), DefaultOptions())
	if err := s.CreateTable("t", numSchema(t), FailIfExists); err != nil {
		t.Fatalf("create: %v", err)
	}
	writeRows(t, s, "t", 100, 200, 300)
	segs, err := s.ListSegments("t", partKey("t"), uuid.UUID{}, 0)
	if err != nil || len(segs) != 1 {
		t.Fatalf("ListSegments: %v %+v", err, segs)
	}
	id := segs[0].ID

	// Before any flush: everything is still staged, served by the flush
	// stage's staged-row tail re-encode (no flush/compact files exist yet).
	page, err := s.ReadSegmentColumn("t", partKey("t"), id, "x", "corr-a", nil)
	if err != nil {
		t.Fatalf("ReadSegmentColumn (pre-flush): %v", err)
	}
	if got := decodeInts(t, page.Data); len(got) != 3 || got[0] != 100 || got[2] != 300 {
		t.Fatalf("unexpected pre-flush page data: %v", got)
	}
	if page.Next != nil {
		t.Fatalf("expected no continuation for a 3-row page under PageRows=4096")
	}

	if err := s.FlushSegment("t", partKey("t"), id); err != nil {
		t.Fatalf("FlushSegment: %v", err)
	}
	page, err = s.ReadSegmentColumn("t", partKey("t"), id, "x", "corr-b", nil)
	if err != nil {
		t.Fatalf("ReadSegmentColumn (post-flush): %v", err)
	}
	if got := decodeInts(t, page.Data); len(got) != 3 || got[1] != 200 {
		t.Fatalf("unexpected post-flush page data: %v", got)
	}

	if err := s.CompactSegment("t", partKey("t"), id); err != nil {
		t.Fatalf("CompactSegment: %v", err)
	}
	page, err = s.ReadSegmentColumn("t", partKey("t"), id, "x", "corr-c", nil)
	if err != nil {
		t.Fatalf("ReadSegmentColumn (post-compact): %v", err)
	}
	if page.Codec == "" || page.Codec == "raw" {
		t.Fatalf("expected a compression codec name after compaction, got %q", page.Codec)
	}

	// A correlation id first used before the compaction stays pinned to
	// the pre-compaction read_version even after CompactSegment advances it.
	pinnedPage, err := s.ReadSegmentColumn("t", partKey("t"), id, "x", "corr-b", nil)
	if err != nil {
		t.Fatalf("ReadSegmentColumn (pinned): %v", err)
	}
	if pinnedPage.Codec != "" && pinnedPage.Codec != "raw" {
		t.Fatalf("expected corr-b to stay pinned to its original, uncompacted version, got codec %q", pinnedPage.Codec)
	}

	// Writing more rows after compaction must surface as a continuation
	// into the flush stage, since the compact file only covers the rows
	// compacted so far: the new row rides the staged-row tail instead.
	writeRows(t, s, "t", 400)
	page1, err := s.ReadSegmentColumn("t", partKey("t"), id, "x", "corr-d", nil)
	if err != nil {
		t.Fatalf("ReadSegmentColumn (post-compact page1): %v", err)
	}
	if got := decodeInts(t, page1.Data); len(got) != 3 {
		t.Fatalf("expected the 3 already-compacted values, got %v", got)
	}
	if page1.Next == nil {
		t.Fatalf("expected a continuation into the flush stage for the new staged row")
	}
	page2, err := s.ReadSegmentColumn("t", partKey("t"), id, "x", "corr-d", page1.Next)
	if err != nil {
		t.Fatalf("ReadSegmentColumn (post-compact page2): %v", err)
	}
	if got := decodeInts(t, page2.Data); len(got) != 1 || got[0] != 400 {
		t.Fatalf("expected the new staged row 400 alone, got %v", got)
	}
}

func TestReadSegmentColumnPagesAcrossFlushFile(t *testing.T) {
	opts := testOptions() // PageRows = 2
	s := New(t.TempDir(), opts)
	if err := s.CreateTable("t", numSchema(t), FailIfExists); err != nil {
		t.Fatalf("create: %v", err)
	}
	writeRows(t, s, "t", 1, 2, 3)
	segs, err := s.ListSegments("t", partKey("t"), uuid.UUID{}, 0)
	if err != nil || len(segs) != 1 {
		t.Fatalf("ListSegments: %v %+v", err, segs)
	}
	id := segs[0].ID
	if err := s.FlushSegment("t", partKey("t"), id); err != nil {
		t.Fatalf("FlushSegment: %v", err)
	}

	page1, err := s.ReadSegmentColumn("t", partKey("t"), id, "x", "corr-page", nil)
	if err != nil {
		t.Fatalf("ReadSegmentColumn page1: %v", err)
	}
	if page1.Next == nil {
		t.Fatalf("expected a continuation after the first 2-row page")
	}
	if got := decodeInts(t, page1.Data); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected page1 data: %v", got)
	}

	page2, err := s.ReadSegmentColumn("t", partKey("t"), id, "x", "corr-page", page1.Next)
	if err != nil {
		t.Fatalf("ReadSegmentColumn page2: %v", err)
	}
	if page2.Next != nil {
		t.Fatalf("expected no continuation after the trailing row")
	}
	if got := decodeInts(t, page2.Data); len(got) != 1 || got[0] != 3 {
		t.Fatalf("unexpected page2 data: %v", got)
	}
}

func TestRecoverSegmentAfterMidFlushCrash(t *testing.T) {
	s := New(t.TempDir(), DefaultOptions())
	if err := s.CreateTable("t", numSchema(t), FailIfExists); err != nil {
		t.Fatalf("create: %v", err)
	}
	writeRows(t, s, "t", 7, 8)
	segs, err := s.ListSegments("t", partKey("t"), uuid.UUID{}, 0)
	if err != nil || len(segs) != 1 {
		t.Fatalf("ListSegments: %v %+v", err, segs)
	}
	id := segs[0].ID
	segDir := segment.SegmentDir(s.root, "t", partKey("t"), id)

	// Simulate a crash mid-flush: mark flushing without ever clearing it.
	if _, err := s.seg.Mutate(segDir, func(m *segment.Metadata) error {
		m.Flushing = true
		return nil
	}); err != nil {
		t.Fatalf("inject crash state: %v", err)
	}

	flushCandidate, err := s.RecoverSegment("t", partKey("t"), id)
	if err != nil {
		t.Fatalf("RecoverSegment: %v", err)
	}
	if !flushCandidate {
		t.Fatalf("expected the recovered segment to still be a flush candidate (staged_n>0)")
	}
}
