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
	"testing"

	"github.com/google/uuid"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/schema"
)

func testSchema(t *testing.T) schema.Schema {
	t.Helper()
	s := schema.New()
	if err := s.AddColumns(map[string]schema.ColumnSpec{
		"x": {DType: atom.Int64},
	}); err != nil {
		t.Fatalf("AddColumns: %v", err)
	}
	return s
}

func TestCreateTableThenGetSchema(t *testing.T) {
	c := New("")
	s := testSchema(t)
	if err := c.CreateTable("events", s, false); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	got, err := c.GetSchema("events")
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	if !got.Equal(s) {
		t.Fatalf("schema mismatch after CreateTable")
	}
}

func TestCreateTableDuplicateRejectedUnlessExact(t *testing.T) {
	c := New("")
	s := testSchema(t)
	if err := c.CreateTable("events", s, false); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := c.CreateTable("events", s, false); err == nil {
		t.Fatal("expected duplicate CreateTable to fail")
	}
	if err := c.CreateTable("events", s, true); err != nil {
		t.Fatalf("CreateTable with ok_if_exact should succeed on identical schema: %v", err)
	}
}

func TestDropTableThenListTables(t *testing.T) {
	c := New("")
	s := testSchema(t)
	_ = c.CreateTable("events", s, false)
	_ = c.CreateTable("sessions", s, false)
	if err := c.DropTable("events"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	tables := c.ListTables()
	if len(tables) != 1 || tables[0] != "sessions" {
		t.Fatalf("ListTables after drop = %v, want [sessions]", tables)
	}
	dropped := c.DroppedTables()
	if len(dropped) != 1 || dropped[0] != "events" {
		t.Fatalf("DroppedTables = %v, want [events]", dropped)
	}
}

func TestAlterTableAddsColumns(t *testing.T) {
	c := New("")
	s := testSchema(t)
	_ = c.CreateTable("events", s, false)
	next, err := c.AlterTable("events", map[string]schema.ColumnSpec{
		"y": {DType: atom.String},
	})
	if err != nil {
		t.Fatalf("AlterTable: %v", err)
	}
	if _, ok := next.Columns["y"]; !ok {
		t.Fatal("AlterTable did not add new column")
	}
	got, _ := c.GetSchema("events")
	if _, ok := got.Columns["y"]; !ok {
		t.Fatal("GetSchema after AlterTable missing new column")
	}
}

func TestSegmentIndexOrdersByID(t *testing.T) {
	idx := NewSegmentIndex()
	k := schema.PartitionKey{Table: "events"}
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		idx.Put(k, SegmentInfo{ID: id, AllTimeN: 10})
	}
	listed := idx.List(k, uuid.UUID{}, 0)
	if len(listed) != 3 {
		t.Fatalf("List returned %d segments, want 3", len(listed))
	}
	for i := 1; i < len(listed); i++ {
		if !uuidLess(listed[i-1].ID, listed[i].ID) {
			t.Fatalf("List not sorted at index %d", i)
		}
	}
}

func TestSegmentIndexRemove(t *testing.T) {
	idx := NewSegmentIndex()
	k := schema.PartitionKey{Table: "events"}
	id := uuid.New()
	idx.Put(k, SegmentInfo{ID: id})
	idx.Remove(k, id)
	if listed := idx.List(k, uuid.UUID{}, 0); len(listed) != 0 {
		t.Fatalf("List after Remove = %v, want empty", listed)
	}
}

func TestSegmentIndexListRespectsLimitAndCursor(t *testing.T) {
	idx := NewSegmentIndex()
	k := schema.PartitionKey{Table: "events"}
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.New()
		idx.Put(k, SegmentInfo{ID: ids[i]})
	}
	first := idx.List(k, uuid.UUID{}, 2)
	if len(first) != 2 {
		t.Fatalf("List with limit 2 returned %d", len(first))
	}
	cursor := first[len(first)-1].ID
	// advance past cursor: the next page must start strictly after it
	var next uuid.UUID
	copy(next[:], cursor[:])
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	rest := idx.List(k, next, 0)
	if len(rest) != 3 {
		t.Fatalf("List after cursor = %d, want 3", len(rest))
	}
}
