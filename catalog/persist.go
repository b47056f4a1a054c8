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
	"encoding/json"
	"os"

	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/schema"
	"github.com/segcolumn/segstore/segment"
)

// persisted is table_metadata.json's on-disk shape (spec §4.11 step 1
// needs the dropped flag surviving a restart to finish an interrupted
// DropTable).
type persisted struct {
	Schema  schema.Schema `json:"schema"`
	Dropped bool          `json:"dropped"`
}

func (c *Catalog) save(e *TableEntry) error {
	if c.root == "" {
		return nil // unrooted catalog (tests): in-memory only
	}
	data, err := json.MarshalIndent(persisted{Schema: e.Schema, Dropped: e.Dropped}, "", "  ")
	if err != nil {
		return dberr.Wrap(dberr.Internal, "marshal table metadata", err)
	}
	if err := os.MkdirAll(segment.TableDir(c.root, e.Name), 0750); err != nil {
		return dberr.Wrap(dberr.Internal, "create table dir", err)
	}
	return segment.AtomicWrite(c.root, segment.TableMetadataPath(c.root, e.Name), data)
}

// Load rebuilds a Catalog from root's on-disk table_metadata.json
// files (spec §4.11: the catalog itself must survive a restart just
// like segment metadata does, the table-granularity half of recovery
// that Segment doesn't cover). Entries with no table_metadata.json are
// ignored — a table directory without one was never fully created.
func Load(root string) (*Catalog, error) {
	c := New(root)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, dberr.Wrap(dberr.Internal, "list root directory", err)
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		name := ent.Name()
		data, err := segment.ReadFileOrEmpty(segment.TableMetadataPath(root, name))
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		var p persisted
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, dberr.Corruptf("catalog: corrupt table metadata for %q: %v", name, err)
		}
		c.tables.Set(&TableEntry{Name: name, Schema: p.Schema, Dropped: p.Dropped})
	}
	return c, nil
}
