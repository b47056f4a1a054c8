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

// Package flush implements the flush operator (C7, spec §4.7): it
// drains a segment's staging file into per-(version, column) flush
// files, fanning the per-column appends out with golang.org/x/sync/errgroup
// the way the teacher fans out shard work (storage/shard.go's use of
// goroutines over a WaitGroup, here upgraded to errgroup so a single
// column failure aborts its siblings instead of being swallowed).
package flush

import (
	"encoding/json"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/internal/glsctx"
	"github.com/segcolumn/segstore/rowcodec"
	"github.com/segcolumn/segstore/schema"
	"github.com/segcolumn/segstore/segment"
)

// Column names the flush operator needs in order to encode values
// without importing a cyclic dependency on a table-level type.
type Column struct {
	Name  string
	DType atom.DType
	Depth int
}

// AugmentedColumns returns cols plus the two DB-injected columns, the
// "augmented schema" of spec §4.7 step 2.
func AugmentedColumns(cols []Column) []Column {
	out := make([]Column, 0, len(cols)+2)
	out = append(out,
		Column{Name: schema.InjectedRowID, DType: atom.Int64},
		Column{Name: schema.InjectedWrittenAt, DType: atom.Timestamp},
	)
	out = append(out, cols...)
	return out
}

// Run executes one flush of segDir (spec §4.7). store guards the
// segment metadata with a write lock for the duration of the metadata
// transitions; the column appends themselves happen outside any single
// lock since flush files are append-only and exclusive to this
// operator by construction (only one flush runs per segment at a time,
// enforced by the caller serializing flush candidates per segment).
func Run(store *segment.Store, segDir string, cols []Column) error {
	meta, err := store.Load(segDir)
	if err != nil {
		return err
	}
	if meta.StagedN == 0 {
		return dberr.Invalidf("flush: segment %s has no staged rows", segDir)
	}
	rows, err := segment.ReadStagedRows(segDir)
	if err != nil {
		return err
	}
	if len(rows) < int(meta.StagedN) {
		return dberr.Corruptf("flush: staged_n=%d but only %d rows are fully framed", meta.StagedN, len(rows))
	}
	rows = rows[:meta.StagedN]

	augmented := AugmentedColumns(cols)

	if _, err := store.Mutate(segDir, func(m *Metadata) error {
		m.Flushing = true
		return nil
	}); err != nil {
		return err
	}

	for _, v := range meta.WriteVersions {
		if err := flushVersion(segDir, v, augmented, rows, meta); err != nil {
			return err
		}
	}

	newExplicit := make(map[string]bool, len(meta.ExplicitColumns)+len(augmented))
	for k := range meta.ExplicitColumns {
		newExplicit[k] = true
	}
	for _, c := range augmented {
		newExplicit[c.Name] = true
	}

	if _, err := store.Mutate(segDir, func(m *Metadata) error {
		m.ExplicitColumns = newExplicit
		m.LastFlushAt = time.Now()
		m.StagedN = 0
		return nil
	}); err != nil {
		return err
	}

	if err := segment.TruncateStaging(segDir); err != nil {
		return err
	}

	_, err = store.Mutate(segDir, func(m *Metadata) error {
		m.Flushing = false
		return nil
	})
	return err
}

// Metadata is a local alias avoiding a segment-package name collision
// inside this file's Mutate callbacks (the segment package's own type).
type Metadata = segment.Metadata

// flushVersion appends every augmented column's encoded values for
// rows to version_dir/f_<col> (spec §4.7 step 2), asserting implicit
// nulls are consistent for columns not yet explicit (spec §4.7 step
// 2.a, checked against the Assert helper which mirrors recovery's own
// implicit-null check, spec §4.11).
func flushVersion(segDir string, version uint64, cols []Column, rows []map[string]any, meta *Metadata) error {
	vdir := segment.VersionDir(segDir, version)
	if err := os.MkdirAll(vdir, 0750); err != nil {
		return dberr.Wrap(dberr.Internal, "create version dir", err)
	}

	g := new(errgroup.Group)
	for _, c := range cols {
		c := c
		explicit := meta.ExplicitColumns[c.Name]
		g.Go(func() (err error) {
			var desc string
			glsctx.With(glsctx.Values{"segment": segDir, "column": c.Name}, func() {
				desc = glsctx.Describe()
				if !explicit {
					if aerr := AssertImplicitNulls(vdir, c, meta); aerr != nil {
						err = aerr
						return
					}
				}
				err = appendColumn(vdir, c, rows)
			})
			if err != nil {
				return dberr.Wrap(dberr.KindOf(err), "flush: "+desc, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// EncodeColumnValues encodes rows' values for column c into the raw
// rowcodec wire format (spec §4.4), without touching disk. Rows missing
// the column key encode as null, matching the JSON staging format's
// sparse encoding of absent fields. Shared by appendColumn (flush) and
// the column read pipeline's staged-row tail (spec §4.10: "append the
// encoded bytes of the current staged rows, re-encoded on the fly").
func EncodeColumnValues(rows []map[string]any, c Column) ([]byte, error) {
	var buf []byte
	for _, row := range rows {
		raw, ok := row[c.Name]
		var v atom.Value
		var err error
		if !ok || raw == nil {
			v = atom.Null()
		} else {
			g, err2 := decodeGeneric(raw)
			if err2 != nil {
				return nil, err2
			}
			v, err = atom.FromGeneric(c.DType, c.Depth, g)
			if err != nil {
				return nil, err
			}
		}
		buf, err = rowcodec.EncodeRow(buf, c.Depth, c.DType, v)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// appendColumn encodes rows' values for column c and appends them to
// f_<col> (spec §4.4 encoding, §4.7 step 2).
func appendColumn(vdir string, c Column, rows []map[string]any) error {
	buf, err := EncodeColumnValues(rows, c)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(segment.FlushFilePath(vdir, c.Name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return dberr.Wrap(dberr.Internal, "open flush file", err)
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return dberr.Wrap(dberr.Internal, "write flush file", err)
	}
	return f.Sync()
}

// decodeGeneric re-marshals a staging row's field — decoded by
// encoding/json into the usual map[string]any/[]any/float64 shapes —
// into its typed atom.Generic projection. The round trip costs an
// extra allocation per field but keeps the staging format a plain,
// inspectable JSON document (spec §4.6's wire format is left
// unspecified by the core; this is the chosen concrete shape).
func decodeGeneric(raw any) (atom.Generic, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return atom.Generic{}, dberr.Wrap(dberr.Internal, "re-marshal staged field", err)
	}
	var g atom.Generic
	if err := json.Unmarshal(buf, &g); err != nil {
		return atom.Generic{}, dberr.Corruptf("flush: staged field is not a valid atom.Generic: %v", err)
	}
	return g, nil
}

// AssertImplicitNulls fails fast (spec §4.7 step 2.a) if a flush or
// compact file already exists for a column not yet in
// explicit_columns: such a file could only have been written when the
// column *was* explicit, which would contradict explicit_columns not
// containing it.
func AssertImplicitNulls(vdir string, c Column, meta *Metadata) error {
	for _, path := range []string{segment.FlushFilePath(vdir, c.Name), segment.CompactFilePath(vdir, c.Name)} {
		data, err := segment.ReadFileOrEmpty(path)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			return dberr.Corruptf("flush: column %q has on-disk data at %s but is not explicit", c.Name, path)
		}
	}
	return nil
}
