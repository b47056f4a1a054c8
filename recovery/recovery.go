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

// Package recovery implements the idempotent startup resume protocol
// (C11, spec §4.11): it must run to completion, for every segment,
// before the RPC surface becomes reachable. Grounded on the teacher's
// own startup load path (storage/persistence-files.go's LoadJSON /
// database.go's startup scan), generalized from "load everything" to
// "load, then repair".
package recovery

import (
	"encoding/json"
	"os"

	"github.com/segcolumn/segstore/flush"
	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/rowcodec"
	"github.com/segcolumn/segstore/segment"
)

// Segment recovers one segment directory in place (spec §4.11 steps
// 2-5); dropped-table cleanup (step 1) is the caller's responsibility
// since it operates above segment granularity. Returns true if the
// segment should be queued as a flush candidate afterward.
func Segment(store *segment.Store, segDir string, cols []flush.Column) (flushCandidate bool, err error) {
	meta, err := store.Load(segDir)
	if err != nil {
		return false, err
	}

	if meta.IsCompacting() {
		if err := purgeNonReadVersions(store.Root(), segDir, meta); err != nil {
			return false, err
		}
		meta, err = store.Mutate(segDir, func(m *segment.Metadata) error {
			m.WriteVersions = []uint64{m.ReadVersion}
			return nil
		})
		if err != nil {
			return false, err
		}
	}

	if meta.Flushing {
		if meta.StagedN == 0 {
			if err := segment.TruncateStaging(segDir); err != nil {
				return false, err
			}
		} else {
			if err := trimFlushFiles(store.Root(), segDir, meta, cols); err != nil {
				return false, err
			}
		}
		meta, err = store.Mutate(segDir, func(m *segment.Metadata) error {
			m.Flushing = false
			return nil
		})
		if err != nil {
			return false, err
		}
	}

	framed, err := segment.CountFramedStagedRows(segDir)
	if err != nil {
		return false, err
	}
	if uint32(framed) > meta.StagedN {
		delta := uint32(framed) - meta.StagedN
		meta, err = store.Mutate(segDir, func(m *segment.Metadata) error {
			m.StagedN = uint32(framed)
			m.AllTimeN += delta
			return nil
		})
		if err != nil {
			return false, err
		}
	}

	return meta.StagedN > 0, nil
}

// purgeNonReadVersions removes every version directory other than
// read_version (spec §4.11 step 2): a crash mid-compaction leaves the
// new, not-yet-promoted version directory in an indeterminate state,
// which is always safe to discard since read_version was never
// advanced to it.
func purgeNonReadVersions(root, segDir string, meta *segment.Metadata) error {
	for _, v := range meta.WriteVersions {
		if v == meta.ReadVersion {
			continue
		}
		if err := os.RemoveAll(segment.VersionDir(segDir, v)); err != nil {
			return dberr.Wrap(dberr.Internal, "purge stale compaction version dir", err)
		}
	}
	return nil
}

// trimFlushFiles truncates every augmented column's flush file to the
// byte offset of row flush_only_n = all_time_n - staged_n -
// compaction.all_time_compacted_n (spec §4.11 step 3), using
// rowcodec.RowOffsets to translate a row count into a byte boundary.
// Missing flush files are treated as empty, matching ReadFileOrEmpty.
func trimFlushFiles(root, segDir string, meta *segment.Metadata, cols []flush.Column) error {
	compactedN, err := readAllTimeCompactedN(segDir, meta.ReadVersion)
	if err != nil {
		return err
	}
	if meta.AllTimeN < meta.StagedN+compactedN {
		return dberr.Corruptf("recovery: all_time_n=%d underflows staged_n=%d + compacted_n=%d", meta.AllTimeN, meta.StagedN, compactedN)
	}
	flushOnlyN := meta.AllTimeN - meta.StagedN - compactedN

	vdir := segment.VersionDir(segDir, meta.ReadVersion)
	for _, c := range flush.AugmentedColumns(cols) {
		if !meta.ExplicitColumns[c.Name] {
			continue
		}
		path := segment.FlushFilePath(vdir, c.Name)
		data, err := segment.ReadFileOrEmpty(path)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		offsets, err := rowcodec.RowOffsets(data, c.Depth, c.DType)
		if err != nil {
			return err
		}
		if int(flushOnlyN) >= len(offsets) {
			continue // already consistent, no trim needed
		}
		trimmed := data[:offsets[flushOnlyN]]
		if err := truncateFile(path, trimmed); err != nil {
			return err
		}
	}
	return nil
}

func truncateFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return dberr.Wrap(dberr.Internal, "truncate flush file for recovery", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return dberr.Wrap(dberr.Internal, "rewrite trimmed flush file", err)
	}
	return f.Sync()
}

func readAllTimeCompactedN(segDir string, readVersion uint64) (uint32, error) {
	vdir := segment.VersionDir(segDir, readVersion)
	data, err := segment.ReadFileOrEmpty(segment.CompactionMetadataPath(vdir))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	var cm segment.CompactionMetadata
	if err := json.Unmarshal(data, &cm); err != nil {
		return 0, dberr.Corruptf("recovery: corrupt compaction metadata at %s: %v", vdir, err)
	}
	return cm.AllTimeCompactedN, nil
}
