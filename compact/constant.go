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
package compact

import (
	"encoding/json"
	"time"

	"github.com/segcolumn/segstore/codec"
	"github.com/segcolumn/segstore/flush"
	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/segment"
)

// ShouldRunConstant reports whether segDir's read version has been
// stable long enough for the constant-recompaction pass
// (compact_as_constant_seconds, SPEC_FULL §B) to rewrite its already-
// compacted columns under a higher-ratio codec. Never fires while a
// compaction is in progress or the option is disabled (zero interval).
func ShouldRunConstant(m *segment.Metadata, now time.Time, opts Options) bool {
	if m.IsCompacting() || opts.ConstantInterval <= 0 {
		return false
	}
	return now.Sub(m.ReadVersionSince) >= opts.ConstantInterval
}

// RunConstant rewrites every augmented column's compact file at
// segDir's current read version under the "xz" codec, in place, and
// records the new choice in that version's compaction.json — unlike
// Run, this never advances read_version or touches write_versions,
// since it replaces bytes, not rows (SPEC_FULL §B).
func RunConstant(store *segment.Store, segDir string, cols []flush.Column) error {
	meta, err := store.Load(segDir)
	if err != nil {
		return err
	}
	if meta.IsCompacting() {
		return dberr.Invalidf("compact: segment %s is mid-compaction, cannot constant-recompact", segDir)
	}
	vdir := segment.VersionDir(segDir, meta.ReadVersion)
	cmPath := segment.CompactionMetadataPath(vdir)
	data, err := segment.ReadFileOrEmpty(cmPath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil // never compacted yet: nothing to upgrade
	}
	var cm segment.CompactionMetadata
	if err := json.Unmarshal(data, &cm); err != nil {
		return dberr.Corruptf("compact: corrupt compaction metadata at %s: %v", vdir, err)
	}

	changed := false
	for _, c := range flush.AugmentedColumns(cols) {
		if cm.ColCodecs[c.Name] == "xz" {
			continue
		}
		if err := recompressColumn(store, vdir, c, &cm); err != nil {
			return err
		}
		changed = true
	}
	if !changed {
		return nil
	}
	cmData, err := json.MarshalIndent(cm, "", "  ")
	if err != nil {
		return dberr.Wrap(dberr.Internal, "marshal compaction metadata", err)
	}
	return segment.AtomicWrite(store.Root(), cmPath, cmData)
}

func recompressColumn(store *segment.Store, vdir string, c flush.Column, cm *segment.CompactionMetadata) error {
	path := segment.CompactFilePath(vdir, c.Name)
	data, err := segment.ReadFileOrEmpty(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	oldCodecName := cm.ColCodecs[c.Name]
	oldCodec, err := codec.Get(c.DType, oldCodecName)
	if err != nil {
		return err
	}
	values, err := oldCodec.Decompress(data, c.DType, c.Depth)
	if err != nil {
		return err
	}
	xzCodec, err := codec.Get(c.DType, "xz")
	if err != nil {
		return err
	}
	compressed, err := xzCodec.Compress(values, c.DType, c.Depth)
	if err != nil {
		return err
	}
	if err := segment.AtomicWrite(store.Root(), path, compressed); err != nil {
		return err
	}
	cm.ColCodecs[c.Name] = "xz"
	return nil
}
