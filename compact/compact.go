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

// Package compact implements the compaction operator (C8, spec §4.8):
// it promotes a segment's flush files into a new, compressed version,
// merging forward the deletion bitmaps and sweeping stale version
// directories after a grace period. Grounded on the teacher's own
// background sweep in storage/cachemap.go (a ticking goroutine pruning
// a bounded structure), generalized from an in-memory cache to an
// on-disk version set.
package compact

import (
	"encoding/json"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/codec"
	"github.com/segcolumn/segstore/flush"
	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/internal/glsctx"
	"github.com/segcolumn/segstore/rowcodec"
	"github.com/segcolumn/segstore/segment"
)

// Options tunes the compaction heuristics of spec §4.8 ("minimum flush
// rows", "minimum intermission", "idle period", "grace interval").
type Options struct {
	MinRows          uint32
	MinIntermission  time.Duration
	IdlePeriod       time.Duration
	GraceInterval    time.Duration
	ConstantInterval time.Duration // SPEC_FULL §B "constant recompaction"
}

func DefaultOptions() Options {
	return Options{
		MinRows:          1000,
		MinIntermission:  30 * time.Second,
		IdlePeriod:       5 * time.Minute,
		GraceInterval:    10 * time.Minute,
		ConstantInterval: 24 * time.Hour,
	}
}

// ShouldCompact implements the skip/proceed heuristics of spec §4.8.
func ShouldCompact(m *segment.Metadata, lastCompactedN uint32, now time.Time, opts Options) bool {
	if m.IsCompacting() {
		return false
	}
	if m.AllTimeN < opts.MinRows {
		return false
	}
	if now.Sub(m.ReadVersionSince) < opts.MinIntermission {
		return false
	}
	if m.AllTimeN >= 2*lastCompactedN {
		return true
	}
	if m.AllTimeN > lastCompactedN && now.Sub(m.LastFlushAt) >= opts.IdlePeriod {
		return true
	}
	return false
}

// Run executes one compaction of segDir (spec §4.8 steps 1-6); Sweep,
// called separately, handles step 7's grace-period deletion.
func Run(store *segment.Store, segDir string, cols []flush.Column) error {
	meta, err := store.Load(segDir)
	if err != nil {
		return err
	}
	if meta.IsCompacting() {
		return dberr.Invalidf("compact: segment %s already has a compaction in progress", segDir)
	}
	oldVersion := meta.ReadVersion
	newVersion := oldVersion + 1
	oldVDir := segment.VersionDir(segDir, oldVersion)
	newVDir := segment.VersionDir(segDir, newVersion)
	if err := os.MkdirAll(newVDir, 0750); err != nil {
		return dberr.Wrap(dberr.Internal, "create new version dir", err)
	}

	if _, err := store.Mutate(segDir, func(m *segment.Metadata) error {
		if m.IsCompacting() {
			return dberr.Invalidf("compact: compaction already in progress")
		}
		m.WriteVersions = []uint64{oldVersion, newVersion}
		return nil
	}); err != nil {
		return err
	}

	oldPre, err := segment.LoadBitmap(segment.PreDeletionsPath(oldVDir))
	if err != nil {
		return err
	}
	oldPost, err := segment.LoadBitmap(segment.PostDeletionsPath(oldVDir, meta.DeletionID))
	if err != nil {
		return err
	}
	// Compaction only ever covers rows that have actually been flushed;
	// staged_n rows still sit in the staging file with no place in any
	// write_versions file yet (flush and compaction run on independent
	// loops, so staged_n > 0 at compaction time is routine, not an edge
	// case). recovery.go's flushOnlyN computation makes the same
	// subtraction.
	flushedRows := meta.AllTimeN - meta.StagedN
	survivingRows := flushedRows - oldPre.Count(flushedRows)
	newPre, omitted := segment.MergeForCompaction(oldPre, oldPost, flushedRows)
	if err := newPre.Save(store.Root(), segment.PreDeletionsPath(newVDir)); err != nil {
		return err
	}

	augmented := flush.AugmentedColumns(cols)
	colCodecs := make(map[string]string, len(augmented))
	for _, c := range augmented {
		colCodecs[c.Name] = codec.ChooseCodec(c.DType)
	}
	compactionMeta := segment.CompactionMetadata{
		AllTimeCompactedN: survivingRows,
		AllTimeOmittedN:   omitted,
		ColCodecs:         colCodecs,
	}
	cmData, err := json.MarshalIndent(compactionMeta, "", "  ")
	if err != nil {
		return dberr.Wrap(dberr.Internal, "marshal compaction metadata", err)
	}
	if err := segment.AtomicWrite(store.Root(), segment.CompactionMetadataPath(newVDir), cmData); err != nil {
		return err
	}

	g := new(errgroup.Group)
	for _, c := range augmented {
		c := c
		g.Go(func() (err error) {
			var desc string
			glsctx.With(glsctx.Values{"segment": segDir, "column": c.Name}, func() {
				desc = glsctx.Describe()
				err = compactColumn(oldVDir, newVDir, c, colCodecs[c.Name], survivingRows)
			})
			if err != nil {
				return dberr.Wrap(dberr.KindOf(err), "compact: "+desc, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if _, err := store.Mutate(segDir, func(m *segment.Metadata) error {
		m.ReadVersion = newVersion
		m.WriteVersions = []uint64{newVersion}
		m.ReadVersionSince = time.Now()
		return nil
	}); err != nil {
		return err
	}
	return nil
}

// compactColumn reads c's values out of oldVDir (its already-compacted
// rows plus any rows flushed there since, spec §4.8 step 5: "read
// values from the old version (§4.10 read pipeline)"), clips them to
// survivingRows actually-live values, compresses under the chosen
// codec, and appends to newVDir/c_<col>.
func compactColumn(oldVDir, newVDir string, c flush.Column, codecName string, survivingRows uint32) error {
	values, err := readOldVersionColumn(oldVDir, c, int(survivingRows))
	if err != nil {
		return err
	}
	cd, err := codec.Get(c.DType, codecName)
	if err != nil {
		return err
	}
	compressed, err := cd.Compress(values, c.DType, c.Depth)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(segment.CompactFilePath(newVDir, c.Name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return dberr.Wrap(dberr.Internal, "open compact file", err)
	}
	defer f.Close()
	if _, err := f.Write(compressed); err != nil {
		return dberr.Wrap(dberr.Internal, "write compact file", err)
	}
	return f.Sync()
}

// readOldVersionColumn mirrors the column read pipeline's two stages
// (store.readCompactStage, store.readFlushStage): it decodes oldVDir's
// c_<col> under the codec recorded in oldVDir's OWN compaction metadata
// (not codecName, which is the NEW version's chosen codec and may
// differ), then appends f_<col>'s rowcodec-framed rows — the ones
// flushed into oldVDir after it was last compacted, which a plain
// rowcodec.DecodeLimited over c_<col> alone would silently drop.
// Decoding c_<col> with rowcodec instead of its codec would also
// mis-decode a compressed frame as raw escaped bytes.
func readOldVersionColumn(oldVDir string, c flush.Column, limit int) ([]atom.Value, error) {
	var values []atom.Value

	oldCM, err := segment.ReadCompactionMetadata(oldVDir)
	if err != nil {
		return nil, err
	}
	if oldCM != nil {
		data, err := segment.ReadFileOrEmpty(segment.CompactFilePath(oldVDir, c.Name))
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			oldCd, err := codec.Get(c.DType, oldCM.ColCodecs[c.Name])
			if err != nil {
				return nil, err
			}
			decoded, err := oldCd.Decompress(data, c.DType, c.Depth)
			if err != nil {
				return nil, err
			}
			values = append(values, decoded...)
		}
	}

	if len(values) < limit {
		flushData, err := segment.ReadFileOrEmpty(segment.FlushFilePath(oldVDir, c.Name))
		if err != nil {
			return nil, err
		}
		if len(flushData) > 0 {
			tail, _, err := rowcodec.DecodeLimited(flushData, c.Depth, c.DType, limit-len(values))
			if err != nil {
				return nil, err
			}
			values = append(values, tail...)
		}
	}

	if len(values) > limit {
		values = values[:limit]
	}
	return values, nil
}

// Sweep removes version directories older than m.ReadVersion by at
// least opts.GraceInterval, the follow-up step of spec §4.8 item 7.
// olderVersions enumerates candidate version numbers (the caller is
// expected to list segDir's own vN subdirectories).
func Sweep(store *segment.Store, segDir string, olderVersions []uint64, now time.Time, opts Options) error {
	meta, err := store.Load(segDir)
	if err != nil {
		return err
	}
	for _, v := range olderVersions {
		if v >= meta.ReadVersion {
			continue
		}
		vdir := segment.VersionDir(segDir, v)
		info, err := os.Stat(vdir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return dberr.Wrap(dberr.Internal, "stat version dir", err)
		}
		if now.Sub(info.ModTime()) < opts.GraceInterval {
			continue
		}
		if err := os.RemoveAll(vdir); err != nil {
			return dberr.Wrap(dberr.Internal, "remove stale version dir", err)
		}
	}
	return nil
}
