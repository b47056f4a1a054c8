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
	"encoding/json"

	"github.com/google/uuid"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/codec"
	"github.com/segcolumn/segstore/flush"
	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/rowcodec"
	"github.com/segcolumn/segstore/schema"
	"github.com/segcolumn/segstore/segment"
)

// stage is which file a Continuation is currently reading from (spec
// §4.10: "Compact{version, offset}" / "Flush{version, offset}").
type stage int

const (
	stageCompact stage = iota
	stageFlush
)

// Continuation is the opaque-to-clients cursor of spec §4.10 (internally
// a version, a file-type tag, and an offset — here, a row-index offset
// into that file's decoded value stream rather than a raw byte offset,
// since compact files are a single codec-compressed blob with no stable
// byte-range decode boundaries; see DESIGN.md).
type Continuation struct {
	Stage   stage
	Version uint64
	Offset  int
}

func (st stage) String() string {
	if st == stageFlush {
		return "flush"
	}
	return "compact"
}

func parseStage(s string) (stage, error) {
	switch s {
	case "compact":
		return stageCompact, nil
	case "flush":
		return stageFlush, nil
	default:
		return 0, dberr.Invalidf("store: unknown continuation stage %q", s)
	}
}

// continuationWire is Continuation's JSON-friendly form, used by RPC
// clients that must carry the cursor opaquely across requests (spec
// §6 "Continuation token: opaque to clients").
type continuationWire struct {
	Stage   string `json:"stage"`
	Version uint64 `json:"version"`
	Offset  int    `json:"offset"`
}

// Token encodes c as an opaque string an RPC client can round-trip
// without inspecting.
func (c *Continuation) Token() (string, error) {
	if c == nil {
		return "", nil
	}
	b, err := json.Marshal(continuationWire{Stage: c.Stage.String(), Version: c.Version, Offset: c.Offset})
	if err != nil {
		return "", dberr.Internalf("store: encode continuation: %v", err)
	}
	return string(b), nil
}

// ParseContinuationToken decodes a token produced by Token.
func ParseContinuationToken(token string) (*Continuation, error) {
	if token == "" {
		return nil, nil
	}
	var w continuationWire
	if err := json.Unmarshal([]byte(token), &w); err != nil {
		return nil, dberr.Invalidf("store: decode continuation token: %v", err)
	}
	st, err := parseStage(w.Stage)
	if err != nil {
		return nil, err
	}
	return &Continuation{Stage: st, Version: w.Version, Offset: w.Offset}, nil
}

// ColumnPage is one response of the column read pipeline.
type ColumnPage struct {
	RowCount           uint32
	DeletionCount      uint32
	ImplicitNullsCount uint32
	Codec              string
	Data               []byte
	Next               *Continuation
}

func pinKey(segDir, correlationID string) string { return segDir + "\x00" + correlationID }

// pinnedVersion returns the read_version pinned to correlationID for
// segDir, pinning it to the segment's current read_version on first use
// (spec §4.10: "the first time a correlation id is used with a segment,
// the server pins the current read_version to it").
func (s *Store) pinnedVersion(segDir, correlationID string, current uint64) uint64 {
	s.pinMu.Lock()
	defer s.pinMu.Unlock()
	key := pinKey(segDir, correlationID)
	if v, ok := s.pins[key]; ok {
		return v
	}
	s.pins[key] = current
	return current
}

// ReadSegmentColumn serves one page of column's values from segment id
// (spec §4.10). continuation may be nil to start a fresh read under
// correlationID.
func (s *Store) ReadSegmentColumn(table string, key schema.PartitionKey, id uuid.UUID, column, correlationID string, continuation *Continuation) (*ColumnPage, error) {
	sch, err := s.cat.GetSchema(table)
	if err != nil {
		return nil, err
	}
	c, ok := sch.Columns[column]
	if !ok {
		return nil, dberr.Invalidf("store: table %q has no column %q", table, column)
	}
	fc := flush.Column{Name: column, DType: c.DType, Depth: c.NestedListDepth}

	segDir := segment.SegmentDir(s.root, table, key, id)
	meta, err := s.seg.Load(segDir)
	if err != nil {
		return nil, err
	}

	cur := continuation
	if cur == nil {
		version := s.pinnedVersion(segDir, correlationID, meta.ReadVersion)
		explicit := meta.ExplicitColumns[column]
		if explicit && version > 0 {
			cur = &Continuation{Stage: stageCompact, Version: version, Offset: 0}
		} else {
			cur = &Continuation{Stage: stageFlush, Version: version, Offset: 0}
		}
	}

	vdir := segment.VersionDir(segDir, cur.Version)
	cm, err := readCompactionMetadata(vdir)
	if err != nil {
		return nil, err
	}

	page := &ColumnPage{
		RowCount:           meta.AllTimeN - meta.AllTimeDeletedN,
		ImplicitNullsCount: implicitNullsCount(meta, column),
	}
	if cm != nil {
		page.DeletionCount = meta.AllTimeDeletedN - cm.AllTimeOmittedN
	} else {
		page.DeletionCount = meta.AllTimeDeletedN
	}

	switch cur.Stage {
	case stageCompact:
		return s.readCompactStage(segDir, vdir, fc, cur, cm, page)
	default:
		return s.readFlushStage(segDir, vdir, fc, cur, page)
	}
}

func implicitNullsCount(meta *segment.Metadata, column string) uint32 {
	if meta.ExplicitColumns[column] {
		return 0
	}
	return meta.AllTimeN - meta.StagedN
}

func readCompactionMetadata(vdir string) (*segment.CompactionMetadata, error) {
	return segment.ReadCompactionMetadata(vdir)
}

func (s *Store) readCompactStage(segDir, vdir string, fc flush.Column, cur *Continuation, cm *segment.CompactionMetadata, page *ColumnPage) (*ColumnPage, error) {
	if cm == nil {
		return s.readFlushStage(segDir, vdir, fc, &Continuation{Stage: stageFlush, Version: cur.Version, Offset: 0}, page)
	}
	codecName := cm.ColCodecs[fc.Name]
	data, err := segment.ReadFileOrEmpty(segment.CompactFilePath(vdir, fc.Name))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return s.transitionToFlush(segDir, vdir, fc, cur, page)
	}
	cd, err := codec.Get(fc.DType, codecName)
	if err != nil {
		return nil, err
	}
	values, err := cd.Decompress(data, fc.DType, fc.Depth)
	if err != nil {
		return nil, err
	}
	total := len(values)
	if cur.Offset >= total {
		return s.transitionToFlush(segDir, vdir, fc, cur, page)
	}
	end := cur.Offset + s.opts.PageRows
	if end > total {
		end = total
	}
	buf, err := encodeValues(values[cur.Offset:end], fc)
	if err != nil {
		return nil, err
	}
	page.Codec = codecName
	page.Data = buf
	if end < total {
		page.Next = &Continuation{Stage: stageCompact, Version: cur.Version, Offset: end}
		return page, nil
	}
	return s.transitionToFlush(segDir, vdir, fc, cur, page)
}

// transitionToFlush applies the short-read rule of spec §4.10: move to
// Flush{version,0} iff the flush file exists or staging is non-empty,
// else finish with no further continuation.
func (s *Store) transitionToFlush(segDir, vdir string, fc flush.Column, cur *Continuation, page *ColumnPage) (*ColumnPage, error) {
	flushData, err := segment.ReadFileOrEmpty(segment.FlushFilePath(vdir, fc.Name))
	if err != nil {
		return nil, err
	}
	stagedData, err := segment.ReadFileOrEmpty(segment.StagedRowsPath(segDir))
	if err != nil {
		return nil, err
	}
	if len(flushData) == 0 && len(stagedData) == 0 {
		page.Next = nil
		return page, nil
	}
	page.Next = &Continuation{Stage: stageFlush, Version: cur.Version, Offset: 0}
	return page, nil
}

func (s *Store) readFlushStage(segDir, vdir string, fc flush.Column, cur *Continuation, page *ColumnPage) (*ColumnPage, error) {
	data, err := segment.ReadFileOrEmpty(segment.FlushFilePath(vdir, fc.Name))
	if err != nil {
		return nil, err
	}
	offsets, err := rowcodec.RowOffsets(data, fc.Depth, fc.DType)
	if err != nil {
		return nil, err
	}
	total := len(offsets) - 1

	var buf []byte
	if cur.Offset < total {
		end := cur.Offset + s.opts.PageRows
		if end > total {
			end = total
		}
		buf = append(buf, data[offsets[cur.Offset]:offsets[end]]...)
		if end < total {
			page.Codec = "raw"
			page.Data = buf
			page.Next = &Continuation{Stage: stageFlush, Version: cur.Version, Offset: end}
			return page, nil
		}
	}

	tail, err := s.encodeStagedTail(segDir, fc)
	if err != nil {
		return nil, err
	}
	buf = append(buf, tail...)
	page.Codec = "raw"
	page.Data = buf
	page.Next = nil
	return page, nil
}

func (s *Store) encodeStagedTail(segDir string, fc flush.Column) ([]byte, error) {
	meta, err := s.seg.Load(segDir)
	if err != nil {
		return nil, err
	}
	rows, err := segment.ReadStagedRows(segDir)
	if err != nil {
		return nil, err
	}
	if len(rows) < int(meta.StagedN) {
		return nil, dberr.Corruptf("store: staged_n=%d but only %d rows are fully framed", meta.StagedN, len(rows))
	}
	rows = rows[:meta.StagedN]
	return flush.EncodeColumnValues(rows, fc)
}

// Deletions is the response to ReadSegmentDeletions (spec §6): the
// deletion bitmap for the correlation id's pinned read_version, plus
// the counters a client needs to interpret it against a column page.
type Deletions struct {
	Version       uint64
	DeletionCount uint32
	Bitmap        []byte
}

// ReadSegmentDeletions returns the pinned read_version's deletion
// bitmap for id, pinning correlationID to the current read_version on
// first use exactly like ReadSegmentColumn (spec §4.10's pinning rule
// applies to the whole segment, not per-column).
func (s *Store) ReadSegmentDeletions(table string, key schema.PartitionKey, id uuid.UUID, correlationID string) (*Deletions, error) {
	if _, err := s.cat.GetSchema(table); err != nil {
		return nil, err
	}
	segDir := segment.SegmentDir(s.root, table, key, id)
	meta, err := s.seg.Load(segDir)
	if err != nil {
		return nil, err
	}
	version := s.pinnedVersion(segDir, correlationID, meta.ReadVersion)
	vdir := segment.VersionDir(segDir, version)
	cm, err := readCompactionMetadata(vdir)
	if err != nil {
		return nil, err
	}
	pre, err := segment.LoadBitmap(segment.PreDeletionsPath(vdir))
	if err != nil {
		return nil, err
	}
	post, err := segment.LoadBitmap(segment.PostDeletionsPath(vdir, meta.DeletionID))
	if err != nil {
		return nil, err
	}
	deletionCount := meta.AllTimeDeletedN
	if cm != nil {
		deletionCount -= cm.AllTimeOmittedN
	}
	bits := make([]byte, max(len(pre.RawBits()), len(post.RawBits())))
	for i := range bits {
		var pv, qv byte
		if i < len(pre.RawBits()) {
			pv = pre.RawBits()[i]
		}
		if i < len(post.RawBits()) {
			qv = post.RawBits()[i]
		}
		bits[i] = pv | qv
	}
	return &Deletions{Version: version, DeletionCount: deletionCount, Bitmap: bits}, nil
}

func encodeValues(values []atom.Value, fc flush.Column) ([]byte, error) {
	var buf []byte
	for _, v := range values {
		var err error
		buf, err = rowcodec.EncodeRow(buf, fc.Depth, fc.DType, v)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}
