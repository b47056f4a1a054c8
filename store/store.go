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

// Package store wires catalog, segment, flush, compact, deletion and
// recovery into the RPC surface of spec §6: CreateTable, AlterTable,
// DropTable, GetSchema, ListTables, ListSegments, WriteToPartition,
// DeleteFromSegment, ReadSegmentColumn, ReadSegmentDeletions. Grounded
// on the teacher's storage/database.go (the single object a server
// binary holds and calls into for every request).
package store

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/catalog"
	"github.com/segcolumn/segstore/compact"
	"github.com/segcolumn/segstore/flush"
	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/recovery"
	"github.com/segcolumn/segstore/schema"
	"github.com/segcolumn/segstore/segment"
)

// CreateMode is CreateTable's collision policy (spec §6:
// `mode∈{fail_if_exists, ok_if_exact, add_new_columns}`).
type CreateMode int

const (
	FailIfExists CreateMode = iota
	OkIfExact
	AddNewColumns
)

// Options tunes segment sizing and the compaction heuristics every
// write and background sweep consult (spec §6 "Configuration").
type Options struct {
	TargetRowsPerSegment              uint32
	TargetUncompressedBytesPerSegment uint64
	Compact                           compact.Options
	PageRows                          int
	PerBucketCap                      int
}

func DefaultOptions() Options {
	return Options{
		TargetRowsPerSegment:              1 << 20,
		TargetUncompressedBytesPerSegment: 1 << 30,
		Compact:                           compact.DefaultOptions(),
		PageRows:                          4096,
		PerBucketCap:                      4096,
	}
}

// Store is the process-wide entry point: one Catalog, one segment
// index, one segment.Store, and the small amount of extra state
// (active-segment pointers, correlation pins) the RPC surface needs
// that none of the lower packages own on their own.
type Store struct {
	root  string
	opts  Options
	cat   *catalog.Catalog
	index *catalog.SegmentIndex
	seg   *segment.Store

	activeMu sync.Mutex
	active   map[string]uuid.UUID // partitionMapKey -> current write segment

	pinMu sync.Mutex
	pins  map[string]uint64 // segDir+"\x00"+correlationID -> pinned read_version

	notifyMu  sync.Mutex
	notifiers []Notifier
}

func New(root string, opts Options) *Store {
	return &Store{
		root:   root,
		opts:   opts,
		cat:    catalog.New(root),
		index:  catalog.NewSegmentIndex(),
		seg:    segment.NewStore(root, opts.PerBucketCap),
		active: make(map[string]uuid.UUID),
		pins:   make(map[string]uint64),
	}
}

// Catalog exposes the underlying table catalog for recovery/admin code
// that needs it directly (e.g. the dropped-table sweep of spec §4.11
// step 1, which operates above segment granularity).
func (s *Store) Catalog() *catalog.Catalog { return s.cat }

// SegmentStore exposes the underlying segment metadata store for
// recovery/background code that walks segments directly.
func (s *Store) SegmentStore() *segment.Store { return s.seg }

// CreateTable registers name under mode's collision policy.
func (s *Store) CreateTable(name string, sch schema.Schema, mode CreateMode) error {
	switch mode {
	case FailIfExists:
		return s.cat.CreateTable(name, sch, false)
	case OkIfExact:
		return s.cat.CreateTable(name, sch, true)
	case AddNewColumns:
		if err := s.cat.CreateTable(name, sch, true); err == nil {
			return nil
		}
		_, err := s.cat.AlterTable(name, sch.Columns)
		return err
	default:
		return dberr.Invalidf("store: unknown CreateTable mode %d", mode)
	}
}

func (s *Store) AlterTable(name string, cols map[string]schema.ColumnSpec) (schema.Schema, error) {
	return s.cat.AlterTable(name, cols)
}

func (s *Store) DropTable(name string) error {
	if err := s.cat.DropTable(name); err != nil {
		return err
	}
	if err := os.RemoveAll(segment.TableDir(s.root, name)); err != nil {
		return err
	}
	s.index.DropTable(name)
	s.activeMu.Lock()
	prefix := name + "\x00"
	for k := range s.active {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.active, k)
		}
	}
	s.activeMu.Unlock()
	s.cat.Forget(name)
	return nil
}

func (s *Store) GetSchema(name string) (schema.Schema, error) { return s.cat.GetSchema(name) }
func (s *Store) ListTables() []string                         { return s.cat.ListTables() }

// ListSegments returns up to limit segments of table's partition,
// ordered by id, after the given continuation cursor (spec §6
// `ListSegments(table, partition_filter, include_metadata)`: the
// metadata-inclusion flag is the caller's concern — they hold a
// *segment.Store and can Load() any id this returns).
func (s *Store) ListSegments(table string, key schema.PartitionKey, after uuid.UUID, limit int) ([]catalog.SegmentInfo, error) {
	if _, err := s.cat.GetSchema(table); err != nil {
		return nil, err
	}
	return s.index.List(key, after, limit), nil
}

// Partitions lists every partition path currently holding segments for
// table.
func (s *Store) Partitions(table string) []string { return s.index.Partitions(table) }

// PartitionKeys lists every partition of table as a full
// schema.PartitionKey, for callers (the background sweep below) that
// need to re-enter ListSegments/segment.SegmentDir rather than just
// display the path.
func (s *Store) PartitionKeys(table string) []schema.PartitionKey { return s.index.PartitionKeys(table) }

// columnsFor returns table's user columns (excluding the two
// DB-injected ones, which flush.AugmentedColumns adds back) as the
// flush.Column shape the lower packages operate on.
func columnsFor(sch schema.Schema) []flush.Column {
	out := make([]flush.Column, 0, len(sch.Columns))
	for name, c := range sch.Columns {
		if name == schema.InjectedRowID || name == schema.InjectedWrittenAt {
			continue
		}
		out = append(out, flush.Column{Name: name, DType: c.DType, Depth: c.NestedListDepth})
	}
	return out
}

func partitionIndexKey(k schema.PartitionKey) string { return k.Table + "\x00" + k.Path() }

// activeSegment returns the segment directory currently accepting
// writes for key, creating one if none exists yet or the current one
// has gone cold (spec §3 Lifecycle: "accumulates rows until is_cold,
// then becomes read-only while its replacement takes further writes").
func (s *Store) activeSegment(table string, key schema.PartitionKey) (string, uuid.UUID, error) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	pKey := partitionIndexKey(key)
	if id, ok := s.active[pKey]; ok {
		segDir := segment.SegmentDir(s.root, table, key, id)
		m, err := s.seg.Load(segDir)
		if err != nil {
			return "", uuid.UUID{}, err
		}
		if !m.IsCold {
			return segDir, id, nil
		}
	}

	id := uuid.New()
	segDir := segment.SegmentDir(s.root, table, key, id)
	if _, err := s.seg.Create(segDir); err != nil {
		return "", uuid.UUID{}, err
	}
	s.active[pKey] = id
	s.index.Put(key, catalog.SegmentInfo{ID: id})
	s.emit(Event{Kind: EventSegmentCreated, Table: table, Key: key, ID: id})
	return segDir, id, nil
}

// WriteToPartition appends rows to table's active segment for key,
// assigning each row its `_row_id`/`_written_at` injected columns and
// rolling the segment to cold once it crosses the configured size caps
// (spec §3's segment lifecycle). Row-id assignment and the staging
// append both happen inside the single segment.Store.Mutate call that
// bumps staged_n/all_time_n, so two concurrent writers to the same
// segment can never assign the same row id.
func (s *Store) WriteToPartition(table string, values map[string]atom.Value, rows []map[string]atom.Generic) error {
	sch, err := s.cat.GetSchema(table)
	if err != nil {
		return err
	}
	key, err := schema.NormalizePartition(sch.Partitioning, values)
	if err != nil {
		return err
	}
	pk := schema.PartitionKey{Table: table, Partition: key}
	segDir, id, err := s.activeSegment(table, pk)
	if err != nil {
		return err
	}

	now := time.Now()
	var approxBytes uint64
	m, err := s.seg.Mutate(segDir, func(mm *segment.Metadata) error {
		for i, row := range rows {
			rowID := int64(mm.AllTimeN) + int64(i)
			full := make(map[string]any, len(row)+2)
			for k, v := range row {
				full[k] = v
				approxBytes += uint64(approxGenericSize(v))
			}
			full[schema.InjectedRowID] = atom.Generic{I: rowID}
			full[schema.InjectedWrittenAt] = atom.Generic{I: now.UnixNano()}
			if err := segment.AppendStagedRow(segDir, full); err != nil {
				return err
			}
		}
		mm.StagedN += uint32(len(rows))
		mm.AllTimeN += uint32(len(rows))
		mm.AllTimeUncompressedSize += approxBytes
		if mm.AllTimeN >= s.opts.TargetRowsPerSegment || mm.AllTimeUncompressedSize >= s.opts.TargetUncompressedBytesPerSegment {
			mm.IsCold = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.index.Put(pk, catalog.SegmentInfo{ID: id, IsCold: m.IsCold, AllTimeN: m.AllTimeN})
	if m.IsCold {
		s.emit(Event{Kind: EventSegmentCold, Table: table, Key: pk, ID: id})
	}
	return nil
}

func approxGenericSize(g atom.Generic) int {
	n := len(g.Str) + len(g.Bytes) + 1
	for _, item := range g.List {
		n += approxGenericSize(item)
	}
	return n
}

// DeleteFromSegment tombstones rowIDs in one segment (spec §4.9),
// returning the number newly deleted (rows already tombstoned are not
// double counted, spec §8 scenario 5: "n_deleted=2").
func (s *Store) DeleteFromSegment(table string, key schema.PartitionKey, id uuid.UUID, rowIDs []uint32) (uint32, error) {
	segDir := segment.SegmentDir(s.root, table, key, id)
	_, n, err := segment.DeleteRows(s.seg, segDir, rowIDs)
	return n, err
}

// FlushSegment runs the flush operator for one segment (spec §4.7).
func (s *Store) FlushSegment(table string, key schema.PartitionKey, id uuid.UUID) error {
	sch, err := s.cat.GetSchema(table)
	if err != nil {
		return err
	}
	segDir := segment.SegmentDir(s.root, table, key, id)
	if err := flush.Run(s.seg, segDir, columnsFor(sch)); err != nil {
		return err
	}
	s.emit(Event{Kind: EventSegmentFlushed, Table: table, Key: key, ID: id})
	return nil
}

// CompactSegment runs the compaction operator for one segment (spec
// §4.8 steps 1-6).
func (s *Store) CompactSegment(table string, key schema.PartitionKey, id uuid.UUID) error {
	sch, err := s.cat.GetSchema(table)
	if err != nil {
		return err
	}
	segDir := segment.SegmentDir(s.root, table, key, id)
	if err := compact.Run(s.seg, segDir, columnsFor(sch)); err != nil {
		return err
	}
	s.emit(Event{Kind: EventSegmentCompact, Table: table, Key: key, ID: id})
	return nil
}

// RecoverSegment runs the idempotent startup resume protocol for one
// segment (spec §4.11 steps 2-5) and records it in the segment index.
func (s *Store) RecoverSegment(table string, key schema.PartitionKey, id uuid.UUID) (flushCandidate bool, err error) {
	sch, err := s.cat.GetSchema(table)
	if err != nil {
		return false, err
	}
	segDir := segment.SegmentDir(s.root, table, key, id)
	flushCandidate, err = recovery.Segment(s.seg, segDir, columnsFor(sch))
	if err != nil {
		return false, err
	}
	m, err := s.seg.Load(segDir)
	if err != nil {
		return false, err
	}
	s.index.Put(key, catalog.SegmentInfo{ID: id, IsCold: m.IsCold, AllTimeN: m.AllTimeN})
	if !m.IsCold {
		s.activeMu.Lock()
		s.active[partitionIndexKey(key)] = id
		s.activeMu.Unlock()
	}
	return flushCandidate, nil
}
