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
package segment

import (
	"encoding/json"
	"time"

	"github.com/segcolumn/segstore/internal/dberr"
)

// Metadata is the authoritative per-segment state (spec §3).
type Metadata struct {
	AllTimeN                uint32          `json:"all_time_n"`
	AllTimeDeletedN         uint32          `json:"all_time_deleted_n"`
	AllTimeUncompressedSize uint64          `json:"all_time_uncompressed_size"`
	StagedN                 uint32          `json:"staged_n"`
	ReadVersion             uint64          `json:"read_version"`
	WriteVersions           []uint64        `json:"write_versions"`
	ReadVersionSince        time.Time       `json:"read_version_since"`
	LastFlushAt             time.Time       `json:"last_flush_at"`
	Flushing                bool            `json:"flushing"`
	ExplicitColumns         map[string]bool `json:"explicit_columns"`
	DeletionID              uint64          `json:"deletion_id"`
	IsCold                  bool            `json:"is_cold"`
}

// New returns a freshly created segment's metadata: version 0, no rows,
// the two DB-injected columns already explicit (invariant 5).
func New() *Metadata {
	return &Metadata{
		WriteVersions:    []uint64{0},
		ReadVersionSince: time.Now(),
		ExplicitColumns: map[string]bool{
			"_row_id":     true,
			"_written_at": true,
		},
	}
}

// Clone deep-copies m so callers can read a snapshot outside the
// segment's lock (the "read-clone-drop" pattern of spec §5 for
// effectively-immutable metadata).
func (m *Metadata) Clone() *Metadata {
	c := *m
	c.WriteVersions = append([]uint64(nil), m.WriteVersions...)
	c.ExplicitColumns = make(map[string]bool, len(m.ExplicitColumns))
	for k, v := range m.ExplicitColumns {
		c.ExplicitColumns[k] = v
	}
	return &c
}

// IsCompacting reports whether a compaction is in progress (invariant
// 3: |write_versions| in {1, 2}; 2 means "compacting").
func (m *Metadata) IsCompacting() bool { return len(m.WriteVersions) > 1 }

// CompactingVersion returns the version being compacted to, if any.
func (m *Metadata) CompactingVersion() (uint64, bool) {
	if !m.IsCompacting() {
		return 0, false
	}
	for _, v := range m.WriteVersions {
		if v != m.ReadVersion {
			return v, true
		}
	}
	return 0, false
}

// CompactionMetadata is the per-(segment,version) record written once a
// version has been compacted (spec §4.8 step 4, §9 SUPPLEMENTED
// FEATURES item 1: codec choice is frozen at compaction time, not
// table-wide).
type CompactionMetadata struct {
	AllTimeCompactedN uint32            `json:"all_time_compacted_n"`
	AllTimeOmittedN   uint32            `json:"all_time_omitted_n"`
	ColCodecs         map[string]string `json:"col_codecs"`
}

// ReadCompactionMetadata loads versionDir's compaction.json, returning
// (nil, nil) if versionDir has never been compacted (spec §4.10: a
// version's c_<col> files, and the codec they were written under, only
// exist once compaction has run at least once).
func ReadCompactionMetadata(versionDir string) (*CompactionMetadata, error) {
	data, err := ReadFileOrEmpty(CompactionMetadataPath(versionDir))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var cm CompactionMetadata
	if err := json.Unmarshal(data, &cm); err != nil {
		return nil, dberr.Corruptf("segment: corrupt compaction metadata at %s: %v", versionDir, err)
	}
	return &cm, nil
}
