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

// Package schema holds the table schema model (spec §3): the
// partitioning/columns mappings, the key types derived from them, name
// validation and partition value normalization. The teacher keeps a
// single ordered []column slice per table (storage/table.go); per the
// expanded spec's Open Question (a), this package standardizes on
// mapping-by-name instead.
package schema

import (
	"regexp"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/internal/dberr"
)

// Validation limits (spec §6).
const (
	MaxFieldByteSize     = 65536
	MaxNestedListDepth    = 8
	MaxNColumns           = 4096
	MaxPartitioningDepth  = 8
)

// nameRe is the name regex: alphanumeric + underscore, first character
// not an underscore for writes (spec §6).
var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_]*$`)

// ValidateName fails with Invalid unless name matches the recognized
// column/partition/table name shape.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return dberr.Invalidf("schema: invalid name %q", name)
	}
	return nil
}

// PartitionDType is the closed set of dtypes a partition field may have
// (spec §3): string, int64, bool, or a timestamp coerced to whole
// minutes.
type PartitionDType uint8

const (
	PartString PartitionDType = iota
	PartInt64
	PartBool
	PartMinuteTimestamp
)

// ColumnSpec describes one column of the `columns` mapping.
type ColumnSpec struct {
	DType           atom.DType `json:"dtype"`
	NestedListDepth int        `json:"nested_list_depth"`
}

// PartitionSpec describes one field of the `partitioning` mapping.
type PartitionSpec struct {
	DType PartitionDType `json:"dtype"`
}

// InjectedRowID and InjectedWrittenAt are the DB-injected columns every
// row acquires (spec §3): `_row_id` (monotone u32) and `_written_at`
// (ingest timestamp). They travel through the same encoding paths as
// user columns and are always members of `explicit_columns` (invariant
// 5).
const (
	InjectedRowID     = "_row_id"
	InjectedWrittenAt = "_written_at"
)

// Schema is a table schema: two name-keyed mappings (spec §9 Open
// Question (a) settles on mapping-by-name over the source's ordered
// form).
type Schema struct {
	Partitioning map[string]PartitionSpec `json:"partitioning"`
	Columns      map[string]ColumnSpec    `json:"columns"`
}

// New returns an empty schema with the two DB-injected columns already
// present, matching invariant 5 (`explicit_columns ⊇ {row_id, written_at}`).
func New() Schema {
	return Schema{
		Partitioning: map[string]PartitionSpec{},
		Columns: map[string]ColumnSpec{
			InjectedRowID:     {DType: atom.Int64},
			InjectedWrittenAt: {DType: atom.Timestamp},
		},
	}
}

// Validate checks every limit in spec §6 against this schema.
func (s Schema) Validate() error {
	if len(s.Partitioning) > MaxPartitioningDepth {
		return dberr.Invalidf("schema: %d partitioning fields exceeds MAX_PARTITIONING_DEPTH=%d", len(s.Partitioning), MaxPartitioningDepth)
	}
	if len(s.Columns) > MaxNColumns {
		return dberr.Invalidf("schema: %d columns exceeds MAX_N_COLUMNS=%d", len(s.Columns), MaxNColumns)
	}
	for name := range s.Partitioning {
		if err := ValidateName(name); err != nil {
			return err
		}
	}
	for name, c := range s.Columns {
		// the DB-injected columns are exempt from the leading-underscore rule
		if err := ValidateName(name); err != nil && name != InjectedRowID && name != InjectedWrittenAt {
			return err
		}
		if c.NestedListDepth > MaxNestedListDepth {
			return dberr.Invalidf("schema: column %q nesting depth %d exceeds MAX_NESTED_LIST_DEPTH=%d", name, c.NestedListDepth, MaxNestedListDepth)
		}
		if !c.DType.Valid() {
			return dberr.Invalidf("schema: column %q has unknown dtype", name)
		}
	}
	return nil
}

// AddColumns merges new columns into s, additive-only (SPEC_FULL
// §C item 2: AlterTable never removes or retypes an
// existing column).
func (s *Schema) AddColumns(cols map[string]ColumnSpec) error {
	merged := make(map[string]ColumnSpec, len(s.Columns)+len(cols))
	for k, v := range s.Columns {
		merged[k] = v
	}
	for name, c := range cols {
		if existing, ok := s.Columns[name]; ok {
			if existing != c {
				return dberr.Invalidf("schema: column %q already exists with a different definition", name)
			}
			continue
		}
		merged[name] = c
	}
	if len(merged) > MaxNColumns {
		return dberr.Invalidf("schema: %d columns exceeds MAX_N_COLUMNS=%d", len(merged), MaxNColumns)
	}
	s.Columns = merged
	return nil
}

// Equal reports whether s and other declare the same partitioning and
// columns, used by CreateTable's ok_if_exact mode.
func (s Schema) Equal(other Schema) bool {
	if len(s.Partitioning) != len(other.Partitioning) || len(s.Columns) != len(other.Columns) {
		return false
	}
	for k, v := range s.Partitioning {
		if ov, ok := other.Partitioning[k]; !ok || ov != v {
			return false
		}
	}
	for k, v := range s.Columns {
		if ov, ok := other.Columns[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// PartitionField is one normalized (name, value) pair of a partition
// key, ready to be joined into a sorted, deterministic path component.
type PartitionField struct {
	Name  string
	Value string // canonical string form used for both paths and ordering
}

// NormalizePartition sorts fields by name and coerces values per their
// declared dtype (spec §3: "Normalization sorts fields by name and
// coerces a timestamp partition dtype to whole minutes (fails
// otherwise)"). String values are NFC-normalized (SPEC_FULL §B) so two
// byte-distinct, canonically-equal values collide.
func NormalizePartition(spec map[string]PartitionSpec, values map[string]atom.Value) ([]PartitionField, error) {
	fields := make([]PartitionField, 0, len(values))
	for name, v := range values {
		ps, ok := spec[name]
		if !ok {
			return nil, dberr.Invalidf("schema: %q is not a declared partitioning field", name)
		}
		s, err := normalizeField(ps, v)
		if err != nil {
			return nil, err
		}
		fields = append(fields, PartitionField{Name: name, Value: s})
	}
	if len(fields) != len(spec) {
		return nil, dberr.Invalidf("schema: partition is missing fields: expected %d, got %d", len(spec), len(fields))
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

func normalizeField(ps PartitionSpec, v atom.Value) (string, error) {
	if v.IsNull || v.IsList {
		return "", dberr.Invalidf("schema: partition field value must be a scalar")
	}
	switch ps.DType {
	case PartString:
		return string(norm.NFC.Bytes([]byte(v.String()))), nil
	case PartInt64:
		return formatInt(v.Int64()), nil
	case PartBool:
		if v.Bool() {
			return "true", nil
		}
		return "false", nil
	case PartMinuteTimestamp:
		t := v.Time()
		if t.Second() != 0 || t.Nanosecond() != 0 {
			return "", dberr.Invalidf("schema: timestamp partition value %s is not aligned to a whole minute", t)
		}
		return t.UTC().Truncate(time.Minute).Format(time.RFC3339), nil
	default:
		return "", dberr.Invalidf("schema: unknown partition dtype")
	}
}

func formatInt(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	buf := make([]byte, 0, 20)
	if v == 0 {
		buf = append(buf, '0')
	}
	for v > 0 {
		buf = append([]byte{byte('0' + v%10)}, buf...)
		v /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}
