/*
Copyright (C) 2025-2026  MemCP Contributors

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
package rpc

import (
	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/schema"
	"github.com/segcolumn/segstore/store"
)

// columnSpecDTO is schema.ColumnSpec with the dtype spelled as its
// name ("int64", "string", ...) instead of a bare integer, so a human
// editing a CreateTable request body doesn't need the enum values.
type columnSpecDTO struct {
	DType           string `json:"dtype"`
	NestedListDepth int    `json:"nested_list_depth"`
}

func (c columnSpecDTO) toSpec() schema.ColumnSpec {
	d, _ := atom.ParseDType(c.DType)
	return schema.ColumnSpec{DType: d, NestedListDepth: c.NestedListDepth}
}

func fromColumnSpec(c schema.ColumnSpec) columnSpecDTO {
	return columnSpecDTO{DType: c.DType.String(), NestedListDepth: c.NestedListDepth}
}

type partitionSpecDTO struct {
	DType string `json:"dtype"`
}

var partitionDTypeNames = map[schema.PartitionDType]string{
	schema.PartString:          "string",
	schema.PartInt64:           "int64",
	schema.PartBool:            "bool",
	schema.PartMinuteTimestamp: "minute-timestamp",
}

func partitionDTypeByName(name string) (schema.PartitionDType, error) {
	for d, n := range partitionDTypeNames {
		if n == name {
			return d, nil
		}
	}
	return 0, dberr.Invalidf("rpc: unknown partition dtype %q", name)
}

func (p partitionSpecDTO) toSpec() (schema.PartitionSpec, error) {
	d, err := partitionDTypeByName(p.DType)
	if err != nil {
		return schema.PartitionSpec{}, err
	}
	return schema.PartitionSpec{DType: d}, nil
}

func fromPartitionSpec(p schema.PartitionSpec) partitionSpecDTO {
	return partitionSpecDTO{DType: partitionDTypeNames[p.DType]}
}

// schemaDTO is schema.Schema with human-readable dtype names, the JSON
// shape of spec §6's CreateTable/GetSchema payloads.
type schemaDTO struct {
	Partitioning map[string]partitionSpecDTO `json:"partitioning"`
	Columns      map[string]columnSpecDTO    `json:"columns"`
}

func (d schemaDTO) toSchema() (schema.Schema, error) {
	sch := schema.New()
	for name, p := range d.Partitioning {
		ps, err := p.toSpec()
		if err != nil {
			return schema.Schema{}, err
		}
		sch.Partitioning[name] = ps
	}
	for name, c := range d.Columns {
		sch.Columns[name] = c.toSpec()
	}
	if err := sch.Validate(); err != nil {
		return schema.Schema{}, err
	}
	return sch, nil
}

func fromSchema(sch schema.Schema) schemaDTO {
	out := schemaDTO{
		Partitioning: make(map[string]partitionSpecDTO, len(sch.Partitioning)),
		Columns:      make(map[string]columnSpecDTO, len(sch.Columns)),
	}
	for name, p := range sch.Partitioning {
		out.Partitioning[name] = fromPartitionSpec(p)
	}
	for name, c := range sch.Columns {
		out.Columns[name] = fromColumnSpec(c)
	}
	return out
}

type segmentInfoDTO struct {
	ID string `json:"id"`
}

type columnPageDTO struct {
	RowCount           uint32 `json:"row_count"`
	DeletionCount      uint32 `json:"deletion_count"`
	ImplicitNullsCount uint32 `json:"implicit_nulls_count"`
	Codec              string `json:"codec"`
	Data               []byte `json:"data"`
	Next               string `json:"next,omitempty"`
}

func fromColumnPage(p *store.ColumnPage) columnPageDTO {
	out := columnPageDTO{
		RowCount:           p.RowCount,
		DeletionCount:      p.DeletionCount,
		ImplicitNullsCount: p.ImplicitNullsCount,
		Codec:              p.Codec,
		Data:               p.Data,
	}
	if tok, err := p.Next.Token(); err == nil {
		out.Next = tok
	}
	return out
}
