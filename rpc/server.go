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

// Package rpc is the external collaborator spec §1 calls out as
// "out of scope" for the core (the HTTP/JSON surface over store.Store).
// It exists only as a thin adapter: every handler does request
// decoding/encoding and a single call into store, never storage engine
// logic of its own. Grounded on the teacher's own HTTP layer
// (server-node-golang) which takes the same plain net/http,
// no-framework approach rather than reaching for a router package.
package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/segcolumn/segstore/atom"
	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/internal/log"
	"github.com/segcolumn/segstore/schema"
	"github.com/segcolumn/segstore/store"
)

var logger = log.For("rpc")

// Server adapts one store.Store to HTTP/JSON plus a websocket push
// channel for segment lifecycle events (SPEC_FULL §B gorilla/websocket
// wiring).
type Server struct {
	st  *store.Store
	hub *Hub
}

func NewServer(st *store.Store) *Server {
	hub := newHub()
	st.Notify(hub.broadcast)
	return &Server{st: st, hub: hub}
}

// Handler returns the full routing table for this server, to be
// wrapped by a caller-supplied http.Server (kept outside this package
// so cmd/segstored owns listener lifetime/TLS/shutdown policy).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tables", s.handleTables)
	mux.HandleFunc("/tables/", s.handleTable) // /tables/{name}[/...]
	mux.HandleFunc("/events", s.hub.serveWS)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch dberr.KindOf(err) {
	case dberr.Invalid:
		status = http.StatusBadRequest
	case dberr.DoesNotExist:
		status = http.StatusNotFound
	case dberr.TooManyRequests:
		status = http.StatusTooManyRequests
	case dberr.Internal, dberr.Corrupt:
		status = http.StatusInternalServerError
	}
	logger.Printf("error: %v", err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// spec §7: Internal/Corrupt "presents a generic message at the boundary".
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListTables, CreateTable.
func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.st.ListTables())
	case http.MethodPost:
		var req struct {
			Name   string    `json:"name"`
			Schema schemaDTO `json:"schema"`
			Mode   string    `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, dberr.Invalidf("decode request: %v", err))
			return
		}
		sch, err := req.Schema.toSchema()
		if err != nil {
			writeErr(w, err)
			return
		}
		mode, err := parseCreateMode(req.Mode)
		if err != nil {
			writeErr(w, err)
			return
		}
		if err := s.st.CreateTable(req.Name, sch, mode); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]bool{"already_exists": false})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func parseCreateMode(s string) (store.CreateMode, error) {
	switch s {
	case "", "fail_if_exists":
		return store.FailIfExists, nil
	case "ok_if_exact":
		return store.OkIfExact, nil
	case "add_new_columns":
		return store.AddNewColumns, nil
	default:
		return 0, dberr.Invalidf("rpc: unknown create mode %q", s)
	}
}

// handleTable dispatches every /tables/{name}/... path: GetSchema,
// AlterTable, DropTable, ListSegments, WriteToPartition,
// DeleteFromSegment, ReadSegmentColumn, ReadSegmentDeletions.
func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path[len("/tables/"):]
	name, rest := splitFirst(path)
	if name == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case rest == "" && r.Method == http.MethodGet:
		s.getSchema(w, name)
	case rest == "" && r.Method == http.MethodDelete:
		s.dropTable(w, name)
	case rest == "alter" && r.Method == http.MethodPost:
		s.alterTable(w, r, name)
	case rest == "segments" && r.Method == http.MethodGet:
		s.listSegments(w, r, name)
	case rest == "write" && r.Method == http.MethodPost:
		s.writeToPartition(w, r, name)
	default:
		s.dispatchSegment(w, r, name, rest)
	}
}

func (s *Server) getSchema(w http.ResponseWriter, name string) {
	sch, err := s.st.GetSchema(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromSchema(sch))
}

func (s *Server) dropTable(w http.ResponseWriter, name string) {
	if err := s.st.DropTable(name); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) alterTable(w http.ResponseWriter, r *http.Request, name string) {
	var req struct {
		NewColumns map[string]columnSpecDTO `json:"new_columns"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, dberr.Invalidf("decode request: %v", err))
		return
	}
	cols := make(map[string]schema.ColumnSpec, len(req.NewColumns))
	for n, c := range req.NewColumns {
		cols[n] = c.toSpec()
	}
	sch, err := s.st.AlterTable(name, cols)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromSchema(sch))
}

func (s *Server) listSegments(w http.ResponseWriter, r *http.Request, name string) {
	key, err := partitionKeyFromQuery(s.st, name, r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var after uuid.UUID
	if v := r.URL.Query().Get("after"); v != "" {
		after, err = uuid.Parse(v)
		if err != nil {
			writeErr(w, dberr.Invalidf("bad after id: %v", err))
			return
		}
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErr(w, dberr.Invalidf("bad limit %q", v))
			return
		}
		limit = n
	}
	segs, err := s.st.ListSegments(name, key, after, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]segmentInfoDTO, len(segs))
	for i, si := range segs {
		out[i] = segmentInfoDTO{ID: si.ID.String()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeToPartition(w http.ResponseWriter, r *http.Request, name string) {
	var req struct {
		Partition map[string]atom.Generic   `json:"partition"`
		Rows      []map[string]atom.Generic `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, dberr.Invalidf("decode request: %v", err))
		return
	}
	sch, err := s.st.GetSchema(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	values := make(map[string]atom.Value, len(req.Partition))
	for fname, g := range req.Partition {
		ps, ok := sch.Partitioning[fname]
		if !ok {
			writeErr(w, dberr.Invalidf("rpc: %q is not a declared partitioning field", fname))
			return
		}
		v, err := atom.FromGeneric(partitionAtomType(ps.DType), 0, g)
		if err != nil {
			writeErr(w, err)
			return
		}
		values[fname] = v
	}
	if err := s.st.WriteToPartition(name, values, req.Rows); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": len(req.Rows)})
}

func partitionAtomType(d schema.PartitionDType) atom.DType {
	switch d {
	case schema.PartString:
		return atom.String
	case schema.PartInt64:
		return atom.Int64
	case schema.PartBool:
		return atom.Bool
	case schema.PartMinuteTimestamp:
		return atom.Timestamp
	default:
		return atom.Int64
	}
}

func partitionKeyFromQuery(st *store.Store, table string, r *http.Request) (schema.PartitionKey, error) {
	p := r.URL.Query().Get("partition")
	return schema.ParsePartitionPath(table, p), nil
}

// dispatchSegment handles /tables/{table}/segments/{id}/... :
// DeleteFromSegment, ReadSegmentColumn, ReadSegmentDeletions.
func (s *Server) dispatchSegment(w http.ResponseWriter, r *http.Request, table, rest string) {
	const prefix = "segments/"
	if len(rest) <= len(prefix) || rest[:len(prefix)] != prefix {
		http.NotFound(w, r)
		return
	}
	idAndRest := rest[len(prefix):]
	idStr, action := splitFirst(idAndRest)
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeErr(w, dberr.Invalidf("bad segment id %q: %v", idStr, err))
		return
	}
	key := schema.ParsePartitionPath(table, r.URL.Query().Get("partition"))

	switch {
	case action == "delete" && r.Method == http.MethodPost:
		s.deleteFromSegment(w, r, table, key, id)
	case action == "deletions" && r.Method == http.MethodGet:
		s.readSegmentDeletions(w, r, table, key, id)
	default:
		column, readAction := splitFirst(action)
		if readAction == "read" && r.Method == http.MethodGet {
			s.readSegmentColumn(w, r, table, key, id, column)
			return
		}
		http.NotFound(w, r)
	}
}

func (s *Server) deleteFromSegment(w http.ResponseWriter, r *http.Request, table string, key schema.PartitionKey, id uuid.UUID) {
	var req struct {
		RowIDs []uint32 `json:"row_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, dberr.Invalidf("decode request: %v", err))
		return
	}
	n, err := s.st.DeleteFromSegment(table, key, id, req.RowIDs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"n_deleted": n})
}

func (s *Server) readSegmentDeletions(w http.ResponseWriter, r *http.Request, table string, key schema.PartitionKey, id uuid.UUID) {
	correlationID := r.URL.Query().Get("correlation_id")
	d, err := s.st.ReadSegmentDeletions(table, key, id, correlationID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        d.Version,
		"deletion_count": d.DeletionCount,
		"bitmap":         d.Bitmap,
	})
}

func (s *Server) readSegmentColumn(w http.ResponseWriter, r *http.Request, table string, key schema.PartitionKey, id uuid.UUID, column string) {
	correlationID := r.URL.Query().Get("correlation_id")
	cur, err := store.ParseContinuationToken(r.URL.Query().Get("continuation"))
	if err != nil {
		writeErr(w, err)
		return
	}
	page, err := s.st.ReadSegmentColumn(table, key, id, column, correlationID, cur)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromColumnPage(page))
}

func splitFirst(path string) (head, rest string) {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}
