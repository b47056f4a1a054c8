/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

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

// Package persistence offloads cold segments (is_cold, fully compacted,
// past a configured age) to object storage, freeing local disk while
// keeping the local filesystem the authoritative store for everything
// else (spec §9 Design Notes: the core's own on-disk layout never
// changes shape). Adapted from the teacher's PersistenceEngine
// abstraction (storage/persistence.go) and its two backends
// (storage/persistence-s3.go, storage/persistence-ceph.go) — generalized
// from a per-shard-column key scheme to this store's
// segment/version/column key scheme.
package persistence

import "io"

// compile-time interface checks for the two backends, kept in the
// shared file so neither build-tagged ceph.go/ceph_stub.go needs to
// repeat them.
var (
	_ ColdStore = (*S3Store)(nil)
	_ ColdStore = (*CephStore)(nil)
)

// ColdStore archives and retrieves a compacted segment version's
// column files once the segment is marked is_cold (SPEC_FULL §B cold
// storage offload). Keys are opaque strings built by the caller from a
// SegmentKey/version/column triple (mirrors the teacher's shard+column
// key convention).
type ColdStore interface {
	// Put uploads the full contents of r under key, replacing any
	// existing object (object stores have no append, spec's own note
	// on S3: "we buffer and replace objects on sync").
	Put(key string, r io.Reader) error
	// Get opens key for reading; returns an error satisfying
	// os.IsNotExist-style detection via errors.Is(err, ErrNotFound)
	// when the key has never been written.
	Get(key string) (io.ReadCloser, error)
	// Remove deletes key; a no-op if it does not exist.
	Remove(key string) error
}

// ErrNotFound is returned by Get when key has no object, mirrored
// across every backend so callers can treat a cold-store miss the same
// way they treat an absent local file (segment.ReadFileOrEmpty).
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "persistence: object not found" }

// VersionColumnKey builds the object key for one compacted column file
// (spec §6 on-disk layout, generalized to a flat key namespace):
// "<table>/<partition-path>/<segment-id>/v<version>/c_<column>".
func VersionColumnKey(table, partitionPath, segmentID string, version uint64, column string) string {
	key := table + "/"
	if partitionPath != "" {
		key += partitionPath + "/"
	}
	key += segmentID + "/"
	key += versionDirName(version) + "/c_" + column
	return key
}

func versionDirName(version uint64) string {
	// matches segment.VersionDirName; persistence keeps its own copy
	// rather than importing segment.
	buf := []byte("v")
	return string(appendUint(buf, version))
}

func appendUint(buf []byte, v uint64) []byte {
	if v == 0 {
		return append(buf, '0')
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return append(buf, digits...)
}
