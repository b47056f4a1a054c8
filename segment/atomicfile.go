/*
Copyright (C) 2024  Carl-Philip Hänsch

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
	"errors"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/segcolumn/segstore/internal/dberr"
)

// AtomicWriteThreshold is the payload size under which a metadata write
// goes straight to the target path (create → write → close); at or
// above it, the write goes to tmp/uuid then an atomic rename (spec §4.5,
// §9 "Atomic overwrite": "pick a threshold equal to the filesystem
// block size"). 4096 matches the common default block size.
const AtomicWriteThreshold = 4096

// AtomicWrite durably writes data to targetPath, choosing the
// create-write-close path for small payloads and the tmp-then-rename
// path for large ones, mirroring the teacher's schema.json-then-
// schema.json.old backup discipline (storage/persistence-files.go)
// generalized to every metadata file in the tree.
func AtomicWrite(root, targetPath string, data []byte) error {
	if len(data) < AtomicWriteThreshold {
		return writeDirect(targetPath, data)
	}
	return writeViaTmp(root, targetPath, data)
}

func writeDirect(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return wrapFSErr(err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return wrapFSErr(err)
	}
	return nil
}

func writeViaTmp(root string, targetPath string, data []byte) error {
	tmpDir := TmpDir(root)
	if err := os.MkdirAll(tmpDir, 0750); err != nil {
		return wrapFSErr(err)
	}
	tmpPath := tmpDir + "/" + uuid.NewString()
	f, err := os.Create(tmpPath)
	if err != nil {
		return wrapFSErr(err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return wrapFSErr(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return wrapFSErr(err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return wrapFSErr(err)
	}
	return nil
}

// ReadFileOrEmpty reads path, returning (nil, nil) rather than an error
// when the file does not exist — the "filesystem NotFound for optional
// files is interpreted as empty" rule of spec §7.
func ReadFileOrEmpty(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		return b, nil
	}
	if os.IsNotExist(err) {
		return nil, nil
	}
	return nil, wrapFSErr(err)
}

func wrapFSErr(err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return dberr.Wrap(dberr.DoesNotExist, "file not found", err)
	}
	if os.IsPermission(err) {
		return dberr.Wrap(dberr.Internal, "permission denied", err)
	}
	if isTooManyOpenFiles(err) {
		return dberr.Wrap(dberr.TooManyRequests, "too many open files", err)
	}
	return dberr.Wrap(dberr.Internal, "filesystem error", err)
}

func isTooManyOpenFiles(err error) bool {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return strings.Contains(pe.Err.Error(), "too many open files")
	}
	return strings.Contains(err.Error(), "too many open files")
}
