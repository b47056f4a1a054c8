//go:build ceph

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
package persistence

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// CephConfig names the RADOS pool a ColdStore writes objects into,
// carried over from the teacher's CephFactory (storage/persistence-ceph.go).
type CephConfig struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

// CephStore is a ColdStore backed by a RADOS pool: every Put is a
// WriteFull (atomic overwrite, no append), grounded on the teacher's
// CephStorage.WriteColumn/ReadColumn pair.
type CephStore struct {
	cfg CephConfig

	mu     sync.Mutex
	conn   *rados.Conn
	ioctx  *rados.IOContext
	opened bool
}

func NewCephStore(cfg CephConfig) *CephStore { return &CephStore{cfg: cfg} }

func (s *CephStore) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	conn, err := rados.NewConnWithClusterAndUser(s.cfg.ClusterName, s.cfg.UserName)
	if err != nil {
		return fmt.Errorf("persistence: ceph connect: %w", err)
	}
	if s.cfg.ConfFile != "" {
		if err := conn.ReadConfigFile(s.cfg.ConfFile); err != nil {
			return fmt.Errorf("persistence: ceph read conf: %w", err)
		}
	} else {
		_ = conn.ReadDefaultConfigFile()
	}
	if err := conn.Connect(); err != nil {
		return fmt.Errorf("persistence: ceph connect: %w", err)
	}
	ioctx, err := conn.OpenIOContext(s.cfg.Pool)
	if err != nil {
		conn.Shutdown()
		return fmt.Errorf("persistence: ceph open pool %q: %w", s.cfg.Pool, err)
	}
	s.conn = conn
	s.ioctx = ioctx
	s.opened = true
	return nil
}

func (s *CephStore) obj(key string) string { return path.Join(s.cfg.Prefix, key) }

func (s *CephStore) Put(key string, r io.Reader) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("persistence: read upload body: %w", err)
	}
	if err := s.ioctx.WriteFull(s.obj(key), data); err != nil {
		return fmt.Errorf("persistence: ceph write %q: %w", key, err)
	}
	return nil
}

func (s *CephStore) Get(key string) (io.ReadCloser, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	obj := s.obj(key)
	stat, err := s.ioctx.Stat(obj)
	if err != nil {
		return nil, ErrNotFound
	}
	data := make([]byte, stat.Size)
	n, err := s.ioctx.Read(obj, data, 0)
	if err != nil {
		return nil, fmt.Errorf("persistence: ceph read %q: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(data[:n])), nil
}

func (s *CephStore) Remove(key string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.ioctx.Delete(s.obj(key)); err != nil {
		if err == rados.ErrNotFound {
			return nil
		}
		return fmt.Errorf("persistence: ceph delete %q: %w", key, err)
	}
	return nil
}
