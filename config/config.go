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

// Package config loads and live-watches the server's recognized options
// (spec §6 "Configuration"): a flat JSON document read at startup and
// re-read on every write, grounded on the teacher's own SettingsT
// (storage/settings.go) but replacing its scm-backed live-set protocol
// with an fsnotify watch, since this core has no embedded scripting
// language to push updates through.
package config

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"

	"github.com/segcolumn/segstore/compact"
	"github.com/segcolumn/segstore/internal/dberr"
	"github.com/segcolumn/segstore/internal/log"
	"github.com/segcolumn/segstore/persistence"
	"github.com/segcolumn/segstore/store"
)

var logger = log.For("config")

// raw is the on-disk JSON shape: byte sizes are accepted as
// human-readable strings (`"1GiB"`) via go-units, while durations are
// whole seconds in the uint32 `*_seconds` fields, in the same tolerant-input spirit as the teacher's own ChangeSettings,
// which took loosely-typed scm.Scmer values rather than a strict schema.
type raw struct {
	Dir                               string     `json:"dir"`
	TargetRowsPerSegment              uint32     `json:"target_rows_per_segment"`
	TargetUncompressedBytesPerSegment string     `json:"target_uncompressed_bytes_per_segment"`
	MinRowsForCompaction              uint32     `json:"min_rows_for_compaction"`
	CompactionLoopSeconds             uint32     `json:"compaction_loop_seconds"`
	DeleteStaleCompactionSeconds      uint32     `json:"delete_stale_compaction_seconds"`
	MinCompactionIntermissionSeconds  uint32     `json:"min_compaction_intermission_seconds"`
	CompactAsConstantSeconds          uint32     `json:"compact_as_constant_seconds"`
	ReadPageByteSize                  string     `json:"read_page_byte_size"`
	CloudOpts                         *CloudOpts `json:"cloud_opts"`
}

// CloudOpts selects cold-segment storage: local filesystem (the zero
// value, and the only backend the core requires per spec §6) or one of
// the object-store backends persistence already implements.
type CloudOpts struct {
	Backend string `json:"backend"` // "", "s3", or "ceph"
	Bucket  string `json:"bucket"`
	Region  string `json:"region"`
	Pool    string `json:"pool"` // ceph only
}

// Config is the parsed, typed form of raw, with byte sizes resolved to
// plain integers and durations to time.Duration.
type Config struct {
	Dir                         string
	StoreOptions                store.Options
	CompactionLoopInterval      time.Duration
	DeleteStaleCompactionAfter  time.Duration
	ReadPageByteSize            uint64
	Cloud                       *CloudOpts
}

// Parse decodes data (the JSON document of spec §6's recognized
// options) into a Config, resolving `go-units`-style byte sizes.
func Parse(data []byte) (*Config, error) {
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, dberr.Wrap(dberr.Invalid, "parse config", err)
	}
	if r.Dir == "" {
		return nil, dberr.Invalidf("config: \"dir\" is required")
	}

	targetBytes, err := parseSizeOrDefault(r.TargetUncompressedBytesPerSegment, 1<<30)
	if err != nil {
		return nil, err
	}
	pageBytes, err := parseSizeOrDefault(r.ReadPageByteSize, 4<<20)
	if err != nil {
		return nil, err
	}

	opts := store.DefaultOptions()
	if r.TargetRowsPerSegment > 0 {
		opts.TargetRowsPerSegment = r.TargetRowsPerSegment
	}
	opts.TargetUncompressedBytesPerSegment = targetBytes
	if r.MinRowsForCompaction > 0 {
		opts.Compact.MinRows = r.MinRowsForCompaction
	}
	if r.MinCompactionIntermissionSeconds > 0 {
		opts.Compact.MinIntermission = time.Duration(r.MinCompactionIntermissionSeconds) * time.Second
	}
	if r.CompactAsConstantSeconds > 0 {
		opts.Compact.ConstantInterval = time.Duration(r.CompactAsConstantSeconds) * time.Second
	}

	return &Config{
		Dir:                        r.Dir,
		StoreOptions:               opts,
		CompactionLoopInterval:     secondsOrDefault(r.CompactionLoopSeconds, 30*time.Second),
		DeleteStaleCompactionAfter: secondsOrDefault(r.DeleteStaleCompactionSeconds, compact.DefaultOptions().GraceInterval),
		ReadPageByteSize:           pageBytes,
		Cloud:                      r.CloudOpts,
	}, nil
}

func parseSizeOrDefault(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	n, err := units.FromHumanSize(s)
	if err != nil {
		return 0, dberr.Invalidf("config: invalid byte size %q: %v", s, err)
	}
	if n < 0 {
		return 0, dberr.Invalidf("config: byte size %q must not be negative", s)
	}
	return uint64(n), nil
}

func secondsOrDefault(n uint32, def time.Duration) time.Duration {
	if n == 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// ColdStore builds the persistence backend c.Cloud selects, or nil when
// unset — the core's own on-disk layout stays authoritative forever and
// cold segments are simply never archived off local disk (spec §6:
// "only local is required for the core").
func (c *Config) ColdStore() (persistence.ColdStore, error) {
	if c.Cloud == nil || c.Cloud.Backend == "" {
		return nil, nil
	}
	switch c.Cloud.Backend {
	case "s3":
		return persistence.NewS3Store(persistence.S3Config{Bucket: c.Cloud.Bucket, Region: c.Cloud.Region}), nil
	case "ceph":
		return persistence.NewCephStore(persistence.CephConfig{Pool: c.Cloud.Pool}), nil
	default:
		return nil, dberr.Invalidf("config: unknown cloud_opts.backend %q", c.Cloud.Backend)
	}
}

// Watcher live-reloads a config file, keeping the last successfully
// re-parsed Config available through Current; it has no change
// callback, so a reload reaches only callers that read Current again (spec's ambient stack needs a way to
// pick up edited options without a restart; the teacher pushed live
// setting changes through its embedded scm interpreter — InitSettings/
// ChangeSettings in storage/settings.go — this core has no such
// interpreter, so fsnotify's file-write events take over that job).
type Watcher struct {
	path string
	w    *fsnotify.Watcher

	mu  sync.RWMutex
	cur *Config
}

// Watch loads path once, starts watching it for writes, and returns a
// Watcher whose Current always reflects the last successfully parsed
// version (a write that fails to parse is logged and ignored, keeping
// the previous good config live rather than crashing the server).
func Watch(path string) (*Watcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dberr.Wrap(dberr.Internal, "read config file", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, dberr.Wrap(dberr.Internal, "start config watcher", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, dberr.Wrap(dberr.Internal, "watch config file", err)
	}
	watcher := &Watcher{path: path, w: w, cur: cfg}
	go watcher.loop()
	return watcher, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			data, err := os.ReadFile(w.path)
			if err != nil {
				logger.Printf("reload %s: %v", w.path, err)
				continue
			}
			cfg, err := Parse(data)
			if err != nil {
				logger.Printf("reload %s: %v", w.path, err)
				continue
			}
			w.mu.Lock()
			w.cur = cfg
			w.mu.Unlock()
			logger.Printf("reloaded %s", w.path)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			logger.Printf("watch error: %v", err)
		}
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

func (w *Watcher) Close() error { return w.w.Close() }
