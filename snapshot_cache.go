// snapshot_cache.go: persisted binary snapshot cache for computed outputs
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"os"
	"path/filepath"
	"time"

	"github.com/agilira/go-timecache"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// snapshotFileMode keeps cached snapshots private to the daemon user.
const snapshotFileMode = 0o600

// SnapshotCache persists a computed key/value snapshot (grains-style
// category output) as a binary file and serves it back until it expires.
//
// The wire format is a protobuf-encoded structpb.Struct, so any
// JSON-shaped map round-trips without generated code. Writes go through a
// temp file and rename; a failed write never leaves a partial file
// behind. A snapshot that is expired, explicitly refreshed past, or
// unreadable for any reason is a cache miss - corruption is never an
// error surfaced to the caller.
type SnapshotCache struct {
	path   string
	logger Logger
}

// NewSnapshotCache creates a cache persisting at dir/<name>.cache.
func NewSnapshotCache(dir, name string, logger Logger) *SnapshotCache {
	return &SnapshotCache{
		path:   filepath.Join(dir, name+".cache"),
		logger: ensureLogger(logger),
	}
}

// Path returns the backing file location.
func (c *SnapshotCache) Path() string {
	return c.path
}

// Store serializes and persists a snapshot with restrictive permissions.
// On any failure the partially written temp file is removed and an error
// returned; the previous snapshot, if any, stays intact.
func (c *SnapshotCache) Store(data map[string]any) error {
	payload, err := structpb.NewStruct(data)
	if err != nil {
		return NewCacheWriteError(c.path, err)
	}
	raw, err := proto.Marshal(payload)
	if err != nil {
		return NewCacheWriteError(c.path, err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return NewCacheWriteError(c.path, err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, snapshotFileMode); err != nil {
		_ = os.Remove(tmp)
		return NewCacheWriteError(c.path, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return NewCacheWriteError(c.path, err)
	}

	c.logger.Debug("Snapshot cache written", "cache_file", c.path, "bytes", len(raw))
	return nil
}

// Fetch returns the cached snapshot when it is younger than ttl and
// refresh is false. Every other outcome - absent file, aged-out file,
// forced refresh, undecodable payload - is a miss: (nil, false).
func (c *SnapshotCache) Fetch(ttl time.Duration, refresh bool) (map[string]any, bool) {
	if refresh {
		return nil, false
	}

	info, err := os.Stat(c.path)
	if err != nil {
		return nil, false
	}
	if ttl > 0 && timecache.CachedTime().Sub(info.ModTime()) > ttl {
		c.logger.Debug("Snapshot cache expired", "cache_file", c.path, "age", timecache.CachedTime().Sub(info.ModTime()))
		return nil, false
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		c.logger.Warn("Snapshot cache unreadable, treating as miss",
			"error", NewCacheCorruptError(c.path, err))
		return nil, false
	}

	var payload structpb.Struct
	if err := proto.Unmarshal(raw, &payload); err != nil {
		c.logger.Warn("Snapshot cache corrupt, treating as miss",
			"error", NewCacheCorruptError(c.path, err))
		return nil, false
	}
	return payload.AsMap(), true
}

// Invalidate removes the persisted snapshot, if any.
func (c *SnapshotCache) Invalidate() error {
	err := os.Remove(c.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
