// Package cache persists conversation snapshots to a local Pebble
// database so chat history survives cold starts. Persistence is
// write-through and best-effort: a failed write is logged and counted,
// never surfaced to the caller as fatal.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
)

var (
	db     *pebble.DB
	dbPath string
)

// Key layout:
//   conv:<convKey>:snapshot  full JSON array of messages
//   conv:<convKey>:meta      conversation metadata JSON
func snapshotKey(convKey string) []byte { return []byte("conv:" + convKey + ":snapshot") }
func metaKey(convKey string) []byte     { return []byte("conv:" + convKey + ":meta") }

// Open opens (or creates) the Pebble database at path and keeps a global
// handle for the session.
func Open(path string) error {
	var err error
	logger.Info("opening_cache_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("cache_open_failed", "path", path, "error", err)
		return fmt.Errorf("%w: open %s: %v", models.ErrStorage, path, err)
	}
	dbPath = path
	return nil
}

// Close closes the opened database if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("cache_closed")
	return nil
}

// Ready reports whether the cache is opened and usable.
func Ready() bool {
	return db != nil
}

// Persist writes a full snapshot of a conversation's message sequence.
// No incremental diffing: expected conversation sizes make a whole-list
// write acceptable. Failures degrade to refetch-from-source on next start.
func Persist(convKey string, msgs []models.Message) {
	if db == nil {
		return
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		telemetry.CacheErrors.WithLabelValues("marshal").Inc()
		logger.Error("cache_marshal_failed", "conv", convKey, "error", err)
		return
	}
	if err := db.Set(snapshotKey(convKey), data, pebble.Sync); err != nil {
		telemetry.CacheErrors.WithLabelValues("write").Inc()
		logger.Error("cache_persist_failed", "conv", convKey, "error", err)
		return
	}
	logger.Debug("cache_persisted", "conv", convKey, "count", len(msgs))
}

// Restore returns the cached message sequence for convKey. Absent or
// corrupt data restores as empty: the caller falls back to a REST fetch.
func Restore(convKey string) []models.Message {
	if db == nil {
		return nil
	}
	v, closer, err := db.Get(snapshotKey(convKey))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			telemetry.CacheErrors.WithLabelValues("read").Inc()
			logger.Warn("cache_restore_failed", "conv", convKey, "error", err)
		}
		return nil
	}
	data := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		telemetry.CacheErrors.WithLabelValues("decode").Inc()
		logger.Warn("cache_snapshot_corrupt", "conv", convKey, "error", err)
		return nil
	}
	return msgs
}

// SaveMeta stores conversation metadata, stamping the update time.
func SaveMeta(meta models.ConversationMeta) {
	if db == nil {
		return
	}
	meta.UpdatedTS = time.Now().UTC().UnixNano()
	data, err := json.Marshal(meta)
	if err != nil {
		telemetry.CacheErrors.WithLabelValues("marshal").Inc()
		return
	}
	if err := db.Set(metaKey(meta.Key), data, pebble.Sync); err != nil {
		telemetry.CacheErrors.WithLabelValues("write").Inc()
		logger.Error("cache_meta_save_failed", "conv", meta.Key, "error", err)
	}
}

// GetMeta returns stored metadata for convKey, if any.
func GetMeta(convKey string) (models.ConversationMeta, bool) {
	var meta models.ConversationMeta
	if db == nil {
		return meta, false
	}
	v, closer, err := db.Get(metaKey(convKey))
	if err != nil {
		return meta, false
	}
	data := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		telemetry.CacheErrors.WithLabelValues("decode").Inc()
		return models.ConversationMeta{}, false
	}
	return meta, true
}

// ListConversations returns the keys of all cached conversations.
func ListConversations() ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: cache not opened", models.ErrStorage)
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	prefix := []byte("conv:")
	suffix := ":snapshot"
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if len(k) < len(prefix) || k[:len(prefix)] != string(prefix) {
			break
		}
		if len(k) > len(suffix) && k[len(k)-len(suffix):] == suffix {
			out = append(out, k[len(prefix):len(k)-len(suffix)])
		}
	}
	return out, iter.Error()
}

// Drop removes the snapshot and metadata for convKey.
func Drop(convKey string) {
	if db == nil {
		return
	}
	if err := db.Delete(snapshotKey(convKey), pebble.Sync); err != nil {
		telemetry.CacheErrors.WithLabelValues("delete").Inc()
	}
	if err := db.Delete(metaKey(convKey), pebble.Sync); err != nil {
		telemetry.CacheErrors.WithLabelValues("delete").Inc()
	}
}

// DiskUsage returns the on-disk size of the cache directory in bytes,
// best-effort.
func DiskUsage() uint64 {
	if dbPath == "" {
		return 0
	}
	var total uint64
	_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += uint64(fi.Size())
		}
		return nil
	})
	return total
}
