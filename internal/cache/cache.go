// Package cache provides caching for map snapshots and cluster listings.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	SnapshotCacheSizeMB int
	SnapshotTTL         time.Duration
	QueryCacheSize      int
}

// Manager manages snapshot and query caches. Keys embed the map's
// mutation version, so stale entries are never returned and simply age out.
type Manager struct {
	snapshots *bigcache.BigCache
	queries   *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 1000
	}

	snapshotConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.SnapshotTTL,
		CleanWindow:        cfg.SnapshotTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024, // a full-viewport PNG
		HardMaxCacheSize:   cfg.SnapshotCacheSizeMB,
		Verbose:            false,
	}

	snapshots, err := bigcache.New(context.Background(), snapshotConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}

	queries, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		snapshots.Close()
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		snapshots: snapshots,
		queries:   queries,
	}, nil
}

// GetSnapshot retrieves a rendered snapshot.
func (m *Manager) GetSnapshot(key string) ([]byte, bool) {
	data, err := m.snapshots.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetSnapshot stores a rendered snapshot.
func (m *Manager) SetSnapshot(key string, data []byte) error {
	return m.snapshots.Set(key, data)
}

// GetQuery retrieves an encoded query result.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queries.Get(key)
}

// SetQuery stores an encoded query result.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queries.Add(key, data)
}

// SnapshotKey identifies a snapshot of one map state.
func SnapshotKey(mapID string, version uint64, zoom int, lng, lat float64, width, height int) string {
	return fmt.Sprintf("snap:%s:v%d:%d:%.7f,%.7f:%dx%d", mapID, version, zoom, lng, lat, width, height)
}

// ClustersKey identifies a cluster listing of one map state.
func ClustersKey(mapID string, version uint64, inViewportOnly bool) string {
	scope := "all"
	if inViewportOnly {
		scope = "view"
	}
	return fmt.Sprintf("clusters:%s:v%d:%s", mapID, version, scope)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"snapshot_cache_len": m.snapshots.Len(),
		"snapshot_cache_cap": m.snapshots.Capacity(),
		"query_cache_len":    m.queries.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.snapshots.Close()
}
