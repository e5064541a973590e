// Package config handles configuration loading for the cluster server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Maps   MapsConfig   `yaml:"maps"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// StoreConfig contains marker persistence settings.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	SnapshotSizeMB     int `yaml:"snapshot_size_mb"`
	SnapshotTTLMinutes int `yaml:"snapshot_ttl_minutes"`
	QueryCacheSize     int `yaml:"query_cache_size"`
}

// RenderConfig contains snapshot rendering settings.
type RenderConfig struct {
	DefaultColormap string  `yaml:"default_colormap"`
	MarkerRadius    float64 `yaml:"marker_radius"`
}

// MapConfig describes one clustered map.
type MapConfig struct {
	ImportPath string     `yaml:"import_path"`
	Center     [2]float64 `yaml:"center"` // lng, lat
	Zoom       int        `yaml:"zoom"`
	MinZoom    int        `yaml:"min_zoom"`
	MaxZoom    int        `yaml:"max_zoom"`
	Width      int        `yaml:"width"`
	Height     int        `yaml:"height"`
	TileSize   int        `yaml:"tile_size"`

	Clusterer ClustererConfig `yaml:"clusterer"`
}

// ClustererConfig mirrors the engine options.
type ClustererConfig struct {
	GridRadius float64           `yaml:"grid_radius"`
	MaxZoom    int               `yaml:"max_zoom"`
	BadgeStyle map[string]string `yaml:"badge_style"`
}

// MapsConfig holds map definitions in file order. The first map is the default.
type MapsConfig struct {
	Default string
	Maps    map[string]MapConfig
	order   []string
}

// UnmarshalYAML keeps the YAML key order so the first map becomes the default.
func (m *MapsConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("maps: expected a mapping, got %v", node.Tag)
	}
	m.Maps = make(map[string]MapConfig)
	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var mc MapConfig
		if err := node.Content[i+1].Decode(&mc); err != nil {
			return fmt.Errorf("maps.%s: %w", id, err)
		}
		if _, dup := m.Maps[id]; dup {
			return fmt.Errorf("maps.%s: duplicate map id", id)
		}
		m.Maps[id] = mc
		m.order = append(m.order, id)
	}
	if len(m.order) > 0 {
		m.Default = m.order[0]
	}
	return nil
}

// MapIDs returns all map IDs in config order.
func (m MapsConfig) MapIDs() []string {
	return m.order
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Store: StoreConfig{
			SQLitePath: "./data/markers.sqlite",
		},
		Cache: CacheConfig{
			SnapshotSizeMB:     128,
			SnapshotTTLMinutes: 10,
			QueryCacheSize:     1000,
		},
		Render: RenderConfig{
			DefaultColormap: "viridis",
			MarkerRadius:    4,
		},
	}
	cfg.Maps = MapsConfig{
		Default: "default",
		Maps:    map[string]MapConfig{"default": defaultMap()},
		order:   []string{"default"},
	}
	return cfg
}

func defaultMap() MapConfig {
	return MapConfig{
		Center:   [2]float64{0, 20},
		Zoom:     3,
		MinZoom:  0,
		MaxZoom:  18,
		Width:    1024,
		Height:   768,
		TileSize: 256,
		Clusterer: ClustererConfig{
			GridRadius: 60,
			MaxZoom:    16,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if cfg.Cache.SnapshotSizeMB == 0 {
		cfg.Cache.SnapshotSizeMB = defaults.Cache.SnapshotSizeMB
	}
	if cfg.Cache.SnapshotTTLMinutes == 0 {
		cfg.Cache.SnapshotTTLMinutes = defaults.Cache.SnapshotTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Render.MarkerRadius == 0 {
		cfg.Render.MarkerRadius = defaults.Render.MarkerRadius
	}

	if len(cfg.Maps.order) == 0 {
		cfg.Maps = defaults.Maps
		return
	}
	base := defaultMap()
	for id, mc := range cfg.Maps.Maps {
		if mc.MaxZoom == 0 {
			mc.MaxZoom = base.MaxZoom
		}
		if mc.Width == 0 {
			mc.Width = base.Width
		}
		if mc.Height == 0 {
			mc.Height = base.Height
		}
		if mc.TileSize == 0 {
			mc.TileSize = base.TileSize
		}
		if mc.Clusterer.GridRadius == 0 {
			mc.Clusterer.GridRadius = base.Clusterer.GridRadius
		}
		if mc.Clusterer.MaxZoom == 0 {
			mc.Clusterer.MaxZoom = base.Clusterer.MaxZoom
		}
		cfg.Maps.Maps[id] = mc
	}
}

// Validate rejects values that cannot be clamped into a sensible range.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Cache.SnapshotSizeMB < 0 || c.Cache.SnapshotTTLMinutes < 0 || c.Cache.QueryCacheSize < 0 {
		return fmt.Errorf("cache sizes must not be negative")
	}
	if c.Render.MarkerRadius < 0 {
		return fmt.Errorf("render.marker_radius must not be negative")
	}
	for _, id := range c.Maps.order {
		mc := c.Maps.Maps[id]
		if mc.Clusterer.GridRadius < 0 {
			return fmt.Errorf("maps.%s.clusterer.grid_radius must be positive, got %v", id, mc.Clusterer.GridRadius)
		}
		// -1 follows the map's own max zoom.
		if mc.Clusterer.MaxZoom < -1 {
			return fmt.Errorf("maps.%s.clusterer.max_zoom invalid: %d", id, mc.Clusterer.MaxZoom)
		}
		if mc.MinZoom < 0 || mc.MinZoom > mc.MaxZoom {
			return fmt.Errorf("maps.%s: invalid zoom range %d..%d", id, mc.MinZoom, mc.MaxZoom)
		}
		if mc.Zoom < mc.MinZoom || mc.Zoom > mc.MaxZoom {
			return fmt.Errorf("maps.%s.zoom %d outside %d..%d", id, mc.Zoom, mc.MinZoom, mc.MaxZoom)
		}
		if mc.Width < 0 || mc.Height < 0 || mc.TileSize < 0 {
			return fmt.Errorf("maps.%s: viewport dimensions must not be negative", id)
		}
		if mc.Center[0] < -180 || mc.Center[0] > 180 || mc.Center[1] < -90 || mc.Center[1] > 90 {
			return fmt.Errorf("maps.%s.center out of range: %v", id, mc.Center)
		}
	}
	return nil
}
