package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_MultiMapFormat(t *testing.T) {
	content := `
server:
  port: 9000
maps:
  cafes:
    center: [2.35, 48.85]
    zoom: 12
    clusterer:
      grid_radius: 40
      badge_style:
        preset: twirl#blueClusterIcons
  stations:
    import_path: "/data/stations.ndjson.zst"
    zoom: 6
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Maps.Default != "cafes" {
		t.Errorf("expected default map 'cafes', got %q", cfg.Maps.Default)
	}

	ids := cfg.Maps.MapIDs()
	if len(ids) != 2 || ids[0] != "cafes" || ids[1] != "stations" {
		t.Errorf("unexpected map order: %v", ids)
	}

	cafes := cfg.Maps.Maps["cafes"]
	if cafes.Clusterer.GridRadius != 40 {
		t.Errorf("expected grid radius 40, got %v", cafes.Clusterer.GridRadius)
	}
	if cafes.Clusterer.BadgeStyle["preset"] != "twirl#blueClusterIcons" {
		t.Errorf("unexpected badge style: %v", cafes.Clusterer.BadgeStyle)
	}
	if cafes.Center != [2]float64{2.35, 48.85} {
		t.Errorf("unexpected center: %v", cafes.Center)
	}

	stations := cfg.Maps.Maps["stations"]
	if stations.ImportPath != "/data/stations.ndjson.zst" {
		t.Errorf("unexpected import_path: %s", stations.ImportPath)
	}
	if stations.Clusterer.GridRadius != 60 || stations.Clusterer.MaxZoom != 16 {
		t.Errorf("expected clusterer defaults, got %+v", stations.Clusterer)
	}
	if stations.MaxZoom != 18 || stations.Width != 1024 || stations.Height != 768 {
		t.Errorf("expected viewport defaults, got %+v", stations)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.SnapshotSizeMB != 128 {
		t.Errorf("expected default cache size 128, got %d", cfg.Cache.SnapshotSizeMB)
	}
	if cfg.Maps.Default != "default" || len(cfg.Maps.Maps) != 1 {
		t.Errorf("expected single default map, got %q (%d)", cfg.Maps.Default, len(cfg.Maps.Maps))
	}
	if cfg.Store.SQLitePath == "" {
		t.Error("expected default sqlite path")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"negativeRadius", "maps:\n  a:\n    clusterer:\n      grid_radius: -3\n", "grid_radius"},
		{"badMaxZoom", "maps:\n  a:\n    clusterer:\n      max_zoom: -4\n", "max_zoom"},
		{"zoomOutOfRange", "maps:\n  a:\n    zoom: 25\n", "zoom"},
		{"badCenter", "maps:\n  a:\n    center: [200, 0]\n", "center"},
		{"duplicate", "maps:\n  a: {}\n  a: {}\n", ""},
		{"badPort", "server:\n  port: 70000\n", "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_HostMaxZoomAllowed(t *testing.T) {
	cfg := loadFromString(t, "maps:\n  a:\n    clusterer:\n      max_zoom: -1\n")
	if cfg.Maps.Maps["a"].Clusterer.MaxZoom != -1 {
		t.Errorf("expected -1 kept, got %d", cfg.Maps.Maps["a"].Clusterer.MaxZoom)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
