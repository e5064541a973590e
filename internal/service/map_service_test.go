package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/atlasmap-sc/clusterer/internal/cache"
	"github.com/atlasmap-sc/clusterer/internal/config"
	"github.com/atlasmap-sc/clusterer/internal/hostmap"
	"github.com/atlasmap-sc/clusterer/internal/markerstore"
	"github.com/atlasmap-sc/clusterer/pkg/markercluster"
)

var paris = orb.Point{2.35, 48.85}

func testConfig(t *testing.T, store *markerstore.Store, cm *cache.Manager) MapServiceConfig {
	t.Helper()
	return MapServiceConfig{
		MapID:     "paris",
		Map:       hostmap.Config{Width: 1024, Height: 768, MaxZoom: 18, Zoom: 10, Center: paris},
		Clusterer: markercluster.Config{GridRadius: 60, MaxZoom: 16},
		Store:     store,
		Cache:     cm,
		Logger:    log.New(io.Discard, "", 0),
	}
}

func newStore(t *testing.T) *markerstore.Store {
	t.Helper()
	s, err := markerstore.NewStore(filepath.Join(t.TempDir(), "markers.sqlite"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newCache(t *testing.T) *cache.Manager {
	t.Helper()
	cm, err := cache.NewManager(cache.Config{SnapshotCacheSizeMB: 16, SnapshotTTL: time.Minute, QueryCacheSize: 100})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { cm.Close() })
	return cm
}

// nearby is three markers within a couple of pixels of each other at zoom 10
// and one about 70px east.
func nearby() []markerstore.Record {
	return []markerstore.Record{
		{ID: "a", Lng: 2.350, Lat: 48.850, Category: "cafe"},
		{ID: "b", Lng: 2.351, Lat: 48.8505, Category: "cafe"},
		{ID: "c", Lng: 2.352, Lat: 48.850, Category: "bar"},
		{ID: "far", Lng: 2.450, Lat: 48.850},
	}
}

func TestAddMarkersClustersAndPersists(t *testing.T) {
	store := newStore(t)
	svc := NewMapService(testConfig(t, store, nil))

	n, err := svc.AddMarkers(nearby())
	if err != nil || n != 4 {
		t.Fatalf("AddMarkers: %d, %v", n, err)
	}

	st := svc.Stats()
	if st.Markers != 4 || st.Clusters != 2 || st.Pending != 0 || st.Collapsed != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	clusters := svc.Clusters(false)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	first := clusters[0]
	if first.Count != 3 || !first.Collapsed || first.Center != paris {
		t.Errorf("unexpected first cluster %+v", first)
	}
	if len(first.MarkerIDs) != 3 || first.MarkerIDs[0] != "a" {
		t.Errorf("unexpected members %v", first.MarkerIDs)
	}

	count, err := store.Count("paris")
	if err != nil || count != 4 {
		t.Errorf("expected 4 stored markers, got %d (%v)", count, err)
	}

	// A fresh session over the same store regroups identically.
	again := NewMapService(testConfig(t, store, nil))
	if n, err := again.Load(); err != nil || n != 4 {
		t.Fatalf("Load: %d, %v", n, err)
	}
	reloaded := again.Clusters(false)
	if len(reloaded) != 2 || reloaded[0].Count != 3 || reloaded[1].MarkerIDs[0] != "far" {
		t.Errorf("unexpected clusters after reload %+v", reloaded)
	}
}

func TestAddMarkersValidates(t *testing.T) {
	svc := NewMapService(testConfig(t, nil, nil))

	if _, err := svc.AddMarkers([]markerstore.Record{{Lng: 1, Lat: 1}}); err == nil {
		t.Error("expected missing id rejected")
	}
	if _, err := svc.AddMarkers([]markerstore.Record{{ID: "x", Lng: 181}}); err == nil {
		t.Error("expected out-of-range coordinate rejected")
	}
	if svc.Stats().Markers != 0 {
		t.Error("expected nothing added")
	}
}

func TestReplaceMarkerByID(t *testing.T) {
	svc := NewMapService(testConfig(t, nil, nil))

	if _, err := svc.AddMarkers([]markerstore.Record{{ID: "a", Lng: 2.35, Lat: 48.85}}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddMarkers([]markerstore.Record{
		{ID: "a", Lng: 2.40, Lat: 48.85, Label: "moved"},
		{ID: "a", Lng: 2.41, Lat: 48.85, Label: "moved twice"},
	}); err != nil {
		t.Fatal(err)
	}

	markers := svc.Markers()
	if len(markers) != 1 || markers[0].Label != "moved twice" {
		t.Fatalf("unexpected markers %+v", markers)
	}
	st := svc.Stats()
	if st.Clustered+st.Pending != 1 {
		t.Errorf("expected a single tracked marker, got %+v", st)
	}
}

func TestRemoveMarker(t *testing.T) {
	svc := NewMapService(testConfig(t, newStore(t), nil))

	records := append(nearby(), markerstore.Record{ID: "offscreen", Lng: 40, Lat: 10})
	if _, err := svc.AddMarkers(records); err != nil {
		t.Fatal(err)
	}
	if svc.Stats().Pending != 1 {
		t.Fatalf("expected offscreen marker pending, got %+v", svc.Stats())
	}

	if err := svc.RemoveMarker("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := svc.RemoveMarker("offscreen"); err != nil {
		t.Fatalf("RemoveMarker: %v", err)
	}
	if err := svc.RemoveMarker("far"); err != nil {
		t.Fatalf("RemoveMarker: %v", err)
	}

	st := svc.Stats()
	if st.Pending != 0 || st.Clusters != 1 || st.Markers != 3 {
		t.Errorf("unexpected stats after removal %+v", st)
	}
	for _, m := range svc.Markers() {
		if m.ID == "far" || m.ID == "offscreen" {
			t.Errorf("removed marker %s still listed", m.ID)
		}
		if m.Cluster == 0 {
			t.Errorf("expected %s clustered", m.ID)
		}
	}
}

func TestClearMarkersKeepsListening(t *testing.T) {
	store := newStore(t)
	svc := NewMapService(testConfig(t, store, nil))
	if _, err := svc.AddMarkers(nearby()); err != nil {
		t.Fatal(err)
	}

	if err := svc.ClearMarkers(); err != nil {
		t.Fatalf("ClearMarkers: %v", err)
	}
	if st := svc.Stats(); st.Markers != 0 || st.Clusters != 0 {
		t.Fatalf("expected empty map, got %+v", st)
	}
	if n, _ := store.Count("paris"); n != 0 {
		t.Errorf("expected store emptied, got %d", n)
	}

	// About 730px east of the center: off screen until panned to.
	if _, err := svc.AddMarkers([]markerstore.Record{{ID: "east", Lng: 3.35, Lat: 48.85}}); err != nil {
		t.Fatal(err)
	}
	if svc.Stats().Pending != 1 {
		t.Fatalf("expected deferred marker, got %+v", svc.Stats())
	}
	svc.Pan(730, 0)
	if st := svc.Stats(); st.Pending != 0 || st.Clusters != 1 {
		t.Errorf("expected marker placed after pan, got %+v", st)
	}
}

func TestZoomToCluster(t *testing.T) {
	svc := NewMapService(testConfig(t, nil, nil))
	if _, err := svc.AddMarkers(nearby()); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ZoomToCluster(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	id := svc.Clusters(true)[0].ID
	view, err := svc.ZoomToCluster(id)
	if err != nil {
		t.Fatalf("ZoomToCluster: %v", err)
	}
	if view.Zoom <= 10 {
		t.Errorf("expected zoom in, got %d", view.Zoom)
	}
	for _, c := range svc.Clusters(false) {
		if c.FormationZoom != view.Zoom {
			t.Errorf("cluster %d formed at %d, view at %d", c.ID, c.FormationZoom, view.Zoom)
		}
	}
	if _, err := svc.Cluster(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected the zoomed cluster regrouped away, got %v", err)
	}
}

func TestSetView(t *testing.T) {
	svc := NewMapService(testConfig(t, nil, nil))

	if _, err := svc.SetView(orb.Point{0, 95}, 3, 0, 0); err == nil {
		t.Error("expected bad center rejected")
	}

	view, err := svc.SetView(orb.Point{10, 20}, 30, 640, 480)
	if err != nil {
		t.Fatalf("SetView: %v", err)
	}
	if view.Zoom != 18 || view.Width != 640 || view.Height != 480 {
		t.Errorf("unexpected view %+v", view)
	}
	if !view.Bounds.Contains(orb.Point{10, 20}) {
		t.Errorf("expected bounds around center, got %v", view.Bounds)
	}
}

func TestClustersJSONCachedByVersion(t *testing.T) {
	cm := newCache(t)
	svc := NewMapService(testConfig(t, nil, cm))
	if _, err := svc.AddMarkers(nearby()); err != nil {
		t.Fatal(err)
	}

	first, err := svc.ClustersJSON(true)
	if err != nil {
		t.Fatalf("ClustersJSON: %v", err)
	}
	second, _ := svc.ClustersJSON(true)
	if !bytes.Equal(first, second) {
		t.Error("expected identical cached listing")
	}
	if cm.Stats()["query_cache_len"] != 1 {
		t.Errorf("expected one cached listing, got %v", cm.Stats())
	}

	var decoded []ClusterInfo
	if err := json.Unmarshal(first, &decoded); err != nil || len(decoded) != 2 {
		t.Fatalf("unexpected listing %s (%v)", first, err)
	}

	svc.Pan(10, 0)
	if _, err := svc.ClustersJSON(true); err != nil {
		t.Fatal(err)
	}
	if cm.Stats()["query_cache_len"] != 2 {
		t.Errorf("expected a new entry after pan, got %v", cm.Stats())
	}
}

func TestSnapshot(t *testing.T) {
	cm := newCache(t)
	svc := NewMapService(testConfig(t, nil, cm))
	if _, err := svc.AddMarkers(nearby()); err != nil {
		t.Fatal(err)
	}

	scene := svc.sceneLocked()
	if len(scene.Bubbles) != 1 || scene.Bubbles[0].Count != 3 || len(scene.Dots) != 1 {
		t.Fatalf("unexpected scene %+v", scene)
	}
	if b := scene.Bubbles[0]; math.Abs(b.X-512) > 1e-6 || math.Abs(b.Y-384) > 1e-6 {
		t.Errorf("expected badge at the viewport center, got %v,%v", b.X, b.Y)
	}

	data, err := svc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1024 || b.Dy() != 768 {
		t.Errorf("unexpected snapshot size %v", b)
	}
	if cm.Stats()["snapshot_cache_len"] != 1 {
		t.Errorf("expected cached snapshot, got %v", cm.Stats())
	}
}

func TestLoadImportsFileOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "places.ndjson")
	var buf bytes.Buffer
	if err := markerstore.WriteNDJSON(&buf, nearby(), false); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	store := newStore(t)
	cfg := testConfig(t, store, nil)
	cfg.ImportPath = path

	svc := NewMapService(cfg)
	if n, err := svc.Load(); err != nil || n != 4 {
		t.Fatalf("Load: %d, %v", n, err)
	}

	// Once persisted, the store wins over the import file.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	again := NewMapService(cfg)
	if n, err := again.Load(); err != nil || n != 4 {
		t.Fatalf("reload: %d, %v", n, err)
	}
}

func TestExport(t *testing.T) {
	svc := NewMapService(testConfig(t, nil, nil))
	if _, err := svc.AddMarkers(nearby()); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := svc.Export(&buf, true); err != nil {
		t.Fatalf("Export: %v", err)
	}
	path := filepath.Join(t.TempDir(), "export.ndjson.zst")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := markerstore.ReadFile(path)
	if err != nil || len(got) != 4 || got[3].ID != "far" {
		t.Errorf("unexpected export %+v (%v)", got, err)
	}
}

func TestConfigFor(t *testing.T) {
	mc := config.MapConfig{
		ImportPath: "/data/places.ndjson",
		Center:     [2]float64{2.35, 48.85},
		Zoom:       12,
		MaxZoom:    18,
		Width:      800,
		Height:     600,
		Clusterer: config.ClustererConfig{
			GridRadius: 40,
			MaxZoom:    -1,
			BadgeStyle: map[string]string{"fill": "#ff0000"},
		},
	}

	cfg := ConfigFor("paris", mc, "magma")
	if cfg.MapID != "paris" || cfg.ImportPath != mc.ImportPath || cfg.Colormap != "magma" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Map.Center != paris || cfg.Map.Zoom != 12 || cfg.Map.Width != 800 {
		t.Errorf("unexpected map config %+v", cfg.Map)
	}
	if cfg.Clusterer.MaxZoom != markercluster.UseHostMaxZoom || cfg.Clusterer.BadgeStyle["fill"] != "#ff0000" {
		t.Errorf("unexpected clusterer config %+v", cfg.Clusterer)
	}

	svc := NewMapService(cfg)
	if got := svc.Stats().MaxZoom; got != 18 {
		t.Errorf("expected engine to follow the map max zoom, got %d", got)
	}
}

func TestPanPastAntimeridian(t *testing.T) {
	cfg := testConfig(t, nil, nil)
	cfg.Map.Center = orb.Point{179, 0}
	cfg.Map.Zoom = 6
	svc := NewMapService(cfg)

	if _, err := svc.AddMarkers([]markerstore.Record{{ID: "west", Lng: -179.5, Lat: 0}}); err != nil {
		t.Fatal(err)
	}

	view := svc.Pan(800, 0)
	if view.Center[0] > 180 || view.Bounds.Max[0] > 180+1e-9 {
		t.Fatalf("expected view to stop at the antimeridian, got %+v", view)
	}
	if svc.Stats().Pending != 1 {
		t.Errorf("expected far-side marker deferred, got %+v", svc.Stats())
	}

	// Zoom-only changes resend the current center.
	view, err := svc.SetView(view.Center, 7, 0, 0)
	if err != nil {
		t.Fatalf("SetView with current center: %v", err)
	}
	if view.Zoom != 7 {
		t.Errorf("expected zoom 7, got %d", view.Zoom)
	}

	view, err = svc.SetView(orb.Point{180.5, 0}, 6, 0, 0)
	if err != nil {
		t.Fatalf("SetView across the antimeridian: %v", err)
	}
	if !view.Bounds.Contains(orb.Point{-179.5, 0}) {
		t.Fatalf("expected wrapped view to show the west marker, got %v", view.Bounds)
	}
	if st := svc.Stats(); st.Pending != 0 || st.Clusters != 1 {
		t.Errorf("expected marker placed, got %+v", st)
	}
}
