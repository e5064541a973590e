// Package service provides the map sessions behind the HTTP API.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"slices"
	"sync"

	"github.com/paulmach/orb"

	"github.com/atlasmap-sc/clusterer/internal/cache"
	"github.com/atlasmap-sc/clusterer/internal/hostmap"
	"github.com/atlasmap-sc/clusterer/internal/markerstore"
	"github.com/atlasmap-sc/clusterer/internal/render"
	"github.com/atlasmap-sc/clusterer/pkg/markercluster"
)

// ErrNotFound is returned for unknown marker or cluster IDs.
var ErrNotFound = errors.New("not found")

// MapServiceConfig contains map service configuration.
type MapServiceConfig struct {
	MapID      string
	Map        hostmap.Config
	Clusterer  markercluster.Config
	ImportPath string
	Colormap   string

	Store    *markerstore.Store // optional
	Cache    *cache.Manager     // optional
	Renderer *render.SnapshotRenderer
	Logger   *log.Logger
}

// MapService is one clustered map session. Every call is serialized, so
// the engine sees viewport notifications one at a time.
type MapService struct {
	mapID      string
	importPath string
	colormap   string
	clusterCfg markercluster.Config

	store    *markerstore.Store
	cache    *cache.Manager
	renderer *render.SnapshotRenderer
	log      *log.Logger

	mu         sync.Mutex
	m          *hostmap.Map
	engine     *markercluster.Engine
	placemarks map[string]*hostmap.Placemark
	order      []string
	version    uint64
}

// ClusterInfo describes a cluster in API responses.
type ClusterInfo struct {
	ID            uint64    `json:"id"`
	Center        orb.Point `json:"center"`
	Count         int       `json:"count"`
	FormationZoom int       `json:"formation_zoom"`
	Collapsed     bool      `json:"collapsed"`
	InViewport    bool      `json:"in_viewport"`
	MarkerIDs     []string  `json:"marker_ids"`
}

// MarkerInfo is a stored marker with its clustering state.
type MarkerInfo struct {
	markerstore.Record
	Cluster uint64 `json:"cluster,omitempty"`
	Pending bool   `json:"pending"`
	Visible bool   `json:"visible"`
}

// Stats summarizes a map session.
type Stats struct {
	MapID           string  `json:"map_id"`
	Version         uint64  `json:"version"`
	Markers         int     `json:"markers"`
	Clustered       int     `json:"clustered"`
	Pending         int     `json:"pending"`
	Clusters        int     `json:"clusters"`
	VisibleClusters int     `json:"visible_clusters"`
	Collapsed       int     `json:"collapsed"`
	Zoom            int     `json:"zoom"`
	GridRadius      float64 `json:"grid_radius"`
	MaxZoom         int     `json:"max_zoom"`
}

// NewMapService creates a map session with no markers. Call Load to
// restore persisted markers.
func NewMapService(cfg MapServiceConfig) *MapService {
	mapID := cfg.MapID
	if mapID == "" {
		mapID = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Clusterer.Logger == nil {
		cfg.Clusterer.Logger = logger
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = render.NewSnapshotRenderer(render.Config{DefaultColormap: cfg.Colormap})
	}

	m := hostmap.New(cfg.Map)
	return &MapService{
		mapID:      mapID,
		importPath: cfg.ImportPath,
		colormap:   cfg.Colormap,
		clusterCfg: cfg.Clusterer,
		store:      cfg.Store,
		cache:      cfg.Cache,
		renderer:   renderer,
		log:        logger,
		m:          m,
		engine:     markercluster.New(m, cfg.Clusterer),
		placemarks: make(map[string]*hostmap.Placemark),
	}
}

// MapID returns the map identifier.
func (s *MapService) MapID() string { return s.mapID }

// Load restores persisted markers. When the store holds none for this map,
// the configured import file is read and persisted first.
func (s *MapService) Load() (int, error) {
	var records []markerstore.Record
	if s.store != nil {
		var err error
		records, err = s.store.List(s.mapID)
		if err != nil {
			return 0, fmt.Errorf("failed to list markers: %w", err)
		}
	}

	if len(records) == 0 && s.importPath != "" {
		imported, err := markerstore.ReadFile(s.importPath)
		if err != nil {
			return 0, fmt.Errorf("failed to import %s: %w", s.importPath, err)
		}
		s.log.Printf("[MapService] %s: imported %d markers from %s", s.mapID, len(imported), s.importPath)
		return s.AddMarkers(imported)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(records)
	s.log.Printf("[MapService] %s: restored %d markers", s.mapID, len(records))
	return len(records), nil
}

// AddMarkers persists and clusters records. A record whose ID already
// exists replaces the earlier marker.
func (s *MapService) AddMarkers(records []markerstore.Record) (int, error) {
	for i, r := range records {
		if r.ID == "" {
			return 0, fmt.Errorf("marker %d: missing id", i)
		}
		if err := r.Validate(); err != nil {
			return 0, fmt.Errorf("marker %s: %w", r.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Put(s.mapID, records); err != nil {
			return 0, err
		}
	}
	s.insertLocked(records)
	return len(records), nil
}

func (s *MapService) insertLocked(records []markerstore.Record) {
	if len(records) == 0 {
		return
	}
	batch := make([]markercluster.Marker, 0, len(records))
	inBatch := make(map[string]int, len(records))
	for _, r := range records {
		pm := hostmap.NewPlacemark(r.ID, r.Point(), r.Category, r.Label)
		if i, ok := inBatch[r.ID]; ok {
			batch[i] = pm
			s.placemarks[r.ID] = pm
			continue
		}
		if old, ok := s.placemarks[r.ID]; ok {
			s.detachLocked(old)
		} else {
			s.order = append(s.order, r.ID)
		}
		inBatch[r.ID] = len(batch)
		s.placemarks[r.ID] = pm
		batch = append(batch, pm)
	}

	if len(batch) == 1 {
		s.engine.Insert(batch[0])
	} else {
		s.engine.InsertAll(batch)
	}
	s.version++
}

func (s *MapService) detachLocked(pm *hostmap.Placemark) {
	if !s.engine.Remove(pm) {
		s.engine.Forget(pm)
	}
}

// RemoveMarker deletes one marker.
func (s *MapService) RemoveMarker(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pm, ok := s.placemarks[id]
	if !ok {
		return fmt.Errorf("marker %s: %w", id, ErrNotFound)
	}
	if s.store != nil {
		if _, err := s.store.Delete(s.mapID, id); err != nil {
			return err
		}
	}

	s.detachLocked(pm)
	delete(s.placemarks, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	s.version++
	return nil
}

// ClearMarkers deletes every marker and starts a fresh engine on the same map.
func (s *MapService) ClearMarkers() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if _, err := s.store.DeleteAll(s.mapID); err != nil {
			return err
		}
	}

	s.engine.Clear()
	s.engine = markercluster.New(s.m, s.clusterCfg)
	s.placemarks = make(map[string]*hostmap.Placemark)
	s.order = nil
	s.version++
	return nil
}

// View returns the current viewport.
func (s *MapService) View() hostmap.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.View()
}

// SetView moves the viewport. Non-positive sizes keep the current size.
// Longitudes past the antimeridian are wrapped; latitudes must be in [-90,90].
func (s *MapService) SetView(center orb.Point, zoom, width, height int) (hostmap.View, error) {
	if math.IsNaN(center[0]) || math.IsInf(center[0], 0) || !(center[1] >= -90 && center[1] <= 90) {
		return hostmap.View{}, fmt.Errorf("center out of range: %v", center)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if width > 0 && height > 0 {
		w, h := s.m.Size()
		if w != width || h != height {
			s.m.Resize(width, height)
		}
	}
	s.m.SetView(center, zoom)
	s.version++
	return s.m.View(), nil
}

// Pan shifts the viewport by dx, dy screen pixels.
func (s *MapService) Pan(dx, dy float64) hostmap.View {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m.Pan(dx, dy)
	s.version++
	return s.m.View()
}

// ZoomToCluster does what clicking the cluster's badge does: it fits the
// viewport to the cluster footprint.
func (s *MapService) ZoomToCluster(id uint64) (hostmap.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.engine.Cluster(markercluster.ClusterID(id))
	if !ok {
		return hostmap.View{}, fmt.Errorf("cluster %d: %w", id, ErrNotFound)
	}

	if b, ok := c.Badge().(*hostmap.Badge); ok {
		b.Click()
	} else {
		center, _ := c.Center()
		s.m.SetBounds(markercluster.ZoomBounds(s.m, center, s.engine.GridRadius()))
	}
	s.version++
	return s.m.View(), nil
}

// Clusters lists clusters in creation order.
func (s *MapService) Clusters(inViewportOnly bool) []ClusterInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clustersLocked(inViewportOnly)
}

func (s *MapService) clustersLocked(inViewportOnly bool) []ClusterInfo {
	bounds := s.m.Bounds()
	infos := []ClusterInfo{}
	seq := s.engine.Clusters()
	if inViewportOnly {
		seq = s.engine.ClustersInViewport()
	}
	for c := range seq {
		infos = append(infos, clusterInfo(c, &bounds))
	}
	return infos
}

// ClustersJSON returns the encoded cluster listing, cached per map version.
func (s *MapService) ClustersJSON(inViewportOnly bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key string
	if s.cache != nil {
		key = cache.ClustersKey(s.mapID, s.version, inViewportOnly)
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}

	data, err := json.Marshal(s.clustersLocked(inViewportOnly))
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

// Cluster returns one cluster.
func (s *MapService) Cluster(id uint64) (ClusterInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.engine.Cluster(markercluster.ClusterID(id))
	if !ok {
		return ClusterInfo{}, fmt.Errorf("cluster %d: %w", id, ErrNotFound)
	}
	bounds := s.m.Bounds()
	return clusterInfo(c, &bounds), nil
}

func clusterInfo(c *markercluster.Cluster, bounds *orb.Bound) ClusterInfo {
	center, _ := c.Center()
	info := ClusterInfo{
		ID:            uint64(c.ID()),
		Center:        center,
		Count:         c.MemberCount(),
		FormationZoom: c.FormationZoom(),
		Collapsed:     c.Collapsed(),
		InViewport:    c.InViewport(bounds),
		MarkerIDs:     make([]string, 0, c.MemberCount()),
	}
	for m := range c.Members() {
		if pm, ok := m.(*hostmap.Placemark); ok {
			info.MarkerIDs = append(info.MarkerIDs, pm.ID)
		}
	}
	return info
}

// Markers lists markers in insertion order with their clustering state.
func (s *MapService) Markers() []MarkerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner := make(map[markercluster.Marker]uint64)
	for c := range s.engine.Clusters() {
		for m := range c.Members() {
			owner[m] = uint64(c.ID())
		}
	}
	pending := make(map[markercluster.Marker]bool)
	for m := range s.engine.Pending() {
		pending[m] = true
	}

	infos := make([]MarkerInfo, 0, len(s.order))
	for _, id := range s.order {
		pm := s.placemarks[id]
		infos = append(infos, MarkerInfo{
			Record:  recordOf(pm),
			Cluster: owner[pm],
			Pending: pending[pm],
			Visible: s.m.Attached(pm) && !pm.IsHidden(),
		})
	}
	return infos
}

// Export writes all markers as NDJSON, zstd-compressed when compress is set.
func (s *MapService) Export(w io.Writer, compress bool) error {
	s.mu.Lock()
	records := make([]markerstore.Record, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, recordOf(s.placemarks[id]))
	}
	s.mu.Unlock()

	return markerstore.WriteNDJSON(w, records, compress)
}

func recordOf(pm *hostmap.Placemark) markerstore.Record {
	return markerstore.Record{
		ID:       pm.ID,
		Lng:      pm.Point.Lon(),
		Lat:      pm.Point.Lat(),
		Category: pm.Category,
		Label:    pm.Label,
	}
}

// Stats returns a summary of the session.
func (s *MapService) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		MapID:      s.mapID,
		Version:    s.version,
		Markers:    len(s.placemarks),
		Clustered:  s.engine.MarkerCount(),
		Pending:    s.engine.PendingCount(),
		Clusters:   s.engine.ClusterCount(),
		Zoom:       s.m.Zoom(),
		GridRadius: s.engine.GridRadius(),
		MaxZoom:    s.engine.MaxZoom(),
	}
	for c := range s.engine.ClustersInViewport() {
		st.VisibleClusters++
		if c.Collapsed() {
			st.Collapsed++
		}
	}
	return st
}

// Snapshot renders the current viewport to PNG.
func (s *MapService) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	center := s.m.Center()
	w, h := s.m.Size()

	var key string
	if s.cache != nil {
		key = cache.SnapshotKey(s.mapID, s.version, s.m.Zoom(), center.Lon(), center.Lat(), w, h)
		if data, ok := s.cache.GetSnapshot(key); ok {
			return data, nil
		}
	}

	data, err := s.renderer.Render(s.sceneLocked())
	if err != nil {
		return nil, fmt.Errorf("failed to render snapshot: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetSnapshot(key, data); err != nil {
			s.log.Printf("[MapService] %s: snapshot not cached: %v", s.mapID, err)
		}
	}
	return data, nil
}

// Scene returns the visible overlays in viewport pixels.
func (s *MapService) Scene() render.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sceneLocked()
}

func (s *MapService) sceneLocked() render.Scene {
	w, h := s.m.Size()
	origin := s.m.Origin()
	scene := render.Scene{Width: w, Height: h, Colormap: s.colormap}

	const margin = 32
	visible := func(p markercluster.Pixel) bool {
		return p.X >= -margin && p.X <= float64(w)+margin && p.Y >= -margin && p.Y <= float64(h)+margin
	}

	owners := make(map[markercluster.Badge]uint64)
	for c := range s.engine.Clusters() {
		if b := c.Badge(); b != nil {
			owners[b] = uint64(c.ID())
		}
	}

	for _, o := range s.m.Overlays() {
		if o.IsHidden() {
			continue
		}
		switch v := o.(type) {
		case *hostmap.Placemark:
			p := s.m.CoordToPixel(v.Point)
			p = markercluster.Pixel{X: p.X - origin.X, Y: p.Y - origin.Y}
			if visible(p) {
				scene.Dots = append(scene.Dots, render.Dot{X: p.X, Y: p.Y, Category: v.Category})
			}
		case *hostmap.Badge:
			p := s.m.CoordToPixel(v.Center())
			p = markercluster.Pixel{X: p.X - origin.X, Y: p.Y - origin.Y}
			if visible(p) {
				scene.Bubbles = append(scene.Bubbles, render.Bubble{
					ID:    owners[v],
					X:     p.X,
					Y:     p.Y,
					Count: v.Count(),
					Fill:  v.Style()["fill"],
				})
			}
		}
	}
	return scene
}
