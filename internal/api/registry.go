package api

import (
	"github.com/atlasmap-sc/clusterer/internal/service"
)

// MapInfo contains information about a map for the API response.
type MapInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Markers  int    `json:"markers"`
	Clusters int    `json:"clusters"`
}

// MapRegistry holds the sessions of all configured maps.
type MapRegistry struct {
	services   map[string]*service.MapService
	defaultMap string
	mapOrder   []string
	title      string
}

// NewMapRegistry creates a new map registry.
func NewMapRegistry(defaultMap string, order []string, title string) *MapRegistry {
	return &MapRegistry{
		services:   make(map[string]*service.MapService),
		defaultMap: defaultMap,
		mapOrder:   order,
		title:      title,
	}
}

// Register adds a map session.
func (r *MapRegistry) Register(mapID string, svc *service.MapService) {
	r.services[mapID] = svc
}

// Get returns the session for a map, or nil if not found. "default"
// resolves to the first configured map.
func (r *MapRegistry) Get(mapID string) *service.MapService {
	if svc, ok := r.services[mapID]; ok {
		return svc
	}
	if mapID == "default" {
		return r.Default()
	}
	return nil
}

// Default returns the default map's session.
func (r *MapRegistry) Default() *service.MapService {
	return r.services[r.defaultMap]
}

// DefaultMapID returns the default map ID.
func (r *MapRegistry) DefaultMapID() string {
	return r.defaultMap
}

// MapIDs returns all map IDs in config order.
func (r *MapRegistry) MapIDs() []string {
	return r.mapOrder
}

// Title returns the configured site title.
func (r *MapRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "Marker Clusterer"
}

// Maps returns map info for all registered maps.
func (r *MapRegistry) Maps() []MapInfo {
	infos := make([]MapInfo, 0, len(r.mapOrder))
	for _, id := range r.mapOrder {
		svc := r.services[id]
		if svc == nil {
			continue
		}
		st := svc.Stats()
		infos = append(infos, MapInfo{
			ID:       id,
			Name:     id,
			Markers:  st.Markers,
			Clusters: st.Clusters,
		})
	}
	return infos
}
