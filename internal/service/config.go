package service

import (
	"github.com/paulmach/orb"

	"github.com/atlasmap-sc/clusterer/internal/config"
	"github.com/atlasmap-sc/clusterer/internal/hostmap"
	"github.com/atlasmap-sc/clusterer/pkg/markercluster"
)

// ConfigFor translates a configured map into a session config. Store,
// cache, renderer and logger are left for the caller to wire.
func ConfigFor(mapID string, mc config.MapConfig, colormap string) MapServiceConfig {
	var style markercluster.Style
	if len(mc.Clusterer.BadgeStyle) > 0 {
		style = markercluster.Style(mc.Clusterer.BadgeStyle)
	}
	return MapServiceConfig{
		MapID: mapID,
		Map: hostmap.Config{
			TileSize: mc.TileSize,
			Width:    mc.Width,
			Height:   mc.Height,
			MinZoom:  mc.MinZoom,
			MaxZoom:  mc.MaxZoom,
			Center:   orb.Point{mc.Center[0], mc.Center[1]},
			Zoom:     mc.Zoom,
		},
		Clusterer: markercluster.Config{
			GridRadius: mc.Clusterer.GridRadius,
			MaxZoom:    mc.Clusterer.MaxZoom,
			BadgeStyle: style,
		},
		ImportPath: mc.ImportPath,
		Colormap:   colormap,
	}
}
