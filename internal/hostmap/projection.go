// Package hostmap is a headless map SDK: Web-Mercator projection, a pixel
// viewport, an overlay layer and viewport-settled notifications. It lets the
// clustering engine run on a server or in a terminal without a browser map.
package hostmap

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/atlasmap-sc/clusterer/pkg/markercluster"
)

// MaxLatitude is the Web-Mercator latitude limit.
const MaxLatitude = 85.05112878

// DefaultTileSize is the pixel size of one tile at zoom 0.
const DefaultTileSize = 256

// worldSize returns the width of the world in pixels at zoom.
func worldSize(tileSize, zoom int) float64 {
	return float64(tileSize) * math.Exp2(float64(zoom))
}

// project converts lng/lat to world pixels at zoom.
func project(c orb.Point, tileSize, zoom int) markercluster.Pixel {
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, c.Lat()))
	sin := math.Sin(lat * math.Pi / 180)

	x := (c.Lon() + 180) / 360
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi

	size := worldSize(tileSize, zoom)
	return markercluster.Pixel{X: x * size, Y: y * size}
}

// unproject converts world pixels at zoom back to lng/lat.
func unproject(p markercluster.Pixel, tileSize, zoom int) orb.Point {
	size := worldSize(tileSize, zoom)
	x := p.X / size
	y := p.Y / size

	lng := x*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*y))) * 180 / math.Pi
	return orb.Point{lng, lat}
}
