package hostmap

import (
	"math"
	"slices"

	"github.com/paulmach/orb"

	"github.com/atlasmap-sc/clusterer/pkg/markercluster"
)

// Config contains map configuration.
type Config struct {
	TileSize int
	Width    int // viewport width in pixels
	Height   int // viewport height in pixels
	MinZoom  int
	MaxZoom  int
	Center   orb.Point
	Zoom     int
}

// View describes the current viewport.
type View struct {
	Center orb.Point `json:"center"`
	Zoom   int       `json:"zoom"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Bounds orb.Bound `json:"bounds"`
}

// Map is a headless map. It is not safe for concurrent use; callers
// serialize access the same way a UI thread would.
type Map struct {
	tileSize         int
	width, height    int
	minZoom, maxZoom int

	center orb.Point
	zoom   int

	overlays []markercluster.Renderable
	attached map[markercluster.Renderable]struct{}

	listeners []*subscription
}

type subscription struct {
	fn       func()
	disabled bool
}

func (s *subscription) Disable() { s.disabled = true }

// New creates a headless map.
func New(cfg Config) *Map {
	if cfg.TileSize <= 0 {
		cfg.TileSize = DefaultTileSize
	}
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Height <= 0 {
		cfg.Height = 768
	}
	if cfg.MinZoom < 0 {
		cfg.MinZoom = 0
	}
	if cfg.MaxZoom <= 0 {
		cfg.MaxZoom = 18
	}
	if cfg.MinZoom > cfg.MaxZoom {
		cfg.MinZoom = cfg.MaxZoom
	}

	m := &Map{
		tileSize: cfg.TileSize,
		width:    cfg.Width,
		height:   cfg.Height,
		minZoom:  cfg.MinZoom,
		maxZoom:  cfg.MaxZoom,
		center:   cfg.Center,
		attached: make(map[markercluster.Renderable]struct{}),
	}
	m.zoom = m.clampZoom(cfg.Zoom)
	m.center = wrapLng(m.center)
	m.fit()
	return m
}

// CoordToPixel implements markercluster.Projection.
func (m *Map) CoordToPixel(c orb.Point) markercluster.Pixel {
	return project(c, m.tileSize, m.zoom)
}

// PixelToCoord implements markercluster.Projection.
func (m *Map) PixelToCoord(p markercluster.Pixel) orb.Point {
	return unproject(p, m.tileSize, m.zoom)
}

// Zoom returns the current zoom level.
func (m *Map) Zoom() int { return m.zoom }

// MinZoom returns the lowest zoom level.
func (m *Map) MinZoom() int { return m.minZoom }

// MaxZoom returns the highest zoom level.
func (m *Map) MaxZoom() int { return m.maxZoom }

// Center returns the viewport center.
func (m *Map) Center() orb.Point { return m.center }

// Size returns the viewport size in pixels.
func (m *Map) Size() (int, int) { return m.width, m.height }

// Bounds returns the geographic extent of the viewport.
func (m *Map) Bounds() orb.Bound {
	c := m.CoordToPixel(m.center)
	hw, hh := float64(m.width)/2, float64(m.height)/2

	sw := m.PixelToCoord(markercluster.Pixel{X: c.X - hw, Y: c.Y + hh})
	ne := m.PixelToCoord(markercluster.Pixel{X: c.X + hw, Y: c.Y - hh})
	return orb.Bound{Min: sw, Max: ne}
}

// Origin returns the map-pixel position of the viewport's top-left corner.
func (m *Map) Origin() markercluster.Pixel {
	c := m.CoordToPixel(m.center)
	return markercluster.Pixel{X: c.X - float64(m.width)/2, Y: c.Y - float64(m.height)/2}
}

// View returns a snapshot of the viewport.
func (m *Map) View() View {
	return View{
		Center: m.center,
		Zoom:   m.zoom,
		Width:  m.width,
		Height: m.height,
		Bounds: m.Bounds(),
	}
}

// SetView moves the viewport and notifies listeners. Longitudes outside
// [-180,180] are wrapped.
func (m *Map) SetView(center orb.Point, zoom int) {
	m.center = wrapLng(center)
	m.zoom = m.clampZoom(zoom)
	m.fit()
	m.settle()
}

// SetZoom changes the zoom level around the current center.
func (m *Map) SetZoom(zoom int) {
	m.SetView(m.center, zoom)
}

// Pan shifts the viewport by dx, dy pixels. The viewport stops at the
// edges of the world; it does not wrap across the antimeridian.
func (m *Map) Pan(dx, dy float64) {
	c := m.CoordToPixel(m.center)
	m.center = m.PixelToCoord(markercluster.Pixel{X: c.X + dx, Y: c.Y + dy})
	m.fit()
	m.settle()
}

// Resize changes the viewport size in pixels.
func (m *Map) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.width, m.height = width, height
	m.fit()
	m.settle()
}

// SetBounds centers the viewport on b at the deepest zoom that still shows all of it.
func (m *Map) SetBounds(b orb.Bound) {
	zoom := m.minZoom
	for z := m.maxZoom; z >= m.minZoom; z-- {
		sw := project(b.Min, m.tileSize, z)
		ne := project(b.Max, m.tileSize, z)
		if ne.X-sw.X <= float64(m.width) && sw.Y-ne.Y <= float64(m.height) {
			zoom = z
			break
		}
	}

	sw := project(b.Min, m.tileSize, zoom)
	ne := project(b.Max, m.tileSize, zoom)
	mid := markercluster.Pixel{X: (sw.X + ne.X) / 2, Y: (sw.Y + ne.Y) / 2}

	m.zoom = zoom
	m.center = unproject(mid, m.tileSize, zoom)
	m.fit()
	m.settle()
}

// OnViewportChanged implements markercluster.Host.
func (m *Map) OnViewportChanged(fn func()) markercluster.Subscription {
	s := &subscription{fn: fn}
	m.listeners = append(m.listeners, s)
	return s
}

// AddOverlay attaches r to the overlay layer. Attaching twice is a no-op.
func (m *Map) AddOverlay(r markercluster.Renderable) {
	if _, ok := m.attached[r]; ok {
		return
	}
	m.attached[r] = struct{}{}
	m.overlays = append(m.overlays, r)
}

// RemoveOverlay detaches r from the overlay layer.
func (m *Map) RemoveOverlay(r markercluster.Renderable) {
	if _, ok := m.attached[r]; !ok {
		return
	}
	delete(m.attached, r)
	if i := slices.Index(m.overlays, r); i >= 0 {
		m.overlays = slices.Delete(m.overlays, i, i+1)
	}
}

// Attached reports whether r is on the overlay layer.
func (m *Map) Attached(r markercluster.Renderable) bool {
	_, ok := m.attached[r]
	return ok
}

// Overlays returns attached overlays in attach order.
func (m *Map) Overlays() []markercluster.Renderable {
	return slices.Clone(m.overlays)
}

func (m *Map) clampZoom(z int) int {
	if z < m.minZoom {
		return m.minZoom
	}
	if z > m.maxZoom {
		return m.maxZoom
	}
	return z
}

// fit keeps the viewport inside the world so Bounds never crosses the
// antimeridian. An axis the world cannot fill at this zoom is centered.
func (m *Map) fit() {
	size := worldSize(m.tileSize, m.zoom)
	c := m.CoordToPixel(m.center)
	x := fitAxis(c.X, float64(m.width)/2, size)
	y := fitAxis(c.Y, float64(m.height)/2, size)
	if x != c.X || y != c.Y {
		m.center = m.PixelToCoord(markercluster.Pixel{X: x, Y: y})
	}
}

func fitAxis(v, half, size float64) float64 {
	if 2*half >= size {
		return size / 2
	}
	return math.Max(half, math.Min(size-half, v))
}

// wrapLng brings a longitude outside [-180,180] back into [-180,180).
func wrapLng(c orb.Point) orb.Point {
	if c[0] >= -180 && c[0] <= 180 {
		return c
	}
	c[0] = math.Mod(math.Mod(c[0]+180, 360)+360, 360) - 180
	return c
}

// settle delivers the viewport-settled notification to live listeners in order.
func (m *Map) settle() {
	live := m.listeners[:0]
	for _, s := range m.listeners {
		if !s.disabled {
			live = append(live, s)
		}
	}
	m.listeners = live

	for _, s := range slices.Clone(live) {
		if !s.disabled {
			s.fn()
		}
	}
}
