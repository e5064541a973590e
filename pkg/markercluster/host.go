// Package markercluster groups map markers into screen-space clusters that are
// kept up to date incrementally as the host map pans and zooms.
package markercluster

import (
	"github.com/paulmach/orb"
)

// Pixel is a position in map pixels at the host's current zoom level.
// Y grows downward.
type Pixel struct {
	X, Y float64
}

// Projection converts between geographic coordinates and map pixels.
type Projection interface {
	CoordToPixel(c orb.Point) Pixel
	PixelToCoord(p Pixel) orb.Point
}

// Renderable is anything the host can attach to its overlay layer and toggle.
type Renderable interface {
	Show()
	Hide()
	IsHidden() bool
}

// Marker is a single point entity. The engine references markers, it never owns them.
//
// Markers are identified with ==, so implementations must be comparable,
// typically pointer types. A struct value holding a slice, map or func
// panics on Remove and Forget.
type Marker interface {
	Renderable
	Coord() orb.Point
}

// Badge is the aggregate indicator shown in place of a collapsed cluster's members.
type Badge interface {
	Renderable
	SetCount(n int)
	// OnViewportSettle repositions the badge after the viewport moved.
	OnViewportSettle()
}

// Subscription is a handle to a registered viewport listener.
type Subscription interface {
	Disable()
}

// Style is an opaque badge style descriptor forwarded verbatim to Host.NewBadge.
type Style map[string]string

// Host is the capability set the engine needs from the map SDK.
type Host interface {
	Projection

	Bounds() orb.Bound
	Zoom() int
	MaxZoom() int

	AddOverlay(r Renderable)
	RemoveOverlay(r Renderable)

	// OnViewportChanged registers fn for "viewport settled" notifications.
	OnViewportChanged(fn func()) Subscription

	NewBadge(center orb.Point, count int, style Style, radius float64) Badge
}

// ZoomBounds returns the geographic square of half-width radius pixels around
// center. Clicking a badge asks the host to show exactly this area.
func ZoomBounds(p Projection, center orb.Point, radius float64) orb.Bound {
	pos := p.CoordToPixel(center)

	sw := p.PixelToCoord(Pixel{X: pos.X - radius, Y: pos.Y + radius})
	ne := p.PixelToCoord(Pixel{X: pos.X + radius, Y: pos.Y - radius})

	return orb.Bound{Min: sw, Max: ne}
}
