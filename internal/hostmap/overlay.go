package hostmap

import (
	"github.com/paulmach/orb"

	"github.com/atlasmap-sc/clusterer/pkg/markercluster"
)

// Placemark is a marker with an identifier, a category and a label.
type Placemark struct {
	ID       string
	Point    orb.Point
	Category string
	Label    string

	hidden bool
}

// NewPlacemark creates a visible placemark.
func NewPlacemark(id string, point orb.Point, category, label string) *Placemark {
	return &Placemark{ID: id, Point: point, Category: category, Label: label}
}

// Coord returns the placemark coordinate.
func (p *Placemark) Coord() orb.Point { return p.Point }

func (p *Placemark) Show() { p.hidden = false }
func (p *Placemark) Hide() { p.hidden = true }
func (p *Placemark) IsHidden() bool { return p.hidden }

// Badge is the aggregate indicator drawn for a collapsed cluster.
type Badge struct {
	m      *Map
	center orb.Point
	count  int
	style  markercluster.Style
	radius float64

	pixel  markercluster.Pixel // cached position, refreshed on viewport settle
	hidden bool
}

// NewBadge implements markercluster.Host.
func (m *Map) NewBadge(center orb.Point, count int, style markercluster.Style, radius float64) markercluster.Badge {
	b := &Badge{
		m:      m,
		center: center,
		count:  count,
		style:  style,
		radius: radius,
	}
	b.OnViewportSettle()
	return b
}

// Center returns the badge anchor.
func (b *Badge) Center() orb.Point { return b.center }

// Count returns the displayed member count.
func (b *Badge) Count() int { return b.count }

// Style returns the style the badge was created with.
func (b *Badge) Style() markercluster.Style { return b.style }

// Radius returns the padding used when the badge is clicked.
func (b *Badge) Radius() float64 { return b.radius }

// Pixel returns the badge position in map pixels as of the last settle.
func (b *Badge) Pixel() markercluster.Pixel { return b.pixel }

func (b *Badge) SetCount(n int) { b.count = n }
func (b *Badge) Show() { b.hidden = false }
func (b *Badge) Hide() { b.hidden = true }
func (b *Badge) IsHidden() bool { return b.hidden }
func (b *Badge) OnViewportSettle() { b.pixel = b.m.CoordToPixel(b.center) }

// Click zooms the map to reveal the badge's members.
func (b *Badge) Click() {
	b.m.SetBounds(markercluster.ZoomBounds(b.m, b.center, b.radius))
}
