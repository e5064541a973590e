package markercluster

import (
	"iter"
	"math"

	"github.com/paulmach/orb"
)

// ClusterID identifies a cluster within one Engine. IDs are never reused.
type ClusterID uint64

type member struct {
	marker   Marker
	rendered bool // attached to the host overlay layer
}

// Cluster is a group of markers considered co-located at its formation zoom.
// Clusters are created and destroyed by the Engine only.
type Cluster struct {
	id     ClusterID
	engine *Engine

	center    orb.Point
	hasCenter bool

	formationZoom int
	members       []member
	badge         Badge
}

func newCluster(e *Engine, id ClusterID) *Cluster {
	return &Cluster{
		id:            id,
		engine:        e,
		formationZoom: e.host.Zoom(),
	}
}

// ID returns the cluster identifier.
func (c *Cluster) ID() ClusterID { return c.id }

// Center returns the anchor coordinate, the position of the first member.
func (c *Cluster) Center() (orb.Point, bool) { return c.center, c.hasCenter }

// FormationZoom returns the zoom level at which the cluster last redrew.
func (c *Cluster) FormationZoom() int { return c.formationZoom }

// MemberCount returns the number of markers in the cluster.
func (c *Cluster) MemberCount() int { return len(c.members) }

// Members yields member markers in insertion order.
func (c *Cluster) Members() iter.Seq[Marker] {
	return func(yield func(Marker) bool) {
		for _, m := range c.members {
			if !yield(m.marker) {
				return
			}
		}
	}
}

// Badge returns the aggregate indicator, or nil if the cluster never collapsed.
func (c *Cluster) Badge() Badge { return c.badge }

// Collapsed reports whether the cluster currently shows its badge.
func (c *Cluster) Collapsed() bool {
	return c.badge != nil && !c.badge.IsHidden()
}

func (c *Cluster) addMember(m member) {
	if !c.hasCenter {
		c.center = m.marker.Coord()
		c.hasCenter = true
	}
	c.members = append(c.members, m)
}

func (c *Cluster) removeMember(marker Marker) bool {
	for i, m := range c.members {
		if m.marker != marker {
			continue
		}
		if m.rendered {
			c.engine.host.RemoveOverlay(m.marker)
		}
		c.members = append(c.members[:i], c.members[i+1:]...)
		return true
	}
	return false
}

// contains reports whether pos lies inside the square footprint around the
// projected center, edges included.
func (c *Cluster) contains(pos Pixel) bool {
	if !c.hasCenter {
		return false
	}
	r := c.engine.gridRadius
	center := c.engine.host.CoordToPixel(c.center)
	return pos.X >= center.X-r && pos.X <= center.X+r &&
		pos.Y >= center.Y-r && pos.Y <= center.Y+r
}

// InViewport reports whether the cluster footprint intersects bounds, or the
// host's current bounds when bounds is nil. When the zoom moved since the
// cluster formed, the radius is scaled by 2^dz instead of re-projecting members.
func (c *Cluster) InViewport(bounds *orb.Bound) bool {
	if !c.hasCenter {
		return false
	}
	host := c.engine.host

	var b orb.Bound
	if bounds != nil {
		b = *bounds
	} else {
		b = host.Bounds()
	}

	sw := host.CoordToPixel(orb.Point{b.Min.Lon(), b.Min.Lat()})
	ne := host.CoordToPixel(orb.Point{b.Max.Lon(), b.Max.Lat()})
	center := host.CoordToPixel(c.center)

	r := c.engine.gridRadius
	if zoom := host.Zoom(); zoom != c.formationZoom {
		r *= math.Pow(2, float64(zoom-c.formationZoom))
	}

	// A zero-width projection means the bounds wrap the whole world.
	if ne.X != sw.X && (center.X+r < sw.X || center.X-r > ne.X) {
		return false
	}
	if center.Y+r < ne.Y || center.Y-r > sw.Y {
		return false
	}
	return true
}

// redraw picks the render mode. Off-screen clusters are skipped unless forced.
func (c *Cluster) redraw(force bool) {
	if !force && !c.InViewport(nil) {
		return
	}
	host := c.engine.host
	c.formationZoom = host.Zoom()

	if c.formationZoom >= c.engine.MaxZoom() || len(c.members) == 1 {
		c.expand()
		return
	}
	c.collapse()
}

func (c *Cluster) expand() {
	host := c.engine.host
	for i := range c.members {
		m := &c.members[i]
		if !m.rendered {
			host.AddOverlay(m.marker)
			m.rendered = true
		}
		if m.marker.IsHidden() {
			m.marker.Show()
		}
	}
	if c.badge != nil {
		c.badge.Hide()
	}
}

func (c *Cluster) collapse() {
	host := c.engine.host
	for _, m := range c.members {
		if m.rendered && !m.marker.IsHidden() {
			m.marker.Hide()
		}
	}

	if c.badge == nil {
		c.badge = host.NewBadge(c.center, len(c.members), c.engine.badgeStyle, c.engine.gridRadius)
		host.AddOverlay(c.badge)
		return
	}
	c.badge.SetCount(len(c.members))
	if c.badge.IsHidden() {
		c.badge.Show()
	}
	c.badge.OnViewportSettle()
}

// clearMembers detaches the badge and every rendered member, then empties the cluster.
func (c *Cluster) clearMembers() {
	host := c.engine.host
	if c.badge != nil {
		host.RemoveOverlay(c.badge)
		c.badge = nil
	}
	for _, m := range c.members {
		if m.rendered {
			host.RemoveOverlay(m.marker)
		}
	}
	c.members = nil
}
