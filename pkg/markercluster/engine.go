package markercluster

import (
	"iter"
	"log"
	"slices"

	"github.com/paulmach/orb"
)

// Engine owns every cluster and every deferred marker for one host map.
//
// Engine is not safe for concurrent use. All calls, including the viewport
// callback registered on the host, must be delivered from one goroutine.
type Engine struct {
	host Host
	sub  Subscription
	log  *log.Logger

	gridRadius float64
	maxZoom    int
	badgeStyle Style

	clusters []*Cluster // creation order
	byID     map[ClusterID]*Cluster
	nextID   ClusterID

	pending []Marker
}

// New creates an engine bound to host and subscribes to its viewport changes.
func New(host Host, cfg Config) *Engine {
	cfg = cfg.withDefaults()

	e := &Engine{
		host:       host,
		log:        cfg.Logger,
		gridRadius: cfg.GridRadius,
		maxZoom:    cfg.MaxZoom,
		badgeStyle: cfg.BadgeStyle,
		byID:       make(map[ClusterID]*Cluster),
	}
	e.sub = host.OnViewportChanged(e.ViewportChanged)
	return e
}

// GridRadius returns the footprint half-width in pixels.
func (e *Engine) GridRadius() float64 { return e.gridRadius }

// MaxZoom returns the zoom at or above which clusters expand.
func (e *Engine) MaxZoom() int {
	if e.maxZoom == UseHostMaxZoom {
		return e.host.MaxZoom()
	}
	return e.maxZoom
}

// BadgeStyle returns the configured badge style, nil if none.
func (e *Engine) BadgeStyle() Style { return e.badgeStyle }

// ClusterCount returns the number of live clusters.
func (e *Engine) ClusterCount() int { return len(e.clusters) }

// MarkerCount returns the number of clustered markers. Pending markers are not counted.
func (e *Engine) MarkerCount() int {
	n := 0
	for _, c := range e.clusters {
		n += len(c.members)
	}
	return n
}

// PendingCount returns the number of deferred markers.
func (e *Engine) PendingCount() int { return len(e.pending) }

// Pending yields deferred markers in deferral order.
func (e *Engine) Pending() iter.Seq[Marker] {
	return slices.Values(slices.Clone(e.pending))
}

// Clusters yields every cluster in creation order.
func (e *Engine) Clusters() iter.Seq[*Cluster] {
	return slices.Values(slices.Clone(e.clusters))
}

// Cluster looks up a live cluster by ID.
func (e *Engine) Cluster(id ClusterID) (*Cluster, bool) {
	c, ok := e.byID[id]
	return c, ok
}

// ClustersInViewport yields the clusters whose footprint intersects the
// current viewport. The viewport is read once per iteration.
func (e *Engine) ClustersInViewport() iter.Seq[*Cluster] {
	return func(yield func(*Cluster) bool) {
		bounds := e.host.Bounds()
		for _, c := range slices.Clone(e.clusters) {
			if !c.InViewport(&bounds) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// Insert adds a marker. Markers outside the viewport are deferred until a
// viewport change brings them on screen.
func (e *Engine) Insert(m Marker) {
	if !e.host.Bounds().Contains(m.Coord()) {
		e.pending = append(e.pending, m)
		return
	}
	e.assign(member{marker: m}, nil, false)
}

// InsertAll adds markers and redraws the visible clusters once at the end.
func (e *Engine) InsertAll(markers []Marker) {
	bounds := e.host.Bounds()
	for _, m := range markers {
		if !bounds.Contains(m.Coord()) {
			e.pending = append(e.pending, m)
			continue
		}
		e.assign(member{marker: m}, nil, true)
	}
	e.Redraw()
}

// Remove detaches m from the first cluster holding it. A cluster left empty
// is destroyed. Deferred markers are not searched.
func (e *Engine) Remove(m Marker) bool {
	for _, c := range e.clusters {
		if !c.removeMember(m) {
			continue
		}
		if len(c.members) == 0 {
			c.clearMembers()
			e.drop(c)
			return true
		}
		c.redraw(false)
		return true
	}
	return false
}

// Forget drops m from the deferred markers without touching any cluster.
func (e *Engine) Forget(m Marker) bool {
	i := slices.Index(e.pending, m)
	if i < 0 {
		return false
	}
	e.pending = slices.Delete(e.pending, i, i+1)
	return true
}

// Redraw force-redraws every cluster in the viewport.
func (e *Engine) Redraw() {
	for c := range e.ClustersInViewport() {
		c.redraw(true)
	}
}

// ViewportChanged is the host's "viewport settled" handler. Clusters formed
// at another zoom are destroyed, their markers are regrouped among the
// clusters created here, and deferred markers now on screen are placed.
func (e *Engine) ViewportChanged() {
	zoom := e.host.Zoom()
	bounds := e.host.Bounds()

	var released []member
	var invalidated int
	for _, c := range slices.Clone(e.clusters) {
		if c.formationZoom == zoom {
			continue
		}
		for _, m := range c.members {
			released = append(released, member{marker: m.marker})
		}
		c.clearMembers()
		e.drop(c)
		invalidated++
	}

	var fresh []*Cluster
	deferred := 0
	for _, m := range released {
		if !bounds.Contains(m.marker.Coord()) {
			e.pending = append(e.pending, m.marker)
			deferred++
			continue
		}
		e.assign(m, &fresh, true)
	}

	placed := e.flushPending(bounds)
	e.Redraw()

	e.log.Printf("[Engine] viewport changed: zoom=%d invalidated=%d released=%d deferred=%d placed=%d clusters=%d",
		zoom, invalidated, len(released), deferred, placed, len(e.clusters))
}

// Clear releases every cluster and deferred marker and stops listening to the host.
func (e *Engine) Clear() {
	for len(e.clusters) > 0 {
		last := len(e.clusters) - 1
		c := e.clusters[last]
		e.clusters = e.clusters[:last]
		delete(e.byID, c.id)
		c.clearMembers()
	}
	e.pending = nil
	if e.sub != nil {
		e.sub.Disable()
		e.sub = nil
	}
}

// flushPending places deferred markers that are now inside bounds.
func (e *Engine) flushPending(bounds orb.Bound) int {
	if len(e.pending) == 0 {
		return 0
	}
	var stay []Marker
	var ready []Marker
	for _, m := range e.pending {
		if bounds.Contains(m.Coord()) {
			ready = append(ready, m)
		} else {
			stay = append(stay, m)
		}
	}
	e.pending = stay
	for _, m := range ready {
		e.assign(member{marker: m}, nil, true)
	}
	return len(ready)
}

// assign runs greedy first-fit, newest cluster first. A nil candidates
// pointer means every cluster; otherwise only *candidates is searched and a
// newly created cluster is appended to it as well as to the engine.
func (e *Engine) assign(m member, candidates *[]*Cluster, noDraw bool) {
	set := e.clusters
	if candidates != nil {
		set = *candidates
	}
	pos := e.host.CoordToPixel(m.marker.Coord())

	for i := len(set) - 1; i >= 0; i-- {
		c := set[i]
		if !c.contains(pos) {
			continue
		}
		c.addMember(m)
		if !noDraw {
			c.redraw(false)
		}
		return
	}

	e.nextID++
	c := newCluster(e, e.nextID)
	c.addMember(m)
	if !noDraw {
		c.redraw(false)
	}

	e.clusters = append(e.clusters, c)
	e.byID[c.id] = c
	if candidates != nil {
		*candidates = append(*candidates, c)
	}
}

func (e *Engine) drop(c *Cluster) {
	delete(e.byID, c.id)
	if i := slices.Index(e.clusters, c); i >= 0 {
		e.clusters = slices.Delete(e.clusters, i, i+1)
	}
}
