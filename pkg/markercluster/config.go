package markercluster

import (
	"io"
	"log"
	"math"
)

const (
	// DefaultGridRadius is the footprint half-width in pixels.
	DefaultGridRadius = 60.0
	// DefaultMaxZoom is the zoom at which clusters always expand.
	DefaultMaxZoom = 16
	// UseHostMaxZoom makes the engine follow Host.MaxZoom instead of a fixed level.
	UseHostMaxZoom = -1
)

// Config contains engine configuration. The zero value is valid.
type Config struct {
	// GridRadius is the proximity radius in pixels. Non-positive or
	// non-finite values fall back to DefaultGridRadius.
	GridRadius float64
	// MaxZoom is the zoom level at or above which clusters expand. Zero means
	// DefaultMaxZoom, UseHostMaxZoom defers to the host, other negatives are
	// treated as zero.
	MaxZoom int
	// BadgeStyle is passed to Host.NewBadge untouched. Empty means no style.
	BadgeStyle Style
	// Logger receives engine diagnostics. Nil discards them.
	Logger *log.Logger
}

func (c Config) withDefaults() Config {
	if c.GridRadius <= 0 || math.IsNaN(c.GridRadius) || math.IsInf(c.GridRadius, 0) {
		c.GridRadius = DefaultGridRadius
	}
	if c.MaxZoom == 0 || (c.MaxZoom < 0 && c.MaxZoom != UseHostMaxZoom) {
		c.MaxZoom = DefaultMaxZoom
	}
	if len(c.BadgeStyle) == 0 {
		c.BadgeStyle = nil
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
	return c
}
