// Package render draws viewport snapshots of clustered maps using fogleman/gg.
package render

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fogleman/gg"

	"github.com/atlasmap-sc/clusterer/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	DefaultColormap string
	MarkerRadius    float64
}

// Dot is a visible placemark in viewport pixels.
type Dot struct {
	X, Y     float64
	Category string
}

// Bubble is a visible cluster badge in viewport pixels.
type Bubble struct {
	ID    uint64 // cluster ID
	X, Y  float64
	Count int
	Fill  string // optional "#rrggbb" override from the badge style
}

// Scene is everything visible in one viewport.
type Scene struct {
	Width, Height int
	Dots          []Dot
	Bubbles       []Bubble
	Colormap      string
}

// SnapshotRenderer renders scenes to PNG.
type SnapshotRenderer struct {
	config Config

	mu          sync.Mutex
	contextPool map[[2]int]*sync.Pool
	bufferPool  sync.Pool
}

// NewSnapshotRenderer creates a new snapshot renderer.
func NewSnapshotRenderer(cfg Config) *SnapshotRenderer {
	if cfg.MarkerRadius <= 0 {
		cfg.MarkerRadius = 4
	}
	if _, ok := colormap.ByName(cfg.DefaultColormap); !ok {
		cfg.DefaultColormap = "viridis"
	}
	return &SnapshotRenderer{
		config:      cfg,
		contextPool: make(map[[2]int]*sync.Pool),
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

// Render draws placemarks first and badges on top.
func (r *SnapshotRenderer) Render(s Scene) ([]byte, error) {
	pool := r.pool(s.Width, s.Height)
	dc := pool.Get().(*gg.Context)
	defer pool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	for _, d := range s.Dots {
		dc.DrawCircle(d.X, d.Y, r.config.MarkerRadius)
		dc.SetColor(colormap.Categorical.ForCategory(d.Category))
		dc.FillPreserve()
		dc.SetColor(color.White)
		dc.SetLineWidth(1)
		dc.Stroke()
	}

	cmap, ok := colormap.ByName(s.Colormap)
	if !ok {
		cmap, _ = colormap.ByName(r.config.DefaultColormap)
	}
	largest := 0
	for _, b := range s.Bubbles {
		largest = max(largest, b.Count)
	}

	for _, b := range s.Bubbles {
		var fill color.Color = cmap.ForCount(b.Count, largest)
		if b.Fill != "" {
			if c, err := colormap.ParseHex(b.Fill); err == nil {
				fill = c
			}
		}
		radius := BubbleRadius(b.Count)

		dc.DrawCircle(b.X, b.Y, radius)
		dc.SetColor(fill)
		dc.FillPreserve()
		dc.SetColor(color.Black)
		dc.SetLineWidth(1.5)
		dc.Stroke()

		dc.SetColor(labelColor(fill))
		dc.DrawStringAnchored(Label(b.Count), b.X, b.Y, 0.5, 0.35)
	}

	return r.encodeContext(dc)
}

// BubbleRadius grows with the order of magnitude of count.
func BubbleRadius(count int) float64 {
	if count < 1 {
		count = 1
	}
	return 12 + 4*math.Log10(float64(count))
}

// Label formats a badge count with thousands separators.
func Label(count int) string {
	return humanize.Comma(int64(count))
}

func labelColor(fill color.Color) color.Color {
	r, g, b, _ := fill.RGBA()
	// Rec. 601 luma on 16-bit channels.
	if 0.299*float64(r)+0.587*float64(g)+0.114*float64(b) > 0.5*0xffff {
		return color.Black
	}
	return color.White
}

func (r *SnapshotRenderer) pool(w, h int) *sync.Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := [2]int{w, h}
	p, ok := r.contextPool[key]
	if !ok {
		p = &sync.Pool{
			New: func() interface{} {
				return gg.NewContext(w, h)
			},
		}
		r.contextPool[key] = p
	}
	return p
}

func (r *SnapshotRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
