// Package termview is an interactive terminal host for a clustered map.
// Each terminal cell covers a fixed block of map pixels.
package termview

import (
	"context"
	"fmt"
	"image/color"
	"math"

	"github.com/gdamore/tcell/v2"

	"github.com/atlasmap-sc/clusterer/internal/render"
	"github.com/atlasmap-sc/clusterer/internal/service"
	"github.com/atlasmap-sc/clusterer/pkg/colormap"
)

// Config contains terminal view configuration.
type Config struct {
	CellWidth  int // map pixels per column
	CellHeight int // map pixels per row
	PanCells   int // columns or rows moved per arrow key
}

// View draws a map session onto a tcell screen and turns key presses into
// viewport changes.
type View struct {
	screen tcell.Screen
	svc    *service.MapService
	cfg    Config

	status string
}

// New creates a terminal view. The screen must already be initialized.
func New(screen tcell.Screen, svc *service.MapService, cfg Config) *View {
	if cfg.CellWidth <= 0 {
		cfg.CellWidth = 8
	}
	if cfg.CellHeight <= 0 {
		cfg.CellHeight = 16
	}
	if cfg.PanCells <= 0 {
		cfg.PanCells = 8
	}
	return &View{screen: screen, svc: svc, cfg: cfg}
}

// Fit sizes the map viewport to the screen, keeping one row for the status line.
func (v *View) Fit() error {
	cols, rows := v.screen.Size()
	rows = max(rows-1, 1)
	cur := v.svc.View()
	_, err := v.svc.SetView(cur.Center, cur.Zoom, cols*v.cfg.CellWidth, rows*v.cfg.CellHeight)
	return err
}

// Draw renders the visible placemarks and badges plus a status line.
func (v *View) Draw() {
	v.screen.Clear()
	cols, rows := v.screen.Size()
	mapRows := max(rows-1, 1)

	scene := v.svc.Scene()
	for _, d := range scene.Dots {
		x, y := v.cell(d.X, d.Y)
		if x < 0 || x >= cols || y < 0 || y >= mapRows {
			continue
		}
		style := tcell.StyleDefault.Foreground(toTcell(colormap.Categorical.ForCategory(d.Category)))
		v.screen.SetContent(x, y, '•', nil, style)
	}

	for _, b := range scene.Bubbles {
		x, y := v.cell(b.X, b.Y)
		if y < 0 || y >= mapRows {
			continue
		}
		label := []rune(render.Label(b.Count))
		style := tcell.StyleDefault.Reverse(true).Bold(true)
		start := x - len(label)/2
		for i, r := range label {
			if cx := start + i; cx >= 0 && cx < cols {
				v.screen.SetContent(cx, y, r, nil, style)
			}
		}
	}

	st := v.svc.Stats()
	line := fmt.Sprintf(" z%d  clusters %d  markers %d  pending %d  %s", st.Zoom, st.VisibleClusters, st.Markers, st.Pending, v.status)
	help := "arrows pan  +/- zoom  enter open  r redraw  q quit "
	v.drawText(0, rows-1, line, tcell.StyleDefault.Reverse(true))
	if len(line)+len(help) < cols {
		v.drawText(cols-len(help), rows-1, help, tcell.StyleDefault.Reverse(true))
	}
	v.screen.Show()
}

func (v *View) drawText(x, y int, s string, style tcell.Style) {
	cols, _ := v.screen.Size()
	for _, r := range s {
		if x >= cols {
			return
		}
		v.screen.SetContent(x, y, r, nil, style)
		x++
	}
}

func (v *View) cell(px, py float64) (int, int) {
	return int(math.Floor(px / float64(v.cfg.CellWidth))), int(math.Floor(py / float64(v.cfg.CellHeight)))
}

// HandleKey applies one key press. It reports false when the view should close.
func (v *View) HandleKey(key tcell.Key, r rune) bool {
	dx := float64(v.cfg.PanCells * v.cfg.CellWidth)
	dy := float64(v.cfg.PanCells * v.cfg.CellHeight)
	v.status = ""

	switch key {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyLeft:
		v.svc.Pan(-dx, 0)
	case tcell.KeyRight:
		v.svc.Pan(dx, 0)
	case tcell.KeyUp:
		v.svc.Pan(0, -dy)
	case tcell.KeyDown:
		v.svc.Pan(0, dy)
	case tcell.KeyEnter:
		v.open()
	case tcell.KeyRune:
		switch r {
		case 'q':
			return false
		case '+', '=':
			v.zoomBy(1)
		case '-', '_':
			v.zoomBy(-1)
		case 'r':
			v.screen.Sync()
		}
	}
	return true
}

func (v *View) zoomBy(dz int) {
	cur := v.svc.View()
	if _, err := v.svc.SetView(cur.Center, cur.Zoom+dz, 0, 0); err != nil {
		v.status = err.Error()
	}
}

// open zooms into the badge closest to the screen center.
func (v *View) open() {
	scene := v.svc.Scene()
	cx, cy := float64(scene.Width)/2, float64(scene.Height)/2

	var best *render.Bubble
	bestDist := math.Inf(1)
	for i := range scene.Bubbles {
		b := &scene.Bubbles[i]
		if d := math.Hypot(b.X-cx, b.Y-cy); d < bestDist {
			best, bestDist = b, d
		}
	}
	if best == nil {
		v.status = "no cluster on screen"
		return
	}
	if _, err := v.svc.ZoomToCluster(best.ID); err != nil {
		v.status = err.Error()
	}
}

// HandleEvent dispatches a tcell event. It reports false when the view should close.
func (v *View) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		return v.HandleKey(ev.Key(), ev.Rune())
	case *tcell.EventResize:
		if err := v.Fit(); err != nil {
			v.status = err.Error()
		}
		v.screen.Sync()
	}
	return true
}

// Run fits the map to the screen and processes events serially until the
// user quits or ctx is done.
func (v *View) Run(ctx context.Context) error {
	if err := v.Fit(); err != nil {
		return err
	}
	v.Draw()

	done := make(chan struct{})
	defer close(done)
	events := pollEvents(done, v.screen.PollEvent)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !v.HandleEvent(ev) {
				return nil
			}
			v.Draw()
		}
	}
}

func toTcell(c color.Color) tcell.Color {
	r, g, b, _ := c.RGBA()
	return tcell.NewRGBColor(int32(r>>8), int32(g>>8), int32(b>>8))
}

// pollEvents feeds polled events into a channel until poll returns nil or
// done is closed, then closes the channel.
func pollEvents(done <-chan struct{}, poll func() tcell.Event) <-chan tcell.Event {
	events := make(chan tcell.Event, 16)
	go func() {
		defer close(events)
		for {
			ev := poll()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-done:
				return
			}
		}
	}()
	return events
}
