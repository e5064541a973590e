package render

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"testing"
)

func TestRenderDrawsScene(t *testing.T) {
	r := NewSnapshotRenderer(Config{DefaultColormap: "plasma"})

	data, err := r.Render(Scene{
		Width:   200,
		Height:  100,
		Dots:    []Dot{{X: 20, Y: 20, Category: "cafe"}},
		Bubbles: []Bubble{{X: 150, Y: 50, Count: 12, Fill: "#ff0000"}},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Fatalf("unexpected size %v", b)
	}

	bg := color.RGBAModel.Convert(img.At(100, 90)).(color.RGBA)
	if bg != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("expected white background, got %v", bg)
	}
	dot := color.RGBAModel.Convert(img.At(20, 20)).(color.RGBA)
	if dot == bg {
		t.Error("expected placemark drawn at its position")
	}
	// Sample off the label, inside the badge.
	fill := color.RGBAModel.Convert(img.At(150, 40)).(color.RGBA)
	if fill.R < 200 || fill.G > 60 || fill.B > 60 {
		t.Errorf("expected red badge fill, got %v", fill)
	}
}

func TestRenderReusesContextsPerSize(t *testing.T) {
	r := NewSnapshotRenderer(Config{})
	for i := 0; i < 3; i++ {
		if _, err := r.Render(Scene{Width: 64, Height: 64}); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}
	if _, err := r.Render(Scene{Width: 32, Height: 16}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(r.contextPool) != 2 {
		t.Errorf("expected 2 context pools, got %d", len(r.contextPool))
	}
}

func TestLabelAndRadius(t *testing.T) {
	if got := Label(1234567); got != "1,234,567" {
		t.Errorf("unexpected label %q", got)
	}
	if BubbleRadius(1) != 12 || BubbleRadius(0) != 12 {
		t.Error("expected base radius for single members")
	}
	if r := BubbleRadius(1000); math.Abs(r-24) > 1e-9 {
		t.Errorf("expected radius 24 for 1000, got %v", r)
	}
}
