package render

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"microbiome/internal/sim"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.RGBA
	}{
		{"#ff0000", color.RGBA{255, 0, 0, 255}},
		{"#00ff00", color.RGBA{0, 255, 0, 255}},
		{"not-a-color", fallback},
		{"", fallback},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := color.RGBAModel.Convert(ParseColor(tt.in)).(color.RGBA)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrameDrawsEntities(t *testing.T) {
	snap := sim.Snapshot{
		Size: 100,
		Organisms: []sim.EntitySnapshot{
			{ID: 1, Pos: [2]float64{50, 50}, Radius: 10, Mass: 100, Color: "#ff0000"},
		},
		Food: []sim.EntitySnapshot{
			{ID: 2, Pos: [2]float64{10, 10}, Radius: 1, Mass: 1, Color: "#00ff00"},
		},
	}
	img, err := Frame(snap, 200)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 200 {
		t.Fatalf("bounds %v", b)
	}

	// Arena coordinates are scaled by 2.
	center := color.RGBAModel.Convert(img.At(100, 100)).(color.RGBA)
	if center.R < 200 || center.G > 50 {
		t.Errorf("organism pixel should be red, got %v", center)
	}
	pellet := color.RGBAModel.Convert(img.At(20, 20)).(color.RGBA)
	if pellet.G < 200 || pellet.R > 50 {
		t.Errorf("pellet pixel should be green, got %v", pellet)
	}
	corner := color.RGBAModel.Convert(img.At(3, 190)).(color.RGBA)
	if corner != background {
		t.Errorf("empty area should be background, got %v", corner)
	}
}

func TestFrameRejectsBadSize(t *testing.T) {
	for _, size := range []int{0, -1, MaxSize + 1} {
		if _, err := Frame(sim.Snapshot{Size: 10}, size); err == nil {
			t.Errorf("size %d should be rejected", size)
		}
	}
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePNG(&buf, sim.Snapshot{Size: 50}, 64); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 64 {
		t.Errorf("width %d", img.Bounds().Dx())
	}
}
