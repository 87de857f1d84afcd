// Gradient interpolation adapted from
// https://github.com/lucasb-eyer/go-colorful/blob/master/doc/gradientgen/gradientgen.go

package util

import (
	"fmt"
	"image/color"
	"sort"

	"github.com/hsluv/hsluv-go"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// ColorMap is a table of gradient keypoints. Positions live in the range [0,1] and must be
// sorted.
type ColorMap []struct {
	Col colorful.Color
	Pos float64
}

// GetInterpolatedColorFor returns a linear RGB blend between the two keypoints around t.
func (g ColorMap) GetInterpolatedColorFor(t float64) colorful.Color {
	if t <= g[0].Pos {
		return g[0].Col
	}
	for i := 0; i < len(g)-1; i++ {
		c1 := g[i]
		c2 := g[i+1]
		if c1.Pos <= t && t <= c2.Pos {
			t := (t - c1.Pos) / (c2.Pos - c1.Pos)
			return c1.Col.BlendRgb(c2.Col, t).Clamped()
		}
	}

	// Nothing found? Means we're at (or past) the last gradient keypoint.
	return g[len(g)-1].Col
}

func mustParseHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic("MustParseHex: " + err.Error())
	}
	return c
}

// Palette maps an 8-bit intensity to a color.
type Palette [256]color.RGBA

// NewPalette samples the color map at every intensity level.
func NewPalette(g ColorMap) *Palette {
	var p Palette
	for i := range p {
		r, gr, b := g.GetInterpolatedColorFor(float64(i) / 255).RGB255()
		p[i] = color.RGBA{r, gr, b, 255}
	}
	return &p
}

// RampColorMap is the waterfall ramp: dark blue through orange at mid scale to red.
func RampColorMap() ColorMap {
	return ColorMap{
		{mustParseHex("#00008b"), 0.0},
		{mustParseHex("#ffa500"), 0.5},
		{mustParseHex("#ff0000"), 1.0},
	}
}

// GrayColorMap is a black to white ramp.
func GrayColorMap() ColorMap {
	return ColorMap{
		{mustParseHex("#000000"), 0.0},
		{mustParseHex("#ffffff"), 1.0},
	}
}

// HsluvColorMap sweeps hue from blue to red at rising lightness in the HSLuv space so
// equal intensity steps look roughly equal.
func HsluvColorMap(steps int) ColorMap {
	if steps < 2 {
		steps = 2
	}
	g := make(ColorMap, steps)
	for i := range g {
		t := float64(i) / float64(steps-1)
		r, gr, b := hsluv.HsluvToRGB(265-255*t, 100, 15+70*t)
		g[i].Col = colorful.Color{R: r, G: gr, B: b}.Clamped()
		g[i].Pos = t
	}
	return g
}

var palettes = map[string]func() ColorMap{
	"ramp":  RampColorMap,
	"gray":  GrayColorMap,
	"hsluv": func() ColorMap { return HsluvColorMap(16) },
}

// PaletteNames lists the names accepted by PaletteByName.
func PaletteNames() []string {
	names := make([]string, 0, len(palettes))
	for n := range palettes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PaletteByName builds a named palette. The name "none" returns a nil palette, meaning
// plain grayscale output.
func PaletteByName(name string) (*Palette, error) {
	if name == "" || name == "none" {
		return nil, nil
	}
	g, ok := palettes[name]
	if !ok {
		return nil, fmt.Errorf("unknown palette %q (have %v)", name, PaletteNames())
	}
	return NewPalette(g()), nil
}
