package overlay

import (
	"fmt"
	"image/color"
	"math"
	"math/rand"
	"sync"
)

// Label palette parameters: random hue, fixed saturation and lightness.
const (
	labelSaturation = 0.50
	labelLightness  = 0.75
)

// Text colors chosen by TextColor.
var (
	Black = color.RGBA{A: 0xFF}
	White = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
)

// ColorCache assigns each label a color the first time it is seen and
// returns the same color for the rest of the session.
type ColorCache struct {
	mu     sync.Mutex
	colors map[string]color.RGBA
	hue    func() float64 // returns [0,1)
}

// NewColorCache creates a cache drawing hues from rnd. A nil rnd uses the
// global source.
func NewColorCache(rnd func() float64) *ColorCache {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &ColorCache{
		colors: make(map[string]color.RGBA),
		hue:    rnd,
	}
}

// ColorOf returns the label's color, assigning one on first sight.
func (c *ColorCache) ColorOf(label string) color.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	if col, ok := c.colors[label]; ok {
		return col
	}
	col := HSL(c.hue()*360, labelSaturation, labelLightness)
	c.colors[label] = col
	return col
}

// Len returns the number of labels with an assigned color.
func (c *ColorCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.colors)
}

// HSL converts hue in degrees, saturation and lightness in [0,1] to RGB.
func HSL(h, s, l float64) color.RGBA {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	chroma := (1 - math.Abs(2*l-1)) * s
	x := chroma * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - chroma/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = chroma, x, 0
	case h < 120:
		r, g, b = x, chroma, 0
	case h < 180:
		r, g, b = 0, chroma, x
	case h < 240:
		r, g, b = 0, x, chroma
	case h < 300:
		r, g, b = x, 0, chroma
	default:
		r, g, b = chroma, 0, x
	}
	return color.RGBA{
		R: channel(r + m),
		G: channel(g + m),
		B: channel(b + m),
		A: 0xFF,
	}
}

func channel(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// Luminance returns 0.2126R + 0.7152G + 0.0722B on the 0-255 scale.
func Luminance(c color.RGBA) float64 {
	return 0.2126*float64(c.R) + 0.7152*float64(c.G) + 0.0722*float64(c.B)
}

// TextColor returns black on light backgrounds (luminance above 128) and
// white otherwise.
func TextColor(bg color.RGBA) color.RGBA {
	if Luminance(bg) > 128 {
		return Black
	}
	return White
}

// Hex formats c as #RRGGBB.
func Hex(c color.RGBA) string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

