package overlay

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-shopcam/pkg/catalog"
)

// fixedHue returns the given hues in order, then repeats the last.
func fixedHue(hues ...float64) func() float64 {
	i := 0
	return func() float64 {
		h := hues[i]
		if i < len(hues)-1 {
			i++
		}
		return h
	}
}

func TestTextColor(t *testing.T) {
	assert.Equal(t, Black, TextColor(color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}), "#FFFFFF")
	assert.Equal(t, White, TextColor(color.RGBA{A: 0xFF}), "#000000")

	// Pure blue: 0.0722 * 255 = 18.4
	assert.Equal(t, White, TextColor(color.RGBA{B: 0xFF, A: 0xFF}))
	// Pure green: 0.7152 * 255 = 182.4
	assert.Equal(t, Black, TextColor(color.RGBA{G: 0xFF, A: 0xFF}))
}

func TestHSL(t *testing.T) {
	tests := []struct {
		h, s, l float64
		want    string
	}{
		{0, 1, 0.5, "#FF0000"},
		{120, 1, 0.5, "#00FF00"},
		{240, 1, 0.5, "#0000FF"},
		{0, 0.5, 0.75, "#DF9F9F"},
		{360, 1, 0.5, "#FF0000"},
		{0, 0, 1, "#FFFFFF"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Hex(HSL(tt.h, tt.s, tt.l)), "hsl(%v,%v,%v)", tt.h, tt.s, tt.l)
	}
}

func TestColorCache_StablePerLabel(t *testing.T) {
	cache := NewColorCache(fixedHue(0, 1.0/3, 2.0/3))

	apple := cache.ColorOf("apple")
	milk := cache.ColorOf("milk")
	assert.NotEqual(t, apple, milk)
	assert.Equal(t, apple, cache.ColorOf("apple"))
	assert.Equal(t, milk, cache.ColorOf("milk"))
	assert.Equal(t, 2, cache.Len())
}

func TestColorCache_PastelPalette(t *testing.T) {
	cache := NewColorCache(nil)
	for _, label := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		c := cache.ColorOf(label)
		assert.Equal(t, Black, TextColor(c), "lightness 75%% keeps text black for %s", label)
	}
}

func TestHex(t *testing.T) {
	assert.Equal(t, "#1A2B3C", Hex(color.RGBA{R: 0x1A, G: 0x2B, B: 0x3C, A: 0xFF}))
}

func TestRender_Geometry(t *testing.T) {
	cache := NewColorCache(fixedHue(0))
	list := &DisplayList{GlyphWidth: 10}

	Render(list, []catalog.Detection{
		{ClassLabel: "apple", CenterX: 100, CenterY: 100, Width: 40, Height: 20},
	}, cache)

	require.Len(t, list.Ops, 3)
	box, bg, text := list.Ops[0], list.Ops[1], list.Ops[2]

	assert.Equal(t, Op{Kind: OpStrokeRect, X: 80, Y: 90, W: 40, H: 20, Color: "#DF9F9F", LineWidth: 1.5}, box)
	// Tab sits above the box: y1 - 16 - 3, sized (textWidth + 6, 22).
	assert.Equal(t, Op{Kind: OpFillRect, X: 80, Y: 71, W: 56, H: 22, Color: "#DF9F9F"}, bg)
	assert.Equal(t, Op{Kind: OpFillText, X: 83, Y: 82, Color: "#000000", Text: "apple"}, text)
}

func TestRender_SharedColorPerLabel(t *testing.T) {
	cache := NewColorCache(fixedHue(0, 0.5))
	list := NewDisplayList()

	Render(list, []catalog.Detection{
		{ClassLabel: "apple", CenterX: 10, CenterY: 10, Width: 4, Height: 4},
		{ClassLabel: "milk", CenterX: 50, CenterY: 50, Width: 4, Height: 4},
		{ClassLabel: "apple", CenterX: 90, CenterY: 90, Width: 4, Height: 4},
	}, cache)

	require.Len(t, list.Ops, 9)
	assert.Equal(t, list.Ops[0].Color, list.Ops[6].Color)
	assert.NotEqual(t, list.Ops[0].Color, list.Ops[3].Color)
}

func TestRender_Empty(t *testing.T) {
	list := NewDisplayList()
	Render(list, nil, NewColorCache(nil))
	assert.Empty(t, list.Ops)
}
