// Package overlay draws detection boxes and labels onto a drawing surface.
package overlay

import (
	"image/color"

	"github.com/teslashibe/go-shopcam/pkg/catalog"
)

// Label box geometry, in pixels.
const (
	LineWidth  = 1.5
	Padding    = 3.0
	TextHeight = 16.0
)

// Surface is a 2D drawing target. Coordinates are frame pixels with the
// origin at the top left.
type Surface interface {
	StrokeRect(x, y, w, h float64, c color.RGBA, lineWidth float64)
	FillRect(x, y, w, h float64, c color.RGBA)
	// FillText draws text with its left edge at x and vertical middle at y.
	FillText(text string, x, y float64, c color.RGBA)
	MeasureText(text string) float64
}

// Render draws every detection onto s: the box outline in the label's color
// and a filled label tab directly above the box.
func Render(s Surface, detections []catalog.Detection, colors *ColorCache) {
	for _, d := range detections {
		x1, y1 := d.TopLeft()
		c := colors.ColorOf(d.ClassLabel)

		s.StrokeRect(x1, y1, d.Width, d.Height, c, LineWidth)

		textWidth := s.MeasureText(d.ClassLabel)
		bgY := y1 - TextHeight - Padding
		s.FillRect(x1, bgY, textWidth+Padding*2, TextHeight+Padding*2, c)
		s.FillText(d.ClassLabel, x1+Padding, bgY+Padding+TextHeight/2, TextColor(c))
	}
}
