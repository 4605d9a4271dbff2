// Package cvsurface implements overlay.Surface on an OpenCV Mat so the
// annotated frame can be published as a JPEG.
package cvsurface

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/overlay"
)

// Surface draws onto a BGR Mat. It is not safe for concurrent use.
type Surface struct {
	mat       gocv.Mat
	font      gocv.HersheyFont
	fontScale float64
}

// FromImage copies img into a new Mat. The caller must Close the surface.
func FromImage(img image.Image) (*Surface, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("cvsurface: convert frame: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("cvsurface: empty frame")
	}
	return &Surface{
		mat:       mat,
		font:      gocv.FontHersheySimplex,
		fontScale: 0.5,
	}, nil
}

// StrokeRect outlines a rectangle. Sub-pixel widths round up to one pixel.
func (s *Surface) StrokeRect(x, y, w, h float64, c color.RGBA, lineWidth float64) {
	thickness := int(math.Max(1, math.Round(lineWidth)))
	gocv.Rectangle(&s.mat, rect(x, y, w, h), c, thickness)
}

// FillRect fills a rectangle.
func (s *Surface) FillRect(x, y, w, h float64, c color.RGBA) {
	gocv.Rectangle(&s.mat, rect(x, y, w, h), c, -1)
}

// FillText draws text whose vertical middle sits at y.
func (s *Surface) FillText(text string, x, y float64, c color.RGBA) {
	size := gocv.GetTextSize(text, s.font, s.fontScale, 1)
	baseline := image.Pt(int(math.Round(x)), int(math.Round(y))+size.Y/2)
	gocv.PutText(&s.mat, text, baseline, s.font, s.fontScale, c, 1)
}

// MeasureText returns the rendered width of text in pixels.
func (s *Surface) MeasureText(text string) float64 {
	return float64(gocv.GetTextSize(text, s.font, s.fontScale, 1).X)
}

// JPEG encodes the current contents.
func (s *Surface) JPEG(quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, s.mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("cvsurface: encode: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Size returns the frame dimensions.
func (s *Surface) Size() image.Point {
	return image.Pt(s.mat.Cols(), s.mat.Rows())
}

// Close releases the Mat.
func (s *Surface) Close() error {
	return s.mat.Close()
}

// Annotate draws detections onto a copy of frame and returns it as a JPEG.
func Annotate(frame image.Image, detections []catalog.Detection, colors *overlay.ColorCache, quality int) ([]byte, error) {
	s, err := FromImage(frame)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	overlay.Render(s, detections, colors)
	return s.JPEG(quality)
}

func rect(x, y, w, h float64) image.Rectangle {
	x0, y0 := int(math.Round(x)), int(math.Round(y))
	return image.Rect(x0, y0, x0+int(math.Round(w)), y0+int(math.Round(h)))
}

var _ overlay.Surface = (*Surface)(nil)
