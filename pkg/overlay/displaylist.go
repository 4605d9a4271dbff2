package overlay

import (
	"image/color"
	"unicode/utf8"
)

// Op is one recorded drawing command.
type Op struct {
	Kind      string  `json:"kind"` // stroke_rect, fill_rect, fill_text
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	W         float64 `json:"w,omitempty"`
	H         float64 `json:"h,omitempty"`
	Color     string  `json:"color"`
	LineWidth float64 `json:"line_width,omitempty"`
	Text      string  `json:"text,omitempty"`
}

// Op kinds.
const (
	OpStrokeRect = "stroke_rect"
	OpFillRect   = "fill_rect"
	OpFillText   = "fill_text"
)

// DisplayList is a Surface that records commands instead of drawing them.
// The dashboard replays it on a canvas over the live video.
type DisplayList struct {
	Ops []Op `json:"ops"`

	// GlyphWidth is the advance used by MeasureText.
	GlyphWidth float64 `json:"-"`
}

// NewDisplayList returns an empty list with an advance that approximates a
// 16px sans-serif face.
func NewDisplayList() *DisplayList {
	return &DisplayList{GlyphWidth: 8.5}
}

func (l *DisplayList) StrokeRect(x, y, w, h float64, c color.RGBA, lineWidth float64) {
	l.Ops = append(l.Ops, Op{Kind: OpStrokeRect, X: x, Y: y, W: w, H: h, Color: Hex(c), LineWidth: lineWidth})
}

func (l *DisplayList) FillRect(x, y, w, h float64, c color.RGBA) {
	l.Ops = append(l.Ops, Op{Kind: OpFillRect, X: x, Y: y, W: w, H: h, Color: Hex(c)})
}

func (l *DisplayList) FillText(text string, x, y float64, c color.RGBA) {
	l.Ops = append(l.Ops, Op{Kind: OpFillText, X: x, Y: y, Color: Hex(c), Text: text})
}

func (l *DisplayList) MeasureText(text string) float64 {
	return float64(utf8.RuneCountInString(text)) * l.GlyphWidth
}

var _ Surface = (*DisplayList)(nil)
