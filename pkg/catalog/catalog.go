// Package catalog holds the detection and price types shared by the capture
// loop and the inference backend, and the pure price aggregation over them.
package catalog

import (
	"fmt"

	"golang.org/x/text/cases"
)

// Detection is one object found in a frame. Coordinates are in frame pixels;
// CenterX/CenterY locate the box center.
type Detection struct {
	ClassLabel string  `json:"class"`
	CenterX    float64 `json:"center_x"`
	CenterY    float64 `json:"center_y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence,omitempty"`

	// Price is the backend's own lookup; the client prices against the
	// catalog snapshot instead.
	Price float64 `json:"price,omitempty"`
}

// TopLeft returns the upper-left corner of the box.
func (d Detection) TopLeft() (x, y float64) {
	return d.CenterX - d.Width/2, d.CenterY - d.Height/2
}

// Entry is a catalog item name and its unit price.
type Entry struct {
	Name  string  `json:"Name"`
	Price float64 `json:"Price"`
}

// PriceRow is one display row per detection.
type PriceRow struct {
	Label   string  `json:"label"`
	Price   float64 `json:"price"`
	Matched bool    `json:"matched"`
}

// Display renders the price column: the price, or "N/A" when unmatched.
func (r PriceRow) Display() string {
	if !r.Matched {
		return "N/A"
	}
	return FormatPrice(r.Price)
}

// Fold returns the case-folded form of a name used for matching.
// A Caser is stateful, so each call gets its own.
func Fold(name string) string {
	return cases.Fold().String(name)
}

// SameName reports whether two item names match case-insensitively.
// Matching is exact after folding, never substring or fuzzy.
func SameName(a, b string) bool {
	return Fold(a) == Fold(b)
}

// Aggregate prices the detections against the catalog. For each detection
// the first entry with the same name (case-insensitive) is used; detections
// without a match get an unmatched row and contribute nothing to the total.
func Aggregate(detections []Detection, entries []Entry) (float64, []PriceRow) {
	folded := make([]string, len(entries))
	for i, e := range entries {
		folded[i] = Fold(e.Name)
	}

	total := 0.0
	rows := make([]PriceRow, 0, len(detections))
	for _, d := range detections {
		label := Fold(d.ClassLabel)
		row := PriceRow{Label: d.ClassLabel}
		for i, name := range folded {
			if name == label {
				row.Price = entries[i].Price
				row.Matched = true
				total += row.Price
				break
			}
		}
		rows = append(rows, row)
	}
	return total, rows
}

// FormatPrice renders an amount as dollars with two decimals.
func FormatPrice(amount float64) string {
	return fmt.Sprintf("$%.2f", amount)
}
