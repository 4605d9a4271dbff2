// Package detect sends still frames to the remote object detector and
// returns the detections together with the detector's price catalog.
package detect

import (
	"context"
	"image"

	"github.com/teslashibe/go-shopcam/pkg/catalog"
)

// Result is one detector response.
type Result struct {
	Detections []catalog.Detection `json:"detections"`
	Catalog    []catalog.Entry     `json:"item_prices"`
}

// Detector turns a frame into detections and a catalog snapshot.
//
// Implementations must be safe for concurrent use; the capture loop may
// have more than one call in flight.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) (*Result, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, frame image.Image) (*Result, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, frame image.Image) (*Result, error) {
	return f(ctx, frame)
}
