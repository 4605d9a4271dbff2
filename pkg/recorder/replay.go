package recorder

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/teslashibe/go-shopcam/pkg/camera"
	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/detect"
)

// ErrEmpty is returned when replaying a log without entries.
var ErrEmpty = errors.New("recorder: nothing to replay")

// Replay is a Detector that returns recorded responses in order, wrapping
// around at the end. The frame is ignored.
type Replay struct {
	mu      sync.Mutex
	entries []*Entry
	next    int
}

// NewReplay creates a detector over entries.
func NewReplay(entries []*Entry) (*Replay, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	return &Replay{entries: entries}, nil
}

// OpenReplay loads a log file for replay.
func OpenReplay(path string) (*Replay, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewReplay(entries)
}

// Detect returns a copy of the next recorded result.
func (r *Replay) Detect(ctx context.Context, frame image.Image) (*detect.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	e := r.entries[r.next]
	r.next = (r.next + 1) % len(r.entries)
	r.mu.Unlock()

	return &detect.Result{
		Detections: append([]catalog.Detection(nil), e.Result.Detections...),
		Catalog:    append([]catalog.Entry(nil), e.Result.Catalog...),
	}, nil
}

// Len returns the number of recorded entries.
func (r *Replay) Len() int { return len(r.entries) }

// Camera returns a single-device frame source that serves a plain frame of
// the given size, for driving the capture loop from a replay.
func Camera(cfg camera.Config) *camera.Fake {
	src := camera.NewFake(camera.Device{ID: "replay", Label: "Replay (back)", Facing: camera.FacingBack})
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}}, image.Point{}, draw.Src)
	src.SetFrame(img)
	return src
}
