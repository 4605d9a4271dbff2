// Package yolo runs a YOLOv8 ONNX grocery model with OpenCV DNN.
package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-shopcam/pkg/catalog"
)

// Classes are the grocery classes the model was trained on, by class id.
var Classes = []string{
	"apple", "banana", "bell-pepper", "carrot", "eggs", "instant-noodle",
	"lemon", "milk", "toilet-paper", "tuna-can", "yanyan-cracker", "yogurt",
}

// ErrEmptyImage is returned for undecodable input.
var ErrEmptyImage = errors.New("yolo: empty image")

// Config holds detector configuration.
type Config struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputSize        int
	Classes          []string
}

// DefaultConfig returns the thresholds the grocery model is tuned for.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/best.onnx",
		ConfidenceThresh: 0.7,
		NMSThresh:        0.7,
		InputSize:        640,
		Classes:          Classes,
	}
}

// Detector wraps a loaded network. The network is not reentrant, so calls
// are serialized.
type Detector struct {
	cfg Config
	mu  sync.Mutex
	net gocv.Net
}

// New loads the model at cfg.ModelPath.
func New(cfg Config) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("yolo: model file: %w", err)
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = Classes
	}
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("yolo: failed to load model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &Detector{cfg: cfg, net: net}, nil
}

// Predict detects grocery items in an encoded image (JPEG or PNG). Boxes
// are center/size in source image pixels.
func (d *Detector) Predict(ctx context.Context, encoded []byte) ([]catalog.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := gocv.IMDecode(encoded, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("yolo: decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, ErrEmptyImage
	}

	size := image.Pt(d.cfg.InputSize, d.cfg.InputSize)
	blob := gocv.BlobFromImage(img, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	// [1, 4+classes, anchors]
	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("yolo: unexpected output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("yolo: read output: %w", err)
	}

	scaleX := float32(img.Cols()) / float32(d.cfg.InputSize)
	scaleY := float32(img.Rows()) / float32(d.cfg.InputSize)
	cands := decode(data, dims[1], dims[2], d.cfg.ConfidenceThresh, scaleX, scaleY)
	return d.suppress(cands), nil
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

type candidate struct {
	box        image.Rectangle
	cx, cy     float32
	w, h       float32
	confidence float32
	classID    int
}

// decode reads a channel-major YOLOv8 head. Channel 0-3 are cx, cy, w, h
// in network pixels; the rest are per-class scores.
func decode(data []float32, channels, anchors int, thresh, scaleX, scaleY float32) []candidate {
	var out []candidate
	for i := 0; i < anchors; i++ {
		best, bestID := float32(0), -1
		for c := 4; c < channels; c++ {
			if s := data[c*anchors+i]; s > best {
				best, bestID = s, c-4
			}
		}
		if bestID < 0 || best < thresh {
			continue
		}
		cx := data[i] * scaleX
		cy := data[anchors+i] * scaleY
		w := data[2*anchors+i] * scaleX
		h := data[3*anchors+i] * scaleY
		out = append(out, candidate{
			box:        image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)),
			cx:         cx,
			cy:         cy,
			w:          w,
			h:          h,
			confidence: best,
			classID:    bestID,
		})
	}
	return out
}

func (d *Detector) suppress(cands []candidate) []catalog.Detection {
	if len(cands) == 0 {
		return nil
	}
	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.box
		scores[i] = c.confidence
	}
	keep := gocv.NMSBoxes(boxes, scores, d.cfg.ConfidenceThresh, d.cfg.NMSThresh)

	out := make([]catalog.Detection, 0, len(keep))
	for _, idx := range keep {
		c := cands[idx]
		out = append(out, catalog.Detection{
			ClassLabel: d.className(c.classID),
			CenterX:    float64(c.cx),
			CenterY:    float64(c.cy),
			Width:      float64(c.w),
			Height:     float64(c.h),
			Confidence: float64(c.confidence),
		})
	}
	return out
}

func (d *Detector) className(id int) string {
	if id >= 0 && id < len(d.cfg.Classes) {
		return d.cfg.Classes[id]
	}
	return fmt.Sprintf("class-%d", id)
}
