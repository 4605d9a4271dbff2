package capture

import (
	"errors"
	"time"

	"github.com/teslashibe/go-shopcam/pkg/camera"
	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/detect"
	"github.com/teslashibe/go-shopcam/pkg/overlay"
)

// State is the capture session state.
type State int

const (
	Idle State = iota
	Streaming
	Stopped // terminal, after Close
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Lifecycle errors.
var (
	ErrAlreadyStreaming = errors.New("capture: already streaming")
	ErrClosed           = errors.New("capture: session closed")
)

// Update is one applied detection cycle, published to the view.
type Update struct {
	Seq        uint64               `json:"seq"`
	Device     string               `json:"device"`
	Total      float64              `json:"total"`
	Rows       []catalog.PriceRow   `json:"rows"`
	Detections []catalog.Detection  `json:"detections"`
	Overlay    *overlay.DisplayList `json:"overlay"`
	At         time.Time            `json:"at"`

	// Frame is the annotated JPEG when a frame encoder is configured.
	Frame []byte `json:"-"`
}

// Snapshot is the current session state.
type Snapshot struct {
	State      State               `json:"state"`
	Device     string              `json:"device"`
	Total      float64             `json:"total"`
	Rows       []catalog.PriceRow  `json:"rows"`
	Detections []catalog.Detection `json:"detections"`
	Seq        uint64              `json:"seq"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// View receives results and alerts. Publish calls are serialized and Stop
// waits for one in progress, so implementations must not call Loop
// lifecycle methods from Publish.
type View interface {
	Publish(u Update)
	Alert(message string, err error)
}

// Navigator receives the checkout signal.
type Navigator interface {
	Checkout(total float64, rows []catalog.PriceRow)
}

// Recorder persists successful detection results.
type Recorder interface {
	Record(seq uint64, device string, res *detect.Result) error
}

// AlertMessage maps a start failure to the text shown to the user.
func AlertMessage(err error) string {
	switch {
	case errors.Is(err, camera.ErrPermissionDenied):
		return "Camera access is blocked. Enable it in settings"
	case errors.Is(err, camera.ErrDeviceUnavailable):
		return "Failed to access camera. Please check permissions."
	default:
		return "Failed to access camera."
	}
}
