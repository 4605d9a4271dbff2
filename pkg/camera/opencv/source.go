// Package opencv implements camera.Source on local V4L2 devices through
// OpenCV's VideoCapture.
package opencv

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-shopcam/pkg/camera"
)

// Source reads frames from one local camera at a time.
type Source struct {
	cfg     camera.Config
	sysRoot string
	devDir  string
	labels  map[string]string
	logger  *slog.Logger

	mu       sync.Mutex
	capture  *gocv.VideoCapture
	deviceID string
	latest   image.Image
	done     chan struct{}
	stopped  chan struct{}
}

// Option configures a Source.
type Option func(*Source)

// WithConfig sets resolution and framerate.
func WithConfig(cfg camera.Config) Option {
	return func(s *Source) { s.cfg = cfg }
}

// WithLabels overrides device labels by index ("0" -> "Back shelf camera").
func WithLabels(labels map[string]string) Option {
	return func(s *Source) { s.labels = labels }
}

// WithSysfsRoot changes where V4L2 devices are enumerated from.
func WithSysfsRoot(dir string) Option {
	return func(s *Source) { s.sysRoot = dir }
}

// WithDevDir changes where device nodes are opened for the permission check.
func WithDevDir(dir string) Option {
	return func(s *Source) { s.devDir = dir }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// NewSource creates an OpenCV camera source.
func NewSource(opts ...Option) *Source {
	s := &Source{
		cfg:     camera.DefaultConfig(),
		sysRoot: "/sys/class/video4linux",
		devDir:  "/dev",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "camera.opencv")
	return s
}

// ListDevices enumerates V4L2 capture devices, back-facing first.
func (s *Source) ListDevices(ctx context.Context) ([]camera.Device, error) {
	devices, err := enumerate(s.sysRoot, s.labels)
	if err != nil {
		return nil, err
	}
	return camera.SortDevices(devices), nil
}

// Permission returns a checker for the given device node.
func (s *Source) Permission(id string) camera.PermissionChecker {
	return camera.PermissionFunc(func(ctx context.Context) (camera.PermissionState, error) {
		return devicePermission(s.devDir, id)
	})
}

// Start opens the device and begins reading frames in the background.
func (s *Source) Start(ctx context.Context, deviceID string) error {
	index, err := strconv.Atoi(deviceID)
	if err != nil {
		return fmt.Errorf("%w: %q", camera.ErrDeviceUnavailable, deviceID)
	}
	if err := camera.CheckPermission(ctx, s.Permission(deviceID)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		return fmt.Errorf("%w: %s already open", camera.ErrDeviceUnavailable, s.deviceID)
	}

	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return fmt.Errorf("%w: %v", camera.ErrDeviceUnavailable, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("%w: video%d", camera.ErrDeviceUnavailable, index)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(s.cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(s.cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(s.cfg.Framerate))

	s.capture = vc
	s.deviceID = deviceID
	s.latest = nil
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.readLoop(vc, s.done, s.stopped)

	s.logger.Info("camera started", "device", deviceID,
		"width", s.cfg.Width, "height", s.cfg.Height, "fps", s.cfg.Framerate)
	return nil
}

func (s *Source) readLoop(vc *gocv.VideoCapture, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	mat := gocv.NewMat()
	defer mat.Close()

	misses := 0
	for {
		select {
		case <-done:
			return
		default:
		}

		if ok := vc.Read(&mat); !ok || mat.Empty() {
			misses++
			if misses%100 == 1 {
				s.logger.Warn("camera read failed", "misses", misses)
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		misses = 0

		img, err := mat.ToImage()
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.latest = img
		s.mu.Unlock()
	}
}

// Stop releases the device. The read loop exits before the capture closes.
func (s *Source) Stop() error {
	s.mu.Lock()
	vc, done, stopped, id := s.capture, s.done, s.stopped, s.deviceID
	s.capture, s.done, s.stopped, s.deviceID, s.latest = nil, nil, nil, "", nil
	s.mu.Unlock()

	if vc == nil {
		return nil
	}
	close(done)
	<-stopped
	s.logger.Info("camera stopped", "device", id)
	return vc.Close()
}

// CurrentFrame returns the latest captured frame.
func (s *Source) CurrentFrame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return nil, camera.ErrNotStreaming
	}
	if s.latest == nil {
		return nil, fmt.Errorf("%w: no frame yet", camera.ErrNotStreaming)
	}
	return s.latest, nil
}

var _ camera.Source = (*Source)(nil)
