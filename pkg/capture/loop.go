// Package capture runs the shopping session: it samples the camera on a
// fixed cadence, prices each detection batch and publishes the result.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-shopcam/internal/clock"
	"github.com/teslashibe/go-shopcam/pkg/camera"
	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/detect"
	"github.com/teslashibe/go-shopcam/pkg/overlay"
)

// DefaultInterval is the sampling cadence.
const DefaultInterval = 1000 * time.Millisecond

// FrameEncoder draws the detections onto a frame and encodes it for display.
type FrameEncoder func(frame image.Image, detections []catalog.Detection, colors *overlay.ColorCache) ([]byte, error)

// Config holds loop configuration.
type Config struct {
	Interval time.Duration
	Clock    clock.Clock
	Colors   *overlay.ColorCache
	Recorder Recorder
	Encoder  FrameEncoder
	Logger   *slog.Logger
}

// Option is a functional option for configuring the loop.
type Option func(*Config)

// WithInterval sets the sampling cadence.
func WithInterval(d time.Duration) Option {
	return func(c *Config) { c.Interval = d }
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

// WithColors injects the session color cache.
func WithColors(cache *overlay.ColorCache) Option {
	return func(c *Config) { c.Colors = cache }
}

// WithRecorder records every successful detection result.
func WithRecorder(r Recorder) Option {
	return func(c *Config) { c.Recorder = r }
}

// WithFrameEncoder publishes annotated frames alongside each update.
func WithFrameEncoder(enc FrameEncoder) Option {
	return func(c *Config) { c.Encoder = enc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns a one second cadence on the wall clock.
func DefaultConfig() *Config {
	return &Config{
		Interval: DefaultInterval,
		Clock:    clock.New(),
		Logger:   slog.Default(),
	}
}

// Loop is one shopping session.
//
// Every tick starts a cycle on its own goroutine, so detector calls may
// overlap. Each cycle carries a sequence number and the generation it was
// started in; a result is applied only if it is newer than the last applied
// one and its generation is still streaming. Stop and SwitchDevice bump the
// generation, which discards anything in flight. Frames are encoded outside
// the session lock; publishes are serialized and rechecked before delivery.
type Loop struct {
	source   camera.Source
	detector detect.Detector
	view     View
	nav      Navigator

	cfg     *Config
	colors  *overlay.ColorCache
	logger  *slog.Logger
	metrics *metrics

	ctx    context.Context
	cancel context.CancelFunc

	// opMu serializes lifecycle operations.
	opMu sync.Mutex

	// pubMu serializes delivery to the view. Stop takes it after bumping the
	// generation so no publish is in progress once the device is released.
	pubMu sync.Mutex

	mu         sync.Mutex
	state      State
	device     string
	generation uint64
	nextSeq    uint64
	appliedSeq uint64
	total      float64
	rows       []catalog.PriceRow
	detections []catalog.Detection
	updatedAt  time.Time
	ticker     clock.Ticker
	tickerDone chan struct{}

	inflight sync.WaitGroup
}

// New creates an idle session.
func New(source camera.Source, detector detect.Detector, view View, nav Navigator, opts ...Option) *Loop {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	colors := cfg.Colors
	if colors == nil {
		colors = overlay.NewColorCache(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		source:   source,
		detector: detector,
		view:     view,
		nav:      nav,
		cfg:      cfg,
		colors:   colors,
		logger:   cfg.Logger.With("component", "capture"),
		metrics:  newMetrics(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Devices lists the cameras the session can use.
func (l *Loop) Devices(ctx context.Context) ([]camera.Device, error) {
	return l.source.ListDevices(ctx)
}

// Start acquires the device and begins sampling. On failure the session
// stays Idle and the view is alerted.
func (l *Loop) Start(ctx context.Context, deviceID string) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	return l.start(ctx, deviceID)
}

func (l *Loop) start(ctx context.Context, deviceID string) error {
	l.mu.Lock()
	state := l.state
	l.mu.Unlock()

	switch state {
	case Stopped:
		return ErrClosed
	case Streaming:
		return ErrAlreadyStreaming
	}

	if err := l.source.Start(ctx, deviceID); err != nil {
		l.logger.Warn("camera start failed", "device", deviceID, "error", err)
		l.view.Alert(AlertMessage(err), err)
		return fmt.Errorf("capture: start %s: %w", deviceID, err)
	}

	l.mu.Lock()
	l.state = Streaming
	l.device = deviceID
	l.generation++
	gen := l.generation
	l.ticker = l.cfg.Clock.NewTicker(l.cfg.Interval)
	l.tickerDone = make(chan struct{})
	go l.run(gen, l.ticker, l.tickerDone)
	l.mu.Unlock()

	l.logger.Info("streaming", "device", deviceID, "interval", l.cfg.Interval)
	return nil
}

// run starts one cycle per tick until done is closed.
func (l *Loop) run(gen uint64, ticker clock.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			seq, device, ok := l.beginCycle(gen)
			if !ok {
				return
			}
			l.inflight.Add(1)
			go func() {
				defer l.inflight.Done()
				l.cycle(gen, seq, device)
			}()
		}
	}
}

// beginCycle assigns the next sequence number if gen is still streaming.
func (l *Loop) beginCycle(gen uint64) (uint64, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Streaming || l.generation != gen {
		return 0, "", false
	}
	l.nextSeq++
	return l.nextSeq, l.device, true
}

// cycle samples, detects, prices and applies one frame.
func (l *Loop) cycle(gen, seq uint64, device string) {
	ctx := l.ctx
	l.metrics.cycle(ctx)

	frame, err := l.source.CurrentFrame()
	if err != nil {
		l.metrics.failure(ctx, "frame")
		l.logger.Debug("no frame", "seq", seq, "error", err)
		return
	}

	start := l.cfg.Clock.Now()
	res, err := l.detector.Detect(ctx, frame)
	elapsed := l.cfg.Clock.Now().Sub(start)
	l.metrics.detectDuration(ctx, elapsed, err == nil)
	if err != nil {
		var apiErr *detect.APIError
		if errors.As(err, &apiErr) && apiErr.IsRateLimited() {
			l.metrics.failure(ctx, "rate_limited")
			l.logger.Debug("detector rate limited", "seq", seq)
			return
		}
		l.metrics.failure(ctx, "detect")
		l.logger.Warn("detect failed", "seq", seq, "error", err)
		return
	}
	if res == nil {
		res = &detect.Result{}
	}

	total, rows := catalog.Aggregate(res.Detections, res.Catalog)
	if !l.apply(gen, seq, frame, res.Detections, total, rows) {
		return
	}

	if l.cfg.Recorder != nil {
		if err := l.cfg.Recorder.Record(seq, device, res); err != nil {
			l.logger.Warn("record failed", "seq", seq, "error", err)
		}
	}
}

// apply stores a cycle's result and publishes it. It reports false when the
// result is stale.
func (l *Loop) apply(gen, seq uint64, frame image.Image, detections []catalog.Detection, total float64, rows []catalog.PriceRow) bool {
	u, ok := l.commit(gen, seq, detections, total, rows)
	if !ok {
		return false
	}

	if l.cfg.Encoder != nil && frame != nil {
		jpeg, err := l.cfg.Encoder(frame, detections, l.colors)
		if err != nil {
			l.logger.Warn("annotate frame failed", "seq", seq, "error", err)
		} else {
			u.Frame = jpeg
		}
	}

	l.publish(gen, u)
	return true
}

// currentLocked reports whether gen is still streaming. Caller holds mu.
func (l *Loop) currentLocked(gen uint64) bool {
	return l.state == Streaming && l.generation == gen
}

// commit records the result as the session state and builds its update.
func (l *Loop) commit(gen, seq uint64, detections []catalog.Detection, total float64, rows []catalog.PriceRow) (Update, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.currentLocked(gen) || seq <= l.appliedSeq {
		l.metrics.discard(l.ctx)
		l.logger.Debug("discarding stale result", "seq", seq, "applied", l.appliedSeq,
			"generation", gen, "current", l.generation)
		return Update{}, false
	}

	l.appliedSeq = seq
	l.total = total
	l.rows = rows
	l.detections = detections
	l.updatedAt = l.cfg.Clock.Now()

	list := overlay.NewDisplayList()
	overlay.Render(list, detections, l.colors)

	return Update{
		Seq:        seq,
		Device:     l.device,
		Total:      total,
		Rows:       rows,
		Detections: detections,
		Overlay:    list,
		At:         l.updatedAt,
	}, true
}

// publish delivers u unless a newer result was applied or the session
// stopped while the frame was being encoded.
func (l *Loop) publish(gen uint64, u Update) {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	ok := l.currentLocked(gen) && l.appliedSeq == u.Seq
	l.mu.Unlock()
	if !ok {
		l.metrics.discard(l.ctx)
		l.logger.Debug("dropping superseded update", "seq", u.Seq, "generation", gen)
		return
	}
	l.view.Publish(u)
}

// Stop releases the camera and returns to Idle. Results still in flight
// are discarded. Stopping while idle is a no-op.
func (l *Loop) Stop() error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	return l.stop()
}

func (l *Loop) stop() error {
	l.mu.Lock()
	if l.state != Streaming {
		l.mu.Unlock()
		return nil
	}
	device := l.device
	l.generation++
	l.ticker.Stop()
	close(l.tickerDone)
	l.ticker, l.tickerDone = nil, nil
	l.mu.Unlock()

	// Wait out a publish that passed its check before the bump.
	l.pubMu.Lock()
	l.pubMu.Unlock()

	err := l.source.Stop()

	l.mu.Lock()
	l.state = Idle
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("camera release failed", "device", device, "error", err)
		return fmt.Errorf("capture: stop %s: %w", device, err)
	}
	l.logger.Info("stopped", "device", device)
	return nil
}

// SwitchDevice releases the current camera, then acquires deviceID.
func (l *Loop) SwitchDevice(ctx context.Context, deviceID string) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if l.State() == Stopped {
		return ErrClosed
	}
	stopErr := l.stop()
	if err := l.start(ctx, deviceID); err != nil {
		return errors.Join(stopErr, err)
	}
	return stopErr
}

// Checkout releases the camera and emits the checkout signal with the
// current total and rows.
func (l *Loop) Checkout() (float64, error) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if l.State() == Stopped {
		return 0, ErrClosed
	}
	stopErr := l.stop()

	l.mu.Lock()
	total := l.total
	rows := append([]catalog.PriceRow(nil), l.rows...)
	l.mu.Unlock()

	l.logger.Info("checkout", "total", total, "items", len(rows))
	l.nav.Checkout(total, rows)
	return total, stopErr
}

// Close tears the session down. It is terminal.
func (l *Loop) Close() error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if l.State() == Stopped {
		return nil
	}
	err := l.stop()

	l.mu.Lock()
	l.state = Stopped
	l.mu.Unlock()
	l.cancel()
	return err
}

// Wait blocks until every in-flight cycle has returned.
func (l *Loop) Wait() {
	l.inflight.Wait()
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Device returns the open device id, or "" when idle.
func (l *Loop) Device() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Streaming {
		return ""
	}
	return l.device
}

// Snapshot returns the session state and the last applied result.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		State:      l.state,
		Device:     l.device,
		Total:      l.total,
		Rows:       append([]catalog.PriceRow(nil), l.rows...),
		Detections: append([]catalog.Detection(nil), l.detections...),
		Seq:        l.appliedSeq,
		UpdatedAt:  l.updatedAt,
	}
}

// Colors returns the session color cache.
func (l *Loop) Colors() *overlay.ColorCache {
	return l.colors
}
