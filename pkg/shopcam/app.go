// Package shopcam wires the camera, detector, capture session, payment flow
// and dashboard into the shopping assistant application.
package shopcam

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/teslashibe/go-shopcam/internal/config"
	"github.com/teslashibe/go-shopcam/internal/httpc"
	"github.com/teslashibe/go-shopcam/pkg/camera"
	"github.com/teslashibe/go-shopcam/pkg/camera/opencv"
	"github.com/teslashibe/go-shopcam/pkg/capture"
	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/detect"
	"github.com/teslashibe/go-shopcam/pkg/orders"
	"github.com/teslashibe/go-shopcam/pkg/overlay"
	"github.com/teslashibe/go-shopcam/pkg/overlay/cvsurface"
	"github.com/teslashibe/go-shopcam/pkg/payment"
	"github.com/teslashibe/go-shopcam/pkg/receipt"
	"github.com/teslashibe/go-shopcam/pkg/recorder"
	"github.com/teslashibe/go-shopcam/pkg/video"
	"github.com/teslashibe/go-shopcam/pkg/web"
)

// App is the shopping assistant. It owns every component and their
// lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	camCfg   camera.Config
	source   camera.Source
	detector detect.Detector
	client   *detect.Client
	rec      *recorder.Writer
	store    *orders.Store
	receipts *receipt.GoogleDocs

	loop *capture.Loop
	flow *payment.Flow
	web  *web.Server
}

// New validates cfg and creates an application. Call Init next.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	camCfg := camera.DefaultConfig()
	if p := camera.GetPreset(cfg.Camera.Preset); p != nil {
		camCfg = *p
	}
	return &App{
		cfg:    cfg,
		logger: logger.With("component", "app"),
		camCfg: camCfg,
	}, nil
}

// Init builds all components. Optional integrations that fail to start are
// logged and left out.
func (a *App) Init(ctx context.Context) error {
	if err := a.initSource(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := a.initDetector(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	a.initRecorder()
	a.initOrders(ctx)
	a.initReceipts()

	a.web = web.NewServer(web.Config{
		Port:      a.cfg.Web.Port,
		StaticDir: a.cfg.Web.StaticDir,
		Logger:    a.logger,
	})

	loopOpts := []capture.Option{
		capture.WithInterval(a.cfg.Capture.Interval),
		capture.WithLogger(a.logger),
		capture.WithFrameEncoder(a.encodeFrame),
	}
	if a.rec != nil {
		loopOpts = append(loopOpts, capture.WithRecorder(a.rec))
	}
	a.loop = capture.New(a.source, a.detector, a.web, a.web, loopOpts...)

	issuer := payment.NewHTTPIssuer(a.cfg.Backend.URL, httpc.NewClient(a.cfg.Backend.Timeout))
	flowOpts := []payment.Option{
		payment.WithConfirmDelay(a.cfg.Payment.ConfirmDelay),
		payment.WithOnChange(a.web.PaymentChanged),
		payment.WithLogger(a.logger),
	}
	backends := web.Backends{Session: a.loop}
	if a.store != nil {
		flowOpts = append(flowOpts, payment.WithStore(a.store))
		backends.Orders = a.store
	}
	if a.receipts != nil {
		flowOpts = append(flowOpts, payment.WithExporter(a.receipts))
		backends.Receipts = a.receipts
	}
	a.flow = payment.New(issuer, a.web, flowOpts...)
	backends.Payments = a.flow
	a.web.Attach(backends)

	a.logger.Info("initialized",
		"camera", a.cfg.Camera.Kind,
		"backend", a.cfg.Backend.URL,
		"interval", a.cfg.Capture.Interval,
		"orders", a.store != nil,
		"receipts", a.receipts != nil,
		"recording", a.rec != nil)
	return nil
}

func (a *App) initSource() error {
	switch a.cfg.Camera.Kind {
	case "opencv":
		a.source = opencv.NewSource(
			opencv.WithConfig(a.camCfg),
			opencv.WithLabels(a.cfg.Camera.Labels),
			opencv.WithLogger(a.logger),
		)
	case "webrtc":
		a.source = video.NewSource(a.cfg.Camera.SignallingURL, video.WithLogger(a.logger))
	case "replay":
		a.source = recorder.Camera(a.camCfg)
	default:
		return fmt.Errorf("unknown camera kind %q", a.cfg.Camera.Kind)
	}
	return nil
}

func (a *App) initDetector() error {
	if a.cfg.Capture.ReplayFile != "" {
		replay, err := recorder.OpenReplay(a.cfg.Capture.ReplayFile)
		if err != nil {
			return err
		}
		a.logger.Info("replaying detections", "file", a.cfg.Capture.ReplayFile, "entries", replay.Len())
		a.detector = replay
		return nil
	}
	if a.cfg.Camera.Kind == "replay" {
		return errors.New("camera kind replay needs capture.replay_file")
	}

	client, err := detect.NewClient(
		detect.WithBaseURL(a.cfg.Backend.URL),
		detect.WithTimeout(a.cfg.Backend.Timeout),
		detect.WithJPEGQuality(a.camCfg.Quality),
		detect.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	a.client = client
	a.detector = client
	return nil
}

func (a *App) initRecorder() {
	if a.cfg.Capture.RecordDir == "" {
		return
	}
	w, err := recorder.NewWriter(a.cfg.Capture.RecordDir, "session")
	if err != nil {
		a.logger.Warn("recording disabled", "error", err)
		return
	}
	a.logger.Info("recording detections", "file", w.Path())
	a.rec = w
}

func (a *App) initOrders(ctx context.Context) {
	if a.cfg.Orders.DSN == "" {
		return
	}
	store, err := orders.Open(ctx, a.cfg.Orders.Driver, a.cfg.Orders.DSN)
	if err != nil {
		a.logger.Warn("order history disabled", "driver", a.cfg.Orders.Driver, "error", err)
		return
	}
	a.store = store
}

func (a *App) initReceipts() {
	rc := a.cfg.Receipts
	if rc.GoogleClientID == "" || rc.GoogleClientSecret == "" {
		return
	}
	docs, err := receipt.NewGoogleDocs(receipt.Config{
		ClientID:     rc.GoogleClientID,
		ClientSecret: rc.GoogleClientSecret,
		RedirectURL:  rc.RedirectURL,
		TokenPath:    rc.TokenPath,
		Logger:       a.logger,
	})
	if err != nil {
		a.logger.Warn("receipt export disabled", "error", err)
		return
	}
	a.receipts = docs
}

func (a *App) encodeFrame(frame image.Image, dets []catalog.Detection, colors *overlay.ColorCache) ([]byte, error) {
	return cvsurface.Annotate(frame, dets, colors, a.camCfg.Quality)
}

// Run serves the dashboard until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.web.Start(ctx)
}

// Shutdown releases the camera and closes every component.
func (a *App) Shutdown() {
	if a.loop != nil {
		if err := a.loop.Close(); err != nil {
			a.logger.Warn("capture close", "error", err)
		}
		a.loop.Wait()
	}
	if a.web != nil {
		a.web.Shutdown()
	}
	if a.flow != nil {
		a.flow.Wait()
	}
	if a.rec != nil {
		a.rec.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	a.logger.Info("shut down")
}

// Loop returns the capture session.
func (a *App) Loop() *capture.Loop { return a.loop }

// Flow returns the payment flow.
func (a *App) Flow() *payment.Flow { return a.flow }
