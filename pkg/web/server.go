// Package web serves the shopping dashboard: REST controls for the capture
// session and payment, and websockets for live results, annotated frames
// and navigation events.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-shopcam/pkg/camera"
	"github.com/teslashibe/go-shopcam/pkg/capture"
	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/hub"
	"github.com/teslashibe/go-shopcam/pkg/orders"
	"github.com/teslashibe/go-shopcam/pkg/payment"
	"github.com/teslashibe/go-shopcam/pkg/receipt"
)

// Session is the capture session the dashboard controls.
type Session interface {
	Devices(ctx context.Context) ([]camera.Device, error)
	Start(ctx context.Context, deviceID string) error
	Stop() error
	SwitchDevice(ctx context.Context, deviceID string) error
	Checkout() (float64, error)
	Snapshot() capture.Snapshot
}

// Payments is the payment flow the dashboard drives.
type Payments interface {
	Enter(ctx context.Context, amount *float64, items ...catalog.PriceRow) error
	RetryCode(ctx context.Context) error
	Scan() error
	Leave()
	Snapshot() payment.Snapshot
}

// OrderLister lists confirmed orders.
type OrderLister interface {
	List(ctx context.Context, limit int) ([]*orders.Order, error)
}

// Receipts manages the Google account used for receipt export.
type Receipts interface {
	Status(state string) receipt.Status
	AuthURL(state string) string
	HandleCallback(ctx context.Context, code string) error
	Disconnect() error
}

// Backends are the components behind the routes. Orders and Receipts are
// optional.
type Backends struct {
	Session  Session
	Payments Payments
	Orders   OrderLister
	Receipts Receipts
}

// Config configures the server.
type Config struct {
	Port      string
	StaticDir string
	Logger    *slog.Logger
}

// Server is the dashboard server. It is also the capture View and both
// Navigators, turning their calls into websocket events.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	sessionHub *hub.Hub
	cameraHub  *hub.Hub
	eventHub   *hub.Hub

	mu       sync.RWMutex
	backends Backends

	// oauthStates holds issued OAuth states until used or expired.
	oauthStates map[string]time.Time

	// ctx bounds background work started from navigation callbacks.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates the server. Call Attach before Start.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		port:       cfg.Port,
		logger:     logger.With("component", "web"),
		sessionHub: hub.New("session", hub.WithLogger(logger), hub.WithReplayLast()),
		cameraHub:  hub.New("camera", hub.WithLogger(logger)),
		eventHub:   hub.New("events", hub.WithLogger(logger)),
		ctx:        ctx,
		cancel:     cancel,

		oauthStates: make(map[string]time.Time),
	}

	app := fiber.New(fiber.Config{
		AppName:               "shopcam",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/healthz", s.handleHealth)
	api.Get("/devices", s.handleDevices)
	api.Post("/camera/start", s.handleCameraStart)
	api.Post("/camera/stop", s.handleCameraStop)
	api.Post("/camera/device", s.handleCameraDevice)
	api.Get("/session", s.handleSession)
	api.Post("/checkout", s.handleCheckout)
	api.Get("/payment", s.handlePayment)
	api.Post("/payment", s.handlePaymentEnter)
	api.Delete("/payment", s.handlePaymentLeave)
	api.Post("/payment/scan", s.handlePaymentScan)
	api.Post("/payment/retry", s.handlePaymentRetry)
	api.Get("/orders", s.handleOrders)
	api.Get("/receipts/status", s.handleReceiptStatus)
	api.Get("/receipts/auth", s.handleReceiptAuth)
	api.Get("/receipts/callback", s.handleReceiptCallback)
	api.Post("/receipts/disconnect", s.handleReceiptDisconnect)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/session", websocket.New(s.serveHub(s.sessionHub)))
	app.Get("/ws/camera", websocket.New(s.serveHub(s.cameraHub)))
	app.Get("/ws/events", websocket.New(s.serveHub(s.eventHub)))

	s.app = app
	return s
}

// Attach wires the components behind the routes.
func (s *Server) Attach(b Backends) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backends = b
}

func (s *Server) components() Backends {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backends
}

// Start runs the hubs and serves until ctx is cancelled or Listen fails.
func (s *Server) Start(ctx context.Context) error {
	go s.sessionHub.Run(ctx)
	go s.cameraHub.Run(ctx)
	go s.eventHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "url", "http://localhost:"+s.port)
		errCh <- s.app.Listen(":" + s.port)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the server and waits for background payment work.
func (s *Server) Shutdown() error {
	s.cancel()
	err := s.app.Shutdown()
	s.wg.Wait()
	return err
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		hub.NewClient(h, conn).Run()
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, camera.ErrPermissionDenied):
		return fiber.StatusForbidden
	case errors.Is(err, camera.ErrDeviceUnavailable),
		errors.Is(err, capture.ErrAlreadyStreaming),
		errors.Is(err, payment.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, payment.ErrGuardFailure):
		return fiber.StatusBadRequest
	case errors.Is(err, payment.ErrNoSession), errors.Is(err, orders.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, payment.ErrCodeIssuance):
		return fiber.StatusBadGateway
	case errors.Is(err, capture.ErrClosed):
		return fiber.StatusGone
	default:
		return fiber.StatusInternalServerError
	}
}
