// shopcam-backend serves item detection and PayNow code generation for the
// shopcam client.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-shopcam/internal/config"
	ilog "github.com/teslashibe/go-shopcam/internal/log"
	"github.com/teslashibe/go-shopcam/pkg/backend"
	"github.com/teslashibe/go-shopcam/pkg/backend/yolo"
	"github.com/teslashibe/go-shopcam/pkg/catalog"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	listen := flag.String("listen", "", "Listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		ilog.L().Error("configuration error", "error", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if *listen != "" {
		cfg.Backend.Listen = *listen
	}
	ilog.Init(cfg.Log.Level, cfg.Log.Format)
	logger := ilog.L().With("component", "backend-main")

	if err := run(cfg); err != nil {
		logger.Error("backend failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger := ilog.L()

	f, err := os.Open(cfg.Backend.PricesPath)
	if err != nil {
		return err
	}
	entries, err := catalog.LoadCSV(f)
	f.Close()
	if err != nil {
		return err
	}
	prices := catalog.NewIndex(entries)

	ycfg := yolo.DefaultConfig()
	ycfg.ModelPath = cfg.Backend.ModelPath
	model, err := yolo.New(ycfg)
	if err != nil {
		return err
	}
	defer model.Close()

	paynow := backend.DefaultPayNow()
	paynow.Mobile = cfg.Backend.PayeeMobile
	srv := backend.New(model, prices, paynow, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	limiter := backend.NewRateLimiter(cfg.Backend.RateLimit, cfg.Backend.RateBurst)
	go limiter.Run(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Backend.Listen,
		Handler:           srv.Router(limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("backend listening", "addr", cfg.Backend.Listen, "items", prices.Len())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	logger.Info("shutting down")
	return httpSrv.Shutdown(shutdownCtx)
}
