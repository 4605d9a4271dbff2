// shopcam points a camera at shop items, prices what it sees and walks the
// shopper through a PayNow checkout.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-shopcam/internal/config"
	ilog "github.com/teslashibe/go-shopcam/internal/log"
	"github.com/teslashibe/go-shopcam/pkg/shopcam"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	camera := flag.String("camera", "", "Camera kind: opencv, webrtc, replay (overrides config)")
	replay := flag.String("replay", "", "Replay detections from a recorded session file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		ilog.L().Error("configuration error", "error", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if *camera != "" {
		cfg.Camera.Kind = *camera
	}
	if *replay != "" {
		cfg.Capture.ReplayFile = *replay
	}

	ilog.Init(cfg.Log.Level, cfg.Log.Format)
	logger := ilog.L()

	app, err := shopcam.New(cfg, logger)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Init(ctx); err != nil {
		logger.Error("initialization failed", "error", err)
		app.Shutdown()
		os.Exit(1)
	}

	err = app.Run(ctx)
	app.Shutdown()
	if err != nil {
		logger.Error("runtime error", "error", err)
		os.Exit(1)
	}
}
