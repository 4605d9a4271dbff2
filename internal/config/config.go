// Package config loads go-shopcam settings from a YAML file with
// SHOPCAM_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for cmd/shopcam and cmd/shopcam-backend.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Web      WebConfig      `yaml:"web"`
	Backend  BackendConfig  `yaml:"backend"`
	Capture  CaptureConfig  `yaml:"capture"`
	Camera   CameraConfig   `yaml:"camera"`
	Payment  PaymentConfig  `yaml:"payment"`
	Orders   OrdersConfig   `yaml:"orders"`
	Receipts ReceiptsConfig `yaml:"receipts"`
}

// LogConfig selects level and handler format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WebConfig configures the dashboard server.
type WebConfig struct {
	Port      string `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// BackendConfig points at the inference backend and configures it when
// running cmd/shopcam-backend.
type BackendConfig struct {
	URL         string        `yaml:"url"`
	Timeout     time.Duration `yaml:"timeout"`
	Listen      string        `yaml:"listen"`
	ModelPath   string        `yaml:"model_path"`
	PricesPath  string        `yaml:"prices_path"`
	PayeeMobile string        `yaml:"payee_mobile"`
	RateLimit   int           `yaml:"rate_limit"`
	RateBurst   int           `yaml:"rate_burst"`
}

// CaptureConfig tunes the capture loop.
type CaptureConfig struct {
	Interval   time.Duration `yaml:"interval"`
	RecordDir  string        `yaml:"record_dir"`
	ReplayFile string        `yaml:"replay_file"`
}

// CameraConfig selects the frame source.
type CameraConfig struct {
	// Kind is "opencv" for local devices, "webrtc" for a remote camera, or
	// "replay" for a synthetic camera driven by a recorded session.
	Kind          string `yaml:"kind"`
	SignallingURL string `yaml:"signalling_url"`
	Preset        string `yaml:"preset"`

	// Labels overrides local device labels by index, e.g. "0": "Back camera".
	Labels map[string]string `yaml:"labels"`
}

// PaymentConfig configures checkout.
type PaymentConfig struct {
	ConfirmDelay time.Duration `yaml:"confirm_delay"`
}

// OrdersConfig selects the order store. Driver is "sqlite" or "postgres".
type OrdersConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ReceiptsConfig enables Google Docs receipt export.
type ReceiptsConfig struct {
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	RedirectURL        string `yaml:"redirect_url"`
	TokenPath          string `yaml:"token_path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Web: WebConfig{Port: "8080", StaticDir: "./web"},
		Backend: BackendConfig{
			URL:         "http://localhost:5000",
			Timeout:     10 * time.Second,
			Listen:      ":5000",
			ModelPath:   "models/best.onnx",
			PricesPath:  "data/prices.csv",
			PayeeMobile: "97656051",
			RateLimit:   10,
			RateBurst:   20,
		},
		Capture: CaptureConfig{Interval: time.Second},
		Camera:  CameraConfig{Kind: "opencv", Preset: "default"},
		Payment: PaymentConfig{ConfirmDelay: 3 * time.Second},
		Orders:  OrdersConfig{Driver: "sqlite", DSN: "file:shopcam.db?_pragma=busy_timeout(5000)"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("SHOPCAM_LOG_LEVEL", &c.Log.Level)
	str("SHOPCAM_LOG_FORMAT", &c.Log.Format)
	str("SHOPCAM_PORT", &c.Web.Port)
	str("SHOPCAM_STATIC_DIR", &c.Web.StaticDir)
	str("SHOPCAM_BACKEND_URL", &c.Backend.URL)
	str("SHOPCAM_BACKEND_LISTEN", &c.Backend.Listen)
	str("SHOPCAM_MODEL_PATH", &c.Backend.ModelPath)
	str("SHOPCAM_PRICES_PATH", &c.Backend.PricesPath)
	str("SHOPCAM_CAMERA", &c.Camera.Kind)
	str("SHOPCAM_SIGNALLING_URL", &c.Camera.SignallingURL)
	str("SHOPCAM_RECORD_DIR", &c.Capture.RecordDir)
	str("SHOPCAM_REPLAY_FILE", &c.Capture.ReplayFile)
	str("SHOPCAM_ORDERS_DRIVER", &c.Orders.Driver)
	str("SHOPCAM_ORDERS_DSN", &c.Orders.DSN)
	str("GOOGLE_CLIENT_ID", &c.Receipts.GoogleClientID)
	str("GOOGLE_CLIENT_SECRET", &c.Receipts.GoogleClientSecret)

	if v := os.Getenv("SHOPCAM_CAPTURE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SHOPCAM_CAPTURE_INTERVAL: %w", err)
		}
		c.Capture.Interval = d
	}
	if v := os.Getenv("SHOPCAM_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SHOPCAM_RATE_LIMIT: %w", err)
		}
		c.Backend.RateLimit = n
	}
	return nil
}

// Validate checks the values that would otherwise fail later at runtime.
func (c Config) Validate() error {
	var errs []error
	if c.Capture.Interval <= 0 {
		errs = append(errs, errors.New("capture.interval must be positive"))
	}
	if c.Payment.ConfirmDelay < 0 {
		errs = append(errs, errors.New("payment.confirm_delay must not be negative"))
	}
	switch c.Camera.Kind {
	case "opencv", "webrtc", "replay":
	default:
		errs = append(errs, fmt.Errorf("camera.kind %q must be opencv, webrtc or replay", c.Camera.Kind))
	}
	if c.Camera.Kind == "webrtc" && c.Camera.SignallingURL == "" {
		errs = append(errs, errors.New("camera.signalling_url is required for webrtc"))
	}
	switch c.Orders.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("orders.driver %q must be sqlite or postgres", c.Orders.Driver))
	}
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required"))
	}
	return errors.Join(errs...)
}
