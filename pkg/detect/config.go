package detect

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds detector client configuration.
type Config struct {
	BaseURL     string        // Detector base URL, without /predict
	Timeout     time.Duration // Per-request timeout
	JPEGQuality int           // Quality used when encoding frames
	HTTPClient  *http.Client  // Overrides the default client
	Logger      *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithBaseURL sets the detector base URL.
// Example: "http://localhost:5000"
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithJPEGQuality sets the upload quality (1-100).
func WithJPEGQuality(q int) Option {
	return func(c *Config) { c.JPEGQuality = q }
}

// WithHTTPClient replaces the HTTP client. The client's own timeout wins
// over WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for a backend on localhost.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "http://localhost:5000",
		Timeout:     10 * time.Second,
		JPEGQuality: 85,
		Logger:      slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
