// Package camera defines the frame source used by the capture loop:
// device enumeration, exclusive start/stop, and frame sampling.
package camera

import (
	"errors"
	"fmt"
)

// Config holds capture settings applied when a device is opened.
type Config struct {
	Width     int `json:"width" yaml:"width"`         // Frame width in pixels
	Height    int `json:"height" yaml:"height"`       // Frame height in pixels
	Framerate int `json:"framerate" yaml:"framerate"` // Target FPS
	Quality   int `json:"quality" yaml:"quality"`     // JPEG quality 1-100 for published frames
}

// Capture limits.
const (
	MaxWidth  = 3840
	MaxHeight = 2160
)

// DefaultConfig returns 1280x720 at 30 FPS, enough for shelf items at arm's length.
func DefaultConfig() Config {
	return Config{
		Width:     1280,
		Height:    720,
		Framerate: 30,
		Quality:   85,
	}
}

// Validate checks that values are within the supported ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Width < 160 || c.Width > MaxWidth {
		errs = append(errs, fmt.Errorf("width must be between 160 and %d", MaxWidth))
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errs = append(errs, fmt.Errorf("height must be between 120 and %d", MaxHeight))
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		errs = append(errs, errors.New("framerate must be between 1 and 120"))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, errors.New("quality must be between 1 and 100"))
	}
	return errors.Join(errs...)
}
