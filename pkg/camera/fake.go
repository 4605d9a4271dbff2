package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
)

// Fake is an in-memory Source for tests and demos. It serves a solid frame
// and records every acquire and release.
type Fake struct {
	mu      sync.Mutex
	devices []Device
	busy    map[string]bool
	current string
	frame   image.Image
	events  []string

	// Permission is consulted on Start; nil grants.
	Permission PermissionChecker
}

// NewFake creates a fake source exposing the given raw devices.
func NewFake(devices ...Device) *Fake {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 120, B: 200, A: 255})
		}
	}
	return &Fake{
		devices: devices,
		busy:    make(map[string]bool),
		frame:   img,
	}
}

// ListDevices returns the sorted, filtered devices.
func (f *Fake) ListDevices(ctx context.Context) ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return SortDevices(f.devices), nil
}

// SetBusy marks a device as held by another process.
func (f *Fake) SetBusy(id string, busy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy[id] = busy
}

// SetFrame replaces the frame returned while streaming.
func (f *Fake) SetFrame(img image.Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frame = img
}

// Start acquires id.
func (f *Fake) Start(ctx context.Context, id string) error {
	if err := CheckPermission(ctx, f.Permission); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != "" {
		return fmt.Errorf("%w: %s already open", ErrDeviceUnavailable, f.current)
	}
	known := false
	for _, d := range f.devices {
		if d.ID == id {
			known = true
			break
		}
	}
	if !known || f.busy[id] {
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, id)
	}
	f.current = id
	f.events = append(f.events, "start:"+id)
	return nil
}

// Stop releases the current device.
func (f *Fake) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == "" {
		return nil
	}
	f.events = append(f.events, "stop:"+f.current)
	f.current = ""
	return nil
}

// CurrentFrame returns the configured frame while streaming.
func (f *Fake) CurrentFrame() (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == "" {
		return nil, ErrNotStreaming
	}
	return f.frame, nil
}

// Current returns the open device id, or "".
func (f *Fake) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Events returns the acquire/release log.
func (f *Fake) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

var _ Source = (*Fake)(nil)
