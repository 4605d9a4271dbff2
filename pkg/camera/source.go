package camera

import (
	"context"
	"errors"
	"image"
	"sort"
	"strings"
)

// Sentinel errors for camera access.
var (
	// ErrPermissionDenied is returned when the platform refuses camera access.
	ErrPermissionDenied = errors.New("camera: permission denied")

	// ErrDeviceUnavailable is returned when the device id is unknown or busy.
	ErrDeviceUnavailable = errors.New("camera: device unavailable")

	// ErrNotStreaming is returned when a frame is requested while stopped.
	ErrNotStreaming = errors.New("camera: not streaming")
)

// Facing classifies which way a camera points.
type Facing string

const (
	FacingBack    Facing = "back"
	FacingFront   Facing = "front"
	FacingUnknown Facing = ""
)

// Device is a camera that can be started.
type Device struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Facing Facing `json:"facing"`
}

// Source is a live capture device handle.
// Implementations hold at most one device at a time.
type Source interface {
	// ListDevices enumerates usable cameras, back-facing first.
	// Each call re-enumerates.
	ListDevices(ctx context.Context) ([]Device, error)

	// Start acquires the device exclusively.
	Start(ctx context.Context, deviceID string) error

	// Stop releases the device. Calling it when stopped is a no-op.
	Stop() error

	// CurrentFrame returns the latest frame, or ErrNotStreaming.
	CurrentFrame() (image.Image, error)
}

// PermissionState is the platform's answer to a camera permission query.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionPrompt  PermissionState = "prompt"
	PermissionDenied  PermissionState = "denied"
)

// PermissionChecker queries camera permission before a device is acquired.
type PermissionChecker interface {
	Check(ctx context.Context) (PermissionState, error)
}

// PermissionFunc adapts a function to PermissionChecker.
type PermissionFunc func(ctx context.Context) (PermissionState, error)

// Check calls f.
func (f PermissionFunc) Check(ctx context.Context) (PermissionState, error) { return f(ctx) }

// AlwaysGranted is used where the platform has no permission model.
var AlwaysGranted = PermissionFunc(func(context.Context) (PermissionState, error) {
	return PermissionGranted, nil
})

// CheckPermission returns ErrPermissionDenied when the checker reports denied.
// A nil checker grants.
func CheckPermission(ctx context.Context, pc PermissionChecker) error {
	if pc == nil {
		return nil
	}
	state, err := pc.Check(ctx)
	if err != nil {
		return err
	}
	if state == PermissionDenied {
		return ErrPermissionDenied
	}
	return nil
}

// Classify infers facing from a device label.
func Classify(label string) Facing {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "back") || strings.Contains(l, "environment"):
		return FacingBack
	case strings.Contains(l, "front") || strings.Contains(l, "user"):
		return FacingFront
	default:
		return FacingUnknown
	}
}

// SortDevices classifies devices, drops those that are neither back nor
// front facing, and orders back-facing devices first. Relative order within
// each group is preserved.
func SortDevices(devices []Device) []Device {
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		d.Facing = Classify(d.Label)
		if d.Facing != FacingUnknown {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Facing == FacingBack && out[j].Facing != FacingBack
	})
	return out
}
