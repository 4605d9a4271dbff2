package camera

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		label string
		want  Facing
	}{
		{"Back Camera", FacingBack},
		{"camera2 1, facing back", FacingBack},
		{"Environment facing", FacingBack},
		{"Front Camera", FacingFront},
		{"user-facing webcam", FacingFront},
		{"HD Pro Webcam C920", FacingUnknown},
		{"", FacingUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.label))
		})
	}
}

func TestSortDevices_BackFirstAndFiltered(t *testing.T) {
	in := []Device{
		{ID: "f1", Label: "Front Camera"},
		{ID: "x", Label: "Capture Card"},
		{ID: "b1", Label: "Back Camera"},
		{ID: "f2", Label: "User Cam"},
		{ID: "b2", Label: "Back Ultra Wide"},
	}

	out := SortDevices(in)

	ids := make([]string, len(out))
	for i, d := range out {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"b1", "b2", "f1", "f2"}, ids)
	assert.Equal(t, FacingBack, out[0].Facing)
	assert.Equal(t, FacingFront, out[3].Facing)
}

func TestCheckPermission(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, CheckPermission(ctx, nil))
	assert.NoError(t, CheckPermission(ctx, AlwaysGranted))

	denied := PermissionFunc(func(context.Context) (PermissionState, error) { return PermissionDenied, nil })
	assert.ErrorIs(t, CheckPermission(ctx, denied), ErrPermissionDenied)

	boom := errors.New("query failed")
	failing := PermissionFunc(func(context.Context) (PermissionState, error) { return "", boom })
	assert.ErrorIs(t, CheckPermission(ctx, failing), boom)
}

func TestFakeLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake(Device{ID: "b", Label: "Back"}, Device{ID: "f", Label: "Front"})

	_, err := f.CurrentFrame()
	assert.ErrorIs(t, err, ErrNotStreaming)

	require.NoError(t, f.Stop(), "stop while idle is a no-op")

	assert.ErrorIs(t, f.Start(ctx, "nope"), ErrDeviceUnavailable)

	f.SetBusy("f", true)
	assert.ErrorIs(t, f.Start(ctx, "f"), ErrDeviceUnavailable)

	require.NoError(t, f.Start(ctx, "b"))
	assert.ErrorIs(t, f.Start(ctx, "b"), ErrDeviceUnavailable, "exclusive")

	img, err := f.CurrentFrame()
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	require.NoError(t, f.Stop())
	require.NoError(t, f.Stop())
	assert.Equal(t, []string{"start:b", "stop:b"}, f.Events())
}

func TestFakePermissionDenied(t *testing.T) {
	f := NewFake(Device{ID: "b", Label: "Back"})
	f.Permission = PermissionFunc(func(context.Context) (PermissionState, error) { return PermissionDenied, nil })

	err := f.Start(context.Background(), "b")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, f.Current())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	for name, cfg := range Presets() {
		assert.NoError(t, cfg.Validate(), name)
	}

	bad := DefaultConfig()
	bad.Width = 10
	bad.Quality = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "width")
	assert.Contains(t, err.Error(), "quality")

	assert.Nil(t, GetPreset("4k"))
	assert.Equal(t, 640, GetPreset(PresetLow).Width)
}
