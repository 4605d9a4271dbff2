package opencv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-shopcam/pkg/camera"
)

func writeNode(t *testing.T, root, name, label, index string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "name"), []byte(label+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index"), []byte(index+"\n"), 0o644))
}

func TestListDevices(t *testing.T) {
	root := t.TempDir()
	writeNode(t, root, "video0", "Integrated Front Camera", "0")
	writeNode(t, root, "video1", "Integrated Front Camera", "1") // metadata node
	writeNode(t, root, "video2", "USB Back Camera", "0")
	writeNode(t, root, "video4", "Capture Card", "0")

	src := NewSource(WithSysfsRoot(root))
	devices, err := src.ListDevices(context.Background())
	require.NoError(t, err)

	require.Len(t, devices, 2)
	assert.Equal(t, "2", devices[0].ID)
	assert.Equal(t, camera.FacingBack, devices[0].Facing)
	assert.Equal(t, "0", devices[1].ID)
}

func TestListDevices_LabelOverride(t *testing.T) {
	root := t.TempDir()
	writeNode(t, root, "video0", "HD Pro Webcam C920", "0")

	src := NewSource(WithSysfsRoot(root))
	devices, err := src.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices, "unclassified webcams are filtered")

	src = NewSource(WithSysfsRoot(root), WithLabels(map[string]string{"0": "Back shelf camera"}))
	devices, err = src.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Back shelf camera", devices[0].Label)
}

func TestListDevices_NoSysfs(t *testing.T) {
	src := NewSource(WithSysfsRoot(filepath.Join(t.TempDir(), "missing")))
	devices, err := src.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestStart_InvalidID(t *testing.T) {
	src := NewSource(WithDevDir(t.TempDir()))
	assert.ErrorIs(t, src.Start(context.Background(), "front"), camera.ErrDeviceUnavailable)
	assert.ErrorIs(t, src.Start(context.Background(), "7"), camera.ErrDeviceUnavailable)

	_, err := src.CurrentFrame()
	assert.ErrorIs(t, err, camera.ErrNotStreaming)
	assert.NoError(t, src.Stop())
}

func TestDevicePermission(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video3")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	state, err := devicePermission(dir, "3")
	require.NoError(t, err)
	assert.Equal(t, camera.PermissionGranted, state)

	if os.Geteuid() != 0 {
		require.NoError(t, os.Chmod(path, 0o000))
		state, err = devicePermission(dir, "3")
		require.NoError(t, err)
		assert.Equal(t, camera.PermissionDenied, state)
	}
}
