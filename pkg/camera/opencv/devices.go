package opencv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/teslashibe/go-shopcam/pkg/camera"
)

// enumerate reads V4L2 capture nodes from sysfs. Device IDs are the numeric
// index OpenCV expects. Labels may be overridden per index so desktop webcams
// can be marked as front or back facing.
func enumerate(root string, labels map[string]string) ([]camera.Device, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opencv: read %s: %w", root, err)
	}

	type node struct {
		index int
		dev   camera.Device
	}
	var nodes []node
	for _, e := range entries {
		idx, ok := strings.CutPrefix(e.Name(), "video")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(idx)
		if err != nil {
			continue
		}
		if !isCaptureNode(filepath.Join(root, e.Name())) {
			continue
		}

		label := labels[idx]
		if label == "" {
			raw, err := os.ReadFile(filepath.Join(root, e.Name(), "name"))
			if err != nil {
				continue
			}
			label = strings.TrimSpace(string(raw))
		}
		nodes = append(nodes, node{index: n, dev: camera.Device{ID: idx, Label: label}})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].index < nodes[j].index })
	devices := make([]camera.Device, len(nodes))
	for i, n := range nodes {
		devices[i] = n.dev
	}
	return devices, nil
}

// isCaptureNode filters out the metadata node UVC drivers register next to
// each capture node. Index 0 is the capture interface.
func isCaptureNode(dir string) bool {
	raw, err := os.ReadFile(filepath.Join(dir, "index"))
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(raw)) == "0"
}

// devicePermission checks that /dev/videoN can be opened read-write.
func devicePermission(devDir, id string) (camera.PermissionState, error) {
	f, err := os.OpenFile(filepath.Join(devDir, "video"+id), os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return camera.PermissionDenied, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: video%s", camera.ErrDeviceUnavailable, id)
		}
		return camera.PermissionPrompt, nil
	}
	f.Close()
	return camera.PermissionGranted, nil
}
