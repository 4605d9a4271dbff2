package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
	"sync"
	"time"
)

// ErrNoFrame is returned before the first frame has been decoded.
var ErrNoFrame = errors.New("video: no frame available")

// FastDecoder turns H264 keyframe groups into JPEG stills with ffmpeg over
// pipes.
type FastDecoder struct {
	minInterval time.Duration
	timeout     time.Duration

	mu          sync.Mutex
	lastDecode  time.Time
	latestFrame []byte
}

// NewFastDecoder creates a decoder that runs at most once per interval.
func NewFastDecoder(interval time.Duration) *FastDecoder {
	return &FastDecoder{
		minInterval: interval,
		timeout:     500 * time.Millisecond,
	}
}

// Submit decodes an Annex-B H264 stream starting at a keyframe and keeps the
// last picture. Calls inside the rate limit window are dropped.
func (d *FastDecoder) Submit(h264 []byte) {
	if len(h264) < 100 {
		return
	}

	d.mu.Lock()
	if time.Since(d.lastDecode) < d.minInterval {
		d.mu.Unlock()
		return
	}
	d.lastDecode = time.Now()
	d.mu.Unlock()

	frame, err := d.decode(h264)
	if err != nil || isGrayJPEG(frame) {
		return
	}

	d.mu.Lock()
	d.latestFrame = frame
	d.mu.Unlock()
}

func (d *FastDecoder) decode(h264 []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
	var stdout bytes.Buffer
	cmd.Stdin = bytes.NewReader(h264)
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil && stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	return lastJPEG(stdout.Bytes())
}

// LatestJPEG returns a copy of the most recent frame.
func (d *FastDecoder) LatestJPEG() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.latestFrame == nil {
		return nil, ErrNoFrame
	}
	out := make([]byte, len(d.latestFrame))
	copy(out, d.latestFrame)
	return out, nil
}

// LatestImage decodes the most recent frame.
func (d *FastDecoder) LatestImage() (image.Image, error) {
	data, err := d.LatestJPEG()
	if err != nil {
		return nil, err
	}
	return jpeg.Decode(bytes.NewReader(data))
}

// Reset drops the held frame.
func (d *FastDecoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latestFrame = nil
	d.lastDecode = time.Time{}
}

var jpegSOI = []byte{0xFF, 0xD8, 0xFF}

// lastJPEG returns the final image of a concatenated MJPEG stream.
func lastJPEG(stream []byte) ([]byte, error) {
	i := bytes.LastIndex(stream, jpegSOI)
	if i < 0 {
		return nil, ErrNoFrame
	}
	return stream[i:], nil
}

// isGrayJPEG reports frames that are too small, undecodable, near-black or
// uniform mid-gray, which ffmpeg emits before references arrive.
func isGrayJPEG(jpegData []byte) bool {
	if len(jpegData) < 1000 {
		return true
	}
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return true
	}
	bounds := img.Bounds()
	if bounds.Dx() < 100 || bounds.Dy() < 100 {
		return true
	}

	var rSum, gSum, bSum, samples int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += bounds.Dy() / 10 {
		for x := bounds.Min.X; x < bounds.Max.X; x += bounds.Dx() / 10 {
			r, g, b, _ := img.At(x, y).RGBA()
			rSum += int(r >> 8)
			gSum += int(g >> 8)
			bSum += int(b >> 8)
			samples++
		}
	}
	avgR, avgG, avgB := rSum/samples, gSum/samples, bSum/samples

	if avgR < 30 && avgG < 30 && avgB < 30 {
		return true
	}
	colorDiff := abs(avgR-avgG) + abs(avgG-avgB) + abs(avgR-avgB)
	return colorDiff < 15 && avgR > 100 && avgR < 150
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
