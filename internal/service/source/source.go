// Package source provides camera frames to the compositor.
package source

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"echoes/internal/config"
	"echoes/internal/logger"

	"gocv.io/x/gocv"
)

// ErrNoFrame is returned when no usable frame is available this tick.
var ErrNoFrame = errors.New("no frame available")

// Source supplies the most recent camera frame.
type Source interface {
	// Read decodes the most recent frame into dst.
	Read(dst *gocv.Mat) error
	Close() error
}

// New creates the source selected by cfg.FrameSource.
func New(cfg *config.Config, logger *logger.Logger) (Source, *Remote, error) {
	switch cfg.FrameSource {
	case config.SourceRemote:
		remote := NewRemote(2 * time.Second)
		logger.Info("📡 Waiting for remote frames on UDP :%d and /api/camera", cfg.CamerasPort)
		return remote, remote, nil
	case config.SourceCamera, "":
		camera, err := OpenCamera(cfg.CameraDevice, cfg.CameraWidth, cfg.CameraHeight)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("📷 Camera %s opened at %dx%d", cfg.CameraDevice, cfg.CameraWidth, cfg.CameraHeight)
		return camera, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown frame source %q", cfg.FrameSource)
	}
}

// Camera reads frames from a local capture device.
type Camera struct {
	capture *gocv.VideoCapture
}

// OpenCamera opens a device by index ("0") or by path/URL.
func OpenCamera(device string, width, height int) (*Camera, error) {
	var id interface{} = device
	if n, err := strconv.Atoi(device); err == nil {
		id = n
	}

	capture, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %s: %w", device, err)
	}
	if width > 0 && height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	return &Camera{capture: capture}, nil
}

func (c *Camera) Read(dst *gocv.Mat) error {
	if ok := c.capture.Read(dst); !ok || dst.Empty() {
		return ErrNoFrame
	}
	return nil
}

func (c *Camera) Close() error {
	return c.capture.Close()
}

// Remote holds the latest JPEG frame pushed by a network camera. Newer
// frames overwrite older ones; nothing is queued.
type Remote struct {
	mu         sync.Mutex
	latest     []byte
	received   time.Time
	staleAfter time.Duration
	frames     uint64
	now        func() time.Time
}

// NewRemote creates a remote source. Frames older than staleAfter are
// treated as missing.
func NewRemote(staleAfter time.Duration) *Remote {
	return &Remote{staleAfter: staleAfter, now: time.Now}
}

// Publish stores jpeg as the latest frame. The caller must not modify it
// afterwards.
func (r *Remote) Publish(jpeg []byte) {
	r.mu.Lock()
	r.latest = jpeg
	r.received = r.now()
	r.frames++
	r.mu.Unlock()
}

// Latest returns the most recent JPEG if it is still fresh.
func (r *Remote) Latest() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.latest == nil {
		return nil, false
	}
	if r.staleAfter > 0 && r.now().Sub(r.received) > r.staleAfter {
		return nil, false
	}
	return r.latest, true
}

// Frames returns how many frames have been published.
func (r *Remote) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Remote) Read(dst *gocv.Mat) error {
	jpeg, ok := r.Latest()
	if !ok {
		return ErrNoFrame
	}

	mat, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return fmt.Errorf("decoded frame is empty")
	}
	mat.CopyTo(dst)
	return nil
}

func (r *Remote) Close() error {
	r.mu.Lock()
	r.latest = nil
	r.mu.Unlock()
	return nil
}
