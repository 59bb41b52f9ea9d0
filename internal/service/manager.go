package service

import (
	"errors"
	"fmt"
	"sync"

	"echoes/internal/control"
	"echoes/internal/dto"
	"echoes/internal/echo"
	"echoes/internal/logger"
	"echoes/internal/repository"
	"echoes/internal/service/storage"
	"echoes/internal/service/websocket"
)

var (
	// ErrQueueFull is returned when the render loop cannot take more commands.
	ErrQueueFull = errors.New("control queue full")
	// ErrUnknownCommand is returned for control messages that map to no command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnsupportedImage is returned when an upload cannot be decoded.
	ErrUnsupportedImage = errors.New("not an image file")
)

const (
	// UnknownCamera counts frames from cameras without a configured name.
	UnknownCamera = "unknown"
	// maxTrackedCameras bounds per-camera frame counters; further names
	// are counted as UnknownCamera.
	maxTrackedCameras = 64
)

// Controller is the render loop as seen from request handlers.
type Controller interface {
	Submit(cmd control.Command) bool
	State() dto.State
}

// ImageDecoder turns uploaded bytes into a background raster.
type ImageDecoder interface {
	DecodeImage(data []byte) (echo.Raster, error)
}

// FrameSink receives JPEG frames from remote cameras.
type FrameSink interface {
	Publish(jpeg []byte)
}

// Manager is the entry point handlers use to reach the render loop, the
// viewer hub, the snapshot archive and remote frame ingest.
type Manager struct {
	loop          Controller
	decoder       ImageDecoder
	frames        FrameSink
	hubService    *websocket.HubService
	archive       *storage.ArchiveService
	snapshotsRepo repository.SnapshotRepository
	logger        *logger.Logger

	frameCounterMu sync.Mutex
	frameCounters  map[string]int
}

// NewManager wires the manager. frames may be nil when frames come from a
// local camera.
func NewManager(loop Controller, decoder ImageDecoder, frames FrameSink, hub *websocket.HubService,
	archive *storage.ArchiveService, snapshotsRepo repository.SnapshotRepository, logger *logger.Logger) *Manager {
	return &Manager{
		loop:          loop,
		decoder:       decoder,
		frames:        frames,
		hubService:    hub,
		archive:       archive,
		snapshotsRepo: snapshotsRepo,
		logger:        logger,
		frameCounters: make(map[string]int),
	}
}

// HandleControlMessage translates a browser message into a command and
// queues it. Unrecognized voice input is logged and ignored.
func (m *Manager) HandleControlMessage(msg dto.ControlMessage) error {
	var (
		cmd control.Command
		ok  bool
	)

	switch msg.Type {
	case dto.ControlKey:
		cmd, ok = control.FromKey(msg.Key)
	case dto.ControlVoice:
		cmd, ok = control.FromVoice(msg.Text)
		if !ok {
			m.logger.Info("🎤 Unrecognized voice command: %q", msg.Text)
			return nil
		}
	default:
		var kind control.Kind
		kind, ok = control.ParseKind(msg.Type)
		// Backgrounds arrive as uploads, never as control messages.
		if ok && kind == control.SetBackground {
			ok = false
		}
		cmd = control.Command{Kind: kind, Value: msg.Value}
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, describe(msg))
	}
	return m.Submit(cmd)
}

func describe(msg dto.ControlMessage) string {
	switch msg.Type {
	case dto.ControlKey:
		return "key " + msg.Key
	case dto.ControlVoice:
		return "voice " + msg.Text
	}
	return msg.Type
}

// Submit queues cmd for the next tick.
func (m *Manager) Submit(cmd control.Command) error {
	if !m.loop.Submit(cmd) {
		return ErrQueueFull
	}
	return nil
}

// SetBackground decodes an uploaded image and queues it as the new
// background. The current background is untouched on failure.
func (m *Manager) SetBackground(data []byte) error {
	img, err := m.decoder.DecodeImage(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	return m.Submit(control.Command{Kind: control.SetBackground, Image: img})
}

// State returns the render state after the last tick.
func (m *Manager) State() dto.State {
	return m.loop.State()
}

// HandleCameraImage forwards a remote camera frame to the frame source.
// Frames are dropped when the server renders from a local camera.
func (m *Manager) HandleCameraImage(image []byte, camera string) {
	m.frameCounterMu.Lock()
	if _, ok := m.frameCounters[camera]; !ok && len(m.frameCounters) >= maxTrackedCameras {
		camera = UnknownCamera
	}
	m.frameCounters[camera]++
	count := m.frameCounters[camera]
	m.frameCounterMu.Unlock()

	if m.frames == nil {
		if count == 1 {
			m.logger.Warning("📹 Camera %s is sending frames but the frame source is local - ignoring", camera)
		}
		return
	}
	if count == 1 {
		m.logger.Info("📹 First frame from camera %s", camera)
	}
	m.frames.Publish(image)
}

// FrameCount returns how many frames a remote camera has sent.
func (m *Manager) FrameCount(camera string) int {
	m.frameCounterMu.Lock()
	defer m.frameCounterMu.Unlock()
	return m.frameCounters[camera]
}

// TrackedCameras returns how many camera names have frame counters.
func (m *Manager) TrackedCameras() int {
	m.frameCounterMu.Lock()
	defer m.frameCounterMu.Unlock()
	return len(m.frameCounters)
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.hubService
}

func (m *Manager) GetArchiveService() *storage.ArchiveService {
	return m.archive
}

func (m *Manager) GetSnapshotRepository() repository.SnapshotRepository {
	return m.snapshotsRepo
}
