// Package render drives the per-tick compositing of background, echoes and
// live masked video.
package render

import (
	"context"
	"sync"
	"time"

	"echoes/internal/control"
	"echoes/internal/dto"
	"echoes/internal/echo"
	"echoes/internal/logger"
	"echoes/internal/params"
)

// Compositor owns the canvas, the current camera frame and the latest
// segmentation mask. Only the render loop goroutine calls it.
type Compositor interface {
	// Advance reads the next camera frame and picks up the latest mask.
	// segmented reports whether any mask has been delivered since start.
	Advance() (segmented bool, err error)
	// FillBase paints the plain base background.
	FillBase()
	// Snapshot returns an owned copy of the current canvas.
	Snapshot() (echo.Raster, error)
	// DrawImage draws img stretched over the canvas, fully opaque.
	DrawImage(img echo.Raster) error
	// DrawLayer draws a captured echo at opacity in [0,255].
	DrawLayer(layer echo.Raster, opacity int) error
	// DrawLive draws the current masked frame fully opaque.
	DrawLive() error
	// CaptureLayer returns an owned copy of the current masked frame.
	CaptureLayer() (echo.Raster, error)
	// Encode returns the canvas as JPEG.
	Encode() ([]byte, error)
}

// Publisher receives every rendered frame.
type Publisher interface {
	Publish(jpeg []byte, state dto.State)
}

// Archiver stores snapshots requested with the save command.
type Archiver interface {
	AddSnapshot(jpeg []byte, echoes int)
}

// Options configures a Loop.
type Options struct {
	Params    params.Params
	MaxEchoes int
	Lifetime  time.Duration
	QueueSize int
}

// Loop is the render state machine. The parameter store, echo buffer and
// background are touched only from Tick; other goroutines talk to it
// through the command queue and read State.
type Loop struct {
	store  *params.Store
	buffer *echo.Buffer
	queue  *control.Queue

	canvas    Compositor
	publisher Publisher
	archiver  Archiver
	logger    *logger.Logger

	background    echo.Raster
	lastCapture   time.Time
	segmented     bool
	saveRequested bool
	advanceFailed bool
	ticks         uint64

	closeMu sync.Mutex
	closed  bool

	stateMu sync.RWMutex
	state   dto.State
}

func NewLoop(opts Options, canvas Compositor, publisher Publisher, archiver Archiver, logger *logger.Logger) *Loop {
	l := &Loop{
		store:     params.NewStore(opts.Params),
		buffer:    echo.NewBuffer(opts.MaxEchoes, opts.Lifetime),
		queue:     control.NewQueue(opts.QueueSize),
		canvas:    canvas,
		publisher: publisher,
		archiver:  archiver,
		logger:    logger,
	}
	l.updateState()
	return l
}

// Submit queues a command for the next tick. It reports false when the
// queue is full or the loop is closed; the command's image has then
// already been released.
func (l *Loop) Submit(cmd control.Command) bool {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()

	switch {
	case l.closed:
		l.logger.Warning("Render loop closed - dropping %s", cmd.Kind)
	case l.queue.Push(cmd):
		return true
	default:
		l.logger.Warning("Control queue full - dropping %s", cmd.Kind)
	}

	if err := cmd.Release(); err != nil {
		l.logger.Error("Failed to release dropped %s image: %v", cmd.Kind, err)
	}
	return false
}

// State returns the state published after the last tick.
func (l *Loop) State() dto.State {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

// Run ticks at the given period until ctx is done, then releases every
// raster the loop owns.
func (l *Loop) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	defer l.Close()

	l.logger.Info("🎨 Render loop started - tick every %v", period)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("🛑 Render loop stopped after %d ticks", l.ticks)
			return
		case <-ticker.C:
			l.Tick(time.Now())
		}
	}
}

// Tick renders one frame.
func (l *Loop) Tick(now time.Time) {
	if l.lastCapture.IsZero() {
		l.lastCapture = now
	}
	l.ticks++

	l.queue.Drain(l.apply)

	frameOK := l.advance()
	p := l.store.Get()

	if p.FreePaintMode {
		l.replaceBackground(l.canvas.Snapshot())
	} else {
		l.canvas.FillBase()
	}

	if l.background != nil {
		if err := l.canvas.DrawImage(l.background); err != nil {
			l.logger.Error("Failed to draw background: %v", err)
		}
	}

	for _, e := range l.buffer.Entries() {
		if err := l.canvas.DrawLayer(e.Image, e.Opacity); err != nil {
			l.logger.Error("Failed to draw echo: %v", err)
		}
	}
	if err := l.buffer.Tick(now, p.OpacityLevel, p.Active); err != nil {
		l.logger.Error("Failed to release expired echoes: %v", err)
	}

	if p.Active && l.segmented && frameOK {
		if err := l.canvas.DrawLive(); err != nil {
			l.logger.Error("Failed to draw live frame: %v", err)
		}
	}

	if now.Sub(l.lastCapture) > time.Duration(p.IntervalRate)*time.Millisecond {
		if err := l.buffer.Capture(now, p.Active, l.segmented && frameOK, l.canvas.CaptureLayer); err != nil {
			l.logger.Error("Failed to capture echo: %v", err)
		}
		l.lastCapture = now
	}

	l.publish()
	l.updateState()
}

// advance pulls the next frame. A failing source is logged once until it
// recovers.
func (l *Loop) advance() bool {
	segmented, err := l.canvas.Advance()
	if err != nil {
		if !l.advanceFailed {
			l.logger.Warning("No camera frame: %v", err)
		}
		l.advanceFailed = true
		return false
	}

	if l.advanceFailed {
		l.logger.Info("Camera frames resumed")
	}
	l.advanceFailed = false
	if segmented && !l.segmented {
		l.logger.Info("First segmentation result received")
	}
	l.segmented = l.segmented || segmented
	return true
}

func (l *Loop) publish() {
	save := l.saveRequested
	l.saveRequested = false
	if l.publisher == nil && !save {
		return
	}

	jpeg, err := l.canvas.Encode()
	if err != nil {
		l.logger.Error("Failed to encode canvas: %v", err)
		return
	}

	if l.publisher != nil {
		l.publisher.Publish(jpeg, l.snapshotState())
	}
	if save && l.archiver != nil {
		l.archiver.AddSnapshot(jpeg, l.buffer.Len())
	}
}

// apply runs one control command between ticks.
func (l *Loop) apply(cmd control.Command) {
	switch cmd.Kind {
	case control.OpacityUp:
		l.logger.Info("Opacity Level: %d", l.store.IncreaseOpacity())
	case control.OpacityDown:
		l.logger.Info("Opacity Level: %d", l.store.DecreaseOpacity())
	case control.SetOpacity:
		l.store.SetOpacity(cmd.Value)
	case control.IntervalUp:
		l.logger.Info("Interval Rate: %d", l.store.IncreaseInterval())
	case control.IntervalDown:
		l.logger.Info("Interval Rate: %d", l.store.DecreaseInterval())
	case control.SetInterval:
		l.store.SetInterval(cmd.Value)
	case control.ToggleActive:
		l.logger.Info("Segmentation active: %v", l.store.ToggleActive())
	case control.Activate:
		l.store.SetActive(true)
	case control.Deactivate:
		l.store.SetActive(false)
	case control.ToggleFreePaint:
		l.logger.Info("Free paint: %v", l.store.ToggleFreePaint())
	case control.ClearEchoes:
		if err := l.buffer.Clear(); err != nil {
			l.logger.Error("Failed to release echoes: %v", err)
		}
		l.logger.Info("Echoes cleared")
	case control.SetBackground:
		l.replaceBackground(cmd.Image, nil)
		l.logger.Info("Background image set")
	case control.CanvasAsBackground:
		l.replaceBackground(l.canvas.Snapshot())
	case control.SaveSnapshot:
		l.saveRequested = true
	default:
		l.logger.Warning("Ignoring unknown command %v", cmd.Kind)
		if err := cmd.Release(); err != nil {
			l.logger.Error("Failed to release image: %v", err)
		}
	}
}

// replaceBackground swaps in img, releasing the previous background. A
// failed snapshot leaves the current background in place.
func (l *Loop) replaceBackground(img echo.Raster, err error) {
	if err != nil {
		l.logger.Error("Failed to capture canvas: %v", err)
		return
	}
	if img == nil {
		return
	}

	if l.background != nil {
		if err := l.background.Close(); err != nil {
			l.logger.Error("Failed to release background: %v", err)
		}
	}
	l.background = img
}

func (l *Loop) snapshotState() dto.State {
	return dto.State{
		Params:        l.store.Get(),
		Echoes:        l.buffer.Len(),
		MaxEchoes:     l.buffer.Capacity(),
		Segmented:     l.segmented,
		HasBackground: l.background != nil,
		Tick:          l.ticks,
	}
}

func (l *Loop) updateState() {
	s := l.snapshotState()
	l.stateMu.Lock()
	l.state = s
	l.stateMu.Unlock()
}

// Close releases the echoes, the background and any queued images. Only
// call it once the loop is no longer ticking. Commands submitted after
// Close are released immediately.
func (l *Loop) Close() {
	l.closeMu.Lock()
	l.closed = true
	l.closeMu.Unlock()

	l.queue.Drain(func(cmd control.Command) {
		if err := cmd.Release(); err != nil {
			l.logger.Error("Failed to release queued image: %v", err)
		}
	})
	if err := l.buffer.Clear(); err != nil {
		l.logger.Error("Failed to release echoes: %v", err)
	}
	if l.background != nil {
		if err := l.background.Close(); err != nil {
			l.logger.Error("Failed to release background: %v", err)
		}
		l.background = nil
	}
	l.updateState()
}
