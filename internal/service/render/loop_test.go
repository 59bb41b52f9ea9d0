package render

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"echoes/internal/control"
	"echoes/internal/dto"
	"echoes/internal/echo"
	"echoes/internal/logger"
	"echoes/internal/params"
)

// ========================================
// Fakes
// ========================================

type fakeRaster struct {
	name   string
	closed int
}

func (r *fakeRaster) Close() error {
	r.closed++
	return nil
}

// fakeCanvas records draw calls per tick.
type fakeCanvas struct {
	segmented  bool
	advanceErr error
	snapErr    error

	calls    []string
	made     []*fakeRaster
	encoded  int
	captures int
}

func (c *fakeCanvas) Advance() (bool, error) {
	c.calls = nil
	return c.segmented, c.advanceErr
}

func (c *fakeCanvas) FillBase() { c.calls = append(c.calls, "fill") }

func (c *fakeCanvas) Snapshot() (echo.Raster, error) {
	if c.snapErr != nil {
		return nil, c.snapErr
	}
	c.calls = append(c.calls, "snapshot")
	return c.newRaster("canvas"), nil
}

func (c *fakeCanvas) DrawImage(img echo.Raster) error {
	c.calls = append(c.calls, "image:"+img.(*fakeRaster).name)
	return nil
}

func (c *fakeCanvas) DrawLayer(layer echo.Raster, opacity int) error {
	c.calls = append(c.calls, fmt.Sprintf("layer:%s@%d", layer.(*fakeRaster).name, opacity))
	return nil
}

func (c *fakeCanvas) DrawLive() error {
	c.calls = append(c.calls, "live")
	return nil
}

func (c *fakeCanvas) CaptureLayer() (echo.Raster, error) {
	c.captures++
	return c.newRaster(fmt.Sprintf("echo%d", c.captures)), nil
}

func (c *fakeCanvas) Encode() ([]byte, error) {
	c.encoded++
	return []byte("jpeg"), nil
}

func (c *fakeCanvas) newRaster(name string) *fakeRaster {
	r := &fakeRaster{name: name}
	c.made = append(c.made, r)
	return r
}

type fakePublisher struct {
	frames int
	last   dto.State
}

func (p *fakePublisher) Publish(jpeg []byte, state dto.State) {
	p.frames++
	p.last = state
}

type fakeArchiver struct {
	saved  int
	echoes int
}

func (a *fakeArchiver) AddSnapshot(jpeg []byte, echoes int) {
	a.saved++
	a.echoes = echoes
}

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestLoop(canvas *fakeCanvas) (*Loop, *fakePublisher, *fakeArchiver) {
	pub := &fakePublisher{}
	arch := &fakeArchiver{}
	l := NewLoop(Options{Params: params.Defaults()}, canvas, pub, arch, logger.NewDiscardLogger())
	return l, pub, arch
}

func hasCall(calls []string, want string) bool {
	for _, c := range calls {
		if c == want {
			return true
		}
	}
	return false
}

// ========================================
// Tick ordering and capture timer
// ========================================

func TestTick_DrawOrder(t *testing.T) {
	canvas := &fakeCanvas{segmented: true}
	l, _, _ := newTestLoop(canvas)

	l.Tick(epoch)
	l.Tick(epoch.Add(501 * time.Millisecond)) // captures echo1
	l.Submit(control.Command{Kind: control.SetBackground, Image: &fakeRaster{name: "upload"}})
	l.Tick(epoch.Add(600 * time.Millisecond))

	expected := []string{"fill", "image:upload", "layer:echo1@255", "live"}
	if len(canvas.calls) != len(expected) {
		t.Fatalf("Expected calls %v, got %v", expected, canvas.calls)
	}
	for i := range expected {
		if canvas.calls[i] != expected[i] {
			t.Errorf("Call %d: expected %s, got %s", i, expected[i], canvas.calls[i])
		}
	}
}

func TestTick_CapturesAfterInterval(t *testing.T) {
	canvas := &fakeCanvas{segmented: true}
	l, _, _ := newTestLoop(canvas)

	l.Tick(epoch)
	l.Tick(epoch.Add(500 * time.Millisecond))
	if canvas.captures != 0 {
		t.Fatalf("Expected no capture at exactly the interval, got %d", canvas.captures)
	}

	l.Tick(epoch.Add(501 * time.Millisecond))
	if canvas.captures != 1 {
		t.Fatalf("Expected 1 capture, got %d", canvas.captures)
	}
	if l.State().Echoes != 1 {
		t.Errorf("Expected 1 echo, got %d", l.State().Echoes)
	}
}

func TestTick_NoSegmentationNoCaptureButTimerResets(t *testing.T) {
	canvas := &fakeCanvas{segmented: false}
	l, _, _ := newTestLoop(canvas)

	l.Tick(epoch)
	l.Tick(epoch.Add(600 * time.Millisecond))
	if canvas.captures != 0 || hasCall(canvas.calls, "live") {
		t.Fatalf("Expected no capture or live draw without segmentation")
	}

	canvas.segmented = true
	l.Tick(epoch.Add(700 * time.Millisecond))
	if canvas.captures != 0 {
		t.Errorf("Expected timer reset by the skipped capture, got %d captures", canvas.captures)
	}
	if !hasCall(canvas.calls, "live") {
		t.Error("Expected live frame once segmented")
	}
}

func TestTick_TwentySixCapturesSettleAtCapacity(t *testing.T) {
	canvas := &fakeCanvas{segmented: true}
	opts := Options{Params: params.Defaults(), Lifetime: time.Minute}
	l := NewLoop(opts, canvas, nil, nil, logger.NewDiscardLogger())

	l.Tick(epoch)
	for i := 1; i <= 26; i++ {
		l.Tick(epoch.Add(time.Duration(i) * 600 * time.Millisecond))
	}

	if canvas.captures != 26 {
		t.Fatalf("Expected 26 captures, got %d", canvas.captures)
	}
	if l.State().Echoes != 25 {
		t.Errorf("Expected 25 echoes, got %d", l.State().Echoes)
	}
	if canvas.made[0].closed != 1 {
		t.Error("Expected the first echo evicted and released")
	}
	for _, r := range canvas.made[1:] {
		if r.closed != 0 {
			t.Errorf("Echo %s released unexpectedly", r.name)
		}
	}
}

func TestTick_AdvanceErrorSkipsLiveAndCapture(t *testing.T) {
	canvas := &fakeCanvas{segmented: true, advanceErr: errors.New("no frame")}
	l, pub, _ := newTestLoop(canvas)

	l.Tick(epoch)
	l.Tick(epoch.Add(time.Second))

	if canvas.captures != 0 || hasCall(canvas.calls, "live") {
		t.Error("Expected no live draw or capture without a frame")
	}
	if pub.frames != 2 {
		t.Errorf("Expected canvas still published each tick, got %d", pub.frames)
	}
}

// ========================================
// Commands
// ========================================

func TestVoiceOffThenGo(t *testing.T) {
	canvas := &fakeCanvas{segmented: true}
	l, _, _ := newTestLoop(canvas)

	off, _ := control.FromVoice("off")
	l.Submit(off)
	l.Tick(epoch)
	if l.State().Active {
		t.Fatal("Expected inactive after \"off\"")
	}

	goCmd, _ := control.FromVoice("go")
	l.Submit(goCmd)
	l.Tick(epoch.Add(time.Millisecond))
	if !l.State().Active {
		t.Error("Expected active after \"go\"")
	}
}

func TestInactive_NoLiveNoCapture(t *testing.T) {
	canvas := &fakeCanvas{segmented: true}
	l, _, _ := newTestLoop(canvas)

	l.Submit(control.Command{Kind: control.ToggleActive})
	l.Tick(epoch)
	l.Tick(epoch.Add(2 * time.Second))

	if canvas.captures != 0 {
		t.Errorf("Expected no capture while inactive, got %d", canvas.captures)
	}
	if hasCall(canvas.calls, "live") {
		t.Error("Expected no live frame while inactive")
	}
}

func TestOpacityChangeAppliesOnNextTick(t *testing.T) {
	canvas := &fakeCanvas{segmented: true}
	l, _, _ := newTestLoop(canvas)

	l.Tick(epoch)
	l.Tick(epoch.Add(501 * time.Millisecond))
	l.Tick(epoch.Add(1002 * time.Millisecond))

	l.Submit(control.Command{Kind: control.OpacityDown})
	l.Tick(epoch.Add(1100 * time.Millisecond))
	l.Tick(epoch.Add(1200 * time.Millisecond))

	if !hasCall(canvas.calls, "layer:echo1@245") || !hasCall(canvas.calls, "layer:echo2@245") {
		t.Errorf("Expected both echoes at 245, got %v", canvas.calls)
	}
}

func TestClearCommand(t *testing.T) {
	canvas := &fakeCanvas{segmented: true}
	l, _, _ := newTestLoop(canvas)

	l.Tick(epoch)
	l.Tick(epoch.Add(501 * time.Millisecond))
	key, _ := control.FromKey("c")
	l.Submit(key)
	l.Tick(epoch.Add(600 * time.Millisecond))

	if l.State().Echoes != 0 {
		t.Errorf("Expected echoes cleared, got %d", l.State().Echoes)
	}
	if canvas.made[0].closed != 1 {
		t.Error("Expected cleared echo released")
	}
}

func TestSetBackground_ReleasesPrevious(t *testing.T) {
	canvas := &fakeCanvas{}
	l, _, _ := newTestLoop(canvas)
	first := &fakeRaster{name: "first"}
	second := &fakeRaster{name: "second"}

	l.Submit(control.Command{Kind: control.SetBackground, Image: first})
	l.Tick(epoch)
	l.Submit(control.Command{Kind: control.SetBackground, Image: second})
	l.Tick(epoch.Add(time.Millisecond))

	if first.closed != 1 {
		t.Error("Expected previous background released")
	}
	if !hasCall(canvas.calls, "image:second") {
		t.Errorf("Expected new background drawn, got %v", canvas.calls)
	}
	if !l.State().HasBackground {
		t.Error("Expected HasBackground in state")
	}

	l.Close()
	if second.closed != 1 {
		t.Error("Expected background released on Close")
	}
}

func TestAddLayer_UsesCanvasSnapshot(t *testing.T) {
	canvas := &fakeCanvas{}
	l, _, _ := newTestLoop(canvas)

	l.Submit(control.Command{Kind: control.CanvasAsBackground})
	l.Tick(epoch)

	if !hasCall(canvas.calls, "image:canvas") {
		t.Errorf("Expected canvas snapshot drawn as background, got %v", canvas.calls)
	}
}

func TestAddLayer_SnapshotFailureKeepsBackground(t *testing.T) {
	canvas := &fakeCanvas{}
	l, _, _ := newTestLoop(canvas)
	bg := &fakeRaster{name: "bg"}
	l.Submit(control.Command{Kind: control.SetBackground, Image: bg})
	l.Tick(epoch)

	canvas.snapErr = errors.New("no canvas")
	l.Submit(control.Command{Kind: control.CanvasAsBackground})
	l.Tick(epoch.Add(time.Millisecond))

	if bg.closed != 0 || !hasCall(canvas.calls, "image:bg") {
		t.Error("Expected previous background kept")
	}
}

func TestFreePaint_UsesPreviousCanvas(t *testing.T) {
	canvas := &fakeCanvas{}
	l, _, _ := newTestLoop(canvas)

	l.Submit(control.Command{Kind: control.ToggleFreePaint})
	l.Tick(epoch)

	if hasCall(canvas.calls, "fill") {
		t.Error("Expected no base fill in free-paint mode")
	}
	if !hasCall(canvas.calls, "snapshot") || !hasCall(canvas.calls, "image:canvas") {
		t.Errorf("Expected previous canvas used as background, got %v", canvas.calls)
	}

	l.Tick(epoch.Add(time.Millisecond))
	if canvas.made[0].closed != 1 {
		t.Error("Expected previous tick's trail released when replaced")
	}

	l.Submit(control.Command{Kind: control.ToggleFreePaint})
	l.Tick(epoch.Add(2 * time.Millisecond))
	if !hasCall(canvas.calls, "fill") || !hasCall(canvas.calls, "image:canvas") {
		t.Errorf("Expected last trail kept as background after leaving free paint, got %v", canvas.calls)
	}
}

func TestSaveSnapshot_Archives(t *testing.T) {
	canvas := &fakeCanvas{}
	l, _, arch := newTestLoop(canvas)

	l.Submit(control.Command{Kind: control.SaveSnapshot})
	l.Tick(epoch)
	l.Tick(epoch.Add(time.Millisecond))

	if arch.saved != 1 {
		t.Errorf("Expected 1 archived snapshot, got %d", arch.saved)
	}
}

func TestSubmit_FullQueueReleasesImage(t *testing.T) {
	canvas := &fakeCanvas{}
	l := NewLoop(Options{Params: params.Defaults(), QueueSize: 1}, canvas, nil, nil, logger.NewDiscardLogger())
	l.Submit(control.Command{Kind: control.OpacityUp})

	img := &fakeRaster{name: "late"}
	if l.Submit(control.Command{Kind: control.SetBackground, Image: img}) {
		t.Fatal("Expected submit to fail on full queue")
	}
	if img.closed != 1 {
		t.Error("Expected dropped image released")
	}
}

func TestClose_ReleasesQueuedImages(t *testing.T) {
	canvas := &fakeCanvas{}
	l, _, _ := newTestLoop(canvas)
	img := &fakeRaster{name: "queued"}
	l.Submit(control.Command{Kind: control.SetBackground, Image: img})

	l.Close()

	if img.closed != 1 {
		t.Error("Expected queued image released on Close")
	}
}

func TestSubmit_AfterCloseReleasesImage(t *testing.T) {
	canvas := &fakeCanvas{}
	l, _, _ := newTestLoop(canvas)
	l.Close()

	img := &fakeRaster{name: "late upload"}
	if l.Submit(control.Command{Kind: control.SetBackground, Image: img}) {
		t.Fatal("Expected submit to fail after Close")
	}
	if img.closed != 1 {
		t.Errorf("Expected late image released once, got %d", img.closed)
	}

	l.Tick(epoch)
	if hasCall(canvas.calls, "image:late upload") {
		t.Error("Expected late image never to be drawn")
	}
}

func TestState_ReportsParams(t *testing.T) {
	canvas := &fakeCanvas{}
	l, pub, _ := newTestLoop(canvas)

	l.Submit(control.Command{Kind: control.SetInterval, Value: 5000})
	l.Submit(control.Command{Kind: control.SetOpacity, Value: 100})
	l.Tick(epoch)

	s := l.State()
	if s.IntervalRate != 2000 || s.OpacityLevel != 100 {
		t.Errorf("Unexpected state: %+v", s)
	}
	if s.MaxEchoes != echo.MaxEntries {
		t.Errorf("Expected max echoes %d, got %d", echo.MaxEntries, s.MaxEchoes)
	}
	if pub.last.Tick != 1 {
		t.Errorf("Expected published tick 1, got %d", pub.last.Tick)
	}
}
