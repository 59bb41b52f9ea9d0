package service

import (
	"errors"
	"fmt"
	"testing"

	"echoes/internal/control"
	"echoes/internal/dto"
	"echoes/internal/echo"
	"echoes/internal/logger"
)

// ========================================
// Test Setup Helpers
// ========================================

type fakeLoop struct {
	submitted []control.Command
	full      bool
	state     dto.State
}

func (f *fakeLoop) Submit(cmd control.Command) bool {
	if f.full {
		cmd.Release()
		return false
	}
	f.submitted = append(f.submitted, cmd)
	return true
}

func (f *fakeLoop) State() dto.State { return f.state }

type fakeImage struct{ closed bool }

func (f *fakeImage) Close() error {
	f.closed = true
	return nil
}

type fakeDecoder struct {
	img *fakeImage
	err error
}

func (f *fakeDecoder) DecodeImage([]byte) (echo.Raster, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.img = &fakeImage{}
	return f.img, nil
}

type fakeSink struct{ frames [][]byte }

func (f *fakeSink) Publish(jpeg []byte) { f.frames = append(f.frames, jpeg) }

func newTestManager(loop *fakeLoop, decoder *fakeDecoder, sink FrameSink) *Manager {
	return NewManager(loop, decoder, sink, nil, nil, nil, logger.NewDiscardLogger())
}

// ========================================
// Control Messages
// ========================================

func TestHandleControlMessage_Mapping(t *testing.T) {
	tests := []struct {
		msg  dto.ControlMessage
		kind control.Kind
	}{
		{dto.ControlMessage{Type: "key", Key: "ArrowUp"}, control.OpacityUp},
		{dto.ControlMessage{Type: "key", Key: " "}, control.ToggleActive},
		{dto.ControlMessage{Type: "voice", Text: "Stop"}, control.Deactivate},
		{dto.ControlMessage{Type: "voice", Text: "go"}, control.Activate},
		{dto.ControlMessage{Type: "set_opacity", Value: 120}, control.SetOpacity},
		{dto.ControlMessage{Type: "toggle_free_paint"}, control.ToggleFreePaint},
		{dto.ControlMessage{Type: "add_layer"}, control.CanvasAsBackground},
		{dto.ControlMessage{Type: "save"}, control.SaveSnapshot},
	}

	for _, tt := range tests {
		loop := &fakeLoop{}
		m := newTestManager(loop, &fakeDecoder{}, nil)

		if err := m.HandleControlMessage(tt.msg); err != nil {
			t.Errorf("%+v: unexpected error %v", tt.msg, err)
			continue
		}
		if len(loop.submitted) != 1 || loop.submitted[0].Kind != tt.kind {
			t.Errorf("%+v: expected %s, got %+v", tt.msg, tt.kind, loop.submitted)
		}
	}
}

func TestHandleControlMessage_SetOpacityCarriesValue(t *testing.T) {
	loop := &fakeLoop{}
	m := newTestManager(loop, &fakeDecoder{}, nil)

	m.HandleControlMessage(dto.ControlMessage{Type: "set_interval", Value: 900})

	if loop.submitted[0].Value != 900 {
		t.Errorf("Expected value 900, got %d", loop.submitted[0].Value)
	}
}

func TestHandleControlMessage_UnrecognizedVoiceIgnored(t *testing.T) {
	loop := &fakeLoop{}
	m := newTestManager(loop, &fakeDecoder{}, nil)

	if err := m.HandleControlMessage(dto.ControlMessage{Type: "voice", Text: "please stop"}); err != nil {
		t.Errorf("Expected unrecognized voice to be ignored, got %v", err)
	}
	if len(loop.submitted) != 0 {
		t.Errorf("Expected no command, got %+v", loop.submitted)
	}
}

func TestHandleControlMessage_Unknown(t *testing.T) {
	for _, msg := range []dto.ControlMessage{
		{Type: "key", Key: "x"},
		{Type: "dance"},
		{Type: "set_background"},
		{Type: "none"},
	} {
		m := newTestManager(&fakeLoop{}, &fakeDecoder{}, nil)
		if err := m.HandleControlMessage(msg); !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("%+v: expected ErrUnknownCommand, got %v", msg, err)
		}
	}
}

func TestHandleControlMessage_QueueFull(t *testing.T) {
	m := newTestManager(&fakeLoop{full: true}, &fakeDecoder{}, nil)

	err := m.HandleControlMessage(dto.ControlMessage{Type: "clear"})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}

// ========================================
// Background Upload
// ========================================

func TestSetBackground_QueuesDecodedImage(t *testing.T) {
	loop := &fakeLoop{}
	decoder := &fakeDecoder{}
	m := newTestManager(loop, decoder, nil)

	if err := m.SetBackground([]byte("jpeg")); err != nil {
		t.Fatalf("SetBackground failed: %v", err)
	}
	if len(loop.submitted) != 1 || loop.submitted[0].Kind != control.SetBackground {
		t.Fatalf("Expected set_background command, got %+v", loop.submitted)
	}
	if loop.submitted[0].Image != decoder.img {
		t.Error("Expected the decoded image to be carried by the command")
	}
}

func TestSetBackground_DecodeFailure(t *testing.T) {
	loop := &fakeLoop{}
	errBadData := errors.New("bad data")
	m := newTestManager(loop, &fakeDecoder{err: errBadData}, nil)

	err := m.SetBackground([]byte("not an image"))
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("Expected ErrUnsupportedImage, got %v", err)
	}
	if !errors.Is(err, errBadData) {
		t.Errorf("Expected decoder error kept in chain, got %v", err)
	}
	if len(loop.submitted) != 0 {
		t.Error("Expected no command on decode failure")
	}
}

func TestSetBackground_QueueFullReleasesImage(t *testing.T) {
	decoder := &fakeDecoder{}
	m := newTestManager(&fakeLoop{full: true}, decoder, nil)

	if err := m.SetBackground([]byte("jpeg")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}
	if !decoder.img.closed {
		t.Error("Expected dropped background to be released")
	}
}

// ========================================
// Remote Frames
// ========================================

func TestHandleCameraImage_ForwardsToSink(t *testing.T) {
	sink := &fakeSink{}
	m := newTestManager(&fakeLoop{}, &fakeDecoder{}, sink)

	m.HandleCameraImage([]byte{1}, "door")
	m.HandleCameraImage([]byte{2}, "door")

	if len(sink.frames) != 2 {
		t.Errorf("Expected 2 frames forwarded, got %d", len(sink.frames))
	}
	if m.FrameCount("door") != 2 {
		t.Errorf("Expected frame count 2, got %d", m.FrameCount("door"))
	}
}

func TestHandleCameraImage_NoSink(t *testing.T) {
	m := newTestManager(&fakeLoop{}, &fakeDecoder{}, nil)

	m.HandleCameraImage([]byte{1}, "door")

	if m.FrameCount("door") != 1 {
		t.Errorf("Expected frame counted, got %d", m.FrameCount("door"))
	}
}

func TestHandleCameraImage_BoundsCounters(t *testing.T) {
	m := newTestManager(&fakeLoop{}, &fakeDecoder{}, &fakeSink{})

	for i := 0; i < 5000; i++ {
		m.HandleCameraImage([]byte{1}, fmt.Sprintf("cam%d", i))
	}

	if got := m.TrackedCameras(); got != maxTrackedCameras+1 {
		t.Errorf("Expected %d tracked cameras, got %d", maxTrackedCameras+1, got)
	}
	if got := m.FrameCount(UnknownCamera); got != 5000-maxTrackedCameras {
		t.Errorf("Expected %d frames counted as unknown, got %d", 5000-maxTrackedCameras, got)
	}
	if m.FrameCount("cam0") != 1 {
		t.Errorf("Expected early camera still counted, got %d", m.FrameCount("cam0"))
	}
}
