package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"echoes/internal/config"
	"echoes/internal/logger"

	"gocv.io/x/gocv"
)

const (
	// ModelInputSize is the square input of the selfie segmentation model.
	ModelInputSize = 256
	// maskThreshold splits mask values into keep (255) and cut (0).
	maskThreshold = 127
	// shadowThreshold drops MOG2 shadow pixels (value 127) from the mask.
	shadowThreshold = 200
)

// Segmenter produces person/background masks asynchronously. Frames are
// handed over with Submit; Run segments the newest one and stores the
// result in a single slot that Latest reads. Older frames are dropped.
type Segmenter struct {
	net       gocv.Net
	hasNet    bool
	mog       gocv.BackgroundSubtractorMOG2
	hasMOG    bool
	maskType  string
	modelPath string
	logger    *logger.Logger

	inboxMu    sync.Mutex
	pending    gocv.Mat
	hasPending bool
	drops      uint64
	signal     chan struct{}

	resultMu  sync.Mutex
	latest    gocv.Mat
	hasLatest bool
	results   uint64
}

// NewSegmenter loads the DNN model when present and falls back to
// background subtraction otherwise.
func NewSegmenter(cfg *config.Config, logger *logger.Logger) *Segmenter {
	s := &Segmenter{
		maskType:  cfg.MaskType,
		modelPath: cfg.SegmentationModel,
		logger:    logger,
		pending:   gocv.NewMat(),
		latest:    gocv.NewMat(),
		signal:    make(chan struct{}, 1),
	}

	if err := s.initializeNet(); err != nil {
		s.logger.Warning("Could not initialize segmentation network: %v - using background subtraction", err)
		s.mog = gocv.NewBackgroundSubtractorMOG2()
		s.hasMOG = true
	}

	return s
}

// initializeNet loads the ONNX network and sets backend/target preferences.
func (s *Segmenter) initializeNet() error {
	if s.modelPath == "" {
		return fmt.Errorf("no model configured")
	}
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	net := gocv.ReadNetFromONNX(s.modelPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.hasNet = true
	s.logger.Info("Segmentation network initialized from %s", s.modelPath)
	return nil
}

// Submit hands a frame to the segmentation worker. It never blocks; an
// unprocessed earlier frame is overwritten.
func (s *Segmenter) Submit(frame gocv.Mat) {
	s.inboxMu.Lock()
	if s.hasPending {
		s.drops++
	}
	frame.CopyTo(&s.pending)
	s.hasPending = true
	s.inboxMu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Latest copies the most recent mask into dst. It reports false until the
// first result has been produced.
func (s *Segmenter) Latest(dst *gocv.Mat) bool {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()

	if !s.hasLatest {
		return false
	}
	s.latest.CopyTo(dst)
	return true
}

// Stats returns the number of produced masks and dropped frames.
func (s *Segmenter) Stats() (results, drops uint64) {
	s.resultMu.Lock()
	results = s.results
	s.resultMu.Unlock()

	s.inboxMu.Lock()
	drops = s.drops
	s.inboxMu.Unlock()
	return results, drops
}

// Run segments submitted frames until ctx is done.
func (s *Segmenter) Run(ctx context.Context) {
	work := gocv.NewMat()
	defer work.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	s.logger.Info("🔧 Segmentation worker started")
	for {
		select {
		case <-ctx.Done():
			results, drops := s.Stats()
			s.logger.Info("🔧 Segmentation worker stopped - %d masks, %d frames dropped", results, drops)
			return
		case <-s.signal:
		}

		s.inboxMu.Lock()
		if !s.hasPending {
			s.inboxMu.Unlock()
			continue
		}
		s.pending.CopyTo(&work)
		s.hasPending = false
		s.inboxMu.Unlock()

		if err := s.segment(work, &mask); err != nil {
			s.logger.Error("Segmentation failed: %v", err)
			continue
		}

		s.resultMu.Lock()
		mask.CopyTo(&s.latest)
		s.hasLatest = true
		s.results++
		s.resultMu.Unlock()
	}
}

// segment writes an 8-bit mask the size of frame into mask: 255 where the
// frame should be kept, 0 where it is cut out.
func (s *Segmenter) segment(frame gocv.Mat, mask *gocv.Mat) error {
	if frame.Empty() {
		return fmt.Errorf("empty frame")
	}

	person := gocv.NewMat()
	defer person.Close()

	var err error
	if s.hasNet {
		err = s.segmentDNN(frame, &person)
	} else {
		err = s.segmentMOG(frame, &person)
	}
	if err != nil {
		return err
	}

	s.applyMaskType(person, mask)
	return nil
}

// applyMaskType turns a person mask into the keep mask for the configured
// mask type.
func (s *Segmenter) applyMaskType(person gocv.Mat, mask *gocv.Mat) {
	if s.maskType == config.MaskPerson {
		person.CopyTo(mask)
		return
	}
	gocv.BitwiseNot(person, mask)
}

// segmentDNN runs the selfie segmentation model. The model takes a
// 1x3x256x256 RGB blob in [0,1] and outputs per-pixel person probability.
func (s *Segmenter) segmentDNN(frame gocv.Mat, person *gocv.Mat) error {
	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(ModelInputSize, ModelInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	probs, err := output.DataPtrFloat32()
	if err != nil {
		return fmt.Errorf("failed to read network output: %w", err)
	}
	if len(probs) < ModelInputSize*ModelInputSize {
		return fmt.Errorf("unexpected network output size %d", len(probs))
	}

	small := gocv.NewMatWithSize(ModelInputSize, ModelInputSize, gocv.MatTypeCV8UC1)
	defer small.Close()
	for r := 0; r < ModelInputSize; r++ {
		for c := 0; c < ModelInputSize; c++ {
			p := probs[r*ModelInputSize+c]
			var v uint8
			if p > 0.5 {
				v = 255
			}
			small.SetUCharAt(r, c, v)
		}
	}

	gocv.Resize(small, person, image.Pt(frame.Cols(), frame.Rows()), 0, 0, gocv.InterpolationLinear)
	gocv.Threshold(*person, person, maskThreshold, 255, gocv.ThresholdBinary)
	return nil
}

// segmentMOG treats moving foreground as the person.
func (s *Segmenter) segmentMOG(frame gocv.Mat, person *gocv.Mat) error {
	fg := gocv.NewMat()
	defer fg.Close()

	s.mog.Apply(frame, &fg)
	if fg.Empty() {
		return fmt.Errorf("background subtraction produced no mask")
	}
	gocv.Threshold(fg, person, shadowThreshold, 255, gocv.ThresholdBinary)
	return nil
}

// Close releases the network and buffered frames.
func (s *Segmenter) Close() error {
	if s.hasNet {
		s.net.Close()
	}
	if s.hasMOG {
		s.mog.Close()
	}

	s.inboxMu.Lock()
	s.pending.Close()
	s.inboxMu.Unlock()

	s.resultMu.Lock()
	s.latest.Close()
	s.resultMu.Unlock()
	return nil
}
