// Package vision segments camera frames and composites the echo canvas
// with OpenCV.
package vision

import (
	"errors"
	"fmt"
	"image"

	"echoes/internal/config"
	"echoes/internal/echo"
	"echoes/internal/service/source"

	"gocv.io/x/gocv"
)

// ErrUnsupportedImage is returned when uploaded bytes are not a decodable image.
var ErrUnsupportedImage = errors.New("not an image file")

// Image is a canvas-sized BGR raster.
type Image struct {
	mat gocv.Mat
}

func (i *Image) Close() error {
	return i.mat.Close()
}

// Layer is a captured masked frame: the frame and the mask it was cut with.
type Layer struct {
	image gocv.Mat
	mask  gocv.Mat
}

func (l *Layer) Close() error {
	return errors.Join(l.image.Close(), l.mask.Close())
}

// Canvas composites background, echoes and live masked video. It
// implements render.Compositor; only the render loop calls it, except
// DecodeImage which is safe from any goroutine.
type Canvas struct {
	source    source.Source
	segmenter *Segmenter

	width, height int
	base          gocv.Scalar
	jpegQuality   int

	canvas  gocv.Mat
	raw     gocv.Mat
	rawMask gocv.Mat
	frame   gocv.Mat
	mask    gocv.Mat
	hasMask bool
}

// NewCanvas creates a white canvas of the configured size.
func NewCanvas(cfg *config.Config, src source.Source, segmenter *Segmenter) *Canvas {
	c := &Canvas{
		source:      src,
		segmenter:   segmenter,
		width:       cfg.CanvasWidth,
		height:      cfg.CanvasHeight,
		base:        gocv.NewScalar(255, 255, 255, 0),
		jpegQuality: cfg.JPEGQuality,
		canvas:      gocv.NewMatWithSize(cfg.CanvasHeight, cfg.CanvasWidth, gocv.MatTypeCV8UC3),
		raw:         gocv.NewMat(),
		rawMask:     gocv.NewMat(),
		frame:       gocv.NewMat(),
		mask:        gocv.NewMat(),
	}
	c.canvas.SetTo(c.base)
	return c
}

func (c *Canvas) size() image.Point {
	return image.Pt(c.width, c.height)
}

// Advance reads the next camera frame, hands it to the segmenter and picks
// up the latest mask, which may belong to an earlier frame.
func (c *Canvas) Advance() (bool, error) {
	if err := c.source.Read(&c.raw); err != nil {
		return c.hasMask, err
	}
	c.segmenter.Submit(c.raw)
	gocv.Resize(c.raw, &c.frame, c.size(), 0, 0, gocv.InterpolationLinear)

	if c.segmenter.Latest(&c.rawMask) && !c.rawMask.Empty() {
		gocv.Resize(c.rawMask, &c.mask, c.size(), 0, 0, gocv.InterpolationNearest)
		c.hasMask = true
	}
	return c.hasMask, nil
}

func (c *Canvas) FillBase() {
	c.canvas.SetTo(c.base)
}

func (c *Canvas) Snapshot() (echo.Raster, error) {
	if c.canvas.Empty() {
		return nil, fmt.Errorf("canvas is empty")
	}
	return &Image{mat: c.canvas.Clone()}, nil
}

func (c *Canvas) DrawImage(img echo.Raster) error {
	bg, ok := img.(*Image)
	if !ok {
		return fmt.Errorf("unexpected raster type %T", img)
	}

	if bg.mat.Cols() == c.width && bg.mat.Rows() == c.height {
		bg.mat.CopyTo(&c.canvas)
		return nil
	}
	gocv.Resize(bg.mat, &c.canvas, c.size(), 0, 0, gocv.InterpolationLinear)
	return nil
}

func (c *Canvas) DrawLayer(img echo.Raster, opacity int) error {
	layer, ok := img.(*Layer)
	if !ok {
		return fmt.Errorf("unexpected raster type %T", img)
	}
	if opacity <= 0 {
		return nil
	}
	if opacity >= echo.FullOpacity {
		layer.image.CopyToWithMask(&c.canvas, layer.mask)
		return nil
	}

	alpha := float64(opacity) / 255.0
	blended := gocv.NewMat()
	defer blended.Close()
	gocv.AddWeighted(c.canvas, 1-alpha, layer.image, alpha, 0, &blended)
	blended.CopyToWithMask(&c.canvas, layer.mask)
	return nil
}

func (c *Canvas) DrawLive() error {
	if !c.hasMask || c.frame.Empty() {
		return fmt.Errorf("no masked frame")
	}
	c.frame.CopyToWithMask(&c.canvas, c.mask)
	return nil
}

func (c *Canvas) CaptureLayer() (echo.Raster, error) {
	if !c.hasMask || c.frame.Empty() {
		return nil, fmt.Errorf("no masked frame")
	}
	return &Layer{image: c.frame.Clone(), mask: c.mask.Clone()}, nil
}

// Encode returns the canvas as JPEG.
func (c *Canvas) Encode() ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.canvas, []int{gocv.IMWriteJpegQuality, c.jpegQuality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode canvas: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// DecodeImage turns uploaded bytes into a canvas-sized background image.
func (c *Canvas) DecodeImage(data []byte) (echo.Raster, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, ErrUnsupportedImage
	}

	resized := gocv.NewMat()
	gocv.Resize(mat, &resized, c.size(), 0, 0, gocv.InterpolationLinear)
	mat.Close()
	return &Image{mat: resized}, nil
}

// Close releases the canvas buffers. The source and segmenter are closed
// by their owner.
func (c *Canvas) Close() error {
	return errors.Join(
		c.canvas.Close(),
		c.raw.Close(),
		c.rawMask.Close(),
		c.frame.Close(),
		c.mask.Close(),
	)
}
