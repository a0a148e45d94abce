package sim

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/wizlab/wildlife-camera/internal/hal"
)

var (
	// ErrSensorNotReady is returned by Grab before Init
	ErrSensorNotReady = errors.New("sensor not initialized")
	// ErrFrameTimeout is returned by Grab while SetGrabFails is on
	ErrFrameTimeout = errors.New("frame buffer timeout")
)

func (b *Board) Init(cfg hal.SensorConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.config.SensorFails {
		return errors.New("camera probe failed with error 0x105")
	}
	b.sensor = &cfg
	return nil
}

// SetGrabFails makes every Grab fail until cleared
func (b *Board) SetGrabFails(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.grabFails = fail
}

// Grab renders a frame: a gradient whose phase changes with every frame.
// The frame is encoded at a quarter of the configured resolution to keep the
// simulator fast.
func (b *Board) Grab() ([]byte, error) {
	b.mu.Lock()
	if b.sensor == nil {
		b.mu.Unlock()
		return nil, ErrSensorNotReady
	}
	if b.grabFails {
		b.mu.Unlock()
		return nil, ErrFrameTimeout
	}
	cfg := *b.sensor
	b.frameNumber++
	n := b.frameNumber
	b.mu.Unlock()

	w, h := cfg.FrameSize.Dimensions()
	w, h = w/4, h/4
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + n*16) % 256),
				G: uint8(y % 256),
				B: uint8(n * 40 % 256),
				A: 0xFF,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(cfg.Quality)}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// jpegQuality maps the sensor scale (1-100, lower is better) onto image/jpeg's
// 1-100 scale, where higher is better.
func jpegQuality(q int) int {
	if q <= 0 {
		q = 10
	}
	return max(1, min(100, 100-q))
}
