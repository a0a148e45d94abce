// Package camera wraps the image sensor and the flash LED.
package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wizlab/wildlife-camera/internal/clock"
	"github.com/wizlab/wildlife-camera/internal/hal"
)

var (
	// ErrCaptureFailed is returned when the sensor driver fails (code -1)
	ErrCaptureFailed = errors.New("camera capture failed")
	// ErrEmptyFrame is returned for a zero-length frame (code -2)
	ErrEmptyFrame = errors.New("camera returned empty frame")
	// ErrNotInitialized is returned when TakePhoto runs before Init
	ErrNotInitialized = errors.New("camera not initialized")
)

// Code maps a camera error to its numeric code, 0 for nil
func Code(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrEmptyFrame):
		return -2
	default:
		return -1
	}
}

// Config holds camera configuration
type Config struct {
	FrameSize hal.FrameSize
	Quality   int
	FlashPin  hal.Pin
	FlashLead time.Duration // flash on time before the real frame
}

// DefaultConfig returns default camera configuration
func DefaultConfig() Config {
	return Config{
		FrameSize: hal.FrameUXGA,
		Quality:   10,
		FlashPin:  hal.PinFlash,
		FlashLead: 50 * time.Millisecond,
	}
}

// Archiver stores a captured JPEG and returns where it went
type Archiver interface {
	Archive(jpeg []byte) (string, error)
}

// Camera captures stills
type Camera struct {
	config   Config
	sensor   hal.Sensor
	gpio     hal.GPIO
	clock    clock.Clock
	archiver Archiver
	log      *slog.Logger
	ready    bool
}

// New creates a camera; call Init before capturing
func New(config Config, sensor hal.Sensor, gpio hal.GPIO, clk clock.Clock, log *slog.Logger) *Camera {
	return &Camera{
		config: config,
		sensor: sensor,
		gpio:   gpio,
		clock:  clk,
		log:    log.With("component", "camera"),
	}
}

// SetArchiver attaches the store every captured photo is written to
func (c *Camera) SetArchiver(a Archiver) {
	c.archiver = a
}

// Init powers the sensor and drives the flash low. It is a no-op after the
// first successful call in a boot.
func (c *Camera) Init() error {
	if c.ready {
		return nil
	}
	if err := c.gpio.SetMode(c.config.FlashPin, hal.ModeOutput); err != nil {
		return fmt.Errorf("failed to configure flash pin: %w", err)
	}
	if err := c.gpio.Write(c.config.FlashPin, false); err != nil {
		return fmt.Errorf("failed to clear flash: %w", err)
	}
	err := c.sensor.Init(hal.SensorConfig{
		FrameSize: c.config.FrameSize,
		Quality:   c.config.Quality,
	})
	if err != nil {
		return fmt.Errorf("failed to init sensor: %w", err)
	}
	c.ready = true
	c.log.Info("sensor ready", "frame_size", c.config.FrameSize, "quality", c.config.Quality)
	return nil
}

// TakePhoto captures one JPEG. The first frame after power-up carries stale
// exposure and is discarded. With flash set the LED is lit FlashLead before
// the capture and cleared right after it.
func (c *Camera) TakePhoto(flash bool) ([]byte, error) {
	if !c.ready {
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, ErrNotInitialized)
	}

	if flash {
		if err := c.gpio.Write(c.config.FlashPin, true); err != nil {
			c.log.Warn("failed to set flash", "err", err)
		}
		c.clock.Sleep(c.config.FlashLead)
	}
	jpeg, err := c.grab()
	if flash {
		if err := c.gpio.Write(c.config.FlashPin, false); err != nil {
			c.log.Warn("failed to clear flash", "err", err)
		}
	}
	if err != nil {
		return nil, err
	}

	c.log.Info("photo captured", "bytes", len(jpeg), "flash", flash)

	if c.archiver != nil {
		path, err := c.archiver.Archive(jpeg)
		if err != nil {
			c.log.Warn("failed to archive photo", "err", err)
		} else {
			c.log.Info("photo archived", "path", path)
		}
	}
	return jpeg, nil
}

func (c *Camera) grab() ([]byte, error) {
	if _, err := c.sensor.Grab(); err != nil {
		return nil, fmt.Errorf("%w: dispose frame: %w", ErrCaptureFailed, err)
	}
	jpeg, err := c.sensor.Grab()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	if len(jpeg) == 0 {
		return nil, ErrEmptyFrame
	}
	return jpeg, nil
}

// FlashBlink lights the flash for d
func (c *Camera) FlashBlink(d time.Duration) error {
	if err := c.gpio.Write(c.config.FlashPin, true); err != nil {
		return fmt.Errorf("failed to set flash: %w", err)
	}
	c.clock.Sleep(d)
	return c.gpio.Write(c.config.FlashPin, false)
}

// FlashHold latches the flash pin low across deep sleep, or releases the
// latch after wake.
func (c *Camera) FlashHold(on bool) error {
	if on {
		if err := c.gpio.Write(c.config.FlashPin, false); err != nil {
			return fmt.Errorf("failed to clear flash: %w", err)
		}
	}
	if err := c.gpio.Hold(c.config.FlashPin, on); err != nil {
		return fmt.Errorf("failed to hold flash pin: %w", err)
	}
	return nil
}
