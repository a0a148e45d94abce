// Package hal defines the hardware abstraction used by the camera firmware.
// Every peripheral the coordinator touches (GPIO, ADC, image sensor, Wi-Fi
// radio, SD-MMC bus and the sleep controller) is reached through one of the
// interfaces below, so the same firmware runs against the host simulator or
// a hardware daemon.
package hal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
)

// Pin is a GPIO number on the board
type Pin int

// Board pin assignments (AI-Thinker ESP32-CAM)
const (
	PinFlash   Pin = 4
	PinPIR     Pin = 12
	PinBattery Pin = 13
	PinLED     Pin = 33
)

// SDSharedPins are the SD-MMC data lines that double as PIR and battery pins.
var SDSharedPins = []Pin{12, 13}

// PinMode is the electrical configuration of a pin
type PinMode int

const (
	ModeInput PinMode = iota
	ModeInputPullDown
	ModeOutput
)

func (m PinMode) String() string {
	switch m {
	case ModeInput:
		return "input"
	case ModeInputPullDown:
		return "input_pulldown"
	case ModeOutput:
		return "output"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Edge selects the interrupt trigger
type Edge int

const (
	EdgeRising Edge = iota
	EdgeFalling
)

// WakeReason is why the chip left deep sleep (or booted)
type WakeReason int

const (
	WakeColdBoot WakeReason = iota
	WakeTimer
	WakeMotion
	WakeUnknown
)

func (r WakeReason) String() string {
	switch r {
	case WakeColdBoot:
		return "cold_boot"
	case WakeTimer:
		return "timer"
	case WakeMotion:
		return "motion"
	default:
		return "unknown"
	}
}

// ParseWakeReason converts the textual form back into a WakeReason
func ParseWakeReason(s string) (WakeReason, error) {
	switch s {
	case "cold_boot", "":
		return WakeColdBoot, nil
	case "timer":
		return WakeTimer, nil
	case "motion":
		return WakeMotion, nil
	case "unknown":
		return WakeUnknown, nil
	}
	return WakeUnknown, fmt.Errorf("invalid wake reason %q", s)
}

var (
	// ErrPinBusy is returned when a pin is claimed by another peripheral
	ErrPinBusy = errors.New("pin busy")
	// ErrNoCard is returned by Mount when no card is present
	ErrNoCard = errors.New("no SD card")
)

// GPIO drives digital pins and pin interrupts
type GPIO interface {
	SetMode(pin Pin, mode PinMode) error
	Write(pin Pin, high bool) error
	// Hold latches the current level so it survives deep sleep
	Hold(pin Pin, enable bool) error
	AttachInterrupt(pin Pin, edge Edge, isr func()) error
	DetachInterrupt(pin Pin) error
}

// ADC samples an analog pin
type ADC interface {
	Read(pin Pin) (raw uint32, millivolts uint32, err error)
}

// FrameSize names a sensor resolution (see framesize_t)
type FrameSize string

const (
	FrameQVGA FrameSize = "QVGA"
	FrameVGA  FrameSize = "VGA"
	FrameSVGA FrameSize = "SVGA"
	FrameXGA  FrameSize = "XGA"
	FrameSXGA FrameSize = "SXGA"
	FrameUXGA FrameSize = "UXGA"
)

// Dimensions returns width and height in pixels
func (f FrameSize) Dimensions() (int, int) {
	switch f {
	case FrameQVGA:
		return 320, 240
	case FrameVGA:
		return 640, 480
	case FrameSVGA:
		return 800, 600
	case FrameXGA:
		return 1024, 768
	case FrameSXGA:
		return 1280, 1024
	default:
		return 1600, 1200
	}
}

// SensorConfig is applied once when the sensor is powered
type SensorConfig struct {
	FrameSize FrameSize
	Quality   int // JPEG quality 1-100, lower is better
}

// Sensor is the image sensor with its on-chip JPEG encoder
type Sensor interface {
	Init(cfg SensorConfig) error
	// Grab fetches one frame and returns a copy of its JPEG bytes.
	Grab() ([]byte, error)
}

// Radio is the Wi-Fi station interface
type Radio interface {
	// Connect associates with the access point; ctx bounds the attempt
	Connect(ctx context.Context, ssid, psk string) error
	Connected() bool
}

// SDMMC is the SD card bus. Mount exposes the card filesystem rooted at "/".
type SDMMC interface {
	Mount() (afero.Fs, error)
	Unmount() error
	Usage() (used, total uint64, err error)
}

// Power controls wake sources and deep sleep
type Power interface {
	WakeReason() WakeReason
	// EnableWakeOnPin arms pin as a deep-sleep wake source at the given level
	EnableWakeOnPin(pin Pin, high bool) error
	// DeepSleep blocks until the timer expires or an armed wake source fires.
	// Volatile state (pin modes, interrupts) is lost; holds are kept.
	DeepSleep(ctx context.Context, d time.Duration) error
}

// Board groups the peripherals of one camera
type Board struct {
	GPIO   GPIO
	ADC    ADC
	Sensor Sensor
	Radio  Radio
	SD     SDMMC
	Power  Power
}
