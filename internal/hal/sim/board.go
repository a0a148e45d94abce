// Package sim is an in-process ESP32-CAM board for running the firmware on a
// host. The SD card is backed by a host directory (or memory), the image
// sensor renders synthetic JPEGs and the PIR is driven with Trigger.
package sim

import (
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/wizlab/wildlife-camera/internal/hal"
)

// Config holds simulator configuration
type Config struct {
	CardDir       string // host directory backing the card, empty for memory
	CardPresent   bool
	CardCapacity  uint64 // bytes
	BatteryMV     uint32 // voltage at the divider pin
	WiFiAvailable bool
	SleepScale    float64 // deep sleep durations are multiplied by this
	SensorFails   bool
	WakeReason    hal.WakeReason
}

// DefaultConfig returns default simulator configuration
func DefaultConfig() Config {
	return Config{
		CardPresent:   true,
		CardCapacity:  4 << 30,
		BatteryMV:     1950,
		WiFiAvailable: true,
		SleepScale:    1,
		WakeReason:    hal.WakeColdBoot,
	}
}

// Board implements every hal interface
type Board struct {
	mu     sync.Mutex
	config Config
	log    *slog.Logger

	modes  map[hal.Pin]hal.PinMode
	levels map[hal.Pin]bool
	writes map[hal.Pin][]bool
	holds  map[hal.Pin]bool
	isrs   map[hal.Pin]func()

	wakePins map[hal.Pin]bool
	reason   hal.WakeReason
	sleeping bool
	wake     chan hal.Pin

	sensor      *hal.SensorConfig
	frameNumber int
	grabFails   bool

	connected bool

	card    afero.Fs
	mounted bool
}

// New creates a powered-on board
func New(config Config, log *slog.Logger) *Board {
	var card afero.Fs
	if config.CardDir != "" {
		card = afero.NewBasePathFs(afero.NewOsFs(), config.CardDir)
	} else {
		card = afero.NewMemMapFs()
	}
	if config.SleepScale <= 0 {
		config.SleepScale = 1
	}
	return &Board{
		config:   config,
		log:      log.With("component", "sim"),
		modes:    make(map[hal.Pin]hal.PinMode),
		levels:   make(map[hal.Pin]bool),
		writes:   make(map[hal.Pin][]bool),
		holds:    make(map[hal.Pin]bool),
		isrs:     make(map[hal.Pin]func()),
		wakePins: make(map[hal.Pin]bool),
		reason:   config.WakeReason,
		wake:     make(chan hal.Pin, 1),
		card:     card,
	}
}

// HAL exposes the board through the hal interfaces
func (b *Board) HAL() hal.Board {
	return hal.Board{GPIO: b, ADC: b, Sensor: b, Radio: b, SD: b, Power: b}
}

// Card returns the card filesystem regardless of mount state, for tests and
// inspection.
func (b *Board) Card() afero.Fs {
	return b.card
}

// SetBatteryMV changes the voltage seen at the divider pin
func (b *Board) SetBatteryMV(mv uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.BatteryMV = mv
}

// SetWiFiAvailable brings the access point up or down
func (b *Board) SetWiFiAvailable(up bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.WiFiAvailable = up
	if !up {
		b.connected = false
	}
}

// SetWakeReason overrides the reason reported by the next WakeReason call
func (b *Board) SetWakeReason(r hal.WakeReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reason = r
}

func (b *Board) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) * b.config.SleepScale)
}

func sharedPin(pin hal.Pin) bool {
	for _, p := range hal.SDSharedPins {
		if p == pin {
			return true
		}
	}
	return false
}
