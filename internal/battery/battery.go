// Package battery samples the pack voltage through the on-board divider and
// maps it to the five-level gauge used for notifications.
package battery

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/wizlab/wildlife-camera/internal/clock"
	"github.com/wizlab/wildlife-camera/internal/hal"
	"github.com/wizlab/wildlife-camera/internal/rtcmem"
)

// Config holds battery monitor configuration
type Config struct {
	Pin          hal.Pin
	Samples      int     // ADC reads averaged per sample
	DividerRatio float64 // source mV = pin mV * ratio
	Cells        int
	CacheTimeout time.Duration
}

// DefaultConfig returns default battery configuration
func DefaultConfig() Config {
	return Config{
		Pin:          hal.PinBattery,
		Samples:      8,
		DividerRatio: 2.0,
		Cells:        1,
		CacheTimeout: 900 * time.Second,
	}
}

// Cache is the retained-memory record owned by the monitor
type Cache interface {
	LoadBattery() (rtcmem.BatteryCache, error)
	SaveBattery(rtcmem.BatteryCache) error
}

// Reading is one battery measurement
type Reading struct {
	Raw                 uint32
	PinMillivolts       uint32
	EffectiveMillivolts uint32
	Level               uint8
	Cached              bool
}

// Percent returns the gauge level as a percentage
func (r Reading) Percent() int {
	return Percent(r.Level)
}

// Critical reports whether the reading is at level 0
func (r Reading) Critical() bool {
	return r.Level == 0
}

// Monitor reads the divider pin
type Monitor struct {
	config Config
	adc    hal.ADC
	clock  clock.Clock
	cache  Cache
	log    *slog.Logger
}

// New creates a battery monitor
func New(config Config, adc hal.ADC, clk clock.Clock, cache Cache, log *slog.Logger) *Monitor {
	if config.Samples <= 0 {
		config.Samples = 1
	}
	if config.Cells <= 0 {
		config.Cells = 1
	}
	return &Monitor{
		config: config,
		adc:    adc,
		clock:  clk,
		cache:  cache,
		log:    log.With("component", "battery"),
	}
}

// Sample returns the battery reading, from retained memory while the cached
// value is still fresh.
func (m *Monitor) Sample() (Reading, error) {
	now := m.clock.RTC()

	cached, err := m.cache.LoadBattery()
	if err != nil {
		m.log.Warn("failed to load battery cache", "err", err)
	} else if cached.Valid() && now < cached.Expiry {
		return Reading{
			Raw:                 cached.Raw,
			PinMillivolts:       cached.PinMillivolts,
			EffectiveMillivolts: cached.EffectiveMillivolts,
			Level:               LevelFor(cached.EffectiveMillivolts, m.config.Cells),
			Cached:              true,
		}, nil
	}

	var rawSum, mvSum uint64
	for i := 0; i < m.config.Samples; i++ {
		raw, mv, err := m.adc.Read(m.config.Pin)
		if err != nil {
			return Reading{}, fmt.Errorf("failed to read battery pin: %w", err)
		}
		rawSum += uint64(raw)
		mvSum += uint64(mv)
	}
	n := uint64(m.config.Samples)
	r := Reading{
		Raw:           uint32(rawSum / n),
		PinMillivolts: uint32(mvSum / n),
	}
	r.EffectiveMillivolts = uint32(math.Round(float64(r.PinMillivolts) * m.config.DividerRatio))
	r.Level = LevelFor(r.EffectiveMillivolts, m.config.Cells)

	if err := m.cache.SaveBattery(rtcmem.BatteryCache{
		Expiry:              now + m.config.CacheTimeout,
		Raw:                 r.Raw,
		PinMillivolts:       r.PinMillivolts,
		EffectiveMillivolts: r.EffectiveMillivolts,
	}); err != nil {
		m.log.Warn("failed to save battery cache", "err", err)
	}

	m.log.Debug("battery sampled", "raw", r.Raw, "pin_mv", r.PinMillivolts,
		"mv", r.EffectiveMillivolts, "level", r.Level)
	return r, nil
}

// Per-cell thresholds in millivolts, highest level first
var levelThresholds = [...]uint32{4000, 3850, 3700, 3550, 3400}

// LevelFor maps an effective pack voltage to the 0-5 gauge
func LevelFor(effectiveMV uint32, cells int) uint8 {
	if cells <= 0 {
		cells = 1
	}
	perCell := effectiveMV / uint32(cells)
	for i, threshold := range levelThresholds {
		if perCell >= threshold {
			return uint8(len(levelThresholds) - i)
		}
	}
	return 0
}

// Percent converts a gauge level to a percentage
func Percent(level uint8) int {
	return int(level) * 20
}
