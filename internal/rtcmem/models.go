// Package rtcmem emulates the ESP32 RTC slow memory: a small record store that
// survives deep sleep but is wiped on power-off. Each record has exactly one
// owning component.
package rtcmem

import "time"

// SystemState is owned by the coordinator
type SystemState struct {
	LastNotifiedLevel uint8     `json:"last_notified_level"` // 0-5
	SessionStart      time.Time `json:"session_start"`       // wall clock at first synced boot
}

// BatteryCache is owned by the battery monitor
type BatteryCache struct {
	Expiry              time.Duration `json:"expiry"` // RTC time when the cache goes stale
	Raw                 uint32        `json:"raw"`
	PinMillivolts       uint32        `json:"pin_mv"`
	EffectiveMillivolts uint32        `json:"effective_mv"`
}

// Valid reports whether the cache holds a reading
func (b BatteryCache) Valid() bool {
	return b.Expiry > 0
}

// ClockState is owned by the clock
type ClockState struct {
	PowerOnAt time.Time     `json:"power_on_at"`
	Synced    bool          `json:"synced"`
	Offset    time.Duration `json:"offset"`
}

// Defaults applied when a record has never been written
const (
	DefaultNotifiedLevel uint8 = 5
	DefaultUpdateID      int64 = -1
)
