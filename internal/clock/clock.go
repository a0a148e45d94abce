// Package clock provides the firmware's notion of time: uptime since boot,
// RTC time since power-on (which keeps running through deep sleep) and the
// wall clock, which is only known after an NTP sync.
package clock

import (
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"
)

// Clock is consumed by every component that needs time
type Clock interface {
	// Uptime is the time elapsed since this boot
	Uptime() time.Duration
	// RTC is the time elapsed since power-on, including deep sleeps
	RTC() time.Duration
	// Wallclock returns the current local time, or the zero time if unsynced
	Wallclock() time.Time
	Sleep(d time.Duration)
}

// State is the part of the clock retained across deep sleep
type State struct {
	PowerOnAt time.Time
	Synced    bool
	Offset    time.Duration
}

// System is the host implementation of Clock
type System struct {
	mu     sync.Mutex
	bootAt time.Time
	state  State
	loc    *time.Location
}

// NewSystem creates a clock that boots now. A zero PowerOnAt in state means
// this boot is also the power-on instant.
func NewSystem(state State, utcOffsetHours int) *System {
	now := time.Now()
	if state.PowerOnAt.IsZero() {
		state.PowerOnAt = now
	}
	return &System{
		bootAt: now,
		state:  state,
		loc:    time.FixedZone("", utcOffsetHours*3600),
	}
}

func (s *System) Uptime() time.Duration {
	return time.Since(s.bootAt)
}

func (s *System) RTC() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.state.PowerOnAt)
}

func (s *System) Wallclock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Synced {
		return time.Time{}
	}
	return time.Now().Add(s.state.Offset).In(s.loc)
}

func (s *System) Sleep(d time.Duration) {
	time.Sleep(d)
}

// SetOffset marks the wall clock as synced with the given correction
func (s *System) SetOffset(offset time.Duration) {
	s.mu.Lock()
	s.state.Synced = true
	s.state.Offset = offset
	s.mu.Unlock()
}

// State returns a copy of the retained clock state
func (s *System) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Format renders t with a strftime pattern. An unsynced (zero) time renders
// as the empty string so callers can detect a missing wall clock.
func Format(pattern string, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	out, err := strftime.Format(pattern, t)
	if err != nil {
		return ""
	}
	return out
}
