package clock

import (
	"sync"
	"time"
)

// Fake is a manually driven Clock. Sleep advances time instantly and runs
// any callbacks scheduled with At.
type Fake struct {
	mu       sync.Mutex
	uptime   time.Duration
	rtc      time.Duration
	wall     time.Time
	sleeps   []time.Duration
	triggers []trigger
}

type trigger struct {
	at time.Duration
	fn func()
}

// NewFake returns a clock at uptime zero. A zero wall time means unsynced.
func NewFake(wall time.Time) *Fake {
	return &Fake{wall: wall}
}

func (f *Fake) Uptime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uptime
}

func (f *Fake) RTC() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rtc
}

func (f *Fake) Wallclock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wall.IsZero() {
		return time.Time{}
	}
	return f.wall
}

func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
	f.Advance(d)
}

// Advance moves all clocks forward and fires due triggers in order
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.uptime += d
	f.rtc += d
	if !f.wall.IsZero() {
		f.wall = f.wall.Add(d)
	}
	var due []func()
	kept := f.triggers[:0]
	for _, t := range f.triggers {
		if t.at <= f.uptime {
			due = append(due, t.fn)
		} else {
			kept = append(kept, t)
		}
	}
	f.triggers = kept
	f.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

// At schedules fn to run once uptime reaches at
func (f *Fake) At(at time.Duration, fn func()) {
	f.mu.Lock()
	f.triggers = append(f.triggers, trigger{at: at, fn: fn})
	f.mu.Unlock()
}

// SetWallclock changes the wall clock; zero means unsynced
func (f *Fake) SetWallclock(t time.Time) {
	f.mu.Lock()
	f.wall = t
	f.mu.Unlock()
}

// Reboot resets uptime while keeping RTC time, as a deep sleep wake does
func (f *Fake) Reboot() {
	f.mu.Lock()
	f.uptime = 0
	f.mu.Unlock()
}

// Sleeps returns every duration passed to Sleep
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}
