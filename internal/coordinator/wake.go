package coordinator

import (
	"time"

	"github.com/wizlab/wildlife-camera/internal/hal"
)

// Window is the awake phase of one wake cycle, measured on the monotonic
// uptime clock. The deadline only moves forward while it is in the future
// and never past start + ceiling.
type Window struct {
	start    time.Duration
	deadline time.Duration
	ceiling  time.Duration
}

// NewWindow opens a window of length at now
func NewWindow(now, length, ceiling time.Duration) Window {
	w := Window{start: now, ceiling: ceiling}
	w.deadline = min(now+length, w.limit())
	return w
}

func (w *Window) limit() time.Duration {
	return w.start + w.ceiling
}

// Deadline returns the uptime at which the device goes back to sleep
func (w *Window) Deadline() time.Duration {
	return w.deadline
}

// Expired reports whether now is past the deadline
func (w *Window) Expired(now time.Duration) bool {
	return now >= w.deadline
}

// Extend pushes the deadline out by ext, capped at the ceiling. It reports
// false, and does nothing, once the deadline has passed.
func (w *Window) Extend(now, ext time.Duration) bool {
	if w.Expired(now) {
		return false
	}
	w.deadline = min(w.deadline+ext, w.limit())
	return true
}

// End closes the window at now
func (w *Window) End(now time.Duration) {
	if now < w.deadline {
		w.deadline = now
	}
}

// WindowFor picks the initial window length for a wake reason
func WindowFor(reason hal.WakeReason, cfg Config) time.Duration {
	switch reason {
	case hal.WakeMotion:
		return cfg.MotionWindow
	case hal.WakeTimer:
		return cfg.TimerWindow
	default:
		return cfg.DefaultWindow
	}
}
