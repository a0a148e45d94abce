package sim

import (
	"context"
	"time"

	"github.com/wizlab/wildlife-camera/internal/hal"
)

func (b *Board) WakeReason() hal.WakeReason {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

func (b *Board) EnableWakeOnPin(pin hal.Pin, high bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wakePins[pin] = high
	return nil
}

// DeepSleep drops all volatile peripheral state, then waits for the timer,
// an armed wake pin (see Trigger) or ctx. Pin holds survive.
func (b *Board) DeepSleep(ctx context.Context, d time.Duration) error {
	b.mu.Lock()
	b.sleeping = true
	b.connected = false
	b.mounted = false
	b.sensor = nil
	b.isrs = make(map[hal.Pin]func())
	for pin := range b.modes {
		if !b.holds[pin] {
			delete(b.modes, pin)
		}
	}
	select {
	case <-b.wake:
	default:
	}
	b.mu.Unlock()

	b.log.Info("deep sleep", "duration", d, "scaled", b.scaled(d))

	timer := time.NewTimer(b.scaled(d))
	defer timer.Stop()

	reason := hal.WakeTimer
	var err error
	select {
	case <-timer.C:
	case pin := <-b.wake:
		reason = hal.WakeMotion
		b.log.Info("woken by pin", "pin", pin)
	case <-ctx.Done():
		reason = hal.WakeUnknown
		err = ctx.Err()
	}

	b.mu.Lock()
	b.sleeping = false
	b.reason = reason
	b.wakePins = make(map[hal.Pin]bool)
	b.mu.Unlock()
	return err
}

// WakeArmed reports whether pin is armed as a deep-sleep wake source
func (b *Board) WakeArmed(pin hal.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.wakePins[pin]
	return ok
}
