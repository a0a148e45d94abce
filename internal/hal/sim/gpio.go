package sim

import (
	"fmt"

	"github.com/wizlab/wildlife-camera/internal/hal"
)

func (b *Board) SetMode(pin hal.Pin, mode hal.PinMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mounted && sharedPin(pin) {
		return fmt.Errorf("set mode on pin %d: %w", pin, hal.ErrPinBusy)
	}
	b.modes[pin] = mode
	return nil
}

func (b *Board) Write(pin hal.Pin, high bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.modes[pin] != hal.ModeOutput {
		return fmt.Errorf("write to pin %d in %s mode", pin, b.modes[pin])
	}
	if b.holds[pin] {
		return nil
	}
	b.levels[pin] = high
	b.writes[pin] = append(b.writes[pin], high)
	return nil
}

func (b *Board) Hold(pin hal.Pin, enable bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holds[pin] = enable
	return nil
}

func (b *Board) AttachInterrupt(pin hal.Pin, edge hal.Edge, isr func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mounted && sharedPin(pin) {
		return fmt.Errorf("attach interrupt on pin %d: %w", pin, hal.ErrPinBusy)
	}
	if _, ok := b.isrs[pin]; ok {
		return fmt.Errorf("interrupt already attached on pin %d: %w", pin, hal.ErrPinBusy)
	}
	if mode := b.modes[pin]; mode == hal.ModeOutput {
		return fmt.Errorf("attach interrupt on output pin %d", pin)
	}
	b.isrs[pin] = isr
	return nil
}

func (b *Board) DetachInterrupt(pin hal.Pin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.isrs, pin)
	return nil
}

// Level returns the last level written to pin
func (b *Board) Level(pin hal.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levels[pin]
}

// Writes returns every level written to pin since power-on
func (b *Board) Writes(pin hal.Pin) []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.writes[pin]...)
}

// Mode returns the configured mode of pin
func (b *Board) Mode(pin hal.Pin) hal.PinMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modes[pin]
}

// Held reports whether pin is latched across deep sleep
func (b *Board) Held(pin hal.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.holds[pin]
}

// Armed reports whether an interrupt is attached to pin
func (b *Board) Armed(pin hal.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.isrs[pin]
	return ok
}

// Trigger raises a rising edge on pin. An attached interrupt runs; while the
// board sleeps an armed wake pin wakes it instead.
func (b *Board) Trigger(pin hal.Pin) {
	b.mu.Lock()
	isr := b.isrs[pin]
	wakes := b.sleeping && b.wakePins[pin]
	b.mu.Unlock()

	switch {
	case wakes:
		select {
		case b.wake <- pin:
		default:
		}
	case isr != nil:
		isr()
	default:
		b.log.Debug("edge ignored", "pin", pin)
	}
}
