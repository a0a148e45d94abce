// Package pir drives the passive infrared motion sensor.
package pir

import (
	"fmt"

	"github.com/wizlab/wildlife-camera/internal/hal"
)

// Driver owns the PIR signal pin. It keeps no state that must survive deep
// sleep; the wake source alone is enough.
type Driver struct {
	enabled bool
	pin     hal.Pin
	gpio    hal.GPIO
	power   hal.Power
	armed   bool
}

// New configures the signal pin as a plain input
func New(enabled bool, pin hal.Pin, gpio hal.GPIO, power hal.Power) (*Driver, error) {
	d := &Driver{enabled: enabled, pin: pin, gpio: gpio, power: power}
	if !enabled {
		return d, nil
	}
	if err := gpio.SetMode(pin, hal.ModeInput); err != nil {
		return nil, fmt.Errorf("failed to configure PIR pin %d: %w", pin, err)
	}
	return d, nil
}

// Enabled reports whether the sensor is fitted and configured
func (d *Driver) Enabled() bool {
	return d.enabled
}

// Armed reports whether the motion interrupt is attached
func (d *Driver) Armed() bool {
	return d.armed
}

// Enable switches the pin to pull-down input and attaches a rising edge
// interrupt that calls isr. isr runs in interrupt context and must only set a
// flag.
func (d *Driver) Enable(isr func()) error {
	if !d.enabled {
		return nil
	}
	if d.armed {
		return nil
	}
	if err := d.gpio.SetMode(d.pin, hal.ModeInputPullDown); err != nil {
		return fmt.Errorf("failed to configure PIR pin %d: %w", d.pin, err)
	}
	if err := d.gpio.AttachInterrupt(d.pin, hal.EdgeRising, isr); err != nil {
		return fmt.Errorf("failed to attach PIR interrupt: %w", err)
	}
	d.armed = true
	return nil
}

// Disable detaches the interrupt so the pin can be lent to the SD bus
func (d *Driver) Disable() error {
	if !d.armed {
		return nil
	}
	if err := d.gpio.DetachInterrupt(d.pin); err != nil {
		return fmt.Errorf("failed to detach PIR interrupt: %w", err)
	}
	d.armed = false
	return nil
}

// PrepareDeepSleep arms the pin as a wake source on HIGH when wake is set
func (d *Driver) PrepareDeepSleep(wake bool) error {
	if !d.enabled || !wake {
		return nil
	}
	if err := d.power.EnableWakeOnPin(d.pin, true); err != nil {
		return fmt.Errorf("failed to arm PIR wake: %w", err)
	}
	return nil
}
