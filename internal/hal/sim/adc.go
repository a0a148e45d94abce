package sim

import (
	"fmt"

	"github.com/wizlab/wildlife-camera/internal/hal"
)

// 12-bit converter with an 11 dB attenuation range of about 3.3 V
const (
	adcMax       = 4095
	adcFullScale = 3300
)

func (b *Board) Read(pin hal.Pin) (uint32, uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mounted && sharedPin(pin) {
		return 0, 0, fmt.Errorf("adc read on pin %d: %w", pin, hal.ErrPinBusy)
	}
	if pin != hal.PinBattery {
		return 0, 0, nil
	}
	mv := min(b.config.BatteryMV, adcFullScale)
	return mv * adcMax / adcFullScale, mv, nil
}
