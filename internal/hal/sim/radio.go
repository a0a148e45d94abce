package sim

import (
	"context"
	"errors"
)

// ErrNoAccessPoint is returned by Connect when Wi-Fi is switched off
var ErrNoAccessPoint = errors.New("access point not found")

func (b *Board) Connect(ctx context.Context, ssid, psk string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.config.WiFiAvailable {
		return ErrNoAccessPoint
	}
	b.connected = true
	return nil
}

func (b *Board) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}
