package sim

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/wizlab/wildlife-camera/internal/hal"
)

// Mount claims the shared data lines. It fails while an interrupt is still
// attached to one of them.
func (b *Board) Mount() (afero.Fs, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.config.CardPresent {
		return nil, hal.ErrNoCard
	}
	for _, pin := range hal.SDSharedPins {
		if _, ok := b.isrs[pin]; ok {
			return nil, fmt.Errorf("mount: pin %d has an interrupt: %w", pin, hal.ErrPinBusy)
		}
	}
	b.mounted = true
	return b.card, nil
}

func (b *Board) Unmount() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mounted = false
	return nil
}

// Usage sums the size of every file on the card
func (b *Board) Usage() (uint64, uint64, error) {
	b.mu.Lock()
	mounted := b.mounted
	b.mu.Unlock()
	if !mounted {
		return 0, 0, fmt.Errorf("usage: card not mounted")
	}

	var used uint64
	err := afero.Walk(b.card, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			used += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("usage: %w", err)
	}
	return used, b.config.CardCapacity, nil
}

// Mounted reports whether the card holds the shared pins
func (b *Board) Mounted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mounted
}
