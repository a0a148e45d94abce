package coordinator

import (
	"github.com/wizlab/wildlife-camera/internal/sdcard"
)

// withCard runs fn with the card open. The SD data lines double as the PIR
// input, so the motion interrupt is detached for the duration and re-armed
// once the card has released the pins.
func (c *Coordinator) withCard(fn func(card Card) error) error {
	card := c.deps.Card
	if !card.Enabled() {
		return sdcard.ErrDisabled
	}

	rearm := c.motionArmed
	c.disarmMotion()
	defer func() {
		if err := card.Close(); err != nil {
			c.log.Warn("failed to close card", "err", err)
		}
		if rearm {
			c.armMotion()
		}
	}()

	if err := card.Open(); err != nil {
		return err
	}
	return fn(card)
}

// Archive saves a captured photo to the card. It is the camera's archiver.
func (c *Coordinator) Archive(jpeg []byte) (string, error) {
	var path string
	err := c.withCard(func(card Card) error {
		var err error
		path, err = card.Save(jpeg)
		return err
	})
	return path, err
}

// sdUsedPercent returns the card usage, 0 when the card is unavailable
func (c *Coordinator) sdUsedPercent() int {
	var pct int
	err := c.withCard(func(card Card) error {
		var err error
		pct, err = card.UsedPercent()
		return err
	})
	if err != nil {
		c.log.Debug("card usage unavailable", "err", err)
	}
	return pct
}
