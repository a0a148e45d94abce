package coordinator

import (
	"context"

	"github.com/wizlab/wildlife-camera/internal/camera"
	"github.com/wizlab/wildlife-camera/internal/telegram"
)

// step is one iteration of the event loop
func (c *Coordinator) step(ctx context.Context) {
	// The flag stays set while photos are queued so a second event is not
	// lost, only deferred.
	if len(c.pending) == 0 && c.motion.Swap(false) {
		c.log.Info("motion detected")
		c.queue(c.capture(c.config.MotionFlash))
	}

	if len(c.pending) > 0 && c.deps.Radio.Connected() && c.now() >= c.nextUpload {
		c.uploadPending(ctx)
	}

	if c.deps.Radio.Connected() && c.pollDue() {
		c.poll(ctx)
	}
}

// capture takes a photo, nil on failure. Archival happens inside the camera
// through Archive. A failed capture blinks the flash once.
func (c *Coordinator) capture(flash bool) *pendingPhoto {
	if !c.sensorReady {
		return nil
	}
	jpeg, err := c.deps.Camera.TakePhoto(flash)
	if err != nil {
		c.log.Error("capture failed", "code", camera.Code(err), "err", err)
		if err := c.deps.Camera.FlashBlink(c.config.LEDBlink); err != nil {
			c.log.Debug("failed to blink flash", "err", err)
		}
		return nil
	}
	c.photosTaken++
	return &pendingPhoto{jpeg: jpeg, taken: c.deps.Clock.Wallclock()}
}

// queue appends a capture to the upload queue; nil is ignored
func (c *Coordinator) queue(p *pendingPhoto) {
	if p != nil {
		c.pending = append(c.pending, p)
	}
}

// uploadPending sends queued photos in capture order. It stops at the first
// failure, which is retried after the poll interval.
func (c *Coordinator) uploadPending(ctx context.Context) {
	for len(c.pending) > 0 {
		if err := c.sendPhoto(ctx, c.pending[0]); err != nil {
			c.log.Warn("photo upload failed", "code", telegram.Code(err), "err", err, "queued", len(c.pending))
			c.nextUpload = c.now() + c.config.PollInterval
			return
		}
		c.pending[0] = nil
		c.pending = c.pending[1:]
	}
}

func (c *Coordinator) sendPhoto(ctx context.Context, p *pendingPhoto) error {
	caption := telegram.Caption(p.taken, c.sdUsedPercent())
	if err := c.deps.Messenger.SendPhoto(ctx, p.jpeg, caption); err != nil {
		return err
	}
	c.photosSent++
	return nil
}

func (c *Coordinator) pollDue() bool {
	return !c.polled || c.now()-c.lastPoll >= c.config.PollInterval
}

// poll fetches chat commands and dispatches them in update order
func (c *Coordinator) poll(ctx context.Context) {
	c.polled = true
	c.lastPoll = c.now()
	if _, err := c.deps.Messenger.GetUpdates(ctx, func(command string) {
		c.handleCommand(ctx, command)
	}); err != nil {
		c.log.Debug("poll failed", "code", telegram.Code(err), "err", err)
	}
}
