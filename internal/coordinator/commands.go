package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wizlab/wildlife-camera/internal/clock"
)

// Chat commands
const (
	CmdStatus       = "/status"
	CmdPhoto        = "/photo"
	CmdPhotoNoFlash = "/photo_nf"
	CmdSleep        = "/sleep"
)

// handleCommand dispatches one chat command. Accepted commands extend the
// wake window before they run so a slow handler still fits inside it.
func (c *Coordinator) handleCommand(ctx context.Context, command string) {
	var handler func(context.Context)
	switch command {
	case CmdStatus:
		handler = c.cmdStatus
	case CmdPhoto:
		handler = func(ctx context.Context) { c.cmdPhoto(ctx, true) }
	case CmdPhotoNoFlash:
		handler = func(ctx context.Context) { c.cmdPhoto(ctx, false) }
	case CmdSleep:
		handler = c.cmdSleep
	default:
		c.log.Info("unknown command", "command", command)
		c.reply(ctx, "unknown command")
		return
	}

	c.commandCount++
	if c.window.Extend(c.now(), c.config.Extension) {
		c.log.Debug("wake window extended", "command", command, "deadline", c.window.Deadline())
	}
	handler(ctx)
}

func (c *Coordinator) reply(ctx context.Context, text string) {
	if err := c.deps.Messenger.SendMessage(ctx, text); err != nil {
		c.log.Warn("failed to reply", "err", err)
	}
}

// cmdPhoto captures on request and sends it behind any queued photos
func (c *Coordinator) cmdPhoto(ctx context.Context, flash bool) {
	p := c.capture(flash)
	if p == nil {
		c.reply(ctx, "Camera capture failed")
		return
	}
	c.queue(p)
	c.uploadPending(ctx)
}

func (c *Coordinator) cmdSleep(ctx context.Context) {
	c.reply(ctx, "Going to sleep")
	c.window.End(c.now())
}

func (c *Coordinator) cmdStatus(ctx context.Context) {
	c.reply(ctx, c.statusText())
}

// statusText renders the /status reply
func (c *Coordinator) statusText() string {
	var b strings.Builder
	b.WriteString("Wildlife Camera status\n")
	fmt.Fprintf(&b, "Uptime: %s\n", c.uptime().Truncate(time.Second))

	reading := c.reading
	if r, err := c.deps.Battery.Sample(); err == nil {
		reading = r
	}
	fmt.Fprintf(&b, "Battery: %d%% (%d mV)\n", reading.Percent(), reading.EffectiveMillivolts)

	var pct, count int
	var last time.Time
	err := c.withCard(func(card Card) error {
		var err error
		pct, err = card.UsedPercent()
		count = card.Count()
		last = card.LastTimestamp()
		return err
	})
	if err != nil {
		fmt.Fprintf(&b, "SD card: unavailable (%v)\n", err)
		return b.String()
	}
	fmt.Fprintf(&b, "SD Used Space: %d%%\n", pct)
	fmt.Fprintf(&b, "Photos: %d\n", count)
	lastText := "none"
	if !last.IsZero() {
		lastText = clock.Format("%F %T", last.In(c.location()))
	} else if count > 0 {
		lastText = "unknown date"
	}
	fmt.Fprintf(&b, "Last photo: %s", lastText)
	return b.String()
}

// uptime is the time since the session started, or since power-on when the
// wall clock has never been synced.
func (c *Coordinator) uptime() time.Duration {
	wall := c.deps.Clock.Wallclock()
	if !wall.IsZero() && !c.system.SessionStart.IsZero() {
		return wall.Sub(c.system.SessionStart)
	}
	return c.deps.Clock.RTC()
}

func (c *Coordinator) location() *time.Location {
	if wall := c.deps.Clock.Wallclock(); !wall.IsZero() {
		return wall.Location()
	}
	return time.UTC
}
