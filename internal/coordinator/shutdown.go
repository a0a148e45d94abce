package coordinator

import (
	"context"
	"fmt"

	"github.com/wizlab/wildlife-camera/internal/statusmqtt"
)

// critical handles a level 0 battery at boot: one best-effort notice, then
// the long sleep.
func (c *Coordinator) critical(ctx context.Context) SleepPlan {
	c.log.Warn("battery critical", "mv", c.reading.EffectiveMillivolts)

	if c.connectWiFi(ctx) {
		text := fmt.Sprintf("Critical battery (%d mV), sleeping for %s", c.reading.EffectiveMillivolts, c.config.CriticalSleep)
		if err := c.deps.Messenger.SendMessage(ctx, text); err != nil {
			c.log.Warn("failed to send critical battery notice", "err", err)
		} else {
			c.system.LastNotifiedLevel = 0
		}
	}
	return c.finish(c.criticalPlan())
}

func (c *Coordinator) criticalPlan() SleepPlan {
	return SleepPlan{
		Duration:     c.config.CriticalSleep,
		WakeOnMotion: c.deps.Motion.Enabled() && c.config.PIRWakeOnCritical,
		Critical:     true,
	}
}

// shutdown ends a normal wake cycle. The battery is checked once more so a
// pack that went critical while awake gets the long sleep.
func (c *Coordinator) shutdown(ctx context.Context) SleepPlan {
	plan := SleepPlan{
		Duration:     c.config.SleepDuration,
		WakeOnMotion: c.deps.Motion.Enabled(),
	}
	if r, err := c.deps.Battery.Sample(); err == nil {
		c.reading = r
		if r.Critical() {
			c.log.Warn("battery went critical while awake", "mv", r.EffectiveMillivolts)
			plan = c.criticalPlan()
		}
	}
	if len(c.pending) > 0 {
		c.log.Warn("photos not delivered before sleep", "count", len(c.pending))
	}
	return c.finish(plan)
}

// finish persists state and prepares the board for deep sleep
func (c *Coordinator) finish(plan SleepPlan) SleepPlan {
	c.saveSystem()

	c.setLED(true)
	c.deps.Clock.Sleep(c.config.LEDBlink)
	c.setLED(false)

	c.disarmMotion()
	if err := c.deps.Motion.PrepareDeepSleep(plan.WakeOnMotion); err != nil {
		c.log.Warn("failed to arm motion wake", "err", err)
		plan.WakeOnMotion = false
	}
	if err := c.deps.Camera.FlashHold(true); err != nil {
		c.log.Warn("failed to hold flash low", "err", err)
	}

	c.publishStatus(plan)

	c.log.Info("going to sleep",
		"duration", plan.Duration,
		"wake_on_motion", plan.WakeOnMotion,
		"critical", plan.Critical,
		"awake", c.now(),
		"photos", c.photosTaken,
		"sent", c.photosSent)
	return plan
}

func (c *Coordinator) publishStatus(plan SleepPlan) {
	if c.deps.Status == nil || !c.deps.Radio.Connected() {
		return
	}
	rec := statusmqtt.Record{
		CycleID:        c.cycleID,
		WakeReason:     c.reason.String(),
		AwakeSeconds:   c.now().Seconds(),
		BatteryMV:      c.reading.EffectiveMillivolts,
		BatteryPercent: c.reading.Percent(),
		PhotosTaken:    c.photosTaken,
		PhotosSent:     c.photosSent,
		Commands:       c.commandCount,
		PhotoCount:     c.deps.Card.Count(),
		SleepSeconds:   int64(plan.Duration.Seconds()),
		WakeOnMotion:   plan.WakeOnMotion,
		Critical:       plan.Critical,
	}
	if wall := c.deps.Clock.Wallclock(); !wall.IsZero() {
		rec.Timestamp = wall.Unix()
	}
	if err := c.deps.Status.Publish(rec); err != nil {
		c.log.Warn("failed to publish status", "err", err)
	}
}
