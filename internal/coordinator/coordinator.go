// Package coordinator runs one wake cycle of the camera: it classifies the
// boot, brings up the peripherals, serves motion events and chat commands
// until the wake window closes, then prepares the board for deep sleep.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wizlab/wildlife-camera/internal/battery"
	"github.com/wizlab/wildlife-camera/internal/clock"
	"github.com/wizlab/wildlife-camera/internal/hal"
	"github.com/wizlab/wildlife-camera/internal/rtcmem"
	"github.com/wizlab/wildlife-camera/internal/statusmqtt"
)

// Config holds coordinator configuration
type Config struct {
	DefaultWindow time.Duration
	TimerWindow   time.Duration
	MotionWindow  time.Duration
	Extension     time.Duration // added per accepted command
	Ceiling       time.Duration // hard cap on one awake phase

	SleepDuration    time.Duration
	CriticalSleep    time.Duration
	WiFiTimeout      time.Duration
	PollInterval     time.Duration
	LoopYield        time.Duration
	SensorRetryDelay time.Duration
	LEDBlink         time.Duration

	WiFiSSID string
	WiFiPSK  string

	LEDPin       hal.Pin
	LEDActiveLow bool
	FlashPin     hal.Pin

	MotionFlash       bool // use the flash for motion captures
	PIRWakeOnCritical bool
}

// DefaultConfig returns default coordinator configuration
func DefaultConfig() Config {
	return Config{
		DefaultWindow:    30 * time.Second,
		TimerWindow:      5 * time.Second,
		MotionWindow:     60 * time.Second,
		Extension:        60 * time.Second,
		Ceiling:          10 * time.Minute,
		SleepDuration:    600 * time.Second,
		CriticalSleep:    10 * time.Hour,
		WiFiTimeout:      15 * time.Second,
		PollInterval:     3 * time.Second,
		LoopYield:        50 * time.Millisecond,
		SensorRetryDelay: 1 * time.Second,
		LEDBlink:         100 * time.Millisecond,
		LEDPin:           hal.PinLED,
		LEDActiveLow:     true,
		FlashPin:         hal.PinFlash,
		MotionFlash:      true,
	}
}

// SleepPlan tells the platform how to sleep after Run returns
type SleepPlan struct {
	Duration     time.Duration
	WakeOnMotion bool
	Critical     bool
}

// Camera captures stills. Archival to the card is wired through Archive.
type Camera interface {
	Init() error
	TakePhoto(flash bool) ([]byte, error)
	FlashBlink(d time.Duration) error
	FlashHold(on bool) error
}

// Card is the SD archive
type Card interface {
	Enabled() bool
	Open() error
	Close() error
	Save(jpeg []byte) (string, error)
	UsedPercent() (int, error)
	Count() int
	LastTimestamp() time.Time
}

// Motion is the PIR sensor
type Motion interface {
	Enabled() bool
	Enable(isr func()) error
	Disable() error
	PrepareDeepSleep(wake bool) error
}

// Battery samples the pack voltage
type Battery interface {
	Sample() (battery.Reading, error)
}

// Messenger is the chat service
type Messenger interface {
	SendMessage(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, jpeg []byte, caption string) error
	GetUpdates(ctx context.Context, handler func(command string)) (int, error)
}

// TimeSync corrects the wall clock once the network is up
type TimeSync interface {
	Sync(ctx context.Context) error
}

// Retained is the coordinator's record in RTC memory
type Retained interface {
	LoadSystem() (rtcmem.SystemState, error)
	SaveSystem(rtcmem.SystemState) error
}

// StatusPublisher mirrors the wake cycle outcome
type StatusPublisher interface {
	Publish(rec statusmqtt.Record) error
}

// Deps are the collaborators of one wake cycle. TimeSync and Status may be
// nil.
type Deps struct {
	Clock     clock.Clock
	Power     hal.Power
	GPIO      hal.GPIO
	Radio     hal.Radio
	Battery   Battery
	Camera    Camera
	Card      Card
	Motion    Motion
	Messenger Messenger
	TimeSync  TimeSync
	Retained  Retained
	Status    StatusPublisher
	Log       *slog.Logger
}

// pendingPhoto is a capture waiting for upload
type pendingPhoto struct {
	jpeg  []byte
	taken time.Time // wall clock, zero if unsynced
}

// Coordinator owns the wake window, the motion flag and the collaborators.
// Run is not safe for concurrent use; only the motion ISR touches the
// coordinator from another goroutine, and only through the atomic flag.
type Coordinator struct {
	config Config
	deps   Deps
	log    *slog.Logger

	cycleID string
	reason  hal.WakeReason
	window  Window
	system  rtcmem.SystemState
	reading battery.Reading

	motion       atomic.Bool
	motionArmed  bool
	pending      []*pendingPhoto // upload queue, oldest first
	nextUpload   time.Duration
	polled       bool
	lastPoll     time.Duration
	sensorReady  bool
	wifiUp       bool
	photosTaken  int
	photosSent   int
	commandCount int
}

// New creates a coordinator
func New(config Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Clock == nil, deps.Power == nil, deps.GPIO == nil, deps.Radio == nil:
		return nil, fmt.Errorf("clock, power, gpio and radio are required")
	case deps.Battery == nil, deps.Camera == nil, deps.Card == nil, deps.Motion == nil:
		return nil, fmt.Errorf("battery, camera, card and motion are required")
	case deps.Messenger == nil, deps.Retained == nil:
		return nil, fmt.Errorf("messenger and retained memory are required")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Coordinator{
		config: config,
		deps:   deps,
		log:    deps.Log,
	}, nil
}

// CycleID identifies the current wake cycle in logs and status records
func (c *Coordinator) CycleID() string {
	return c.cycleID
}

// onMotion is the PIR interrupt handler
func (c *Coordinator) onMotion() {
	c.motion.Store(true)
}

func (c *Coordinator) now() time.Duration {
	return c.deps.Clock.Uptime()
}

// Run executes one wake cycle and returns how to sleep afterwards. It
// returns an error only when ctx is cancelled; the plan is valid either way.
func (c *Coordinator) Run(ctx context.Context) (SleepPlan, error) {
	c.cycleID = uuid.NewString()
	c.log = c.deps.Log.With("cycle", c.cycleID)

	c.reason = c.deps.Power.WakeReason()
	c.window = NewWindow(c.now(), WindowFor(c.reason, c.config), c.config.Ceiling)
	c.log.Info("awake", "reason", c.reason, "deadline", c.window.Deadline())

	sys, err := c.deps.Retained.LoadSystem()
	if err != nil {
		c.log.Warn("failed to load retained state", "err", err)
		sys = rtcmem.SystemState{LastNotifiedLevel: rtcmem.DefaultNotifiedLevel}
	}
	c.system = sys

	// 1. pins
	c.initPins()

	// 2. battery
	if reading, err := c.deps.Battery.Sample(); err != nil {
		c.log.Warn("failed to sample battery", "err", err)
	} else {
		c.reading = reading
		if reading.Critical() {
			return c.critical(ctx), ctx.Err()
		}
	}

	// 3. sensor
	if err := c.deps.Camera.Init(); err != nil {
		c.log.Error("sensor init failed, going back to sleep", "err", err)
		c.deps.Clock.Sleep(c.config.SensorRetryDelay)
		return c.shutdown(ctx), ctx.Err()
	}
	c.sensorReady = true

	// 4. network
	if c.connectWiFi(ctx) {
		c.syncTime(ctx)
	}
	c.notifyLowBattery(ctx)

	// 5. motion interrupt; any SD access before this point has released
	// the shared pins.
	c.armMotion()

	// 6. the motion that woke us
	if c.reason == hal.WakeMotion {
		c.queue(c.capture(c.config.MotionFlash))
	}

	for !c.window.Expired(c.now()) {
		if ctx.Err() != nil {
			break
		}
		c.step(ctx)
		c.deps.Clock.Sleep(c.config.LoopYield)
	}
	return c.shutdown(ctx), ctx.Err()
}

func (c *Coordinator) initPins() {
	gpio := c.deps.GPIO
	if err := gpio.SetMode(c.config.LEDPin, hal.ModeOutput); err != nil {
		c.log.Warn("failed to configure LED", "err", err)
	}
	c.setLED(false)
	if err := gpio.SetMode(c.config.FlashPin, hal.ModeOutput); err != nil {
		c.log.Warn("failed to configure flash", "err", err)
	}
	if err := c.deps.Camera.FlashHold(false); err != nil {
		c.log.Warn("failed to release flash hold", "err", err)
	}
}

func (c *Coordinator) setLED(on bool) {
	level := on
	if c.config.LEDActiveLow {
		level = !on
	}
	if err := c.deps.GPIO.Write(c.config.LEDPin, level); err != nil {
		c.log.Debug("failed to drive LED", "err", err)
	}
}

// connectWiFi associates within WiFiTimeout and reports whether the link is up
func (c *Coordinator) connectWiFi(ctx context.Context) bool {
	if c.deps.Radio.Connected() {
		c.wifiUp = true
		return true
	}
	wctx, cancel := context.WithTimeout(ctx, c.config.WiFiTimeout)
	defer cancel()
	if err := c.deps.Radio.Connect(wctx, c.config.WiFiSSID, c.config.WiFiPSK); err != nil {
		c.log.Warn("wifi unavailable", "ssid", c.config.WiFiSSID, "err", err)
		return false
	}
	c.wifiUp = c.deps.Radio.Connected()
	if c.wifiUp {
		c.log.Info("wifi connected", "ssid", c.config.WiFiSSID)
	}
	return c.wifiUp
}

func (c *Coordinator) syncTime(ctx context.Context) {
	if c.deps.TimeSync == nil {
		return
	}
	if err := c.deps.TimeSync.Sync(ctx); err != nil {
		c.log.Warn("time sync failed", "err", err)
		return
	}
	wall := c.deps.Clock.Wallclock()
	if c.system.SessionStart.IsZero() && !wall.IsZero() {
		// first synced boot since power-on, back-dated to the power-on instant
		c.system.SessionStart = wall.Add(-c.deps.Clock.RTC())
		c.saveSystem()
	}
	c.log.Info("clock synced", "time", clock.Format("%F %T", wall))
}

// notifyLowBattery applies the notification hysteresis to the boot reading
func (c *Coordinator) notifyLowBattery(ctx context.Context) {
	if c.reading.EffectiveMillivolts == 0 {
		return
	}
	h := battery.Hysteresis{Last: c.system.LastNotifiedLevel}
	level := c.reading.Level
	if h.Observe(level) && c.wifiUp {
		text := fmt.Sprintf("Low battery: %d%% (%d mV)", c.reading.Percent(), c.reading.EffectiveMillivolts)
		if err := c.deps.Messenger.SendMessage(ctx, text); err != nil {
			c.log.Warn("failed to send low battery notice", "err", err)
		} else {
			h.Commit(level)
			c.log.Info("low battery notice sent", "level", level)
		}
	}
	if h.Last != c.system.LastNotifiedLevel {
		c.system.LastNotifiedLevel = h.Last
		c.saveSystem()
	}
}

func (c *Coordinator) saveSystem() {
	if err := c.deps.Retained.SaveSystem(c.system); err != nil {
		c.log.Warn("failed to save retained state", "err", err)
	}
}

func (c *Coordinator) armMotion() {
	if !c.deps.Motion.Enabled() || c.motionArmed {
		return
	}
	if err := c.deps.Motion.Enable(c.onMotion); err != nil {
		c.log.Warn("failed to arm motion sensor", "err", err)
		return
	}
	c.motionArmed = true
}

func (c *Coordinator) disarmMotion() {
	if !c.motionArmed {
		return
	}
	if err := c.deps.Motion.Disable(); err != nil {
		c.log.Warn("failed to disarm motion sensor", "err", err)
	}
	c.motionArmed = false
}
