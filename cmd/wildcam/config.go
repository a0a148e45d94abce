package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wizlab/wildlife-camera/internal/battery"
	"github.com/wizlab/wildlife-camera/internal/camera"
	"github.com/wizlab/wildlife-camera/internal/coordinator"
	"github.com/wizlab/wildlife-camera/internal/hal"
	"github.com/wizlab/wildlife-camera/internal/hal/sim"
	"github.com/wizlab/wildlife-camera/internal/hal/zmqhal"
	"github.com/wizlab/wildlife-camera/internal/sdcard"
	"github.com/wizlab/wildlife-camera/internal/statusmqtt"
	"github.com/wizlab/wildlife-camera/internal/telegram"
)

// Config represents the configuration file structure. Zero values keep the
// package defaults.
type Config struct {
	Driver string `yaml:"driver"` // sim or zmq

	State struct {
		Path string `yaml:"path"`
	} `yaml:"state"`

	WiFi struct {
		SSID string `yaml:"ssid"`
		PSK  string `yaml:"psk"`
	} `yaml:"wifi"`

	Telegram struct {
		Token                string `yaml:"token"`
		ChatID               int64  `yaml:"chat_id"`
		Host                 string `yaml:"host"`
		Port                 int    `yaml:"port"`
		AcceptAnyCertificate *bool  `yaml:"accept_any_certificate"`
	} `yaml:"telegram"`

	Time struct {
		NTPServer      string `yaml:"ntp_server"`
		UTCOffsetHours int    `yaml:"utc_offset_hours"`
	} `yaml:"time"`

	Battery struct {
		DividerRatio float64 `yaml:"divider_ratio"`
		Cells        int     `yaml:"cells"`
		CacheTimeout int     `yaml:"cache_timeout"` // seconds
	} `yaml:"battery"`

	Camera struct {
		FrameSize   string `yaml:"frame_size"`
		Quality     int    `yaml:"quality"`
		MotionFlash *bool  `yaml:"motion_flash"`
	} `yaml:"camera"`

	PIR struct {
		Enabled        *bool `yaml:"enabled"`
		WakeOnCritical bool  `yaml:"wake_on_critical"`
	} `yaml:"pir"`

	SD struct {
		Enabled *bool  `yaml:"enabled"`
		BaseDir string `yaml:"base_dir"`
	} `yaml:"sd"`

	Timing struct {
		SleepSeconds         int `yaml:"sleep_seconds"`
		CriticalSleepSeconds int `yaml:"critical_sleep_seconds"`
		PollInterval         int `yaml:"poll_interval"`
		WiFiTimeout          int `yaml:"wifi_timeout"`

		// awake windows, seconds
		Windows struct {
			Default   int `yaml:"default"`
			Timer     int `yaml:"timer"`
			Motion    int `yaml:"motion"`
			Extension int `yaml:"extension"`
			Ceiling   int `yaml:"ceiling"`
		} `yaml:"windows"`
	} `yaml:"timing"`

	// Pins override the board wiring; zero keeps the default pin
	Pins struct {
		PIR     int `yaml:"pir"`
		Flash   int `yaml:"flash"`
		Battery int `yaml:"battery"`
		LED     int `yaml:"led"`
	} `yaml:"pins"`

	MQTT struct {
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Topic    string `yaml:"topic"`
	} `yaml:"mqtt"`

	Sim struct {
		CardDir     string  `yaml:"card_dir"`
		BatteryMV   uint32  `yaml:"battery_mv"`
		NoWiFi      bool    `yaml:"no_wifi"`
		NoCard      bool    `yaml:"no_card"`
		SleepScale  float64 `yaml:"sleep_scale"`
		SensorFails bool    `yaml:"sensor_fails"`
	} `yaml:"sim"`

	Daemon struct {
		CommandURL string `yaml:"command_url"`
		EventURL   string `yaml:"event_url"`
		CardMount  string `yaml:"card_mount"`
	} `yaml:"daemon"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

func defaultConfig() *Config {
	cfg := &Config{Driver: "sim"}
	cfg.State.Path = "/var/lib/wildcam/rtc.db"
	cfg.Time.NTPServer = "pool.ntp.org"
	cfg.Logging.Level = "info"
	return cfg
}

// loadConfig reads path over the defaults; an empty path returns the defaults
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Driver {
	case "sim", "zmq":
	default:
		return fmt.Errorf("driver must be sim or zmq, got %q", c.Driver)
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required with a token")
	}
	if c.Camera.FrameSize != "" {
		if _, err := parseFrameSize(c.Camera.FrameSize); err != nil {
			return err
		}
	}
	if c.Camera.Quality < 0 || c.Camera.Quality > 100 {
		return fmt.Errorf("camera.quality must be 1-100, got %d", c.Camera.Quality)
	}
	for name, n := range map[string]int{
		"pir": c.Pins.PIR, "flash": c.Pins.Flash, "battery": c.Pins.Battery, "led": c.Pins.LED,
	} {
		if n < 0 || n > maxPin {
			return fmt.Errorf("pins.%s must be 0-%d, got %d", name, maxPin, n)
		}
	}
	w := c.Timing.Windows
	if w.Ceiling > 0 && max(w.Default, w.Timer, w.Motion) > w.Ceiling {
		return fmt.Errorf("timing.windows.ceiling %ds is below a wake window", w.Ceiling)
	}
	return nil
}

// maxPin is the highest GPIO number on the board
const maxPin = 39

// pin returns the configured pin, or def when unset
func pin(configured int, def hal.Pin) hal.Pin {
	if configured > 0 {
		return hal.Pin(configured)
	}
	return def
}

func (c *Config) pirPin() hal.Pin {
	return pin(c.Pins.PIR, hal.PinPIR)
}

func parseFrameSize(s string) (hal.FrameSize, error) {
	switch f := hal.FrameSize(s); f {
	case hal.FrameQVGA, hal.FrameVGA, hal.FrameSVGA, hal.FrameXGA, hal.FrameSXGA, hal.FrameUXGA:
		return f, nil
	}
	return "", fmt.Errorf("invalid camera.frame_size %q", s)
}

func (c *Config) coordinatorConfig() coordinator.Config {
	cc := coordinator.DefaultConfig()
	cc.WiFiSSID = c.WiFi.SSID
	cc.WiFiPSK = c.WiFi.PSK
	if c.Timing.SleepSeconds > 0 {
		cc.SleepDuration = secondsToDuration(c.Timing.SleepSeconds)
	}
	if c.Timing.CriticalSleepSeconds > 0 {
		cc.CriticalSleep = secondsToDuration(c.Timing.CriticalSleepSeconds)
	}
	if c.Timing.PollInterval > 0 {
		cc.PollInterval = secondsToDuration(c.Timing.PollInterval)
	}
	if c.Timing.WiFiTimeout > 0 {
		cc.WiFiTimeout = secondsToDuration(c.Timing.WiFiTimeout)
	}
	w := c.Timing.Windows
	if w.Default > 0 {
		cc.DefaultWindow = secondsToDuration(w.Default)
	}
	if w.Timer > 0 {
		cc.TimerWindow = secondsToDuration(w.Timer)
	}
	if w.Motion > 0 {
		cc.MotionWindow = secondsToDuration(w.Motion)
	}
	if w.Extension > 0 {
		cc.Extension = secondsToDuration(w.Extension)
	}
	if w.Ceiling > 0 {
		cc.Ceiling = secondsToDuration(w.Ceiling)
	}
	cc.FlashPin = pin(c.Pins.Flash, cc.FlashPin)
	cc.LEDPin = pin(c.Pins.LED, cc.LEDPin)
	if c.Camera.MotionFlash != nil {
		cc.MotionFlash = *c.Camera.MotionFlash
	}
	cc.PIRWakeOnCritical = c.PIR.WakeOnCritical
	return cc
}

func (c *Config) batteryConfig() battery.Config {
	bc := battery.DefaultConfig()
	if c.Battery.DividerRatio > 0 {
		bc.DividerRatio = c.Battery.DividerRatio
	}
	if c.Battery.Cells > 0 {
		bc.Cells = c.Battery.Cells
	}
	if c.Battery.CacheTimeout > 0 {
		bc.CacheTimeout = secondsToDuration(c.Battery.CacheTimeout)
	}
	bc.Pin = pin(c.Pins.Battery, bc.Pin)
	return bc
}

func (c *Config) cameraConfig() camera.Config {
	cc := camera.DefaultConfig()
	if f, err := parseFrameSize(c.Camera.FrameSize); err == nil {
		cc.FrameSize = f
	}
	if c.Camera.Quality > 0 {
		cc.Quality = c.Camera.Quality
	}
	cc.FlashPin = pin(c.Pins.Flash, cc.FlashPin)
	return cc
}

func (c *Config) sdConfig() sdcard.Config {
	sc := sdcard.DefaultConfig()
	if c.SD.Enabled != nil {
		sc.Enabled = *c.SD.Enabled
	}
	if c.SD.BaseDir != "" {
		sc.BaseDir = c.SD.BaseDir
	}
	return sc
}

func (c *Config) pirEnabled() bool {
	return c.PIR.Enabled == nil || *c.PIR.Enabled
}

func (c *Config) telegramConfig() telegram.Config {
	tc := telegram.DefaultConfig()
	tc.Token = c.Telegram.Token
	tc.ChatID = c.Telegram.ChatID
	if c.Telegram.Host != "" {
		tc.Host = c.Telegram.Host
	}
	if c.Telegram.Port > 0 {
		tc.Port = c.Telegram.Port
	}
	if c.Telegram.AcceptAnyCertificate != nil {
		tc.AcceptAnyCertificate = *c.Telegram.AcceptAnyCertificate
	}
	return tc
}

func (c *Config) mqttConfig() statusmqtt.Config {
	mc := statusmqtt.DefaultConfig()
	mc.Broker = c.MQTT.Broker
	mc.Username = c.MQTT.Username
	mc.Password = c.MQTT.Password
	if c.MQTT.ClientID != "" {
		mc.ClientID = c.MQTT.ClientID
	}
	if c.MQTT.Topic != "" {
		mc.Topic = c.MQTT.Topic
	}
	return mc
}

func (c *Config) simConfig() sim.Config {
	sc := sim.DefaultConfig()
	sc.CardDir = c.Sim.CardDir
	sc.CardPresent = !c.Sim.NoCard
	sc.WiFiAvailable = !c.Sim.NoWiFi
	sc.SensorFails = c.Sim.SensorFails
	if c.Sim.BatteryMV > 0 {
		sc.BatteryMV = c.Sim.BatteryMV
	}
	if c.Sim.SleepScale > 0 {
		sc.SleepScale = c.Sim.SleepScale
	}
	return sc
}

func (c *Config) daemonConfig() zmqhal.Config {
	dc := zmqhal.DefaultConfig()
	if c.Daemon.CommandURL != "" {
		dc.CommandURL = c.Daemon.CommandURL
	}
	if c.Daemon.EventURL != "" {
		dc.EventURL = c.Daemon.EventURL
	}
	if c.Daemon.CardMount != "" {
		dc.CardMount = c.Daemon.CardMount
	}
	return dc
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
