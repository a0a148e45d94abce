// Package statusmqtt mirrors the outcome of every wake cycle to an MQTT
// broker as a retained JSON record.
package statusmqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Record describes one wake cycle
type Record struct {
	CycleID        string  `json:"cycle_id"`
	WakeReason     string  `json:"wake_reason"`
	Timestamp      int64   `json:"timestamp"` // unix seconds, 0 if the clock is unsynced
	AwakeSeconds   float64 `json:"awake_seconds"`
	BatteryMV      uint32  `json:"battery_mv"`
	BatteryPercent int     `json:"battery_percent"`
	PhotosTaken    int     `json:"photos_taken"`
	PhotosSent     int     `json:"photos_sent"`
	Commands       int     `json:"commands"`
	PhotoCount     int     `json:"photo_count"`
	SleepSeconds   int64   `json:"sleep_seconds"`
	WakeOnMotion   bool    `json:"wake_on_motion"`
	Critical       bool    `json:"critical"`
}

// Config holds broker configuration
type Config struct {
	Broker   string // e.g. tcp://broker.local:1883
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Timeout  time.Duration
}

// DefaultConfig returns default publisher configuration
func DefaultConfig() Config {
	return Config{
		ClientID: "wildcam",
		Topic:    "wildcam/status",
		QoS:      1,
		Timeout:  5 * time.Second,
	}
}

// ErrTimeout is returned when the broker does not acknowledge in time
var ErrTimeout = errors.New("mqtt operation timed out")

// Publisher connects on first use; the camera only has a network for a few
// seconds per wake.
type Publisher struct {
	config    Config
	newClient func(*mqtt.ClientOptions) mqtt.Client
	client    mqtt.Client
	log       *slog.Logger
}

// New creates a publisher
func New(config Config, log *slog.Logger) *Publisher {
	return &Publisher{
		config:    config,
		newClient: mqtt.NewClient,
		log:       log.With("component", "statusmqtt"),
	}
}

func (p *Publisher) connect() error {
	if p.client != nil && p.client.IsConnected() {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	opts.SetUsername(p.config.Username)
	opts.SetPassword(p.config.Password)
	opts.SetConnectTimeout(p.config.Timeout)
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		p.log.Warn("broker connection lost", "err", err)
	})

	client := p.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(p.config.Timeout) {
		return fmt.Errorf("failed to connect to %s: %w", p.config.Broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.config.Broker, err)
	}
	p.client = client
	return nil
}

// Publish sends rec as a retained message
func (p *Publisher) Publish(rec Record) error {
	if err := p.connect(); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	token := p.client.Publish(p.config.Topic, p.config.QoS, true, payload)
	if !token.WaitTimeout(p.config.Timeout) {
		return fmt.Errorf("failed to publish status: %w", ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	p.log.Debug("status published", "topic", p.config.Topic, "cycle", rec.CycleID)
	return nil
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
		p.client = nil
	}
}
