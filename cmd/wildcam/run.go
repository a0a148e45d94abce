package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wizlab/wildlife-camera/internal/battery"
	"github.com/wizlab/wildlife-camera/internal/camera"
	"github.com/wizlab/wildlife-camera/internal/clock"
	"github.com/wizlab/wildlife-camera/internal/coordinator"
	"github.com/wizlab/wildlife-camera/internal/hal"
	"github.com/wizlab/wildlife-camera/internal/hal/sim"
	"github.com/wizlab/wildlife-camera/internal/hal/zmqhal"
	"github.com/wizlab/wildlife-camera/internal/logging"
	"github.com/wizlab/wildlife-camera/internal/pir"
	"github.com/wizlab/wildlife-camera/internal/rtcmem"
	"github.com/wizlab/wildlife-camera/internal/sdcard"
	"github.com/wizlab/wildlife-camera/internal/statusmqtt"
	"github.com/wizlab/wildlife-camera/internal/telegram"
)

func runCamera(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	board, simBoard, closeBoard, err := openBoard(cfg, log)
	if err != nil {
		return err
	}
	defer closeBoard()

	if wakeReason != "" {
		reason, err := hal.ParseWakeReason(wakeReason)
		if err != nil {
			return err
		}
		if simBoard == nil {
			return fmt.Errorf("--wake-reason needs the sim driver")
		}
		simBoard.SetWakeReason(reason)
	}
	if simBoard != nil {
		go triggerOnSignal(ctx, simBoard, cfg.pirPin(), log)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	store, err := rtcmem.Open(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("failed to open retained state: %w", err)
	}
	defer store.Close()

	log.Info("starting wildlife camera", "version", version, "driver", cfg.Driver)
	for powerOn := true; ; powerOn = false {
		plan, err := boot(ctx, cfg, board, store, powerOn, log)
		if err != nil {
			return err
		}
		if once || ctx.Err() != nil {
			return nil
		}
		if err := board.Power.DeepSleep(ctx, plan.Duration); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("interrupted during deep sleep")
				return nil
			}
			return fmt.Errorf("deep sleep failed: %w", err)
		}
	}
}

func openBoard(cfg *Config, log *slog.Logger) (hal.Board, *sim.Board, func(), error) {
	if cfg.Driver == "zmq" {
		client, err := zmqhal.Dial(cfg.daemonConfig(), log)
		if err != nil {
			return hal.Board{}, nil, nil, fmt.Errorf("failed to connect to hardware daemon: %w", err)
		}
		return client.HAL(), nil, func() { client.Close() }, nil
	}
	b := sim.New(cfg.simConfig(), log)
	return b.HAL(), b, func() {}, nil
}

// triggerOnSignal raises a PIR edge on the simulator for every SIGUSR1
func triggerOnSignal(ctx context.Context, b *sim.Board, pin hal.Pin, log *slog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			log.Info("simulated motion")
			b.Trigger(pin)
		}
	}
}

// resetRetained wipes the retained store when the wake is a power-on. A
// fresh process is a power-on whatever wake reason the board reports.
func resetRetained(store *rtcmem.Store, reason hal.WakeReason, powerOn bool, log *slog.Logger) error {
	if !powerOn && reason != hal.WakeColdBoot {
		return nil
	}
	if err := store.Reset(); err != nil {
		return fmt.Errorf("failed to reset retained state: %w", err)
	}
	log.Info("retained state reset", "reason", reason, "power_on", powerOn)
	return nil
}

// boot runs one wake cycle: everything volatile is rebuilt, only the
// retained store and the board survive.
func boot(ctx context.Context, cfg *Config, board hal.Board, store *rtcmem.Store, powerOn bool, log *slog.Logger) (coordinator.SleepPlan, error) {
	if err := resetRetained(store, board.Power.WakeReason(), powerOn, log); err != nil {
		return coordinator.SleepPlan{}, err
	}

	retained, err := store.LoadClock()
	if err != nil {
		log.Warn("failed to load clock state", "err", err)
	}
	clk := clock.NewSystem(clock.State{
		PowerOnAt: retained.PowerOnAt,
		Synced:    retained.Synced,
		Offset:    retained.Offset,
	}, cfg.Time.UTCOffsetHours)
	defer func() {
		st := clk.State()
		if err := store.SaveClock(rtcmem.ClockState{PowerOnAt: st.PowerOnAt, Synced: st.Synced, Offset: st.Offset}); err != nil {
			log.Warn("failed to save clock state", "err", err)
		}
	}()

	bat := battery.New(cfg.batteryConfig(), board.ADC, clk, store, log)
	cam := camera.New(cfg.cameraConfig(), board.Sensor, board.GPIO, clk, log)
	card := sdcard.New(cfg.sdConfig(), board.SD, board.GPIO, clk, log)
	motion, err := pir.New(cfg.pirEnabled(), cfg.pirPin(), board.GPIO, board.Power)
	if err != nil {
		return coordinator.SleepPlan{}, err
	}
	if cfg.Telegram.Token == "" {
		log.Warn("no telegram token configured, chat requests will fail")
	}
	chat := telegram.New(cfg.telegramConfig(), board.Radio, store, log)

	deps := coordinator.Deps{
		Clock:     clk,
		Power:     board.Power,
		GPIO:      board.GPIO,
		Radio:     board.Radio,
		Battery:   bat,
		Camera:    cam,
		Card:      card,
		Motion:    motion,
		Messenger: chat,
		Retained:  store,
		Log:       log,
	}
	if cfg.Time.NTPServer != "" {
		deps.TimeSync = &clock.NTPSync{Server: cfg.Time.NTPServer, Clock: clk}
	}
	if cfg.MQTT.Broker != "" {
		pub := statusmqtt.New(cfg.mqttConfig(), log)
		defer pub.Close()
		deps.Status = pub
	}

	coord, err := coordinator.New(cfg.coordinatorConfig(), deps)
	if err != nil {
		return coordinator.SleepPlan{}, fmt.Errorf("failed to create coordinator: %w", err)
	}
	cam.SetArchiver(coord)

	plan, err := coord.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return plan, err
	}
	return plan, nil
}
