// Package sdcard archives photos to the SD card and keeps the CRC protected
// photo index at the card root.
package sdcard

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"

	"github.com/wizlab/wildlife-camera/internal/clock"
	"github.com/wizlab/wildlife-camera/internal/hal"
)

var (
	// ErrDisabled is returned by Open when archival is turned off
	ErrDisabled = errors.New("sd card disabled")
	// ErrNotOpen is returned by card operations outside Open/Close
	ErrNotOpen = errors.New("sd card not open")
)

// Config holds card configuration
type Config struct {
	Enabled   bool
	BaseDir   string
	IndexName string
}

// DefaultConfig returns default card configuration
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		BaseDir:   "/WildlifeCameraPics",
		IndexName: "photoDB.dat",
	}
}

// Card is opened on demand and closed right after each operation. While it
// is open the shared data lines are unavailable to the PIR.
type Card struct {
	config Config
	sd     hal.SDMMC
	gpio   hal.GPIO
	clock  clock.Clock
	log    *slog.Logger

	fs    afero.Fs
	index Index

	// Random returns the numeric part of an UnknownDate filename
	Random func() int
}

// New creates a card handle. The RAM index starts out invalid so the first
// Open of the boot loads the on-card copy.
func New(config Config, sd hal.SDMMC, gpio hal.GPIO, clk clock.Clock, log *slog.Logger) *Card {
	return &Card{
		config: config,
		sd:     sd,
		gpio:   gpio,
		clock:  clk,
		log:    log.With("component", "sdcard"),
		index:  Index{CRC: ^Index{}.Checksum()},
		Random: func() int { return 100000000 + rand.IntN(900000000) },
	}
}

// Enabled reports whether archival is configured
func (c *Card) Enabled() bool {
	return c.config.Enabled
}

// IndexPath is the location of the photo index on the card
func (c *Card) IndexPath() string {
	return path.Join(c.config.BaseDir, c.config.IndexName)
}

// Open mounts the card, creates the base directory and validates the index
func (c *Card) Open() error {
	if !c.config.Enabled {
		return ErrDisabled
	}
	if c.fs != nil {
		return nil
	}

	fs, err := c.sd.Mount()
	if err != nil {
		c.releasePins()
		return fmt.Errorf("failed to mount card: %w", err)
	}
	c.fs = fs

	if err := c.fs.MkdirAll(c.config.BaseDir, 0o755); err != nil {
		c.Close()
		return fmt.Errorf("failed to create %s: %w", c.config.BaseDir, err)
	}

	if !c.index.Valid() {
		c.loadIndex()
	}
	return nil
}

// Close unmounts the card and returns the shared data lines to plain inputs
func (c *Card) Close() error {
	var err error
	if c.fs != nil {
		if uerr := c.sd.Unmount(); uerr != nil {
			err = fmt.Errorf("failed to unmount card: %w", uerr)
		}
		c.fs = nil
	}
	c.releasePins()
	return err
}

func (c *Card) releasePins() {
	for _, pin := range hal.SDSharedPins {
		if err := c.gpio.SetMode(pin, hal.ModeInput); err != nil {
			c.log.Warn("failed to release pin", "pin", pin, "err", err)
		}
	}
}

// loadIndex adopts the on-card index if its CRC matches and the photo it
// points at still exists; otherwise the file is deleted and the RAM index
// reset.
func (c *Card) loadIndex() {
	name := c.IndexPath()
	data, err := afero.ReadFile(c.fs, name)
	if errors.Is(err, os.ErrNotExist) {
		c.resetIndex()
		return
	}
	if err != nil {
		c.log.Warn("failed to read photo index", "err", err)
		c.discardIndex()
		return
	}

	idx, err := DecodeIndex(data)
	if err != nil {
		c.log.Warn("photo index rejected", "err", err)
		c.discardIndex()
		return
	}
	if ok, _ := afero.Exists(c.fs, idx.LastPath); idx.LastPath == "" || !ok {
		c.log.Warn("photo index points at missing file", "path", idx.LastPath)
		c.discardIndex()
		return
	}

	c.index = idx
	c.log.Info("photo index loaded", "count", idx.Count, "last", idx.LastPath)
}

func (c *Card) discardIndex() {
	if err := c.fs.Remove(c.IndexPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("failed to delete photo index", "err", err)
	}
	c.resetIndex()
}

func (c *Card) resetIndex() {
	c.index = Index{}.Seal()
}

// Save writes jpeg under a dated path and updates the index. The card must be
// open.
func (c *Card) Save(jpeg []byte) (string, error) {
	if c.fs == nil {
		return "", ErrNotOpen
	}

	wall := c.clock.Wallclock()
	name := PhotoPath(c.config.BaseDir, wall, c.Random())

	if err := c.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path.Dir(name), err)
	}
	if err := afero.WriteFile(c.fs, name, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	var ts uint32
	if !wall.IsZero() {
		ts = uint32(wall.Unix())
	}
	idx := Index{
		Count:         c.index.Count + 1,
		LastPath:      name,
		LastTimestamp: ts,
	}.Seal()
	if err := c.writeIndex(idx); err != nil {
		return name, err
	}
	c.index = idx

	c.log.Info("photo saved", "path", name, "bytes", len(jpeg), "count", idx.Count)
	return name, nil
}

// writeIndex replaces the index file. A torn write is caught by the CRC on
// the next load.
func (c *Card) writeIndex(idx Index) error {
	tmp := c.IndexPath() + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, EncodeIndex(idx), 0o644); err != nil {
		return fmt.Errorf("failed to write photo index: %w", err)
	}
	if err := c.fs.Rename(tmp, c.IndexPath()); err != nil {
		return fmt.Errorf("failed to replace photo index: %w", err)
	}
	return nil
}

// UsedPercent returns the share of the card in use
func (c *Card) UsedPercent() (int, error) {
	if c.fs == nil {
		return 0, ErrNotOpen
	}
	used, total, err := c.sd.Usage()
	if err != nil {
		return 0, fmt.Errorf("failed to read card usage: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return int(used * 100 / total), nil
}

// Index returns the RAM copy of the photo index
func (c *Card) Index() Index {
	return c.index
}

// Count returns the number of photos recorded in the index
func (c *Card) Count() int {
	return int(c.index.Count)
}

// LastTimestamp returns the time of the last photo, zero if unknown
func (c *Card) LastTimestamp() time.Time {
	if c.index.LastTimestamp == 0 {
		return time.Time{}
	}
	return time.Unix(int64(c.index.LastTimestamp), 0)
}
