package sdcard

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/wizlab/wildlife-camera/internal/clock"
	"github.com/wizlab/wildlife-camera/internal/hal"
	"github.com/wizlab/wildlife-camera/internal/logging"
)

// mockSD keeps its filesystem across mounts, like a real card
type mockSD struct {
	fs       afero.Fs
	mounted  bool
	mountErr error
	mounts   int
}

func newMockSD() *mockSD {
	return &mockSD{fs: afero.NewMemMapFs()}
}

func (s *mockSD) Mount() (afero.Fs, error) {
	if s.mountErr != nil {
		return nil, s.mountErr
	}
	s.mounted = true
	s.mounts++
	return s.fs, nil
}
func (s *mockSD) Unmount() error                { s.mounted = false; return nil }
func (s *mockSD) Usage() (uint64, uint64, error) { return 250, 1000, nil }

type mockGPIO struct {
	modes map[hal.Pin]hal.PinMode
}

func (g *mockGPIO) SetMode(pin hal.Pin, mode hal.PinMode) error { g.modes[pin] = mode; return nil }
func (g *mockGPIO) Write(hal.Pin, bool) error                  { return nil }
func (g *mockGPIO) Hold(hal.Pin, bool) error                   { return nil }
func (g *mockGPIO) AttachInterrupt(hal.Pin, hal.Edge, func()) error {
	return nil
}
func (g *mockGPIO) DetachInterrupt(hal.Pin) error { return nil }

func newCard(sd *mockSD, wall time.Time) (*Card, *mockGPIO) {
	gpio := &mockGPIO{modes: map[hal.Pin]hal.PinMode{}}
	c := New(DefaultConfig(), sd, gpio, clock.NewFake(wall), logging.Discard())
	c.Random = func() int { return 424242424 }
	return c, gpio
}

var wall = time.Date(2024, 5, 1, 7, 8, 9, 0, time.UTC)

func TestSaveWritesPhotoAndIndex(t *testing.T) {
	sd := newMockSD()
	c, _ := newCard(sd, wall)

	if err := c.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	name, err := c.Save([]byte{0xFF, 0xD8, 0xFF})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if want := "/WildlifeCameraPics/2024-05-01/WCP-20240501-070809.jpg"; name != want {
		t.Errorf("path = %q, want %q", name, want)
	}
	if data, _ := afero.ReadFile(sd.fs, name); len(data) != 3 {
		t.Errorf("photo bytes = %v", data)
	}

	raw, err := afero.ReadFile(sd.fs, "/WildlifeCameraPics/photoDB.dat")
	if err != nil {
		t.Fatalf("index not written: %v", err)
	}
	idx, err := DecodeIndex(raw)
	if err != nil {
		t.Fatalf("DecodeIndex: %v", err)
	}
	if idx.Count != 1 || idx.LastPath != name || idx.LastTimestamp != uint32(wall.Unix()) {
		t.Errorf("index = %+v", idx)
	}
	if c.Count() != 1 || !c.LastTimestamp().Equal(wall) {
		t.Errorf("RAM index = %+v", c.Index())
	}
	if exists, _ := afero.Exists(sd.fs, "/WildlifeCameraPics/photoDB.dat.tmp"); exists {
		t.Error("temp index left behind")
	}
}

func TestSaveWithoutClock(t *testing.T) {
	sd := newMockSD()
	c, _ := newCard(sd, time.Time{})
	c.Open()
	defer c.Close()

	name, err := c.Save([]byte{1})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if want := "/WildlifeCameraPics/UnknownDate/WCP-424242424.jpg"; name != want {
		t.Errorf("path = %q, want %q", name, want)
	}
	if c.Count() != 1 || !c.LastTimestamp().IsZero() {
		t.Errorf("index = %+v", c.Index())
	}
}

func TestDefaultRandomIsNineDigits(t *testing.T) {
	c := New(DefaultConfig(), newMockSD(), &mockGPIO{}, clock.NewFake(time.Time{}), logging.Discard())
	for i := 0; i < 100; i++ {
		if n := c.Random(); n < 100000000 || n > 999999999 {
			t.Fatalf("Random() = %d", n)
		}
	}
}

func TestIndexAdoptedNextBoot(t *testing.T) {
	sd := newMockSD()
	c, _ := newCard(sd, wall)
	c.Open()
	c.Save([]byte{1})
	c.Save([]byte{2})
	c.Close()

	next, _ := newCard(sd, wall.Add(time.Hour))
	if err := next.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if next.Count() != 2 {
		t.Fatalf("count = %d, want 2", next.Count())
	}
	next.Save([]byte{3})
	if next.Count() != 3 {
		t.Errorf("count = %d, want 3", next.Count())
	}
}

func TestCorruptIndexDeleted(t *testing.T) {
	sd := newMockSD()
	sd.fs.MkdirAll("/WildlifeCameraPics", 0o755)
	data := EncodeIndex(Index{Count: 9, LastPath: "/WildlifeCameraPics/x.jpg"})
	afero.WriteFile(sd.fs, "/WildlifeCameraPics/x.jpg", []byte{1}, 0o644)
	data[0] ^= 0xFF
	afero.WriteFile(sd.fs, "/WildlifeCameraPics/photoDB.dat", data, 0o644)

	c, _ := newCard(sd, wall)
	if err := c.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if exists, _ := afero.Exists(sd.fs, "/WildlifeCameraPics/photoDB.dat"); exists {
		t.Error("corrupt index not deleted")
	}
	idx := c.Index()
	if idx.Count != 0 || idx.LastPath != "" || idx.LastTimestamp != 0 {
		t.Errorf("index = %+v, want empty", idx)
	}

	c.Save([]byte{1})
	if c.Count() != 1 {
		t.Errorf("count = %d, want 1", c.Count())
	}
	if exists, _ := afero.Exists(sd.fs, "/WildlifeCameraPics/photoDB.dat"); !exists {
		t.Error("fresh index not written")
	}
}

func TestIndexWithMissingPhotoDeleted(t *testing.T) {
	sd := newMockSD()
	sd.fs.MkdirAll("/WildlifeCameraPics", 0o755)
	afero.WriteFile(sd.fs, "/WildlifeCameraPics/photoDB.dat",
		EncodeIndex(Index{Count: 4, LastPath: "/WildlifeCameraPics/gone.jpg"}), 0o644)

	c, _ := newCard(sd, wall)
	c.Open()
	if c.Count() != 0 {
		t.Errorf("count = %d, want 0", c.Count())
	}
	if exists, _ := afero.Exists(sd.fs, "/WildlifeCameraPics/photoDB.dat"); exists {
		t.Error("stale index not deleted")
	}
}

// Whatever prefix of an index write survives, the next boot either adopts an
// index pointing at an existing photo or starts empty.
func TestIndexCrashPoints(t *testing.T) {
	sd := newMockSD()
	c, _ := newCard(sd, wall)
	c.Open()
	c.Save([]byte{1})
	c.Close()

	full, _ := afero.ReadFile(sd.fs, "/WildlifeCameraPics/photoDB.dat")
	for cut := 0; cut <= len(full); cut++ {
		afero.WriteFile(sd.fs, "/WildlifeCameraPics/photoDB.dat", full[:cut], 0o644)

		next, _ := newCard(sd, wall)
		next.Open()
		idx := next.Index()
		if idx.Count == 0 {
			continue
		}
		if exists, _ := afero.Exists(sd.fs, idx.LastPath); !exists {
			t.Fatalf("cut %d adopted index pointing at missing %q", cut, idx.LastPath)
		}
		if cut != len(full) {
			t.Fatalf("cut %d adopted a torn index", cut)
		}
		next.Close()
	}
}

func TestOpenOnlyValidatesOnce(t *testing.T) {
	sd := newMockSD()
	c, _ := newCard(sd, wall)
	c.Open()
	c.Save([]byte{1})
	c.Close()

	// a corrupted file is not re-read while the RAM index is valid
	afero.WriteFile(sd.fs, "/WildlifeCameraPics/photoDB.dat", []byte("junk"), 0o644)
	c.Open()
	if c.Count() != 1 {
		t.Errorf("count = %d, want 1", c.Count())
	}
}

func TestCloseReleasesSharedPins(t *testing.T) {
	sd := newMockSD()
	c, gpio := newCard(sd, wall)
	c.Open()
	gpio.modes[hal.PinPIR] = hal.ModeInputPullDown

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sd.mounted {
		t.Error("card still mounted")
	}
	for _, pin := range hal.SDSharedPins {
		if gpio.modes[pin] != hal.ModeInput {
			t.Errorf("pin %d mode = %v, want input", pin, gpio.modes[pin])
		}
	}
}

func TestMountFailureReleasesPins(t *testing.T) {
	sd := newMockSD()
	sd.mountErr = hal.ErrNoCard
	c, gpio := newCard(sd, wall)

	if err := c.Open(); !errors.Is(err, hal.ErrNoCard) {
		t.Fatalf("err = %v, want ErrNoCard", err)
	}
	if gpio.modes[hal.PinPIR] != hal.ModeInput {
		t.Error("pins not released after mount failure")
	}
}

func TestDisabledAndNotOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	c := New(cfg, newMockSD(), &mockGPIO{modes: map[hal.Pin]hal.PinMode{}}, clock.NewFake(wall), logging.Discard())
	if err := c.Open(); !errors.Is(err, ErrDisabled) {
		t.Errorf("Open err = %v, want ErrDisabled", err)
	}
	if _, err := c.Save(nil); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Save err = %v, want ErrNotOpen", err)
	}
	if _, err := c.UsedPercent(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("UsedPercent err = %v, want ErrNotOpen", err)
	}
}

func TestUsedPercent(t *testing.T) {
	c, _ := newCard(newMockSD(), wall)
	c.Open()
	pct, err := c.UsedPercent()
	if err != nil || pct != 25 {
		t.Errorf("UsedPercent = %d, %v", pct, err)
	}
	if !strings.HasSuffix(c.IndexPath(), "/photoDB.dat") {
		t.Errorf("IndexPath = %q", c.IndexPath())
	}
}
