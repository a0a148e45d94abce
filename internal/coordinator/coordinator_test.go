package coordinator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/wizlab/wildlife-camera/internal/battery"
	"github.com/wizlab/wildlife-camera/internal/camera"
	"github.com/wizlab/wildlife-camera/internal/clock"
	"github.com/wizlab/wildlife-camera/internal/hal"
	"github.com/wizlab/wildlife-camera/internal/hal/sim"
	"github.com/wizlab/wildlife-camera/internal/logging"
	"github.com/wizlab/wildlife-camera/internal/pir"
	"github.com/wizlab/wildlife-camera/internal/rtcmem"
	"github.com/wizlab/wildlife-camera/internal/sdcard"
	"github.com/wizlab/wildlife-camera/internal/statusmqtt"
)

type scripted struct {
	at   time.Duration
	text string
}

type sentPhoto struct {
	jpeg    []byte
	caption string
	at      time.Duration
}

// fakeChat is a scripted chat service driven by the fake clock
type fakeChat struct {
	clk        *clock.Fake
	script     []scripted
	delivered  int
	messages   []string
	photos     []sentPhoto
	polls      []time.Duration
	failPhotos int
}

func (f *fakeChat) SendMessage(ctx context.Context, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeChat) SendPhoto(ctx context.Context, jpeg []byte, caption string) error {
	if f.failPhotos > 0 {
		f.failPhotos--
		return errors.New("telegram connect failed (-103)")
	}
	f.photos = append(f.photos, sentPhoto{jpeg: jpeg, caption: caption, at: f.clk.Uptime()})
	return nil
}

func (f *fakeChat) GetUpdates(ctx context.Context, handler func(string)) (int, error) {
	now := f.clk.Uptime()
	f.polls = append(f.polls, now)
	n := 0
	for f.delivered < len(f.script) && f.script[f.delivered].at <= now {
		cmd := f.script[f.delivered].text
		f.delivered++
		n++
		handler(cmd)
	}
	return n, nil
}

type fakeSync struct{ calls int }

func (s *fakeSync) Sync(ctx context.Context) error { s.calls++; return nil }

type fakeStatus struct{ records []statusmqtt.Record }

func (s *fakeStatus) Publish(rec statusmqtt.Record) error {
	s.records = append(s.records, rec)
	return nil
}

type harness struct {
	clk    *clock.Fake
	board  *sim.Board
	store  *rtcmem.Store
	chat   *fakeChat
	card   *sdcard.Card
	status *fakeStatus
	coord  *Coordinator
}

type options struct {
	reason  hal.WakeReason
	wall    time.Time
	sim     func(*sim.Config)
	coord   func(*Config)
	battery func(*battery.Config)
	script  []scripted
	// reuse these across reboots
	clk   *clock.Fake
	store *rtcmem.Store
	board *sim.Board
}

var testWall = time.Date(2024, 5, 1, 7, 8, 9, 0, time.UTC)

func openStore(t *testing.T) *rtcmem.Store {
	t.Helper()
	s, err := rtcmem.Open(filepath.Join(t.TempDir(), "rtc.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newHarness(t *testing.T, o options) *harness {
	t.Helper()
	log := logging.Discard()

	h := &harness{clk: o.clk, store: o.store, board: o.board, status: &fakeStatus{}}
	if h.clk == nil {
		h.clk = clock.NewFake(o.wall)
	} else {
		h.clk.Reboot()
	}
	if h.store == nil {
		h.store = openStore(t)
	}
	if h.board == nil {
		simCfg := sim.DefaultConfig()
		if o.sim != nil {
			o.sim(&simCfg)
		}
		h.board = sim.New(simCfg, log)
	}
	h.board.SetWakeReason(o.reason)

	batCfg := battery.DefaultConfig()
	if o.battery != nil {
		o.battery(&batCfg)
	}
	bat := battery.New(batCfg, h.board, h.clk, h.store, log)

	camCfg := camera.DefaultConfig()
	camCfg.FrameSize = hal.FrameQVGA
	cam := camera.New(camCfg, h.board, h.board, h.clk, log)

	h.card = sdcard.New(sdcard.DefaultConfig(), h.board, h.board, h.clk, log)
	motion, err := pir.New(true, hal.PinPIR, h.board, h.board)
	if err != nil {
		t.Fatalf("pir.New: %v", err)
	}
	h.chat = &fakeChat{clk: h.clk, script: o.script}

	cfg := DefaultConfig()
	if o.coord != nil {
		o.coord(&cfg)
	}
	h.coord, err = New(cfg, Deps{
		Clock:     h.clk,
		Power:     h.board,
		GPIO:      h.board,
		Radio:     h.board,
		Battery:   bat,
		Camera:    cam,
		Card:      h.card,
		Motion:    motion,
		Messenger: h.chat,
		TimeSync:  &fakeSync{},
		Retained:  h.store,
		Status:    h.status,
		Log:       log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cam.SetArchiver(h.coord)
	return h
}

func (h *harness) run(t *testing.T) SleepPlan {
	t.Helper()
	plan, err := h.coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return plan
}

// awake returns when the awake phase ended, excluding the final LED blink
func (h *harness) awake() time.Duration {
	return h.clk.Uptime() - DefaultConfig().LEDBlink
}

func (h *harness) photoFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	afero.Walk(h.board.Card(), "/", func(path string, info os.FileInfo, err error) error {
		if err == nil && strings.HasSuffix(path, ".jpg") {
			files = append(files, path)
		}
		return nil
	})
	return files
}

func countTrue(levels []bool) int {
	n := 0
	for _, l := range levels {
		if l {
			n++
		}
	}
	return n
}

func assertNear(t *testing.T, what string, got, want time.Duration) {
	t.Helper()
	if got < want || got > want+DefaultConfig().LoopYield {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

// S1
func TestColdBootNoMotion(t *testing.T) {
	h := newHarness(t, options{reason: hal.WakeColdBoot, wall: testWall})
	plan := h.run(t)

	if plan != (SleepPlan{Duration: 600 * time.Second, WakeOnMotion: true}) {
		t.Errorf("plan = %+v", plan)
	}
	assertNear(t, "awake", h.awake(), 30*time.Second)
	if len(h.chat.photos) != 0 || len(h.chat.messages) != 0 {
		t.Errorf("chat traffic: %d photos, messages %v", len(h.chat.photos), h.chat.messages)
	}
	if files := h.photoFiles(t); len(files) != 0 {
		t.Errorf("photos on card: %v", files)
	}
	for i := 1; i < len(h.chat.polls); i++ {
		if gap := h.chat.polls[i] - h.chat.polls[i-1]; gap < 3*time.Second {
			t.Errorf("polls %d and %d only %v apart", i-1, i, gap)
		}
	}
	if len(h.chat.polls) < 9 {
		t.Errorf("polls = %d, want about 10", len(h.chat.polls))
	}
	if !h.board.WakeArmed(hal.PinPIR) || h.board.Armed(hal.PinPIR) {
		t.Error("PIR should be a wake source with the interrupt detached")
	}
	if !h.board.Held(hal.PinFlash) || h.board.Level(hal.PinFlash) {
		t.Error("flash not held low")
	}
}

// S2
func TestMotionWakeWithFlash(t *testing.T) {
	h := newHarness(t, options{reason: hal.WakeMotion, wall: testWall})

	fs := h.board.Card()
	fs.MkdirAll("/WildlifeCameraPics", 0o755)
	afero.WriteFile(fs, "/WildlifeCameraPics/old.jpg", []byte{0xFF, 0xD8}, 0o644)
	afero.WriteFile(fs, "/WildlifeCameraPics/photoDB.dat",
		sdcard.EncodeIndex(sdcard.Index{Count: 5, LastPath: "/WildlifeCameraPics/old.jpg"}), 0o644)

	plan := h.run(t)

	want := "/WildlifeCameraPics/2024-05-01/WCP-20240501-070809.jpg"
	if ok, _ := afero.Exists(fs, want); !ok {
		t.Fatalf("photo not at %s; card has %v", want, h.photoFiles(t))
	}
	if h.card.Count() != 6 {
		t.Errorf("index count = %d, want 6", h.card.Count())
	}
	raw, _ := afero.ReadFile(fs, "/WildlifeCameraPics/photoDB.dat")
	if idx, err := sdcard.DecodeIndex(raw); err != nil || idx.Count != 6 || idx.LastPath != want {
		t.Errorf("on-card index = %+v, %v", idx, err)
	}

	if writes := h.board.Writes(hal.PinFlash); countTrue(writes) != 1 || writes[len(writes)-1] {
		t.Errorf("flash writes = %v, want one pulse ending low", writes)
	}

	if len(h.chat.photos) != 1 {
		t.Fatalf("photos sent = %d, want 1", len(h.chat.photos))
	}
	caption := h.chat.photos[0].caption
	for _, part := range []string{"2024-05-01", "07:08:09", "SD Used Space: "} {
		if !strings.Contains(caption, part) {
			t.Errorf("caption %q missing %q", caption, part)
		}
	}

	assertNear(t, "awake", h.awake(), 60*time.Second)
	if plan.Duration != 600*time.Second || !plan.WakeOnMotion {
		t.Errorf("plan = %+v", plan)
	}

	if len(h.status.records) != 1 {
		t.Fatalf("status records = %d", len(h.status.records))
	}
	rec := h.status.records[0]
	if rec.CycleID != h.coord.CycleID() || rec.CycleID == "" || rec.WakeReason != "motion" ||
		rec.PhotosTaken != 1 || rec.PhotosSent != 1 || rec.PhotoCount != 6 {
		t.Errorf("status record = %+v", rec)
	}
}

// S3
func TestMotionWakeWithoutClock(t *testing.T) {
	h := newHarness(t, options{reason: hal.WakeMotion})
	h.run(t)

	files := h.photoFiles(t)
	if len(files) != 1 || !regexp.MustCompile(`^/WildlifeCameraPics/UnknownDate/WCP-\d{9}\.jpg$`).MatchString(files[0]) {
		t.Fatalf("files = %v", files)
	}
	if h.card.Count() != 1 {
		t.Errorf("count = %d, want 1", h.card.Count())
	}
	if len(h.chat.photos) != 1 {
		t.Fatalf("photos sent = %d", len(h.chat.photos))
	}
	if got := h.chat.photos[0].caption; !strings.HasPrefix(got, "Wildlife Camera photo on the  at \n") {
		t.Errorf("caption = %q", got)
	}
}

// S4
func TestPhotoNoFlashDuringTimerWake(t *testing.T) {
	h := newHarness(t, options{
		reason: hal.WakeTimer,
		wall:   testWall,
		script: []scripted{{at: 3 * time.Second, text: "/photo_nf"}},
	})
	h.run(t)

	if len(h.chat.photos) != 1 {
		t.Fatalf("photos sent = %d, want 1", len(h.chat.photos))
	}
	if got := h.chat.photos[0].at; got < 3*time.Second || got > 4*time.Second {
		t.Errorf("photo sent at %v", got)
	}
	if n := countTrue(h.board.Writes(hal.PinFlash)); n != 0 {
		t.Errorf("flash fired %d times", n)
	}
	assertNear(t, "awake", h.awake(), 65*time.Second)
	if len(h.photoFiles(t)) != 1 {
		t.Error("photo not archived")
	}
}

// S5
func TestCorruptIndexRebuilt(t *testing.T) {
	h := newHarness(t, options{
		reason: hal.WakeMotion,
		wall:   testWall,
		script: []scripted{{at: 2 * time.Second, text: "/status"}},
	})

	fs := h.board.Card()
	fs.MkdirAll("/WildlifeCameraPics", 0o755)
	bad := sdcard.EncodeIndex(sdcard.Index{Count: 40, LastPath: "/WildlifeCameraPics/x.jpg"})
	bad[108] ^= 0xFF
	afero.WriteFile(fs, "/WildlifeCameraPics/photoDB.dat", bad, 0o644)

	h.run(t)

	raw, _ := afero.ReadFile(fs, "/WildlifeCameraPics/photoDB.dat")
	idx, err := sdcard.DecodeIndex(raw)
	if err != nil || idx.Count != 1 {
		t.Fatalf("index = %+v, %v", idx, err)
	}
	if len(h.chat.messages) != 1 {
		t.Fatalf("messages = %v", h.chat.messages)
	}
	status := h.chat.messages[0]
	for _, part := range []string{"Photos: 1", "Last photo: 2024-05-01 07:08:09", "Battery: ", "Uptime: ", "SD Used Space: "} {
		if !strings.Contains(status, part) {
			t.Errorf("status %q missing %q", status, part)
		}
	}
}

// S6
func TestCriticalBattery(t *testing.T) {
	tests := []struct {
		name     string
		wifi     bool
		pirWake  bool
		messages int
	}{
		{"notified", true, false, 1},
		{"no wifi", false, false, 0},
		{"pir wake allowed", true, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, options{
				reason: hal.WakeMotion,
				wall:   testWall,
				sim: func(c *sim.Config) {
					c.BatteryMV = 1600
					c.WiFiAvailable = tt.wifi
				},
				coord: func(c *Config) { c.PIRWakeOnCritical = tt.pirWake },
			})
			plan := h.run(t)

			if plan.Duration != 10*time.Hour || !plan.Critical || plan.WakeOnMotion != tt.pirWake {
				t.Errorf("plan = %+v", plan)
			}
			if h.board.WakeArmed(hal.PinPIR) != tt.pirWake {
				t.Errorf("PIR wake armed = %v", h.board.WakeArmed(hal.PinPIR))
			}
			if len(h.chat.messages) != tt.messages {
				t.Errorf("messages = %v", h.chat.messages)
			}
			if tt.messages > 0 && !strings.Contains(h.chat.messages[0], "Critical battery") {
				t.Errorf("message = %q", h.chat.messages[0])
			}
			if len(h.chat.photos) != 0 || len(h.photoFiles(t)) != 0 {
				t.Error("camera used on critical battery")
			}
			if h.clk.Uptime() > time.Second {
				t.Errorf("stayed awake %v", h.clk.Uptime())
			}
		})
	}
}

func TestBatteryGoesCriticalWhileAwake(t *testing.T) {
	h := newHarness(t, options{
		reason:  hal.WakeColdBoot,
		wall:    testWall,
		battery: func(c *battery.Config) { c.CacheTimeout = time.Second },
	})
	h.clk.At(10*time.Second, func() { h.board.SetBatteryMV(1600) })

	plan := h.run(t)
	if !plan.Critical || plan.Duration != 10*time.Hour || plan.WakeOnMotion {
		t.Errorf("plan = %+v", plan)
	}
	assertNear(t, "awake", h.awake(), 30*time.Second)
}

// The PIR is re-armed after every card access so later motion still counts.
func TestMotionRearmedAfterCardAccess(t *testing.T) {
	h := newHarness(t, options{reason: hal.WakeMotion, wall: testWall})
	h.clk.At(10*time.Second, func() { h.board.Trigger(hal.PinPIR) })
	h.clk.At(20*time.Second, func() { h.board.Trigger(hal.PinPIR) })
	h.run(t)

	if h.card.Count() != 3 {
		t.Errorf("count = %d, want 3", h.card.Count())
	}
	if len(h.chat.photos) != 3 {
		t.Errorf("photos sent = %d, want 3", len(h.chat.photos))
	}
	if len(h.photoFiles(t)) != 3 {
		t.Errorf("files = %v", h.photoFiles(t))
	}
}

func TestMotionWithoutWiFiStaysPending(t *testing.T) {
	h := newHarness(t, options{
		reason: hal.WakeMotion,
		wall:   testWall,
		sim:    func(c *sim.Config) { c.WiFiAvailable = false },
	})
	h.clk.At(5*time.Second, func() { h.board.Trigger(hal.PinPIR) })
	h.run(t)

	if len(h.chat.polls) != 0 || len(h.chat.photos) != 0 {
		t.Errorf("chat used without wifi: %d polls, %d photos", len(h.chat.polls), len(h.chat.photos))
	}
	// second motion waits behind the undelivered first photo
	if h.card.Count() != 1 {
		t.Errorf("count = %d, want 1", h.card.Count())
	}
	if len(h.status.records) != 0 {
		t.Error("status published without wifi")
	}
}

func TestUploadRetried(t *testing.T) {
	h := newHarness(t, options{reason: hal.WakeMotion, wall: testWall})
	h.chat.failPhotos = 1
	h.run(t)

	if len(h.chat.photos) != 1 {
		t.Fatalf("photos sent = %d, want 1", len(h.chat.photos))
	}
	if at := h.chat.photos[0].at; at < 3*time.Second {
		t.Errorf("retry at %v, want after the poll interval", at)
	}
}

func TestQueuedPhotosDeliveredInOrder(t *testing.T) {
	h := newHarness(t, options{
		reason: hal.WakeMotion,
		wall:   testWall,
		script: []scripted{{at: 1 * time.Second, text: "/photo"}},
	})
	h.chat.failPhotos = 4
	h.run(t)

	if len(h.chat.photos) != 2 {
		t.Fatalf("photos sent = %d, want 2", len(h.chat.photos))
	}
	files := h.photoFiles(t)
	sort.Strings(files)
	if len(files) != 2 {
		t.Fatalf("files = %v", files)
	}
	for i, path := range files {
		archived, _ := afero.ReadFile(h.board.Card(), path)
		if !bytes.Equal(h.chat.photos[i].jpeg, archived) {
			t.Errorf("photo %d sent out of capture order", i)
		}
	}
	if rec := h.status.records[0]; rec.PhotosTaken != 2 || rec.PhotosSent != 2 {
		t.Errorf("status record = %+v", rec)
	}
}

func TestCaptureFailureBlinksFlash(t *testing.T) {
	h := newHarness(t, options{
		reason: hal.WakeTimer,
		wall:   testWall,
		script: []scripted{{at: 3 * time.Second, text: "/photo_nf"}},
	})
	h.board.SetGrabFails(true)
	h.run(t)

	if len(h.chat.photos) != 0 {
		t.Errorf("photos sent = %d", len(h.chat.photos))
	}
	if len(h.chat.messages) != 1 || h.chat.messages[0] != "Camera capture failed" {
		t.Errorf("messages = %v", h.chat.messages)
	}
	if writes := h.board.Writes(hal.PinFlash); countTrue(writes) != 1 || writes[len(writes)-1] {
		t.Errorf("flash writes = %v, want one blink ending low", writes)
	}
}

func TestSleepCommand(t *testing.T) {
	h := newHarness(t, options{
		reason: hal.WakeColdBoot,
		wall:   testWall,
		script: []scripted{{at: 3 * time.Second, text: "/sleep"}},
	})
	h.run(t)

	assertNear(t, "awake", h.awake(), 3*time.Second)
	if len(h.chat.messages) != 1 || h.chat.messages[0] != "Going to sleep" {
		t.Errorf("messages = %v", h.chat.messages)
	}
}

func TestUnknownCommandDoesNotExtend(t *testing.T) {
	h := newHarness(t, options{
		reason: hal.WakeTimer,
		wall:   testWall,
		script: []scripted{{at: 3 * time.Second, text: "/selfie"}},
	})
	h.run(t)

	assertNear(t, "awake", h.awake(), 5*time.Second)
	if len(h.chat.messages) != 1 || h.chat.messages[0] != "unknown command" {
		t.Errorf("messages = %v", h.chat.messages)
	}
}

func TestExtensionsStopAtCeiling(t *testing.T) {
	var script []scripted
	for at := time.Duration(0); at < 20*time.Minute; at += 30 * time.Second {
		script = append(script, scripted{at: at, text: "/status"})
	}
	h := newHarness(t, options{reason: hal.WakeTimer, wall: testWall, script: script})
	h.run(t)

	assertNear(t, "awake", h.awake(), 10*time.Minute)
}

func TestSensorFailureSleepsEarly(t *testing.T) {
	h := newHarness(t, options{
		reason: hal.WakeMotion,
		wall:   testWall,
		sim:    func(c *sim.Config) { c.SensorFails = true },
	})
	plan := h.run(t)

	if plan.Duration != 600*time.Second || plan.Critical {
		t.Errorf("plan = %+v", plan)
	}
	assertNear(t, "awake", h.awake(), DefaultConfig().SensorRetryDelay)
	if len(h.photoFiles(t)) != 0 {
		t.Error("photo taken without sensor")
	}
}

// Low-battery notices fire on descent only, across deep sleeps.
func TestLowBatteryHysteresisAcrossBoots(t *testing.T) {
	store := openStore(t)
	clk := clock.NewFake(testWall)
	board := sim.New(sim.DefaultConfig(), logging.Discard())

	steps := []struct {
		pinMV  uint32
		notice bool
	}{
		{1790, true},  // 3580 mV, level 2
		{1790, false}, // same level
		{1710, true},  // 3420 mV, level 1
		{1860, false}, // 3720 mV, level 3, recharge
		{1790, true},  // back to level 2
	}
	for i, step := range steps {
		board.SetBatteryMV(step.pinMV)
		clk.Advance(battery.DefaultConfig().CacheTimeout)
		h := newHarness(t, options{reason: hal.WakeTimer, clk: clk, store: store, board: board})
		h.run(t)

		sent := len(h.chat.messages) == 1 && strings.HasPrefix(h.chat.messages[0], "Low battery")
		if sent != step.notice {
			t.Errorf("step %d (%d mV): messages %v, want notice %v", i, step.pinMV, h.chat.messages, step.notice)
		}
	}
}

func TestSessionStartRetained(t *testing.T) {
	store := openStore(t)
	clk := clock.NewFake(testWall)
	board := sim.New(sim.DefaultConfig(), logging.Discard())

	h := newHarness(t, options{reason: hal.WakeColdBoot, clk: clk, store: store, board: board})
	h.run(t)
	sys, _ := store.LoadSystem()
	if !sys.SessionStart.Equal(testWall) {
		t.Fatalf("session start = %v, want %v", sys.SessionStart, testWall)
	}

	clk.Advance(600 * time.Second)
	h = newHarness(t, options{reason: hal.WakeTimer, clk: clk, store: store, board: board,
		script: []scripted{{at: 0, text: "/status"}}})
	h.run(t)
	if sys2, _ := store.LoadSystem(); !sys2.SessionStart.Equal(testWall) {
		t.Errorf("session start moved to %v", sys2.SessionStart)
	}
	if len(h.chat.messages) != 1 || !strings.Contains(h.chat.messages[0], "Uptime: 10m30s") {
		t.Errorf("status = %v", h.chat.messages)
	}
}
