package coordinator

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/wizlab/wildlife-camera/internal/hal"
)

func TestWindowFor(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		reason hal.WakeReason
		want   time.Duration
	}{
		{hal.WakeMotion, 60 * time.Second},
		{hal.WakeTimer, 5 * time.Second},
		{hal.WakeColdBoot, 30 * time.Second},
		{hal.WakeUnknown, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := WindowFor(tt.reason, cfg); got != tt.want {
			t.Errorf("WindowFor(%v) = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestWindowExtend(t *testing.T) {
	w := NewWindow(10*time.Second, 5*time.Second, 10*time.Minute)
	if w.Deadline() != 15*time.Second {
		t.Fatalf("deadline = %v", w.Deadline())
	}
	if !w.Extend(13*time.Second, time.Minute) || w.Deadline() != 75*time.Second {
		t.Errorf("deadline after extend = %v", w.Deadline())
	}
	if w.Extend(75*time.Second, time.Minute) {
		t.Error("extended after deadline")
	}
	if w.Deadline() != 75*time.Second {
		t.Errorf("deadline moved to %v", w.Deadline())
	}
}

func TestWindowCeiling(t *testing.T) {
	w := NewWindow(0, 30*time.Second, 100*time.Second)
	w.Extend(time.Second, time.Minute)
	w.Extend(2*time.Second, time.Minute)
	if w.Deadline() != 100*time.Second {
		t.Errorf("deadline = %v, want ceiling", w.Deadline())
	}

	short := NewWindow(0, time.Hour, 100*time.Second)
	if short.Deadline() != 100*time.Second {
		t.Errorf("initial window not capped: %v", short.Deadline())
	}
}

func TestWindowEnd(t *testing.T) {
	w := NewWindow(0, 30*time.Second, 10*time.Minute)
	w.End(4 * time.Second)
	if !w.Expired(4*time.Second) || w.Deadline() != 4*time.Second {
		t.Errorf("deadline = %v", w.Deadline())
	}
	w.End(8 * time.Second)
	if w.Deadline() != 4*time.Second {
		t.Error("End moved the deadline later")
	}
}

// For any arrival sequence the awake phase ends no later than the initial
// window plus the accepted extensions, and never past the ceiling.
func TestWindowDeadlineBound(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewPCG(1, 2))

	for run := 0; run < 500; run++ {
		initial := WindowFor(hal.WakeReason(rng.IntN(4)), cfg)
		w := NewWindow(0, initial, cfg.Ceiling)

		var now time.Duration
		accepted := 0
		arrivals := rng.IntN(40)
		for i := 0; i < arrivals; i++ {
			now += time.Duration(rng.Int64N(int64(90 * time.Second)))
			before := w.Deadline()
			ok := w.Extend(now, cfg.Extension)
			if now >= before && (ok || w.Deadline() != before) {
				t.Fatalf("run %d: extended at %v after deadline %v", run, now, before)
			}
			if ok {
				accepted++
			}
		}

		end := w.Deadline()
		if end > initial+time.Duration(accepted)*cfg.Extension {
			t.Fatalf("run %d: deadline %v exceeds %v + %d extensions", run, end, initial, accepted)
		}
		if end > cfg.Ceiling {
			t.Fatalf("run %d: deadline %v past ceiling", run, end)
		}
	}
}
