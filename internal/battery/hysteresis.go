package battery

// LowLevel is the highest level that counts as low battery
const LowLevel uint8 = 2

// Hysteresis decides when a low-battery notification is due. Last is the
// level of the most recent notification actually sent.
type Hysteresis struct {
	Last uint8
}

// Observe records a new level and reports whether a notification should be
// sent for it. A rising level resets Last without notifying.
func (h *Hysteresis) Observe(level uint8) bool {
	if level > h.Last {
		h.Last = level
		return false
	}
	return level <= LowLevel && level < h.Last
}

// Commit records that a notification for level was delivered
func (h *Hysteresis) Commit(level uint8) {
	h.Last = level
}
