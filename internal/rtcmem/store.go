package rtcmem

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite file that backs retained memory
type Store struct {
	conn *sql.DB
}

// Open opens or creates the retained memory file
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open retained memory: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate retained memory: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Coordinator state
	CREATE TABLE IF NOT EXISTS system (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_notified_level INTEGER NOT NULL,
		session_start INTEGER NOT NULL DEFAULT 0
	);

	-- Battery monitor cache
	CREATE TABLE IF NOT EXISTS battery (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		expiry_ms INTEGER NOT NULL,
		raw INTEGER NOT NULL,
		pin_mv INTEGER NOT NULL,
		effective_mv INTEGER NOT NULL
	);

	-- Messaging cursor
	CREATE TABLE IF NOT EXISTS telegram_cursor (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_update_id INTEGER NOT NULL
	);

	-- Clock sync
	CREATE TABLE IF NOT EXISTS clock (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		power_on_at INTEGER NOT NULL,
		synced INTEGER NOT NULL,
		offset_ns INTEGER NOT NULL
	);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Reset wipes every record, as a power-off does
func (s *Store) Reset() error {
	for _, table := range []string{"system", "battery", "telegram_cursor", "clock"} {
		if _, err := s.conn.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// --- System ---

// LoadSystem returns the coordinator record, or defaults if never written
func (s *Store) LoadSystem() (SystemState, error) {
	st := SystemState{LastNotifiedLevel: DefaultNotifiedLevel}
	var level int
	var start int64
	err := s.conn.QueryRow("SELECT last_notified_level, session_start FROM system WHERE id = 1").Scan(&level, &start)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.LastNotifiedLevel = uint8(level)
	if start > 0 {
		st.SessionStart = time.Unix(start, 0)
	}
	return st, nil
}

// SaveSystem writes the coordinator record
func (s *Store) SaveSystem(st SystemState) error {
	var start int64
	if !st.SessionStart.IsZero() {
		start = st.SessionStart.Unix()
	}
	_, err := s.conn.Exec(`
		INSERT INTO system (id, last_notified_level, session_start) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_notified_level = excluded.last_notified_level,
			session_start = excluded.session_start`,
		st.LastNotifiedLevel, start)
	return err
}

// --- Battery ---

// LoadBattery returns the cached reading; an empty cache has zero Expiry
func (s *Store) LoadBattery() (BatteryCache, error) {
	var b BatteryCache
	var expiry int64
	err := s.conn.QueryRow("SELECT expiry_ms, raw, pin_mv, effective_mv FROM battery WHERE id = 1").
		Scan(&expiry, &b.Raw, &b.PinMillivolts, &b.EffectiveMillivolts)
	if errors.Is(err, sql.ErrNoRows) {
		return BatteryCache{}, nil
	}
	if err != nil {
		return BatteryCache{}, err
	}
	b.Expiry = time.Duration(expiry) * time.Millisecond
	return b, nil
}

// SaveBattery writes the battery cache
func (s *Store) SaveBattery(b BatteryCache) error {
	_, err := s.conn.Exec(`
		INSERT INTO battery (id, expiry_ms, raw, pin_mv, effective_mv) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			expiry_ms = excluded.expiry_ms,
			raw = excluded.raw,
			pin_mv = excluded.pin_mv,
			effective_mv = excluded.effective_mv`,
		b.Expiry.Milliseconds(), b.Raw, b.PinMillivolts, b.EffectiveMillivolts)
	return err
}

// --- Telegram cursor ---

// LoadCursor returns the next update id to fetch, -1 if never written
func (s *Store) LoadCursor() (int64, error) {
	var id int64
	err := s.conn.QueryRow("SELECT last_update_id FROM telegram_cursor WHERE id = 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultUpdateID, nil
	}
	if err != nil {
		return DefaultUpdateID, err
	}
	return id, nil
}

// SaveCursor writes the messaging cursor
func (s *Store) SaveCursor(id int64) error {
	_, err := s.conn.Exec(`
		INSERT INTO telegram_cursor (id, last_update_id) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_update_id = excluded.last_update_id`, id)
	return err
}

// --- Clock ---

// LoadClock returns the retained clock state; zero PowerOnAt if never written
func (s *Store) LoadClock() (ClockState, error) {
	var c ClockState
	var powerOn, offset int64
	var synced bool
	err := s.conn.QueryRow("SELECT power_on_at, synced, offset_ns FROM clock WHERE id = 1").
		Scan(&powerOn, &synced, &offset)
	if errors.Is(err, sql.ErrNoRows) {
		return ClockState{}, nil
	}
	if err != nil {
		return ClockState{}, err
	}
	c.PowerOnAt = time.UnixMilli(powerOn)
	c.Synced = synced
	c.Offset = time.Duration(offset)
	return c, nil
}

// SaveClock writes the clock state
func (s *Store) SaveClock(c ClockState) error {
	_, err := s.conn.Exec(`
		INSERT INTO clock (id, power_on_at, synced, offset_ns) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			power_on_at = excluded.power_on_at,
			synced = excluded.synced,
			offset_ns = excluded.offset_ns`,
		c.PowerOnAt.UnixMilli(), c.Synced, int64(c.Offset))
	return err
}
