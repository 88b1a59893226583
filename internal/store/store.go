// Package store persists events, decisions, flags, chat history, and
// runtime configuration in a single SQLite file. It is the only shared
// surface between the ingestion loop, the dashboard, and the agent, so
// writes are serialized and the journal is write-ahead for durability.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is a fixed-width ISO-8601 local timestamp. Fixed width keeps
// string comparison in SQL consistent with chronological order.
const timeFormat = "2006-01-02T15:04:05.000000"

// Store wraps the SQLite database holding all persistent daemon state.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens (creating if needed) the store at dbPath and applies the
// schema. The parent directory is created 0777 and the database files are
// relaxed to 0666: the daemon and the dashboard run as different users on
// a single-operator host. Tighten per deployment.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	os.Chmod(dir, 0o777)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and a single
	// handle keeps the WAL sidecars stable across goroutines.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=30000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	s.fixPermissions()
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			source_ip TEXT,
			port INTEGER,
			raw_event TEXT NOT NULL,
			batch_id INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_batch ON events(batch_id)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			batch_id INTEGER NOT NULL,
			event_count INTEGER NOT NULL,
			verdict TEXT NOT NULL,
			confidence REAL NOT NULL,
			reason TEXT,
			threat_ips TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp)`,
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS flags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			event_ids TEXT,
			severity TEXT NOT NULL,
			summary TEXT NOT NULL,
			suggested_actions TEXT,
			status TEXT DEFAULT 'pending'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_flags_status ON flags(status)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// fixPermissions relaxes db file and WAL sidecar permissions so the
// dashboard process can open the store the daemon created. Best-effort.
func (s *Store) fixPermissions() {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		p := s.path + suffix
		if _, err := os.Stat(p); err == nil {
			os.Chmod(p, 0o666)
		}
	}
}

func now() string {
	return time.Now().Format(timeFormat)
}

// =========================================================================
// Runtime configuration
// =========================================================================

// GetConfig returns the value for key, or def when the key is absent or
// the read fails. Callers re-read on every use; nothing is cached.
func (s *Store) GetConfig(key, def string) string {
	var value string
	err := s.db.QueryRow("SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err != nil {
		return def
	}
	return value
}

// SetConfig upserts a config key and stamps updated_at.
func (s *Store) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO config (key, value, updated_at)
		VALUES (?, ?, ?)
	`, key, value, now())
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// SeedConfig writes a config key only if it does not exist yet. Used at
// startup to establish defaults without clobbering operator changes.
func (s *Store) SeedConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO config (key, value, updated_at)
		VALUES (?, ?, ?)
	`, key, value, now())
	if err != nil {
		return fmt.Errorf("seed config %s: %w", key, err)
	}
	return nil
}

// AllConfig returns every config key/value pair.
func (s *Store) AllConfig() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM config")
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// =========================================================================
// Stats and maintenance
// =========================================================================

// Stats returns dashboard counters.
func (s *Store) Stats() (Stats, error) {
	var st Stats

	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&st.TotalEvents); err != nil {
		return st, fmt.Errorf("count events: %w", err)
	}

	hourAgo := time.Now().Add(-time.Hour).Format(timeFormat)
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events WHERE timestamp > ?", hourAgo).Scan(&st.EventsLastHour); err != nil {
		return st, fmt.Errorf("count recent events: %w", err)
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM decisions").Scan(&st.TotalDecisions); err != nil {
		return st, fmt.Errorf("count decisions: %w", err)
	}

	y, m, d := time.Now().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.Local).Format(timeFormat)
	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM flags WHERE timestamp > ? AND status = 'pending'
	`, today).Scan(&st.FlagsToday); err != nil {
		return st, fmt.Errorf("count flags: %w", err)
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM flags WHERE status = 'pending'").Scan(&st.PendingFlags); err != nil {
		return st, fmt.Errorf("count pending flags: %w", err)
	}

	return st, nil
}

// CleanupOldRecords deletes events and decisions older than the given
// number of days. Flags and chat history are kept until purged explicitly.
func (s *Store) CleanupOldRecords(days int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -days).Format(timeFormat)
	if _, err := s.db.Exec("DELETE FROM events WHERE timestamp < ?", cutoff); err != nil {
		return fmt.Errorf("cleanup events: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM decisions WHERE timestamp < ?", cutoff); err != nil {
		return fmt.Errorf("cleanup decisions: %w", err)
	}
	return nil
}

// PurgeAllEvents deletes every event and returns the number removed.
func (s *Store) PurgeAllEvents() (int64, error) {
	return s.purgeTable("events")
}

// PurgeAllDecisions deletes every decision and returns the number removed.
func (s *Store) PurgeAllDecisions() (int64, error) {
	return s.purgeTable("decisions")
}

func (s *Store) purgeTable(table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
		return 0, fmt.Errorf("purge %s: %w", table, err)
	}
	return count, nil
}
