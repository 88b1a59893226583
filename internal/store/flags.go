package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertFlag persists a new alert in status pending and returns its id.
func (s *Store) InsertFlag(eventIDs []int64, severity, summary string, suggestedActions []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if eventIDs == nil {
		eventIDs = []int64{}
	}
	if suggestedActions == nil {
		suggestedActions = []string{}
	}
	ids, err := json.Marshal(eventIDs)
	if err != nil {
		return 0, fmt.Errorf("marshal event ids: %w", err)
	}
	actions, err := json.Marshal(suggestedActions)
	if err != nil {
		return 0, fmt.Errorf("marshal suggested actions: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO flags (timestamp, event_ids, severity, summary, suggested_actions, status)
		VALUES (?, ?, ?, ?, ?, 'pending')
	`, now(), string(ids), severity, summary, string(actions))
	if err != nil {
		return 0, fmt.Errorf("insert flag: %w", err)
	}
	return res.LastInsertId()
}

// Flags returns flags newest-first, optionally filtered by status.
func (s *Store) Flags(status string, limit int) ([]Flag, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.Query(`
			SELECT id, timestamp, event_ids, severity, summary, suggested_actions, status
			FROM flags WHERE status = ? ORDER BY id DESC LIMIT ?
		`, status, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT id, timestamp, event_ids, severity, summary, suggested_actions, status
			FROM flags ORDER BY id DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer rows.Close()
	return scanFlags(rows)
}

// FlagsAfter returns flags with id greater than sinceID, oldest-first.
func (s *Store) FlagsAfter(sinceID int64, limit int) ([]Flag, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, event_ids, severity, summary, suggested_actions, status
		FROM flags WHERE id > ? ORDER BY id ASC LIMIT ?
	`, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer rows.Close()
	return scanFlags(rows)
}

// GetFlag returns one flag by id, or nil when absent.
func (s *Store) GetFlag(id int64) (*Flag, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, event_ids, severity, summary, suggested_actions, status
		FROM flags WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query flag: %w", err)
	}
	defer rows.Close()

	flags, err := scanFlags(rows)
	if err != nil {
		return nil, err
	}
	if len(flags) == 0 {
		return nil, nil
	}
	return &flags[0], nil
}

// UpdateFlagStatus moves a flag to resolved or dismissed. Absent ids
// succeed silently; repeating the current status is a no-op; any other
// transition away from a terminal status is rejected.
func (s *Store) UpdateFlagStatus(id int64, status string) error {
	if status != FlagResolved && status != FlagDismissed {
		return fmt.Errorf("invalid flag status: %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current string
	err := s.db.QueryRow("SELECT status FROM flags WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read flag %d: %w", id, err)
	}
	if current == status {
		return nil
	}
	if current != FlagPending {
		return fmt.Errorf("flag %d already %s", id, current)
	}

	if _, err := s.db.Exec("UPDATE flags SET status = ? WHERE id = ?", status, id); err != nil {
		return fmt.Errorf("update flag %d: %w", id, err)
	}
	return nil
}

// PurgeAllFlags deletes every flag and returns the number removed.
func (s *Store) PurgeAllFlags() (int64, error) {
	return s.purgeTable("flags")
}

func scanFlags(rows *sql.Rows) ([]Flag, error) {
	flags := []Flag{}
	for rows.Next() {
		var f Flag
		var ids, actions sql.NullString
		if err := rows.Scan(&f.ID, &f.Timestamp, &ids, &f.Severity, &f.Summary, &actions, &f.Status); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		f.EventIDs = []int64{}
		if ids.Valid && ids.String != "" {
			if err := json.Unmarshal([]byte(ids.String), &f.EventIDs); err != nil {
				return nil, fmt.Errorf("flag %d: corrupt event_ids: %w", f.ID, err)
			}
		}
		f.SuggestedActions = []string{}
		if actions.Valid && actions.String != "" {
			if err := json.Unmarshal([]byte(actions.String), &f.SuggestedActions); err != nil {
				return nil, fmt.Errorf("flag %d: corrupt suggested_actions: %w", f.ID, err)
			}
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
