package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertEvent persists one normalized event and returns its id. Empty
// sourceIP and zero port are stored as NULL.
func (s *Store) InsertEvent(eventType, rawEvent, sourceIP string, port int, batchID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ip interface{}
	if sourceIP != "" {
		ip = sourceIP
	}
	var p interface{}
	if port != 0 {
		p = port
	}

	res, err := s.db.Exec(`
		INSERT INTO events (timestamp, event_type, source_ip, port, raw_event, batch_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, now(), eventType, ip, p, rawEvent, batchID)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return res.LastInsertId()
}

// Events returns events newest-first.
func (s *Store) Events(limit, offset int) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, event_type, source_ip, port, raw_event, batch_id
		FROM events ORDER BY id DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsAfter returns events with id greater than sinceID, oldest-first.
// Used by the dashboard's live stream.
func (s *Store) EventsAfter(sinceID int64, limit int) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, event_type, source_ip, port, raw_event, batch_id
		FROM events WHERE id > ? ORDER BY id ASC LIMIT ?
	`, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	events := []Event{}
	for rows.Next() {
		var e Event
		var batch sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.SourceIP, &e.Port, &e.RawEvent, &batch); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.BatchID = batch.Int64
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when the table is empty.
func (s *Store) LatestEventID() (int64, error) {
	return s.maxID("events")
}

// InsertDecision persists the result of one batch analysis.
func (s *Store) InsertDecision(batchID int64, eventCount int, verdict string, confidence float64, reason string, threatIPs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if threatIPs == nil {
		threatIPs = []string{}
	}
	ips, err := json.Marshal(threatIPs)
	if err != nil {
		return 0, fmt.Errorf("marshal threat ips: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO decisions (timestamp, batch_id, event_count, verdict, confidence, reason, threat_ips)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, now(), batchID, eventCount, verdict, confidence, reason, string(ips))
	if err != nil {
		return 0, fmt.Errorf("insert decision: %w", err)
	}
	return res.LastInsertId()
}

// Decisions returns decisions newest-first.
func (s *Store) Decisions(limit, offset int) ([]Decision, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, batch_id, event_count, verdict, confidence, reason, threat_ips
		FROM decisions ORDER BY id DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// DecisionsAfter returns decisions with id greater than sinceID, oldest-first.
func (s *Store) DecisionsAfter(sinceID int64, limit int) ([]Decision, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, batch_id, event_count, verdict, confidence, reason, threat_ips
		FROM decisions WHERE id > ? ORDER BY id ASC LIMIT ?
	`, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

func scanDecisions(rows *sql.Rows) ([]Decision, error) {
	decisions := []Decision{}
	for rows.Next() {
		var d Decision
		var reason sql.NullString
		var ips sql.NullString
		if err := rows.Scan(&d.ID, &d.Timestamp, &d.BatchID, &d.EventCount, &d.Verdict, &d.Confidence, &reason, &ips); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Reason = reason.String
		d.ThreatIPs = []string{}
		if ips.Valid && ips.String != "" {
			if err := json.Unmarshal([]byte(ips.String), &d.ThreatIPs); err != nil {
				return nil, fmt.Errorf("decision %d: corrupt threat_ips: %w", d.ID, err)
			}
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// LatestDecisionID returns the highest decision id, or 0 when empty. The
// scheduler seeds its batch counter from this so batch ids stay monotonic
// across restarts.
func (s *Store) LatestDecisionID() (int64, error) {
	return s.maxID("decisions")
}

func (s *Store) maxID(table string) (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(id) FROM " + table).Scan(&id); err != nil {
		return 0, fmt.Errorf("max id of %s: %w", table, err)
	}
	return id.Int64, nil
}
