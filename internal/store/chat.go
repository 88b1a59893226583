package store

import (
	"encoding/json"
	"fmt"
)

// InsertChatMessage appends one transcript entry and returns its id.
func (s *Store) InsertChatMessage(role, content string, metadata map[string]interface{}) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta interface{}
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(b)
	}

	res, err := s.db.Exec(`
		INSERT INTO chat_messages (timestamp, role, content, metadata)
		VALUES (?, ?, ?, ?)
	`, now(), role, content, meta)
	if err != nil {
		return 0, fmt.Errorf("insert chat message: %w", err)
	}
	return res.LastInsertId()
}

// ChatMessages returns the most recent limit messages in transcript order
// (oldest first).
func (s *Store) ChatMessages(limit int) ([]ChatMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, role, content, metadata
		FROM chat_messages ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	msgs := []ChatMessage{}
	for rows.Next() {
		var m ChatMessage
		var meta *string
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.Role, &m.Content, &meta); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.Metadata = map[string]interface{}{}
		if meta != nil && *meta != "" {
			if err := json.Unmarshal([]byte(*meta), &m.Metadata); err != nil {
				return nil, fmt.Errorf("chat message %d: corrupt metadata: %w", m.ID, err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into transcript order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ClearChatMessages wipes the transcript.
func (s *Store) ClearChatMessages() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM chat_messages"); err != nil {
		return fmt.Errorf("clear chat messages: %w", err)
	}
	return nil
}
