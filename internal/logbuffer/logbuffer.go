// Package logbuffer keeps a bounded in-memory ring of recent log
// entries for the dashboard's debug view. Entries carry monotonic ids
// so SSE clients can tail the ring without re-reading it.
package logbuffer

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity bounds the ring when no capacity is given.
const DefaultCapacity = 500

// Level tags an entry's severity.
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

const timeFormat = "2006-01-02T15:04:05.000000"

// Entry is one buffered log line.
type Entry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Level     Level  `json:"level"`
	Source    string `json:"source"`
	Message   string `json:"message"`
}

// Buffer is a fixed-capacity log ring. The zero value is not usable;
// construct with New.
type Buffer struct {
	mu      sync.Mutex
	cap     int
	entries []Entry
	counter int64
}

// New returns a ring holding at most capacity entries. Non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{cap: capacity}
}

// Add appends an entry, evicting the oldest when full.
func (b *Buffer) Add(level Level, source, message string) Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counter++
	e := Entry{
		ID:        b.counter,
		Timestamp: time.Now().Format(timeFormat),
		Level:     level,
		Source:    source,
		Message:   message,
	}
	b.entries = append(b.entries, e)
	if len(b.entries) > b.cap {
		b.entries = b.entries[1:]
	}
	return e
}

// Debug adds a DEBUG entry.
func (b *Buffer) Debug(source, message string) Entry {
	return b.Add(LevelDebug, source, message)
}

// Info adds an INFO entry.
func (b *Buffer) Info(source, message string) Entry {
	return b.Add(LevelInfo, source, message)
}

// Warning adds a WARNING entry.
func (b *Buffer) Warning(source, message string) Entry {
	return b.Add(LevelWarning, source, message)
}

// Error adds an ERROR entry.
func (b *Buffer) Error(source, message string) Entry {
	return b.Add(LevelError, source, message)
}

// Get returns up to limit entries newest-first. level "" matches all
// levels; sinceID > 0 restricts to entries with a larger id.
func (b *Buffer) Get(limit int, level Level, sinceID int64) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 {
		limit = len(b.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(b.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := b.entries[i]
		if level != "" && e.Level != level {
			continue
		}
		if sinceID > 0 && e.ID <= sinceID {
			break // entries are id-ordered, nothing older matches
		}
		out = append(out, e)
	}
	return out
}

// LatestID returns the id of the most recently added entry. Ids keep
// rising across Clear.
func (b *Buffer) LatestID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counter
}

// Clear drops all buffered entries.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

// Writer returns an io.Writer that feeds complete lines into the
// ring under the given source, classifying each line by content. Wire
// it into a log.Logger via io.MultiWriter to tee process logs into
// the dashboard view.
func (b *Buffer) Writer(source string) *LineWriter {
	return &LineWriter{buf: b, source: source}
}

// LineWriter adapts Buffer to io.Writer, buffering partial lines
// between writes.
type LineWriter struct {
	mu      sync.Mutex
	buf     *Buffer
	source  string
	partial []byte
}

// Write ingests p, emitting one ring entry per complete line.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(w.partial[:idx]), "\r")
		w.partial = w.partial[idx+1:]
		if strings.TrimSpace(line) == "" {
			continue
		}
		w.buf.Add(classify(line), w.source, line)
	}
	return len(p), nil
}

// classify maps a raw log line to a level by content.
func classify(line string) Level {
	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "ERROR"):
		return LevelError
	case strings.Contains(upper, "WARNING"), strings.Contains(line, "BLOCK"):
		return LevelWarning
	default:
		return LevelInfo
	}
}
