package web

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/agentic-c-eda/sentinel/internal/logbuffer"
)

// activityPoll is how often the daemon's activity logs are checked for
// new lines.
const activityPoll = 1 * time.Second

// activityTail follows one daemon log file by position, feeding new
// bytes into a ring writer that splits and classifies lines.
type activityTail struct {
	path   string
	w      *logbuffer.LineWriter
	offset int64
}

func (t *activityTail) poll() {
	fi, err := os.Stat(t.path)
	if err != nil {
		return
	}
	size := fi.Size()
	if size < t.offset {
		// Rotated or truncated; start over.
		t.offset = 0
	}
	if size == t.offset {
		return
	}

	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}
	n, _ := io.Copy(t.w, f)
	t.offset += n
}

// watchActivityLogs mirrors the daemon's security and agent logs into
// the dashboard's log ring so /api/logs shows all three processes.
// Lines existing at startup are skipped; only new activity streams in.
func (s *Server) watchActivityLogs(ctx context.Context) {
	defer s.wg.Done()

	tails := []*activityTail{
		{path: filepath.Join(s.cfg.LogDir(), "security_events.log"), w: s.logs.Writer("DAEMON")},
		{path: filepath.Join(s.cfg.LogDir(), "agent_decisions.log"), w: s.logs.Writer("AGENT")},
	}
	for _, t := range tails {
		if fi, err := os.Stat(t.path); err == nil {
			t.offset = fi.Size()
		}
	}

	tick := time.NewTicker(activityPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			for _, t := range tails {
				t.poll()
			}
		}
	}
}
