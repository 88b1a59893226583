package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentic-c-eda/sentinel/internal/agent"
	"github.com/agentic-c-eda/sentinel/internal/logbuffer"
	"github.com/agentic-c-eda/sentinel/internal/store"
)

const (
	eventsPoll    = 1 * time.Second
	decisionsPoll = 1 * time.Second
	flagsPoll     = 2 * time.Second
	logsPoll      = 500 * time.Millisecond
	heartbeatGap  = 15 * time.Second
)

// sseWriter frames server-sent events. Each send is one
// "event:"/"data:" pair followed by a flush.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, true
}

func (sw *sseWriter) send(event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	sw.f.Flush()
	return nil
}

// heartbeat writes an SSE comment so dead connections surface as write
// errors instead of lingering.
func (sw *sseWriter) heartbeat() error {
	_, err := io.WriteString(sw.w, ": ping\n\n")
	sw.f.Flush()
	return err
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	sw, ok := newSSEWriter(w)
	if !ok {
		return
	}
	last, _ := s.db.LatestEventID()

	tick := time.NewTicker(eventsPoll)
	defer tick.Stop()
	beat := time.NewTicker(heartbeatGap)
	defer beat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-beat.C:
			if sw.heartbeat() != nil {
				return
			}
		case <-tick.C:
			rows, err := s.db.EventsAfter(last, 50)
			if err != nil || len(rows) == 0 {
				continue
			}
			last = rows[len(rows)-1].ID
			if sw.send("events", map[string][]store.Event{"events": rows}) != nil {
				return
			}
		}
	}
}

func (s *Server) handleDecisionsStream(w http.ResponseWriter, r *http.Request) {
	sw, ok := newSSEWriter(w)
	if !ok {
		return
	}
	last, _ := s.db.LatestDecisionID()

	tick := time.NewTicker(decisionsPoll)
	defer tick.Stop()
	beat := time.NewTicker(heartbeatGap)
	defer beat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-beat.C:
			if sw.heartbeat() != nil {
				return
			}
		case <-tick.C:
			rows, err := s.db.DecisionsAfter(last, 10)
			if err != nil || len(rows) == 0 {
				continue
			}
			last = rows[len(rows)-1].ID
			if sw.send("decisions", map[string][]store.Decision{"decisions": rows}) != nil {
				return
			}
		}
	}
}

// handleFlagsStream pushes the pending-flag set whenever its size
// changes, including the initial state.
func (s *Server) handleFlagsStream(w http.ResponseWriter, r *http.Request) {
	sw, ok := newSSEWriter(w)
	if !ok {
		return
	}

	tick := time.NewTicker(flagsPoll)
	defer tick.Stop()
	beat := time.NewTicker(heartbeatGap)
	defer beat.Stop()

	lastCount := -1
	for {
		select {
		case <-r.Context().Done():
			return
		case <-beat.C:
			if sw.heartbeat() != nil {
				return
			}
		case <-tick.C:
			flags, err := s.db.Flags(store.FlagPending, 50)
			if err != nil || len(flags) == lastCount {
				continue
			}
			lastCount = len(flags)
			if sw.send("flags", map[string][]store.Flag{"flags": flags}) != nil {
				return
			}
		}
	}
}

func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	sw, ok := newSSEWriter(w)
	if !ok {
		return
	}
	since := s.logs.LatestID()

	tick := time.NewTicker(logsPoll)
	defer tick.Stop()
	beat := time.NewTicker(heartbeatGap)
	defer beat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-beat.C:
			if sw.heartbeat() != nil {
				return
			}
		case <-tick.C:
			entries := s.logs.Get(20, "", since)
			if len(entries) == 0 {
				continue
			}
			// Get returns newest first; stream in arrival order.
			for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
				entries[i], entries[j] = entries[j], entries[i]
			}
			since = entries[len(entries)-1].ID
			if sw.send("logs", map[string][]logbuffer.Entry{"logs": entries}) != nil {
				return
			}
		}
	}
}

// agentEventPayload maps an agent stream frame to its SSE event name
// and JSON body.
func agentEventPayload(ev agent.Event) (string, interface{}) {
	switch e := ev.(type) {
	case agent.Status:
		return "status", map[string]string{"type": "status", "message": e.Text}
	case agent.Text:
		return "text", map[string]string{"type": "text", "content": e.Content}
	case agent.ToolCallEvent:
		return "tool_call", map[string]interface{}{"type": "tool_call", "tool": e.Tool, "params": e.Params}
	case agent.ToolResultEvent:
		return "tool_result", map[string]interface{}{"type": "tool_result", "result": e.Result}
	case agent.ProposalEvent:
		m := map[string]interface{}{"type": "proposal", "action": e.Action}
		if e.Command != "" {
			m["command"] = e.Command
		}
		if e.Reason != "" {
			m["reason"] = e.Reason
		}
		if e.Port > 0 {
			m["port"] = e.Port
		}
		if e.IP != "" {
			m["ip"] = e.IP
		}
		return "proposal", m
	case agent.TerminalLine:
		return "terminal_line", map[string]string{"type": "terminal_line", "line": e.Line}
	case agent.TerminalDone:
		return "terminal_done", map[string]interface{}{"type": "terminal_done", "output": e.Output, "needs_input": e.NeedsInput}
	case agent.TerminalInputNeeded:
		return "terminal_input_needed", map[string]string{
			"type": "terminal_input_needed", "prompt": e.Prompt, "command": e.Command, "input_type": e.InputType,
		}
	case agent.ErrorEvent:
		return "error", map[string]string{"type": "error", "message": e.Message}
	case agent.Done:
		return "done", map[string]string{"type": "done"}
	}
	return "", nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	sw, ok := newSSEWriter(w)
	if !ok {
		return
	}
	for ev := range s.engine.Chat(r.Context(), body.Message) {
		name, payload := agentEventPayload(ev)
		if name == "" {
			continue
		}
		if sw.send(name, payload) != nil {
			return
		}
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	sw, ok := newSSEWriter(w)
	if !ok {
		return
	}
	s.log.Printf("executing approved command: %s", body.Command)
	for ev := range s.engine.ExecuteCommand(r.Context(), body.Command) {
		name, payload := agentEventPayload(ev)
		if name == "" {
			continue
		}
		if sw.send(name, payload) != nil {
			return
		}
	}
}

// handleExecuteRetry reruns a command that stopped for a sudo password.
// The raw execution stream is forwarded as-is (its done frame included),
// then an analysis pass streams its own text and a final done.
func (s *Server) handleExecuteRetry(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command  string `json:"command"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	if body.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}
	sw, ok := newSSEWriter(w)
	if !ok {
		return
	}
	s.log.Printf("retrying with authentication: %s", body.Command)

	var output string
	for ev := range s.engine.ExecuteWithPassword(r.Context(), body.Command, body.Password) {
		if td, isDone := ev.(agent.TerminalDone); isDone {
			output = td.Output
		}
		name, payload := agentEventPayload(ev)
		if name == "" {
			continue
		}
		if sw.send(name, payload) != nil {
			return
		}
	}

	if output != "" {
		if sw.send("status", map[string]string{"type": "status", "message": "Analyzing output..."}) != nil {
			return
		}
		for ev := range s.engine.Chat(r.Context(), agent.AnalysisPrompt(output)) {
			switch ev.(type) {
			case agent.Text, agent.ProposalEvent:
				name, payload := agentEventPayload(ev)
				if sw.send(name, payload) != nil {
					return
				}
			}
		}
	}
	sw.send("done", map[string]string{"type": "done"})
}
