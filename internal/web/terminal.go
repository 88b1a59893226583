package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// terminalTimeout is the PTY session lifetime for dashboard-started
// commands.
const terminalTimeout = 300 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The id in the URL is a single-use secret from /api/terminal/prepare,
	// so cross-origin upgrades gain nothing.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTerminalPrepare registers a command for WebSocket pickup and
// hands back the claim id.
func (s *Server) handleTerminalPrepare(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	id := uuid.New().String()[:8]
	now := time.Now()
	s.mu.Lock()
	for k, p := range s.pending {
		if now.Sub(p.created) > pendingTTL {
			delete(s.pending, k)
		}
	}
	s.pending[id] = pendingCommand{command: body.Command, created: now}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"command_id": id, "command": body.Command})
}

// claimCommand redeems a prepared command id. Each id works once.
func (s *Server) claimCommand(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return "", false
	}
	delete(s.pending, id)
	if time.Since(p.created) > pendingTTL {
		return "", false
	}
	return p.command, true
}

// handleTerminalWS runs a prepared command in a PTY session and bridges
// it to the WebSocket: PTY frames stream out verbatim, client frames
// carry input and signals back.
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	command, ok := s.claimCommand(mux.Vars(r)["id"])
	if !ok {
		ws.WriteJSON(map[string]string{"event": "error", "message": "Command not found or expired"})
		return
	}

	conn, err := s.pty.Dial()
	if err != nil {
		s.log.Printf("terminal: %v", err)
		ws.WriteJSON(map[string]string{"event": "error", "message": "Failed to connect to PTY service"})
		return
	}
	defer conn.Close()

	sessionID, err := conn.CreateSession(command, terminalTimeout)
	if err != nil {
		ws.WriteJSON(map[string]string{"event": "error", "message": err.Error()})
		return
	}
	s.log.Printf("terminal session %s: %s", sessionID, command)
	if err := ws.WriteJSON(map[string]string{"event": "session_created", "session_id": sessionID}); err != nil {
		return
	}

	// PTY -> WS. The forwarder owns all WS writes from here on, and
	// closes the socket when the stream ends so the read loop below
	// unblocks.
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		defer ws.Close()
		for {
			frame, err := conn.ReadFrame()
			if err != nil {
				return
			}
			if ws.WriteJSON(frame) != nil {
				return
			}
			if ev, _ := frame["event"].(string); ev == "done" || ev == "error" {
				return
			}
		}
	}()

	// WS -> PTY.
readLoop:
	for {
		var msg struct {
			Type   string `json:"type"`
			Data   string `json:"data"`
			Signal string `json:"signal"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "input":
			if conn.SendInput(msg.Data) != nil {
				break readLoop
			}
		case "signal":
			if conn.SendSignal(msg.Signal) != nil {
				break readLoop
			}
		case "close":
			break readLoop
		case "resize":
			// Accepted so clients can send it unconditionally; the PTY
			// keeps its default size.
		}
	}
	conn.Close()
	<-forwardDone
}
