package ptyservice

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	// handshakeTimeout bounds how long a client may take to send its
	// first request line.
	handshakeTimeout = 30 * time.Second

	outputPoll = 50 * time.Millisecond
	inputPoll  = 100 * time.Millisecond

	// maxIdle polls with no output end a stream; the session itself
	// stays alive for a later attach.
	maxIdle = 50
)

type request struct {
	Action    string  `json:"action"`
	Command   string  `json:"command"`
	SessionID string  `json:"session_id"`
	Timeout   float64 `json:"timeout"` // seconds
}

type inputFrame struct {
	Type   string `json:"type"`
	Data   string `json:"data"`
	Signal string `json:"signal"`
}

type statusReply struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

type listReply struct {
	Status   string        `json:"status"`
	Sessions []SessionInfo `json:"sessions"`
}

type outputFrame struct {
	Event      string `json:"event"`
	Data       string `json:"data"`
	PromptHint string `json:"prompt_hint,omitempty"`
}

type doneFrame struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	ExitCode  *int   `json:"exit_code"`
}

type errorFrame struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// Service accepts PTY clients on a Unix-domain socket. Each connection
// carries one newline-delimited JSON request; create and attach
// requests upgrade the connection to a bidirectional stream.
type Service struct {
	log        *log.Logger
	socketPath string
	manager    *Manager

	mu       sync.Mutex
	listener net.Listener
}

// NewService returns a Service bound to socketPath once started.
func NewService(socketPath string) *Service {
	return &Service{
		log:        log.New(os.Stdout, "[pty] ", log.LstdFlags),
		socketPath: socketPath,
		manager:    NewManager(),
	}
}

// Manager exposes the session table, mainly for tests and in-process
// embedding.
func (sv *Service) Manager() *Manager { return sv.manager }

// Start listens on the socket and serves connections until ctx is
// canceled, then tears down every session and removes the socket.
func (sv *Service) Start(ctx context.Context) error {
	dir := filepath.Dir(sv.socketPath)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	// A previous run may have left the socket behind.
	os.Remove(sv.socketPath)

	ln, err := net.Listen("unix", sv.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", sv.socketPath, err)
	}
	if err := os.Chmod(sv.socketPath, 0o666); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	sv.mu.Lock()
	sv.listener = ln
	sv.mu.Unlock()
	sv.log.Printf("listening on %s", sv.socketPath)

	go sv.manager.CleanupLoop(ctx)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				sv.shutdown()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go sv.handleConn(conn)
	}
}

func (sv *Service) shutdown() {
	sv.manager.CloseAll()
	os.Remove(sv.socketPath)
	sv.log.Printf("stopped")
}

func (sv *Service) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		sv.log.Printf("client handshake failed: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		sv.log.Printf("invalid request json: %v", err)
		return
	}

	switch req.Action {
	case "create":
		if req.Command == "" {
			sv.send(conn, statusReply{Status: "error", Message: "No command provided"})
			return
		}
		id := uuid.New().String()[:8]
		session, err := sv.manager.CreateSession(id, req.Command, time.Duration(req.Timeout*float64(time.Second)))
		if err != nil {
			sv.log.Printf("create session: %v", err)
			sv.send(conn, statusReply{Status: "error", Message: "Failed to create PTY session"})
			return
		}
		sv.send(conn, statusReply{Status: "created", SessionID: id})
		sv.streamSession(session, reader, conn)

	case "attach":
		session := sv.manager.Get(req.SessionID)
		if session == nil {
			sv.send(conn, statusReply{Status: "error", Message: "Session not found"})
			return
		}
		sv.send(conn, statusReply{Status: "attached", SessionID: req.SessionID})
		sv.streamSession(session, reader, conn)

	case "list":
		sv.send(conn, listReply{Status: "ok", Sessions: sv.manager.List()})

	case "close":
		sv.manager.CloseSession(req.SessionID)
		sv.send(conn, statusReply{Status: "closed", SessionID: req.SessionID})

	default:
		sv.send(conn, statusReply{Status: "error", Message: fmt.Sprintf("Unknown action: %s", req.Action)})
	}
}

// streamSession forwards terminal output to the client and client
// input to the terminal until the process ends or the stream idles
// out. Output frames carry a prompt hint when the terminal looks like
// it is waiting for a password or confirmation.
func (sv *Service) streamSession(session *Session, reader *bufio.Reader, conn net.Conn) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sv.forwardInput(session, reader, conn)
	}()

	idle := 0
	for {
		output := session.ReadOutput(outputPoll)
		if len(output) > 0 {
			idle = 0
			text := string(output)
			frame := outputFrame{Event: "output", Data: text, PromptHint: detectPromptHint(text)}
			sv.send(conn, frame)
		} else {
			idle++
		}

		if !session.IsRunning() {
			// The terminal may still hold output written just
			// before exit.
			for i := 0; i < 10; i++ {
				remaining := session.ReadOutput(10 * time.Millisecond)
				if len(remaining) == 0 {
					break
				}
				sv.send(conn, outputFrame{Event: "output", Data: string(remaining)})
			}
			break
		}
		if idle > maxIdle {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sv.send(conn, doneFrame{
		Event:     "done",
		SessionID: session.ID,
		ExitCode:  session.ExitCode(),
	})
	conn.Close()
	wg.Wait()
}

// forwardInput relays input, signal and resize frames from the client.
// Resize frames are accepted and ignored; the terminal is fixed at
// 80x24.
func (sv *Service) forwardInput(session *Session, reader *bufio.Reader, conn net.Conn) {
	var partial []byte
	for session.IsRunning() {
		conn.SetReadDeadline(time.Now().Add(inputPoll))
		chunk, err := reader.ReadBytes('\n')
		// A timeout can surface mid-line; keep what arrived.
		partial = append(partial, chunk...)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		line := partial
		partial = nil

		var frame inputFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "input":
			session.WriteInput(frame.Data)
		case "signal":
			switch frame.Signal {
			case "SIGTERM":
				session.SendSignal(syscall.SIGTERM)
			default:
				session.SendSignal(syscall.SIGINT)
			}
		case "resize":
		}
	}
}

func (sv *Service) send(conn net.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		sv.log.Printf("marshal frame: %v", err)
		return
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		sv.log.Printf("send frame: %v", err)
	}
}
