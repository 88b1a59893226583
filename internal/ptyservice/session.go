// Package ptyservice runs shell commands under pseudo-terminals and
// serves them to clients over a Unix-domain socket with a
// newline-delimited JSON protocol.
package ptyservice

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// DefaultSessionTimeout is the idle timeout applied when a create
// request does not specify one.
const DefaultSessionTimeout = 300 * time.Second

// Session is one child process attached to a pseudo-terminal. All
// methods are safe for concurrent use; writes to the terminal are
// serialized by the session mutex.
type Session struct {
	ID        string
	Command   string
	CreatedAt time.Time
	Timeout   time.Duration

	mu           sync.Mutex
	master       *os.File
	cmd          *exec.Cmd
	lastActivity time.Time
	closed       bool
	exitCode     *int

	waitCh chan int // delivers the exit status exactly once
}

// startSession launches command under /bin/bash with an 80x24 terminal.
func startSession(id, command string, timeout time.Duration) (*Session, error) {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}

	cmd := exec.Command("/bin/bash", "-c", command)
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLUMNS=80",
		"LINES=24",
	)

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	now := time.Now()
	s := &Session{
		ID:           id,
		Command:      command,
		CreatedAt:    now,
		Timeout:      timeout,
		master:       master,
		cmd:          cmd,
		lastActivity: now,
		waitCh:       make(chan int, 1),
	}

	go func() {
		s.waitCh <- waitExitCode(cmd)
	}()

	return s, nil
}

// waitExitCode blocks until the child exits. A signal death is encoded
// as the negated signal number, matching shell conventions enough for
// operators to recognize SIGKILL as -9.
func waitExitCode(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -int(ws.Signal())
		}
		return ee.ExitCode()
	}
	return -1
}

// ReadOutput waits up to timeout for terminal output and returns it,
// or nil when nothing arrived. Output bumps the activity clock.
func (s *Session) ReadOutput(timeout time.Duration) []byte {
	s.mu.Lock()
	master := s.master
	if s.closed || master == nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	master.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, _ := master.Read(buf)
	if n == 0 {
		return nil
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return buf[:n]
}

// WriteInput sends data to the terminal. A failure reports false
// rather than an error so input races with session death are benign.
func (s *Session) WriteInput(data string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.master == nil {
		return false
	}
	if _, err := s.master.WriteString(data); err != nil {
		return false
	}
	s.lastActivity = time.Now()
	return true
}

// SendSignal delivers sig to the child, best effort.
func (s *Session) SendSignal(sig syscall.Signal) {
	if s.cmd.Process != nil {
		s.cmd.Process.Signal(sig)
	}
}

// IsRunning reports whether the child is still alive. The first call
// after exit records the exit code, closes the terminal and marks the
// session closed.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case code := <-s.waitCh:
		s.exitCode = &code
		s.closed = true
		if s.master != nil {
			s.master.Close()
			s.master = nil
		}
		return false
	default:
		return true
	}
}

// ExitCode returns the recorded exit code, or nil while the child is
// still running.
func (s *Session) ExitCode() *int {
	s.IsRunning()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// IsTimedOut reports whether the session has been idle longer than its
// timeout.
func (s *Session) IsTimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity) > s.Timeout
}

// Close tears the session down: SIGTERM, up to a second of grace, then
// SIGKILL. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.master != nil {
		s.master.Close()
		s.master = nil
	}
	proc := s.cmd.Process
	s.mu.Unlock()

	if proc == nil {
		return
	}
	proc.Signal(syscall.SIGTERM)
	for i := 0; i < 10; i++ {
		select {
		case code := <-s.waitCh:
			s.recordExit(code)
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	proc.Kill()
	s.recordExit(<-s.waitCh)
}

func (s *Session) recordExit(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitCode == nil {
		s.exitCode = &code
	}
}
