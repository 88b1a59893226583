package ptyservice

import (
	"context"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestDetectPromptHint(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"sudo password", "[sudo] password for alice: ", "password"},
		{"ssh passphrase", "Enter passphrase for key '/root/.ssh/id_ed25519': ", "password"},
		{"case insensitive", "PASSWORD: ", "password"},
		{"apt confirm", "Do you want to continue? [Y/n] ", "confirm"},
		{"bracket confirm", "Overwrite? [y/N]", "confirm"},
		{"are you sure", "Are you sure you want to proceed?", "confirm"},
		{"password wins over confirm", "password: are you sure", "password"},
		{"plain output", "total 48\ndrwxr-xr-x 2 root root", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectPromptHint(tt.output); got != tt.want {
				t.Errorf("detectPromptHint(%q) = %q, want %q", tt.output, got, tt.want)
			}
		})
	}
}

// drainSession reads output until the child exits, returning everything
// it printed.
func drainSession(t *testing.T, s *Session) string {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		out := s.ReadOutput(50 * time.Millisecond)
		sb.Write(out)
		if !s.IsRunning() {
			for j := 0; j < 10; j++ {
				rest := s.ReadOutput(10 * time.Millisecond)
				if len(rest) == 0 {
					break
				}
				sb.Write(rest)
			}
			return sb.String()
		}
	}
	t.Fatalf("session did not finish, output so far: %q", sb.String())
	return ""
}

func TestSessionEcho(t *testing.T) {
	s, err := startSession("t1", "echo hello-from-pty", 0)
	if err != nil {
		t.Fatalf("startSession: %v", err)
	}
	defer s.Close()

	out := drainSession(t, s)
	if !strings.Contains(out, "hello-from-pty") {
		t.Errorf("output %q missing echoed text", out)
	}
	code := s.ExitCode()
	if code == nil || *code != 0 {
		t.Errorf("exit code = %v, want 0", code)
	}
	if s.Timeout != DefaultSessionTimeout {
		t.Errorf("timeout = %v, want default %v", s.Timeout, DefaultSessionTimeout)
	}
}

func TestSessionExitCode(t *testing.T) {
	s, err := startSession("t2", "exit 7", time.Minute)
	if err != nil {
		t.Fatalf("startSession: %v", err)
	}
	defer s.Close()

	drainSession(t, s)
	if code := s.ExitCode(); code == nil || *code != 7 {
		t.Errorf("exit code = %v, want 7", code)
	}
}

func TestSessionInteractiveInput(t *testing.T) {
	s, err := startSession("t3", "cat", time.Minute)
	if err != nil {
		t.Fatalf("startSession: %v", err)
	}
	defer s.Close()

	if ok := s.WriteInput("marco\n"); !ok {
		t.Fatal("WriteInput failed on a running session")
	}
	var sb strings.Builder
	for i := 0; i < 100 && !strings.Contains(sb.String(), "marco"); i++ {
		sb.Write(s.ReadOutput(50 * time.Millisecond))
	}
	if !strings.Contains(sb.String(), "marco") {
		t.Errorf("terminal never echoed input, got %q", sb.String())
	}
}

func TestSessionSignalRecordsNegativeExit(t *testing.T) {
	s, err := startSession("t4", "sleep 30", time.Minute)
	if err != nil {
		t.Fatalf("startSession: %v", err)
	}
	defer s.Close()

	s.SendSignal(syscall.SIGTERM)
	deadline := time.Now().Add(5 * time.Second)
	for s.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("session still running after SIGTERM")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if code := s.ExitCode(); code == nil || *code != -int(syscall.SIGTERM) {
		t.Errorf("exit code = %v, want %d", code, -int(syscall.SIGTERM))
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s, err := startSession("t5", "sleep 30", time.Minute)
	if err != nil {
		t.Fatalf("startSession: %v", err)
	}

	s.Close()
	s.Close()
	if !s.Closed() {
		t.Error("session not marked closed")
	}
	if code := s.ExitCode(); code == nil || *code >= 0 {
		t.Errorf("exit code = %v, want negative signal exit", code)
	}
	if s.ReadOutput(10*time.Millisecond) != nil {
		t.Error("ReadOutput should return nil after close")
	}
	if s.WriteInput("x") {
		t.Error("WriteInput should fail after close")
	}
}

func TestSessionIdleTimeout(t *testing.T) {
	s, err := startSession("t6", "sleep 30", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("startSession: %v", err)
	}
	defer s.Close()

	time.Sleep(150 * time.Millisecond)
	if !s.IsTimedOut() {
		t.Error("session should be timed out after idle period")
	}
}

func TestManagerReplacesSameID(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	first, err := m.CreateSession("dup", "sleep 30", time.Minute)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := m.CreateSession("dup", "sleep 30", time.Minute); err != nil {
		t.Fatalf("CreateSession replacement: %v", err)
	}

	if !first.Closed() {
		t.Error("replaced session should be closed")
	}
	if n := m.ActiveCount(); n != 1 {
		t.Errorf("ActiveCount() = %d, want 1", n)
	}
	if m.Get("dup") == first {
		t.Error("Get returned the replaced session")
	}
}

func TestManagerCleanupStale(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	if _, err := m.CreateSession("short", "true", time.Minute); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := m.CreateSession("idle", "sleep 30", 10*time.Millisecond); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Let the first child exit and the second go idle.
	time.Sleep(300 * time.Millisecond)
	m.Get("short").IsRunning()
	m.CleanupStale()

	if n := m.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount() after cleanup = %d, want 0", n)
	}
}

func TestManagerList(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	long := strings.Repeat("x", 80)
	if _, err := m.CreateSession("list1", "sleep 5 # "+long, time.Minute); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	infos := m.List()
	if len(infos) != 1 {
		t.Fatalf("List() returned %d sessions, want 1", len(infos))
	}
	info := infos[0]
	if info.SessionID != "list1" {
		t.Errorf("session id = %q", info.SessionID)
	}
	if len(info.Command) != 50 {
		t.Errorf("command not truncated: %d chars", len(info.Command))
	}
	if !info.Running {
		t.Error("session should be running")
	}
	if _, err := time.Parse(time.RFC3339, info.Created); err != nil {
		t.Errorf("created timestamp %q not RFC3339: %v", info.Created, err)
	}
}

// startTestService runs a Service on a throwaway socket and returns a
// client for it.
func startTestService(t *testing.T) *Client {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "pty.sock")
	sv := NewService(sock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("service exited with error: %v", err)
		}
	})

	client := NewClient(sock)
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := client.Dial()
		if err == nil {
			conn.Close()
			return client
		}
		if time.Now().After(deadline) {
			t.Fatalf("service never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// readStream collects frames until done or error, with a hard deadline.
func readStream(t *testing.T, pc *Conn) []map[string]interface{} {
	t.Helper()
	frames := make([]map[string]interface{}, 0)
	timeout := time.After(10 * time.Second)
	got := make(chan map[string]interface{})
	errs := make(chan error, 1)
	go func() {
		for {
			frame, err := pc.ReadFrame()
			if err != nil {
				errs <- err
				return
			}
			got <- frame
		}
	}()
	for {
		select {
		case frame := <-got:
			frames = append(frames, frame)
			if ev := frame["event"]; ev == "done" || ev == "error" {
				return frames
			}
		case err := <-errs:
			t.Fatalf("stream ended early: %v (frames: %v)", err, frames)
		case <-timeout:
			t.Fatalf("no done frame within deadline (frames: %v)", frames)
		}
	}
}

func streamText(frames []map[string]interface{}) string {
	var sb strings.Builder
	for _, f := range frames {
		if f["event"] == "output" {
			if data, ok := f["data"].(string); ok {
				sb.WriteString(data)
			}
		}
	}
	return sb.String()
}

func TestServiceCreateStreamsToDone(t *testing.T) {
	client := startTestService(t)

	conn, err := client.Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	id, err := conn.CreateSession("echo over-the-socket", time.Minute)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(id) != 8 {
		t.Errorf("session id %q, want 8 chars", id)
	}

	frames := readStream(t, conn)
	if !strings.Contains(streamText(frames), "over-the-socket") {
		t.Errorf("stream missing command output, frames: %v", frames)
	}
	last := frames[len(frames)-1]
	if last["event"] != "done" {
		t.Fatalf("last frame = %v, want done", last)
	}
	if last["session_id"] != id {
		t.Errorf("done session_id = %v, want %s", last["session_id"], id)
	}
	if code, ok := last["exit_code"].(float64); !ok || code != 0 {
		t.Errorf("done exit_code = %v, want 0", last["exit_code"])
	}
}

func TestServiceCreateRequiresCommand(t *testing.T) {
	client := startTestService(t)

	conn, err := client.Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.CreateSession("", time.Minute); err == nil {
		t.Error("CreateSession with empty command should fail")
	}
}

func TestServiceUnknownAction(t *testing.T) {
	client := startTestService(t)

	conn, err := client.Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.send(request{Action: "bogus"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	reply, err := conn.readReply()
	if err != nil {
		t.Fatalf("readReply: %v", err)
	}
	if reply.Status != "error" || !strings.Contains(reply.Message, "Unknown action: bogus") {
		t.Errorf("reply = %+v, want unknown-action error", reply)
	}
}

func TestServiceInputAndPromptHint(t *testing.T) {
	client := startTestService(t)

	conn, err := client.Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.CreateSession("printf 'Password: '; read -r _; echo accepted", time.Minute); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sawHint := false
	timeout := time.After(10 * time.Second)
	fed := false
	for {
		frameCh := make(chan map[string]interface{}, 1)
		errCh := make(chan error, 1)
		go func() {
			f, err := conn.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			frameCh <- f
		}()

		var frame map[string]interface{}
		select {
		case frame = <-frameCh:
		case err := <-errCh:
			t.Fatalf("stream ended early: %v", err)
		case <-timeout:
			t.Fatal("no done frame within deadline")
		}

		if frame["event"] == "output" {
			if frame["prompt_hint"] == "password" {
				sawHint = true
			}
			if !fed && strings.Contains(frame["data"].(string), "Password:") {
				fed = true
				if err := conn.SendInput("hunter2\n"); err != nil {
					t.Fatalf("SendInput: %v", err)
				}
			}
		}
		if frame["event"] == "done" {
			break
		}
	}
	if !sawHint {
		t.Error("never saw a password prompt hint")
	}
}

func TestServiceSessionSurvivesDetach(t *testing.T) {
	client := startTestService(t)

	conn1, err := client.Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	id, err := conn1.CreateSession("sleep 5", time.Minute)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	conn1.Close()

	sessions, err := client.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	found := false
	for _, s := range sessions {
		if s.SessionID == id && s.Running {
			found = true
		}
	}
	if !found {
		t.Fatalf("session %s not listed as running after detach: %v", id, sessions)
	}

	conn2, err := client.Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn2.Close()
	if err := conn2.Attach(id); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := client.CloseSession(id); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	sessions, err = client.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	for _, s := range sessions {
		if s.SessionID == id {
			t.Errorf("session %s still listed after close", id)
		}
	}
}

func TestServiceAttachUnknownSession(t *testing.T) {
	client := startTestService(t)

	conn, err := client.Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Attach("nope1234"); err == nil {
		t.Error("Attach to unknown session should fail")
	}
}
