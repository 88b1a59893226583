package agent

import (
	"context"
	"strings"
	"testing"
)

func TestIsSudoCommand(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"sudo apt update", true},
		{"  sudo systemctl restart sshd", true},
		{"sudo -S apt update", false},
		{"echo sudo is fun", false},
		{"sudoedit /etc/hosts", false},
		{"ls -la", false},
	}
	for _, tt := range tests {
		if got := isSudoCommand(tt.command); got != tt.want {
			t.Errorf("isSudoCommand(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestExecuteCommandStreamsAndAnalyzes(t *testing.T) {
	mock := &scriptedLLM{responses: []string{"The output lists two lines."}}
	e, _ := testEngine(t, mock)

	events := collectChat(t, e.ExecuteCommand(context.Background(), "printf 'alpha\\nbeta\\n'"))
	requireDoneLast(t, events)

	var lines []string
	var doneOutput string
	var analysis string
	for _, ev := range events {
		switch typed := ev.(type) {
		case TerminalLine:
			lines = append(lines, typed.Line)
		case TerminalDone:
			doneOutput = typed.Output
		case Text:
			analysis = typed.Content
		}
	}
	if len(lines) != 2 || lines[0] != "alpha" || lines[1] != "beta" {
		t.Errorf("terminal lines = %v", lines)
	}
	if doneOutput != "alpha\nbeta" {
		t.Errorf("terminal done output = %q", doneOutput)
	}
	if analysis != "The output lists two lines." {
		t.Errorf("analysis text = %q", analysis)
	}

	_, reqs := mock.snapshot()
	if len(reqs) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(reqs))
	}
	prompt := lastUserContent(t, reqs[0])
	if !strings.Contains(prompt, "Command output:") || !strings.Contains(prompt, "alpha") {
		t.Errorf("analysis prompt = %q", prompt)
	}
}

func TestExecuteCommandStderrFoldedIn(t *testing.T) {
	mock := &scriptedLLM{responses: []string{"That was an error message."}}
	e, _ := testEngine(t, mock)

	events := collectChat(t, e.ExecuteCommand(context.Background(), "echo oops >&2"))
	requireDoneLast(t, events)

	var lines []string
	for _, ev := range events {
		if line, ok := ev.(TerminalLine); ok {
			lines = append(lines, line.Line)
		}
	}
	if len(lines) != 1 || lines[0] != "oops" {
		t.Errorf("terminal lines = %v, want stderr folded into the stream", lines)
	}
}

func TestExecuteCommandNoOutput(t *testing.T) {
	mock := &scriptedLLM{responses: []string{"The command printed nothing."}}
	e, _ := testEngine(t, mock)

	events := collectChat(t, e.ExecuteCommand(context.Background(), "true"))
	requireDoneLast(t, events)

	var lines []string
	var doneOutput string
	for _, ev := range events {
		switch typed := ev.(type) {
		case TerminalLine:
			lines = append(lines, typed.Line)
		case TerminalDone:
			doneOutput = typed.Output
		}
	}
	if len(lines) != 1 || lines[0] != "(no output)" {
		t.Errorf("terminal lines = %v, want placeholder", lines)
	}
	if doneOutput != "(no output)" {
		t.Errorf("terminal done output = %q", doneOutput)
	}
}

func TestExecuteSudoPausesForPassword(t *testing.T) {
	mock := &scriptedLLM{}
	e, _ := testEngine(t, mock)

	events := collectChat(t, e.ExecuteCommand(context.Background(), "sudo apt update"))
	requireDoneLast(t, events)

	var needed *TerminalInputNeeded
	var done *TerminalDone
	for _, ev := range events {
		switch typed := ev.(type) {
		case TerminalInputNeeded:
			needed = &typed
		case TerminalDone:
			done = &typed
		case TerminalLine:
			t.Errorf("command should not have run, got line %q", typed.Line)
		}
	}
	if needed == nil || needed.InputType != "password" || needed.Command != "sudo apt update" {
		t.Fatalf("input-needed frame = %+v", needed)
	}
	if done == nil || !done.NeedsInput {
		t.Errorf("terminal done = %+v, want NeedsInput", done)
	}

	if calls, _ := mock.snapshot(); calls != 0 {
		t.Errorf("llm calls = %d, want 0", calls)
	}
}

func TestExecuteWithPasswordFiltersEcho(t *testing.T) {
	mock := &scriptedLLM{}
	e, _ := testEngine(t, mock)

	events := collectChat(t, e.ExecuteWithPassword(context.Background(), "cat", "hunter2"))
	requireDoneLast(t, events)

	for _, ev := range events {
		if line, ok := ev.(TerminalLine); ok && strings.Contains(line.Line, "hunter2") {
			t.Errorf("password leaked into stream: %q", line.Line)
		}
	}

	var doneOutput string
	for _, ev := range events {
		if d, ok := ev.(TerminalDone); ok {
			doneOutput = d.Output
		}
	}
	if doneOutput != "(no output)" {
		t.Errorf("terminal done output = %q, want everything filtered", doneOutput)
	}
}
