package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ExecuteCommand runs an operator-approved command and streams its
// output, then asks the LLM for a short analysis of what it printed.
// Commands that will prompt for a sudo password are not started;
// instead the stream pauses with a terminal_input_needed frame so the
// dashboard can collect the password first.
func (e *Engine) ExecuteCommand(ctx context.Context, command string) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		e.execute(ctx, command, ch)
		emit(ctx, ch, Done{})
	}()
	return ch
}

// ExecuteWithPassword reruns a sudo command, feeding the password on
// stdin. Output lines echoing the password are dropped.
func (e *Engine) ExecuteWithPassword(ctx context.Context, command, password string) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		if !emit(ctx, ch, Status{Text: "Running with authentication..."}) {
			return
		}
		run := command
		if strings.HasPrefix(strings.TrimSpace(run), "sudo ") && !strings.Contains(run, "sudo -S") {
			run = strings.Replace(run, "sudo ", "sudo -S ", 1)
		}
		e.streamCommand(ctx, run, password, ch)
		emit(ctx, ch, Done{})
	}()
	return ch
}

func (e *Engine) execute(ctx context.Context, command string, ch chan<- Event) {
	if !emit(ctx, ch, Status{Text: "Running command..."}) {
		return
	}

	if isSudoCommand(command) {
		emit(ctx, ch, TerminalInputNeeded{
			Prompt:    "[sudo] password required",
			Command:   command,
			InputType: "password",
		})
		emit(ctx, ch, TerminalDone{NeedsInput: true})
		return
	}

	output, ok := e.streamCommand(ctx, command, "", ch)
	if !ok || output == "" {
		return
	}

	if !emit(ctx, ch, Status{Text: "Analyzing output..."}) {
		return
	}
	for ev := range e.Chat(ctx, AnalysisPrompt(output)) {
		switch ev.(type) {
		case Text, ProposalEvent:
			if !emit(ctx, ch, ev) {
				return
			}
		}
	}
}

// streamCommand runs command under the shell with stderr folded into
// stdout, emitting each line as it arrives. It returns the collected
// output and whether the command ran at all.
func (e *Engine) streamCommand(ctx context.Context, command, password string, ch chan<- Event) (string, bool) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)

	pr, pw, err := os.Pipe()
	if err != nil {
		emit(ctx, ch, ErrorEvent{Message: err.Error()})
		return "", false
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	var stdin io.WriteCloser
	if password != "" {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			pw.Close()
			pr.Close()
			emit(ctx, ch, ErrorEvent{Message: err.Error()})
			return "", false
		}
	}

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		emit(ctx, ch, ErrorEvent{Message: err.Error()})
		return "", false
	}
	// The child holds its own copy of the write end.
	pw.Close()

	if stdin != nil {
		io.WriteString(stdin, password+"\n")
		stdin.Close()
	}

	var lines []string
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if password != "" && strings.Contains(line, password) {
			continue
		}
		lines = append(lines, line)
		if !emit(ctx, ch, TerminalLine{Line: line}) {
			break
		}
	}
	pr.Close()
	cmd.Wait()

	if len(lines) == 0 {
		emit(ctx, ch, TerminalLine{Line: "(no output)"})
		emit(ctx, ch, TerminalDone{Output: "(no output)"})
		return "(no output)", true
	}
	output := strings.Join(lines, "\n")
	emit(ctx, ch, TerminalDone{Output: output})
	return output, true
}

// AnalysisPrompt wraps captured command output in the instruction used
// to ask the agent for a post-run summary.
func AnalysisPrompt(output string) string {
	return fmt.Sprintf("Command output:\n```\n%s\n```\n\nProvide a brief analysis of this output.", clip(output, 3000))
}

// isSudoCommand reports whether command will hang on a hidden password
// prompt if started without one.
func isSudoCommand(command string) bool {
	trimmed := strings.TrimSpace(command)
	return strings.HasPrefix(trimmed, "sudo ") && !strings.Contains(trimmed, "sudo -S")
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
