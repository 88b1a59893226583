// Package agent implements the interactive chat loop: LLM-driven tool
// calls against the event store, and command proposals that wait for
// operator approval.
package agent

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/agentic-c-eda/sentinel/internal/reasoning"
	"github.com/agentic-c-eda/sentinel/internal/store"
)

const chatSystemPrompt = `You are Agent, an assistant for a Linux based server.
You help users with security monitoring AND general server maintenance tasks.

AVAILABLE TOOLS:
- get_events: Get recent security events from database
- get_flags: Get pending security flags
- propose_command: Propose ANY shell command for user approval
- propose_ignore_port: Propose adding a port to the ignore list
- propose_ignore_ip: Propose adding an IP to the ignore list
- resolve_flag: Mark a flag resolved or dismissed

You CAN help with:
- Security monitoring (checking logs, ports, IPs, processes)
- Network diagnostics (ping, traceroute, netstat, ss)
- System maintenance (apt, systemctl, df, free, uptime)
- File operations (ls, cat, tail, grep)
- ANY command the user requests

Evaluate other requests and determine if a tool call is needed. If the request isn't related to server management, refuse.

TO CALL A TOOL, respond with ONLY this exact format:
TOOL: tool_name
PARAMS: {"param1": "value1"}

EXAMPLES:
User: "ping google"
You: TOOL: propose_command
PARAMS: {"command": "ping -c 5 google.com", "reason": "Test internet connectivity"}

User: "What ports are listening?"
You: TOOL: propose_command
PARAMS: {"command": "ss -tlnp", "reason": "List listening TCP ports"}

For regular conversation, just respond normally without TOOL format.
Keep responses concise. Use markdown for formatting.

CRITICAL RULES:
1. Commands like ping, apt, systemctl are ALLOWED. Propose them immediately.
2. Be direct and take action. Don't explain alternatives - just do it.`

const (
	maxToolIterations = 5
	chatTemperature   = 0.7
	chatMaxTokens     = 2000
	historyLimit      = 20
)

// Engine drives chat invocations. It holds no state between calls;
// continuity lives in the chat_messages table.
type Engine struct {
	db     *store.Store
	client *reasoning.Client
	log    *log.Logger
}

// New returns an Engine over the given store and LLM client.
func New(db *store.Store, client *reasoning.Client) *Engine {
	return &Engine{
		db:     db,
		client: client,
		log:    log.New(os.Stdout, "[agent] ", log.LstdFlags),
	}
}

// Chat runs one agent invocation for a user message and streams events
// until Done. The channel is closed after the final event.
func (e *Engine) Chat(ctx context.Context, message string) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		e.chat(ctx, message, ch)
		emit(ctx, ch, Done{})
	}()
	return ch
}

func (e *Engine) chat(ctx context.Context, message string, ch chan<- Event) {
	e.log.Printf("user: %s", message)
	if _, err := e.db.InsertChatMessage("user", message, nil); err != nil {
		emit(ctx, ch, ErrorEvent{Message: fmt.Sprintf("persist message: %v", err)})
		return
	}

	if !emit(ctx, ch, Status{Text: "Thinking..."}) {
		return
	}

	history, err := e.db.ChatMessages(historyLimit)
	if err != nil {
		emit(ctx, ch, ErrorEvent{Message: fmt.Sprintf("load history: %v", err)})
		return
	}
	messages := make([]reasoning.Message, 0, len(history)+1)
	messages = append(messages, reasoning.Message{Role: "system", Content: chatSystemPrompt})
	for _, msg := range history {
		messages = append(messages, reasoning.Message{Role: msg.Role, Content: msg.Content})
	}

	for i := 0; i < maxToolIterations; i++ {
		response, err := e.client.ChatCompletion(ctx, messages, chatTemperature, chatMaxTokens)
		if err != nil {
			// Surface the failure as chat text; the transcript
			// stays causal either way.
			response = fmt.Sprintf("Error calling LLM: %v", err)
		}

		name, params, ok := ExtractToolCall(response)
		if !ok {
			clean := CleanResponse(response)
			e.db.InsertChatMessage("assistant", clean, nil)
			emit(ctx, ch, Text{Content: clean})
			return
		}

		if !emit(ctx, ch, Status{Text: fmt.Sprintf("Calling %s...", name)}) {
			return
		}
		if !emit(ctx, ch, ToolCallEvent{Tool: name, Params: params}) {
			return
		}
		e.log.Printf("tool: %s %v", name, params)

		var result ToolResult
		call, err := buildToolCall(name, params)
		if err != nil {
			result = ToolResult{Type: "error", Message: err.Error()}
		} else {
			result = e.Execute(call)
		}

		if result.Type == "proposal" {
			e.db.InsertChatMessage("assistant", proposalSummary(result), nil)
			emit(ctx, ch, ProposalEvent{
				Action:  result.Action,
				Command: result.Command,
				Reason:  result.Reason,
				Port:    result.Port,
				IP:      result.IP,
			})
			return
		}

		if !emit(ctx, ch, ToolResultEvent{Result: result}) {
			return
		}
		messages = append(messages, reasoning.Message{Role: "assistant", Content: response})
		messages = append(messages, reasoning.Message{Role: "user", Content: "Tool result: " + resultJSON(result)})
	}

	emit(ctx, ch, Text{Content: "Reached maximum tool calls."})
}

// emit delivers an event unless the consumer is gone.
func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
