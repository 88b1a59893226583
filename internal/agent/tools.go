package agent

import (
	"encoding/json"
	"fmt"
)

// ToolCall is a parsed tool invocation. Parsing LLM output is the only
// place tool names are matched as strings; everything downstream
// switches on the concrete type.
type ToolCall interface {
	Name() string
}

// GetEvents fetches recent security events.
type GetEvents struct {
	Limit int
}

// GetFlags fetches flags, optionally filtered by status.
type GetFlags struct {
	Status string
}

// ProposeCommand asks the operator to approve a shell command.
type ProposeCommand struct {
	Command string
	Reason  string
}

// ProposeIgnorePort asks the operator to add a port to the ignore
// list.
type ProposeIgnorePort struct {
	Port   int
	Reason string
}

// ProposeIgnoreIP asks the operator to add an IP to the ignore list.
type ProposeIgnoreIP struct {
	IP     string
	Reason string
}

// ResolveFlag marks a flag resolved or dismissed.
type ResolveFlag struct {
	ID     int64
	Status string
}

func (GetEvents) Name() string         { return "get_events" }
func (GetFlags) Name() string          { return "get_flags" }
func (ProposeCommand) Name() string    { return "propose_command" }
func (ProposeIgnorePort) Name() string { return "propose_ignore_port" }
func (ProposeIgnoreIP) Name() string   { return "propose_ignore_ip" }
func (ResolveFlag) Name() string       { return "resolve_flag" }

// ToolResult is the tagged outcome of a tool call. Data tools carry
// Data; proposal tools carry Action plus the proposed change; failures
// carry Message.
type ToolResult struct {
	Type    string      `json:"type"` // tool_result, proposal or error
	Data    interface{} `json:"data,omitempty"`
	Action  string      `json:"action,omitempty"`
	Command string      `json:"command,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Port    int         `json:"port,omitempty"`
	IP      string      `json:"ip,omitempty"`
	Message string      `json:"message,omitempty"`
}

// buildToolCall turns an extracted name and parameter map into a typed
// call. Unknown names and malformed arguments come back as errors for
// the loop to report.
func buildToolCall(name string, params map[string]interface{}) (ToolCall, error) {
	switch name {
	case "get_events":
		return GetEvents{Limit: intParam(params, "limit", 10)}, nil
	case "get_flags":
		return GetFlags{Status: stringParam(params, "status")}, nil
	case "propose_command":
		reason := stringParam(params, "reason")
		if reason == "" {
			reason = stringParam(params, "description")
		}
		return ProposeCommand{Command: stringParam(params, "command"), Reason: reason}, nil
	case "propose_ignore_port":
		port := intParam(params, "port", 0)
		if port <= 0 || port > 65535 {
			return nil, fmt.Errorf("propose_ignore_port needs a valid port, got %v", params["port"])
		}
		return ProposeIgnorePort{Port: port, Reason: stringParam(params, "reason")}, nil
	case "propose_ignore_ip":
		ip := stringParam(params, "ip")
		if ip == "" {
			return nil, fmt.Errorf("propose_ignore_ip needs an ip")
		}
		return ProposeIgnoreIP{IP: ip, Reason: stringParam(params, "reason")}, nil
	case "resolve_flag":
		id := intParam(params, "id", 0)
		if id <= 0 {
			id = intParam(params, "flag_id", 0)
		}
		if id <= 0 {
			return nil, fmt.Errorf("resolve_flag needs a flag id")
		}
		status := stringParam(params, "status")
		if status == "" {
			status = "resolved"
		}
		if status != "resolved" && status != "dismissed" {
			return nil, fmt.Errorf("resolve_flag status must be resolved or dismissed, got %q", status)
		}
		return ResolveFlag{ID: int64(id), Status: status}, nil
	default:
		return nil, fmt.Errorf("Unknown tool: %s", name)
	}
}

// Execute runs a tool call. Query tools read the store; proposal tools
// only describe the change — nothing here ever runs a shell command.
func (e *Engine) Execute(tc ToolCall) ToolResult {
	switch call := tc.(type) {
	case GetEvents:
		events, err := e.db.Events(call.Limit, 0)
		if err != nil {
			return ToolResult{Type: "error", Message: err.Error()}
		}
		return ToolResult{Type: "tool_result", Data: events}
	case GetFlags:
		flags, err := e.db.Flags(call.Status, 50)
		if err != nil {
			return ToolResult{Type: "error", Message: err.Error()}
		}
		return ToolResult{Type: "tool_result", Data: flags}
	case ProposeCommand:
		return ToolResult{Type: "proposal", Action: "run_command", Command: call.Command, Reason: call.Reason}
	case ProposeIgnorePort:
		return ToolResult{Type: "proposal", Action: "ignore_port", Port: call.Port, Reason: call.Reason}
	case ProposeIgnoreIP:
		return ToolResult{Type: "proposal", Action: "ignore_ip", IP: call.IP, Reason: call.Reason}
	case ResolveFlag:
		if err := e.db.UpdateFlagStatus(call.ID, call.Status); err != nil {
			return ToolResult{Type: "error", Message: err.Error()}
		}
		return ToolResult{Type: "tool_result", Data: map[string]interface{}{"flag_id": call.ID, "status": call.Status}}
	default:
		return ToolResult{Type: "error", Message: fmt.Sprintf("Unknown tool: %s", tc.Name())}
	}
}

// resultJSON renders a tool result the way it is fed back to the LLM.
func resultJSON(result ToolResult) string {
	var payload interface{}
	if result.Type == "error" {
		payload = map[string]string{"type": "error", "message": result.Message}
	} else {
		payload = result.Data
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func intParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// proposalSummary is the assistant transcript line recorded when a
// proposal goes out for approval.
func proposalSummary(result ToolResult) string {
	switch result.Action {
	case "ignore_port":
		return fmt.Sprintf("Proposing: ignore port %d", result.Port)
	case "ignore_ip":
		return fmt.Sprintf("Proposing: ignore IP %s", result.IP)
	default:
		return "Proposing: " + result.Command
	}
}
