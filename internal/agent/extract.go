package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	reChannelTarget = regexp.MustCompile(`to=(?:tool[:.])?(\w+)`)
	reProposingLine = regexp.MustCompile(`Proposing:\s*(.+?)(?:\n|$)`)
	reCodeBlock     = regexp.MustCompile("(?s)```(?:bash|sh)?\\s*\n(.+?)\n```")
)

// ExtractToolCall pulls a tool invocation out of raw LLM text. Models
// emit calls in several shapes depending on vendor and mood, so the
// match cascades from the explicit format down to heuristics:
//
//  1. "TOOL: name" / "PARAMS: {json}" lines.
//  2. Channel tags: "to=name ... <|message|>{json}".
//  3. A bare JSON blob with a "command" or "tool" field.
//  4. A "Proposing: <command>" line.
//  5. A single-line bash/sh code block.
//
// The last three all imply propose_command unless the blob names a
// tool itself.
func ExtractToolCall(text string) (string, map[string]interface{}, bool) {
	if name, params, ok := extractExplicit(text); ok {
		return name, params, true
	}
	if name, params, ok := extractChannelTag(text); ok {
		return name, params, true
	}
	if name, params, ok := extractJSONBlob(text); ok {
		return name, params, true
	}
	if m := reProposingLine.FindStringSubmatch(text); m != nil {
		command := strings.Trim(strings.TrimSpace(m[1]), "`")
		if command != "" {
			return "propose_command", map[string]interface{}{
				"command": command,
				"reason":  "Proposed by assistant",
			}, true
		}
	}
	if m := reCodeBlock.FindStringSubmatch(text); m != nil {
		command := strings.TrimSpace(m[1])
		if command != "" && !strings.Contains(command, "\n") && len(command) < 200 {
			return "propose_command", map[string]interface{}{
				"command": command,
				"reason":  "Command suggested by assistant",
			}, true
		}
	}
	return "", nil, false
}

// extractExplicit handles the format the system prompt asks for. A
// malformed PARAMS line abandons the whole form so the later stages
// get a chance.
func extractExplicit(text string) (string, map[string]interface{}, bool) {
	if !strings.Contains(text, "TOOL:") {
		return "", nil, false
	}
	var name string
	params := map[string]interface{}{}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "TOOL:") {
			name = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
		} else if strings.HasPrefix(line, "PARAMS:") {
			raw := strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
			if err := json.Unmarshal([]byte(raw), &params); err != nil {
				return "", nil, false
			}
		}
	}
	if name == "" {
		return "", nil, false
	}
	return name, params, true
}

// extractChannelTag handles vendor channel markup. The JSON follows
// the last <|message|> tag; the target tool, if any, rides in a
// to=tool:name attribute anywhere in the text.
func extractChannelTag(text string) (string, map[string]interface{}, bool) {
	if !strings.Contains(text, "<|message|>") {
		return "", nil, false
	}
	parts := strings.Split(text, "<|message|>")
	raw := parts[len(parts)-1]
	if idx := strings.Index(raw, "<|"); idx >= 0 {
		raw = raw[:idx]
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &data); err != nil {
		return "", nil, false
	}

	var target string
	if m := reChannelTarget.FindStringSubmatch(text); m != nil {
		target = m[1]
	}

	if _, ok := data["command"]; ok {
		return "propose_command", data, true
	}
	if target != "" {
		return target, data, true
	}
	if tool, ok := data["tool"].(string); ok {
		params, _ := data["params"].(map[string]interface{})
		if params == nil {
			params = map[string]interface{}{}
		}
		return tool, params, true
	}
	return "", nil, false
}

// extractJSONBlob handles a response that is (or contains) a raw JSON
// object describing the call.
func extractJSONBlob(text string) (string, map[string]interface{}, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", nil, false
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &data); err != nil {
		return "", nil, false
	}
	if _, ok := data["command"]; ok {
		return "propose_command", data, true
	}
	if tool, ok := data["tool"].(string); ok {
		params, _ := data["params"].(map[string]interface{})
		if params == nil {
			params = map[string]interface{}{}
		}
		return tool, params, true
	}
	return "", nil, false
}
