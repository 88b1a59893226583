package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

var reSentinelToken = regexp.MustCompile(`<\|[^|]+\|>`)

// CleanResponse strips model plumbing from a conversational reply:
// thinking blocks, channel sentinels, and bare tool JSON that slipped
// past extraction gets rewritten as a readable proposal line.
func CleanResponse(text string) string {
	if strings.Contains(text, "<think>") {
		parts := strings.Split(text, "</think>")
		text = parts[len(parts)-1]
	}

	text = reSentinelToken.ReplaceAllString(text, " ")

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &data); err == nil {
			if command, ok := data["command"].(string); ok {
				reason, _ := data["reason"].(string)
				if reason == "" {
					reason = "Investigate activity"
				}
				return "I propose running: `" + command + "`\n\nReason: " + reason
			}
		}
	}

	return strings.TrimSpace(text)
}
