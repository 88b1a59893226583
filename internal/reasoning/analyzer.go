package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
)

// Verdict is the structured result of one batch analysis.
type Verdict struct {
	Flagged          bool     `json:"flagged"`
	Severity         string   `json:"severity"`
	Summary          string   `json:"summary"`
	SuggestedActions []string `json:"suggested_actions"`
}

// Analyzer classifies batches of normalized events.
type Analyzer struct {
	client *Client
	log    *log.Logger
}

// NewAnalyzer wraps an existing client so the analyzer and the agent
// loop share one HTTP surface.
func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{
		client: client,
		log:    log.New(os.Stdout, "[reasoning] ", log.LstdFlags),
	}
}

// AnalyzeBatch classifies a window of events. It never returns an
// error: when the endpoint is unreachable or its output is unusable,
// the batch is flagged for manual review instead of silently passed.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, events []string) Verdict {
	if len(events) == 0 {
		return Verdict{Flagged: false, Severity: "info", Summary: "No events to analyze", SuggestedActions: []string{}}
	}

	lines := make([]string, len(events))
	for i, e := range events {
		lines[i] = "- " + e
	}
	prompt := "Events to analyze:\n" + strings.Join(lines, "\n")

	messages := []Message{
		{Role: "system", Content: a.systemPrompt()},
		{Role: "user", Content: prompt},
	}

	content, err := a.client.ChatCompletion(ctx, messages, 0.3, 500)
	if err != nil {
		a.log.Printf("batch analysis failed: %v", err)
		return fallbackVerdict(len(events))
	}

	verdict, err := parseVerdict(content)
	if err != nil {
		a.log.Printf("unusable analysis response: %v", err)
		return fallbackVerdict(len(events))
	}
	return verdict
}

func (a *Analyzer) systemPrompt() string {
	sensitivity := atoiDefault(a.client.configValue("sensitivity", "7"), 7)
	prompt := fmt.Sprintf(analystPrompt, sensitivity)
	if custom := a.client.configValue("custom_prompt", ""); custom != "" {
		prompt += "\n\nAdditional operator instructions:\n" + custom
	}
	return prompt
}

// parseVerdict pulls the JSON object out of a model response that may
// be wrapped in reasoning tags or prose.
func parseVerdict(content string) (Verdict, error) {
	content = StripThinking(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Verdict{}, fmt.Errorf("no JSON object in response")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}

	v := Verdict{Severity: "info", Summary: "Analysis complete", SuggestedActions: []string{}}
	if b, ok := raw["flagged"].(bool); ok {
		v.Flagged = b
	}
	if s, ok := raw["severity"].(string); ok && validSeverity(s) {
		v.Severity = s
	}
	if s, ok := raw["summary"].(string); ok && s != "" {
		v.Summary = s
	}
	if list, ok := raw["suggested_actions"].([]interface{}); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				v.SuggestedActions = append(v.SuggestedActions, s)
			}
		}
	}
	return v, nil
}

func validSeverity(s string) bool {
	return s == "info" || s == "warning" || s == "critical"
}

func fallbackVerdict(n int) Verdict {
	return Verdict{
		Flagged:          true,
		Severity:         "warning",
		Summary:          fmt.Sprintf("Analysis inconclusive for %d event(s)", n),
		SuggestedActions: []string{"Review events manually"},
	}
}

// StripThinking removes a model's <think> block, keeping only what
// follows the last closing tag.
func StripThinking(content string) string {
	if !strings.Contains(content, "<think>") {
		return content
	}
	parts := strings.Split(content, "</think>")
	return strings.TrimSpace(parts[len(parts)-1])
}
