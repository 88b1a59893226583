package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentic-c-eda/sentinel/internal/config"
	"github.com/agentic-c-eda/sentinel/internal/store"
	"github.com/agentic-c-eda/sentinel/internal/watchdog"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StateDir = dir
	cfg.DatabasePath = filepath.Join(dir, "sentinel.db")
	cfg.PTYSocket = filepath.Join(dir, "pty.sock")
	cfg.LogFiles = []string{filepath.Join(dir, "auth.log")}
	cfg.BatchInterval = 1
	cfg.PTYServiceEnabled = false
	cfg.SensorEnabled = false
	return &cfg
}

// llmServer fakes the chat completions endpoint, always answering with
// the given message content.
func llmServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"role": "assistant", "content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEventTypeAndDetails(t *testing.T) {
	tests := []struct {
		event    string
		wantType string
		wantIP   string
		wantPort int
	}{
		{"NET_CONN Source=203.0.113.9 Port=4444 Proto=TCP", "NET_CONN", "203.0.113.9", 4444},
		{"SSH_AUTH_FAIL User=root Source=198.51.100.7 Method=password", "SSH_AUTH_FAIL", "198.51.100.7", 0},
		{"NET_PING Source=192.0.2.10", "NET_PING", "192.0.2.10", 0},
		{"SESSION_OPEN Service=login User=alice", "SESSION_OPEN", "", 0},
		{"", "UNKNOWN", "", 0},
	}
	for _, tt := range tests {
		if got := eventType(tt.event); got != tt.wantType {
			t.Errorf("eventType(%q) = %q, want %q", tt.event, got, tt.wantType)
		}
		ip, port := eventDetails(tt.event)
		if ip != tt.wantIP || port != tt.wantPort {
			t.Errorf("eventDetails(%q) = (%q, %d), want (%q, %d)",
				tt.event, ip, port, tt.wantIP, tt.wantPort)
		}
	}
}

func TestNewSeedsRuntimeConfig(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	if got := d.db.GetConfig("sensitivity", ""); got != "7" {
		t.Errorf("sensitivity seeded as %q, want 7", got)
	}
	if got := d.db.GetConfig("batch_interval", ""); got != "1" {
		t.Errorf("batch_interval seeded as %q, want 1", got)
	}
	if got := d.db.GetConfig("llm_model", ""); got != cfg.LLMModel {
		t.Errorf("llm_model seeded as %q, want %q", got, cfg.LLMModel)
	}
	manual := d.db.GetConfig("trusted_ports_manual", "")
	var ports []int
	if err := json.Unmarshal([]byte(manual), &ports); err != nil {
		t.Fatalf("trusted_ports_manual is not a JSON list: %q", manual)
	}
	if len(ports) == 0 {
		t.Error("trusted_ports_manual seeded empty")
	}

	// Seeding again must not clobber operator edits.
	if err := d.db.SetConfig("sensitivity", "3"); err != nil {
		t.Fatal(err)
	}
	d.seedRuntimeConfig()
	if got := d.db.GetConfig("sensitivity", ""); got != "3" {
		t.Errorf("re-seed overwrote sensitivity: got %q, want 3", got)
	}
}

func TestBatchIntervalFollowsConfig(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	tests := []struct {
		stored string
		want   time.Duration
	}{
		{"10", 10 * time.Second},
		{"0", 1 * time.Second},
		{"garbage", 1 * time.Second},
		{"7200", 3600 * time.Second},
	}
	for _, tt := range tests {
		if err := d.db.SetConfig("batch_interval", tt.stored); err != nil {
			t.Fatal(err)
		}
		if got := d.batchInterval(); got != tt.want {
			t.Errorf("batchInterval with %q = %v, want %v", tt.stored, got, tt.want)
		}
	}
}

func TestAnalyzeWindowRecordsFlaggedVerdict(t *testing.T) {
	cfg := testConfig(t)
	srv := llmServer(t, `{"flagged": true, "severity": "critical", "summary": "Reverse shell pattern on port 4444", "suggested_actions": ["ignore_port"]}`)
	cfg.LLMAPIURL = srv.URL

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	var agentOut bytes.Buffer
	d.agentLog = log.New(&agentOut, "", 0)

	id1, err := d.db.InsertEvent("NET_CONN", "NET_CONN Source=203.0.113.9 Port=4444 Proto=TCP", "203.0.113.9", 4444, 1)
	if err != nil {
		t.Fatal(err)
	}
	d.analyzeWindow(context.Background(), 1, []string{"NET_CONN Source=203.0.113.9 Port=4444 Proto=TCP"}, []int64{id1})
	d.wg.Wait()

	decisions, err := d.db.Decisions(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 1 {
		t.Fatalf("got %d decisions, want 1", len(decisions))
	}
	if decisions[0].Verdict != "FLAG" {
		t.Errorf("verdict = %q, want FLAG", decisions[0].Verdict)
	}
	if decisions[0].EventCount != 1 {
		t.Errorf("event count = %d, want 1", decisions[0].EventCount)
	}

	flags, err := d.db.Flags(store.FlagPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(flags) != 1 {
		t.Fatalf("got %d pending flags, want 1", len(flags))
	}
	if flags[0].Severity != "critical" {
		t.Errorf("flag severity = %q, want critical", flags[0].Severity)
	}
	if len(flags[0].EventIDs) != 1 || flags[0].EventIDs[0] != id1 {
		t.Errorf("flag event IDs = %v, want [%d]", flags[0].EventIDs, id1)
	}

	if !strings.Contains(agentOut.String(), "CRITICAL: Reverse shell pattern") {
		t.Errorf("agent log missing severity line:\n%s", agentOut.String())
	}
}

func TestAnalyzeWindowRecordsAllowVerdict(t *testing.T) {
	cfg := testConfig(t)
	srv := llmServer(t, `{"flagged": false, "severity": "info", "summary": "Routine traffic", "suggested_actions": []}`)
	cfg.LLMAPIURL = srv.URL

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	var agentOut bytes.Buffer
	d.agentLog = log.New(&agentOut, "", 0)

	d.analyzeWindow(context.Background(), 1, []string{"NET_PING Source=10.0.0.3"}, []int64{1})
	d.wg.Wait()

	decisions, err := d.db.Decisions(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 1 || decisions[0].Verdict != "ALLOW" {
		t.Fatalf("decisions = %+v, want one ALLOW", decisions)
	}
	flags, err := d.db.Flags(store.FlagPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(flags) != 0 {
		t.Errorf("got %d flags for an allowed batch, want 0", len(flags))
	}
	if !strings.Contains(agentOut.String(), "OK: Routine traffic") {
		t.Errorf("agent log missing OK line:\n%s", agentOut.String())
	}
}

func TestAnalyzeWindowFlagsWhenLLMUnreachable(t *testing.T) {
	cfg := testConfig(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	cfg.LLMAPIURL = url

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()
	d.agentLog = log.New(&bytes.Buffer{}, "", 0)

	d.analyzeWindow(context.Background(), 1, []string{"SSH_INVALID_USER User=admin Source=198.51.100.7"}, []int64{1})
	d.wg.Wait()

	flags, err := d.db.Flags(store.FlagPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(flags) != 1 {
		t.Fatalf("got %d flags, want 1 fallback flag", len(flags))
	}
	if flags[0].Severity != "warning" {
		t.Errorf("fallback severity = %q, want warning", flags[0].Severity)
	}
	if !strings.Contains(flags[0].Summary, "Analysis inconclusive") {
		t.Errorf("fallback summary = %q", flags[0].Summary)
	}
}

func TestPersistPipelineStats(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	d.persistPipelineStats()

	raw := d.db.GetConfig("pipeline_stats", "")
	if raw == "" {
		t.Fatal("pipeline_stats not persisted")
	}
	var snap watchdog.Stats
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("pipeline_stats is not valid JSON: %v", err)
	}
}

func TestRunRaisesFlagForSuspiciousTraffic(t *testing.T) {
	cfg := testConfig(t)
	srv := llmServer(t, `{"flagged": true, "severity": "warning", "summary": "Unrecognized inbound connection", "suggested_actions": []}`)
	cfg.LLMAPIURL = srv.URL

	logPath := cfg.LogFiles[0]
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(runDone)
	}()

	// Append the suspicious line repeatedly: lines written before the
	// tailer's startup cutoff are dropped on purpose, so keep feeding
	// until a flag lands.
	deadline := time.Now().Add(15 * time.Second)
	var flags []store.Flag
	for time.Now().Before(deadline) {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprintln(f, "Aug 25 10:00:00 host kernel: [Agent] IN=eth0 SRC=203.0.113.9 DST=10.0.0.2 PROTO=TCP SPT=50123 DPT=4444")
		f.Close()

		flags, err = d.db.Flags(store.FlagPending, 10)
		if err == nil && len(flags) > 0 {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}

	if len(flags) == 0 {
		t.Fatal("no flag raised for suspicious connection")
	}
	if flags[0].Summary != "Unrecognized inbound connection" {
		t.Errorf("flag summary = %q", flags[0].Summary)
	}

	events, err := d.db.Events(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 {
		t.Fatal("no events persisted")
	}
	ev := events[0]
	if ev.EventType != "NET_CONN" {
		t.Errorf("event type = %q, want NET_CONN", ev.EventType)
	}
	if ev.SourceIP == nil || *ev.SourceIP != "203.0.113.9" {
		t.Errorf("event source = %v, want 203.0.113.9", ev.SourceIP)
	}
	if ev.Port == nil || *ev.Port != 4444 {
		t.Errorf("event port = %v, want 4444", ev.Port)
	}
}
