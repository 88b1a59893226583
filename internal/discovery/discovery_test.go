package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentic-c-eda/sentinel/internal/config"
	"github.com/agentic-c-eda/sentinel/internal/reasoning"
)

const ssOutput = `State    Recv-Q   Send-Q     Local Address:Port      Peer Address:Port  Process
LISTEN   0        128              0.0.0.0:22             0.0.0.0:*      users:(("sshd",pid=800,fd=3))
LISTEN   0        511              0.0.0.0:80             0.0.0.0:*      users:(("nginx",pid=900,fd=6))
LISTEN   0        4096           127.0.0.1:1234           0.0.0.0:*      users:(("lm-studio",pid=1000,fd=12))
LISTEN   0        50                     *:27036                *:*      users:(("steam",pid=1100,fd=44))
LISTEN   0        128                 [::]:9999              [::]:*      -
`

func TestParseSSOutput(t *testing.T) {
	services := parseSSOutput(ssOutput)
	if len(services) != 5 {
		t.Fatalf("expected 5 services, got %d: %v", len(services), services)
	}

	if services[0].Port != 22 || services[0].Process != "sshd" {
		t.Errorf("unexpected first service: %+v", services[0])
	}
	if services[2].Port != 1234 || services[2].Process != "lm-studio" {
		t.Errorf("unexpected lm-studio row: %+v", services[2])
	}
	if services[4].Port != 9999 || services[4].Process != "unknown" {
		t.Errorf("row without process info should parse with unknown: %+v", services[4])
	}
}

func TestParseSSOutputEmpty(t *testing.T) {
	if got := parseSSOutput(""); len(got) != 0 {
		t.Fatalf("expected no services, got %v", got)
	}
	if got := parseSSOutput("State Recv-Q Send-Q Local-Address:Port Peer-Address:Port Process\n"); len(got) != 0 {
		t.Fatalf("header-only output should yield nothing, got %v", got)
	}
}

func TestIdentifyService(t *testing.T) {
	tests := []struct {
		port    int
		process string
		want    string
	}{
		{22, "sshd", "SSH"},
		{32400, "plex", "Plex"},
		{54321, "steamwebhelper", "Steam"},
		{54322, "lm-studio", "LM-Studio"},
		{54323, "code-server", "VS-Code"},
		{54324, "kdeconnectd", "KDE-Service"},
		{54325, "customd", "customd"},
		{54326, "unknown", "Unknown:54326"},
	}
	for _, tt := range tests {
		if got := IdentifyService(tt.port, tt.process); got != tt.want {
			t.Errorf("IdentifyService(%d, %q) = %q, want %q", tt.port, tt.process, got, tt.want)
		}
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func discoveryWithLLM(t *testing.T, handler http.HandlerFunc) (*Discovery, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	cfg := &config.Config{
		LLMAPIURL:          server.URL,
		LLMModel:           "test-model",
		LLMTimeout:         5,
		ManualTrustedPorts: []int{22, 24800},
	}
	return New(cfg, reasoning.NewClient(cfg, nil)), server
}

func llmContent(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": content}},
			},
		})
	}
}

func TestAnalyzeServicesFenced(t *testing.T) {
	d, server := discoveryWithLLM(t, llmContent("```json\n{\"trusted_ports\": [22, 80], \"services\": {\"22\": \"SSH\", \"80\": \"HTTP\"}}\n```"))
	defer server.Close()

	services := []Service{{Port: 22, Process: "sshd"}, {Port: 80, Process: "nginx"}}
	a := d.analyzeServices(context.Background(), services)

	if len(a.TrustedPorts) != 2 {
		t.Fatalf("trusted_ports = %v", a.TrustedPorts)
	}
	if a.Services["22"] != "SSH" {
		t.Errorf("services = %v", a.Services)
	}
	if len(a.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", a.Warnings)
	}
}

func TestAnalyzeServicesEmptyList(t *testing.T) {
	called := false
	d, server := discoveryWithLLM(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	defer server.Close()

	a := d.analyzeServices(context.Background(), nil)
	if len(a.TrustedPorts) != 0 || len(a.Services) != 0 {
		t.Errorf("empty service list should yield empty analysis: %+v", a)
	}
	if called {
		t.Error("empty service list must not call the LLM")
	}
}

func TestAnalyzeServicesFallback(t *testing.T) {
	d, server := discoveryWithLLM(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	defer server.Close()

	services := []Service{{Port: 22, Process: "sshd"}, {Port: 31337, Process: "mystery"}}
	a := d.analyzeServices(context.Background(), services)

	want := []int{22, 80, 443, 53}
	if len(a.TrustedPorts) != len(want) {
		t.Fatalf("fallback trusted_ports = %v, want %v", a.TrustedPorts, want)
	}
	for i, p := range want {
		if a.TrustedPorts[i] != p {
			t.Fatalf("fallback trusted_ports = %v, want %v", a.TrustedPorts, want)
		}
	}
	if a.Services["22"] != "SSH" || a.Services["31337"] != "mystery" {
		t.Errorf("fallback services = %v", a.Services)
	}
	if len(a.Warnings) != 1 {
		t.Errorf("fallback should carry one warning, got %v", a.Warnings)
	}
}

func TestAnalyzeServicesGarbageResponse(t *testing.T) {
	d, server := discoveryWithLLM(t, llmContent("the ports look fine to me"))
	defer server.Close()

	a := d.analyzeServices(context.Background(), []Service{{Port: 22, Process: "sshd"}})
	if len(a.TrustedPorts) != 4 {
		t.Errorf("garbage response should fall back, got %+v", a)
	}
}

func TestDiscoverUnionsManualWhitelist(t *testing.T) {
	d, server := discoveryWithLLM(t, llmContent(`{"trusted_ports": [80, 443], "services": {"80": "HTTP"}}`))
	defer server.Close()

	a := d.analyzeServices(context.Background(), []Service{{Port: 80, Process: "nginx"}})

	trusted := make(map[int]bool)
	for _, p := range a.TrustedPorts {
		trusted[p] = true
	}
	for _, p := range d.cfg.ManualTrustedPorts {
		trusted[p] = true
	}

	for _, p := range []int{80, 443, 22, 24800} {
		if !trusted[p] {
			t.Errorf("port %d should be in the combined trust set", p)
		}
	}
	if trusted[31337] {
		t.Error("unlisted port should not be trusted")
	}
}
