// Package discovery enumerates the host's listening TCP ports at
// startup and asks the LLM which of them belong to the normal service
// surface. The combined trust set feeds the watchdog's trust filter.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agentic-c-eda/sentinel/internal/config"
	"github.com/agentic-c-eda/sentinel/internal/reasoning"
)

// servicePrompt asks the model to split the port list into trusted and
// unknown. The host is assumed to be a single-operator machine where
// desktop and media services are normal.
const servicePrompt = `You are a network security expert analyzing a Linux server.

This is a personal home machine, so common applications like Steam, media servers,
development tools, and desktop sharing are EXPECTED and SAFE.

For each service, determine if it's TRUSTED (safe for a home network).

TRUSTED (safe) examples:
- Gaming: Steam, game servers
- Media: Plex, Squeezebox, Jellyfin, Kodi
- Development: VS Code, LM Studio, Docker, Node.js, Flask
- Desktop: Synergy, KDE Connect, VNC, RDP
- System: SSH, HTTP, databases
- Communication: MQTT, Home Assistant

Only mark as UNKNOWN if it's:
- A service you've never heard of
- Suspicious malware-like process names
- Crypto miners or botnets

Respond with JSON only:
{
    "trusted_ports": [list of port numbers that are safe],
    "services": {"port": "service_name", ...}
}`

// knownServices labels well-known ports for the operator and the model.
var knownServices = map[int]string{
	22: "SSH", 53: "DNS", 80: "HTTP", 443: "HTTPS",
	1234: "LM-Studio", 1716: "KDE-Connect", 1883: "MQTT",
	3000: "Node.js", 3306: "MySQL", 3389: "RDP",
	5000: "Flask/Dev", 5432: "PostgreSQL",
	6379: "Redis", 8080: "HTTP-Proxy",
	9000: "PHP-FPM/Squeezebox",
	24800: "Synergy", 27017: "MongoDB",
	27036: "Steam", 27060: "Steam", 32400: "Plex",
}

var (
	rePort    = regexp.MustCompile(`:(\d+)$`)
	reProcess = regexp.MustCompile(`\("([^"]+)"`)
)

// Service is one listening socket found on the host.
type Service struct {
	Port    int    `json:"port"`
	Process string `json:"process"`
	Address string `json:"address"`
}

// Analysis is the model's opinion of the service surface.
type Analysis struct {
	TrustedPorts []int             `json:"trusted_ports"`
	Services     map[string]string `json:"services"`
	Warnings     []string          `json:"warnings"`
}

// Discovery runs the startup service-discovery pass.
type Discovery struct {
	cfg    *config.Config
	client *reasoning.Client
	log    *log.Logger
}

func New(cfg *config.Config, client *reasoning.Client) *Discovery {
	return &Discovery{
		cfg:    cfg,
		client: client,
		log:    log.New(os.Stdout, "[discovery] ", log.LstdFlags),
	}
}

// Discover enumerates listening ports, classifies them and returns the
// combined trusted set (analysis plus the manual whitelist) and the
// port-to-service map.
func (d *Discovery) Discover(ctx context.Context) (map[int]bool, map[string]string) {
	d.log.Println("discovering local services")
	services := d.ListeningPorts(ctx)
	d.log.Printf("found %d listening ports", len(services))
	for _, s := range services {
		d.log.Printf("  port %5d : %s", s.Port, IdentifyService(s.Port, s.Process))
	}

	analysis := d.analyzeServices(ctx, services)
	for _, w := range analysis.Warnings {
		d.log.Printf("warning: %s", w)
	}

	trusted := make(map[int]bool)
	for _, p := range analysis.TrustedPorts {
		trusted[p] = true
	}
	analyzed := len(trusted)
	for _, p := range d.cfg.ManualTrustedPorts {
		trusted[p] = true
	}
	d.log.Printf("trusted ports: %d from analysis, %d with manual whitelist", analyzed, len(trusted))

	return trusted, analysis.Services
}

// ListeningPorts shells out to ss -tlnp and parses its table.
func (d *Discovery) ListeningPorts(ctx context.Context) []Service {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ss", "-tlnp").Output()
	if err != nil {
		d.log.Printf("port scan error: %v", err)
		return nil
	}
	return parseSSOutput(string(out))
}

// parseSSOutput reads the ss -tlnp table, skipping the header row. The
// process name comes from the users:(("name",pid,fd)) column when the
// daemon has permission to see it.
func parseSSOutput(out string) []Service {
	var services []Service
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i, line := range lines {
		if i == 0 {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 6 {
			continue
		}
		m := rePort.FindStringSubmatch(parts[3])
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		process := "unknown"
		for _, part := range parts {
			if strings.Contains(part, "users:") {
				if pm := reProcess.FindStringSubmatch(part); pm != nil {
					process = pm[1]
				}
			}
		}
		services = append(services, Service{Port: port, Process: process, Address: parts[3]})
	}
	return services
}

// IdentifyService returns a human label for a port/process pair.
func IdentifyService(port int, process string) string {
	if name, ok := knownServices[port]; ok {
		return name
	}
	proc := strings.ToLower(process)
	switch {
	case strings.Contains(proc, "steam"):
		return "Steam"
	case strings.Contains(proc, "lm-studio"), strings.Contains(proc, "lmstudio"):
		return "LM-Studio"
	case strings.Contains(proc, "code"):
		return "VS-Code"
	case strings.Contains(proc, "kde"):
		return "KDE-Service"
	}
	if process != "unknown" {
		return process
	}
	return fmt.Sprintf("Unknown:%d", port)
}

// analyzeServices sends the port list to the LLM. Discovery runs once
// at startup so it gets double the usual call budget; any failure falls
// back to a conservative default trust list.
func (d *Discovery) analyzeServices(ctx context.Context, services []Service) Analysis {
	if len(services) == 0 {
		return Analysis{TrustedPorts: []int{}, Services: map[string]string{}, Warnings: []string{}}
	}

	lines := make([]string, len(services))
	for i, s := range services {
		lines[i] = fmt.Sprintf("Port %d: %s (process: %s)", s.Port, IdentifyService(s.Port, s.Process), s.Process)
	}
	messages := []reasoning.Message{
		{Role: "system", Content: servicePrompt},
		{Role: "user", Content: fmt.Sprintf("Analyze these %d open ports:\n%s", len(services), strings.Join(lines, "\n"))},
	}

	content, err := d.client.ChatCompletionWithTimeout(ctx, messages, 0.1, 500, 2*d.client.Timeout())
	if err != nil {
		d.log.Printf("service analysis error: %v", err)
		return fallbackAnalysis(services)
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(stripFences(content)), &analysis); err != nil {
		d.log.Printf("service analysis error: %v", err)
		return fallbackAnalysis(services)
	}
	if analysis.TrustedPorts == nil {
		analysis.TrustedPorts = []int{}
	}
	if analysis.Services == nil {
		analysis.Services = map[string]string{}
	}
	if analysis.Warnings == nil {
		analysis.Warnings = []string{}
	}
	return analysis
}

// fallbackAnalysis trusts only the basic system ports when the model
// cannot be reached.
func fallbackAnalysis(services []Service) Analysis {
	a := Analysis{
		TrustedPorts: []int{22, 80, 443, 53},
		Services:     make(map[string]string, len(services)),
		Warnings:     []string{"LLM unavailable - using default trust list"},
	}
	for _, s := range services {
		a.Services[strconv.Itoa(s.Port)] = IdentifyService(s.Port, s.Process)
	}
	return a
}

var reJSONFence = regexp.MustCompile("```json?\\s*")

// stripFences removes markdown code fences around a JSON reply.
func stripFences(content string) string {
	content = reJSONFence.ReplaceAllString(content, "")
	content = strings.ReplaceAll(content, "```", "")
	return strings.TrimSpace(content)
}
