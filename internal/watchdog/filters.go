package watchdog

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/agentic-c-eda/sentinel/internal/config"
	"github.com/agentic-c-eda/sentinel/internal/store"
)

// noisePatterns are rejected before any parsing. Matching any of them
// makes a line invisible to the rest of the pipeline.
var noisePatterns = []string{
	"apparmor=",
	"audit:",
	"IN=lo",
	"DST=224.0.0.251",
	"DST=255.255.255.255",
	"systemd-logind",
	"CRON",
}

// Filters implements the noise gate and the trust filter. The ignored
// and trusted sets live in the config store; Refresh re-reads them so
// operator edits take effect without a restart.
type Filters struct {
	cfg *config.Config
	db  *store.Store

	mu           sync.Mutex
	ignoredPorts map[string]bool
	ignoredIPs   map[string]bool
	trustedPorts map[int]bool
}

// NewFilters builds the filter chain. db may be nil, in which case only
// the static configuration lists apply.
func NewFilters(cfg *config.Config, db *store.Store) *Filters {
	f := &Filters{cfg: cfg, db: db}
	f.Refresh()
	return f
}

// Refresh rebuilds the ignored-port, ignored-IP and trusted-port sets
// from static configuration plus the config store.
func (f *Filters) Refresh() {
	ports := make(map[string]bool)
	for _, p := range f.cfg.IgnoredPorts {
		ports[strconv.Itoa(p)] = true
	}
	ips := make(map[string]bool)
	for _, ip := range f.cfg.IgnoredIPs {
		ips[ip] = true
	}
	trusted := make(map[int]bool)
	for _, p := range f.cfg.ManualTrustedPorts {
		trusted[p] = true
	}

	if f.db != nil {
		for _, p := range splitLines(f.db.GetConfig("ignored_ports", "")) {
			ports[p] = true
		}
		for _, ip := range splitLines(f.db.GetConfig("ignored_ips", "")) {
			ips[ip] = true
		}
		if raw := f.db.GetConfig("trusted_ports_dynamic", ""); raw != "" {
			var dynamic []int
			if err := json.Unmarshal([]byte(raw), &dynamic); err == nil {
				for _, p := range dynamic {
					trusted[p] = true
				}
			}
		}
	}

	f.mu.Lock()
	f.ignoredPorts = ports
	f.ignoredIPs = ips
	f.trustedPorts = trusted
	f.mu.Unlock()
}

// IsNoise reports whether line matches a noise pattern, an ignored
// destination port or an ignored source IP.
func (f *Filters) IsNoise(line string) bool {
	for _, pattern := range noisePatterns {
		if strings.Contains(line, pattern) {
			return true
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if m := reDpt.FindStringSubmatch(line); m != nil && f.ignoredPorts[m[1]] {
		return true
	}
	if m := reSrc.FindStringSubmatch(line); m != nil && f.ignoredIPs[m[1]] {
		return true
	}
	return false
}

// IsTrustedInternal reports whether line describes traffic from the
// internal subnet to a trusted port. Such traffic is routine and never
// reaches the parser.
func (f *Filters) IsTrustedInternal(line string) bool {
	src := reSrc.FindStringSubmatch(line)
	dpt := reDpt.FindStringSubmatch(line)
	if src == nil || dpt == nil {
		return false
	}
	if f.cfg.InternalSubnet == "" || !strings.HasPrefix(src[1], f.cfg.InternalSubnet) {
		return false
	}
	port, err := strconv.Atoi(dpt[1])
	if err != nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trustedPorts[port]
}

// splitLines splits a newline-separated config value into trimmed,
// non-empty entries.
func splitLines(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, "\n") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
