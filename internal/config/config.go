// Package config holds the static daemon configuration: monitored files,
// filter seeds, LLM endpoint defaults, and state paths. Runtime-tunable
// settings (sensitivity, batch interval, trust lists) live in the store's
// config table and are re-read on use; the values here seed their defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds sentinel daemon configuration.
type Config struct {
	// Monitored inputs
	LogFiles   []string `yaml:"log_files"`
	NetworkTag string   `yaml:"network_tag"`

	// Filter seeds
	IgnoredPorts       []int    `yaml:"ignored_ports"`
	IgnoredIPs         []string `yaml:"ignored_ips"`
	InternalSubnet     string   `yaml:"internal_subnet"`
	ManualTrustedPorts []int    `yaml:"manual_trusted_ports"`

	// LLM endpoint defaults (overridable at runtime via the config table)
	LLMAPIURL  string `yaml:"llm_api_url"`
	LLMAPIKey  string `yaml:"llm_api_key"`
	LLMModel   string `yaml:"llm_model"`
	LLMTimeout int    `yaml:"llm_timeout"` // seconds

	// Batching defaults
	BatchInterval int `yaml:"batch_interval"` // seconds
	Sensitivity   int `yaml:"sensitivity"`    // 1..10

	// Paths
	StateDir     string `yaml:"state_dir"`
	DatabasePath string `yaml:"database_path"`
	PTYSocket    string `yaml:"pty_socket"`

	// Retention
	RetentionDays int `yaml:"retention_days"`

	// Dashboard
	ListenAddr string `yaml:"listen_addr"`

	// Features
	SensorEnabled     bool `yaml:"sensor_enabled"`      // install the iptables LOG sensor
	PTYServiceEnabled bool `yaml:"pty_service_enabled"` // run the PTY service in-process
	DryRun            bool `yaml:"dry_run"`             // skip anything that touches host state
}

// Default returns a config with sane defaults for a single-operator host.
func Default() Config {
	return Config{
		LogFiles:   []string{"/var/log/syslog", "/var/log/auth.log"},
		NetworkTag: "[Agent]",
		IgnoredPorts: []int{
			// Baseline services whose traffic is expected
			22, 53, 80, 443, 3389, 5432, 6379,
			// Discovery / broadcast chatter
			67, 68, 137, 138, 1900, 5353, 5355, 17500, 32410, 32412, 32414,
		},
		IgnoredIPs:         []string{"127.0.0.1", "0.0.0.0"},
		InternalSubnet:     "10.0.0.",
		ManualTrustedPorts: []int{22, 80, 443, 1234, 1716, 3389, 8080, 9000, 24800, 27036, 27060},
		LLMAPIURL:          "http://localhost:1234/v1/chat/completions",
		LLMModel:           "qwen/qwen3-4b-2507",
		LLMTimeout:         10,
		BatchInterval:      5,
		Sensitivity:        7,
		StateDir:           "/var/lib/agentic-c-eda",
		RetentionDays:      7,
		ListenAddr:         ":8000",
		SensorEnabled:      true,
		PTYServiceEnabled:  true,
	}
}

// Load loads configuration from an optional YAML file with env overrides.
// An empty path returns defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("AGENT_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("AGENT_PTY_SOCKET"); v != "" {
		cfg.PTYSocket = v
	}
	if v := os.Getenv("STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("SENTINEL_DRY_RUN"); v != "" {
		cfg.DryRun = !isFalsy(v)
	}

	// Clamp tunables to sane ranges
	if cfg.LLMTimeout < 1 {
		cfg.LLMTimeout = 1
	}
	if cfg.LLMTimeout > 300 {
		cfg.LLMTimeout = 300
	}
	if cfg.BatchInterval < 1 {
		cfg.BatchInterval = 1
	}
	if cfg.BatchInterval > 3600 {
		cfg.BatchInterval = 3600
	}
	if cfg.Sensitivity < 1 {
		cfg.Sensitivity = 1
	}
	if cfg.Sensitivity > 10 {
		cfg.Sensitivity = 10
	}
	if cfg.RetentionDays < 1 {
		cfg.RetentionDays = 1
	}
	if cfg.RetentionDays > 365 {
		cfg.RetentionDays = 365
	}

	return &cfg, nil
}

// DBPath returns the store file path, defaulting under the state dir.
func (c *Config) DBPath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.StateDir, "agentic-c-eda.db")
}

// LogDir returns the directory holding the daemon's activity logs
// (security_events.log and agent_decisions.log).
func (c *Config) LogDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// PTYSocketPath returns the PTY service socket path. The default lives
// under /tmp so the dashboard can reach it regardless of state-dir
// permissions.
func (c *Config) PTYSocketPath() string {
	if c.PTYSocket != "" {
		return c.PTYSocket
	}
	return "/tmp/agentic-c-eda-pty.sock"
}

func isFalsy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "false" || v == "0" || v == "no"
}
