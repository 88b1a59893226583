package agent

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agentic-c-eda/sentinel/internal/store"
)

// ProposalExecutor applies operator-approved proposals. Ignore-list
// changes are written straight to the config store; command proposals
// are never run here — approved commands go through the PTY service so
// the operator keeps an interactive terminal on them.
type ProposalExecutor struct {
	db *store.Store
}

// NewProposalExecutor returns an executor over the given store.
func NewProposalExecutor(db *store.Store) *ProposalExecutor {
	return &ProposalExecutor{db: db}
}

// Apply performs an approved proposal action and returns a
// user-facing confirmation message.
func (p *ProposalExecutor) Apply(action string, port int, ip string) (string, error) {
	switch action {
	case "run_command":
		return "", fmt.Errorf("Commands should be executed via PTY service")
	case "ignore_port":
		if port < 1 || port > 65535 {
			return "", fmt.Errorf("invalid port %d", port)
		}
		if err := p.addToSet("ignored_ports", strconv.Itoa(port)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Added port %d to ignore list", port), nil
	case "ignore_ip":
		if strings.TrimSpace(ip) == "" {
			return "", fmt.Errorf("no IP provided")
		}
		if err := p.addToSet("ignored_ips", strings.TrimSpace(ip)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Added IP %s to ignore list", ip), nil
	default:
		return "", fmt.Errorf("Unknown action: %s", action)
	}
}

// addToSet inserts value into a newline-separated config set, keeping
// it deduplicated and sorted.
func (p *ProposalExecutor) addToSet(key, value string) error {
	set := make(map[string]struct{})
	for _, item := range strings.Split(p.db.GetConfig(key, ""), "\n") {
		if item = strings.TrimSpace(item); item != "" {
			set[item] = struct{}{}
		}
	}
	set[value] = struct{}{}

	items := make([]string, 0, len(set))
	for item := range set {
		items = append(items, item)
	}
	sort.Strings(items)
	return p.db.SetConfig(key, strings.Join(items, "\n"))
}
